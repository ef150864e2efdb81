package filter

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/goliatone/go-entity-provider/metadata"
	"github.com/uptrace/bun"
)

// Clause is a compiled filter ready for bun's Where. Relations lists the bun
// relations the clause reads from; they must be joined by the caller.
type Clause struct {
	SQL       string
	Args      []any
	Relations []string
}

// Empty reports whether the clause restricts nothing.
func (c Clause) Empty() bool {
	return c.SQL == ""
}

// Where adds the clause to q. Relations are not joined.
func (c Clause) Where(q *bun.SelectQuery) *bun.SelectQuery {
	if c.Empty() {
		return q
	}
	return q.Where(c.SQL, c.Args...)
}

// Compile translates f into SQL for the entity described by md. A nil
// filter compiles to an empty clause.
func Compile(f Filter, md *metadata.ClassMetadata) (Clause, error) {
	if f == nil {
		return Clause{}, nil
	}

	c := &compiler{md: md, relations: map[string]bool{}}
	if err := c.compile(f); err != nil {
		return Clause{}, err
	}

	rels := make([]string, 0, len(c.relations))
	for r := range c.relations {
		rels = append(rels, r)
	}
	sort.Strings(rels)

	return Clause{SQL: c.sql.String(), Args: c.args, Relations: rels}, nil
}

type compiler struct {
	md        *metadata.ClassMetadata
	sql       strings.Builder
	args      []any
	relations map[string]bool
}

func (c *compiler) compile(f Filter) error {
	switch f := f.(type) {
	case Compare:
		return c.compare(f)
	case Range:
		return c.rangeOf(f)
	case Pattern:
		return c.pattern(f)
	case Membership:
		return c.membership(f)
	case Null:
		if err := c.column(f.Property); err != nil {
			return err
		}
		if f.Negated {
			c.sql.WriteString(" IS NOT NULL")
		} else {
			c.sql.WriteString(" IS NULL")
		}
		return nil
	case Empty:
		return c.empty(f)
	case Junction:
		sep := " AND "
		if f.Any {
			sep = " OR "
		}
		for i, child := range f.Filters {
			if i > 0 {
				c.sql.WriteString(sep)
			}
			c.sql.WriteByte('(')
			if err := c.compile(child); err != nil {
				return err
			}
			c.sql.WriteByte(')')
		}
		return nil
	case Negation:
		c.sql.WriteString("NOT (")
		if err := c.compile(f.Filter); err != nil {
			return err
		}
		c.sql.WriteByte(')')
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedFilter, f)
	}
}

// column writes the column expression of property and records its relation.
func (c *compiler) column(property string) error {
	path, err := c.resolve(property)
	if err != nil {
		return err
	}
	c.writePath(path)
	return nil
}

func (c *compiler) resolve(property string) (*metadata.Path, error) {
	path, err := c.md.Resolve(property)
	if err != nil {
		return nil, err
	}
	if !path.Queryable() {
		return nil, fmt.Errorf("%w: %s", ErrNotFilterable, property)
	}
	return path, nil
}

func (c *compiler) writePath(path *metadata.Path) {
	query, args := path.Expr()
	c.sql.WriteString(query)
	c.args = append(c.args, args...)
	if path.Relation != "" {
		c.relations[path.Relation] = true
	}
}

func (c *compiler) arg(v any) {
	c.sql.WriteByte('?')
	c.args = append(c.args, v)
}

func (c *compiler) compare(f Compare) error {
	path, value, err := c.comparable(f.Property, f.Value)
	if err != nil {
		return err
	}

	if value == nil {
		switch f.Op {
		case OpEq:
			c.writePath(path)
			c.sql.WriteString(" IS NULL")
			return nil
		case OpNeq:
			c.writePath(path)
			c.sql.WriteString(" IS NOT NULL")
			return nil
		default:
			return fmt.Errorf("%w: %s against null", ErrUnsupportedFilter, f.Op)
		}
	}

	switch f.Op {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
	default:
		return fmt.Errorf("%w: operator %q", ErrUnsupportedFilter, f.Op)
	}

	c.writePath(path)
	c.sql.WriteString(" " + string(f.Op) + " ")
	c.arg(value)
	return nil
}

// comparable resolves property for a comparison. A reference property is
// compared through the primary key of the related entity, and an entity
// value is replaced by its identifier.
func (c *compiler) comparable(property string, value any) (*metadata.Path, any, error) {
	path, err := c.md.Resolve(property)
	if err != nil {
		return nil, nil, err
	}
	if path.Queryable() {
		return path, value, nil
	}

	leaf := path.Leaf()
	if leaf.Kind != metadata.Reference {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFilterable, property)
	}
	nested, err := leaf.Nested()
	if err != nil {
		return nil, nil, err
	}
	pk, err := nested.Identifier()
	if err != nil {
		return nil, nil, err
	}
	path, err = c.resolve(property + "." + pk.Name)
	if err != nil {
		return nil, nil, err
	}

	if value != nil {
		rv := reflect.ValueOf(value)
		t := rv.Type()
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		if t == nested.Type {
			if rv.Kind() == reflect.Ptr && rv.IsNil() {
				return path, nil, nil
			}
			if value, err = nested.IdentifierValue(value); err != nil {
				return nil, nil, err
			}
		}
	}
	return path, value, nil
}

func (c *compiler) rangeOf(f Range) error {
	path, err := c.resolve(f.Property)
	if err != nil {
		return err
	}
	if f.Start == nil && f.End == nil {
		return fmt.Errorf("%w: range on %s without bounds", ErrUnsupportedFilter, f.Property)
	}

	lower, upper := ">", "<"
	if f.IncludeStart {
		lower = ">="
	}
	if f.IncludeEnd {
		upper = "<="
	}

	if f.Start != nil {
		c.writePath(path)
		c.sql.WriteString(" " + lower + " ")
		c.arg(f.Start)
	}
	if f.Start != nil && f.End != nil {
		c.sql.WriteString(" AND ")
	}
	if f.End != nil {
		c.writePath(path)
		c.sql.WriteString(" " + upper + " ")
		c.arg(f.End)
	}
	return nil
}

func (c *compiler) pattern(f Pattern) error {
	path, err := c.resolve(f.Property)
	if err != nil {
		return err
	}

	if f.CaseSensitive {
		c.writePath(path)
		c.sql.WriteString(" LIKE ")
		c.arg(f.Value)
	} else {
		c.sql.WriteString("LOWER(")
		c.writePath(path)
		c.sql.WriteString(") LIKE LOWER(")
		c.arg(f.Value)
		c.sql.WriteByte(')')
	}
	if f.Escaped {
		c.sql.WriteString(" ESCAPE '" + string(LikeEscape) + "'")
	}
	return nil
}

func (c *compiler) membership(f Membership) error {
	path, err := c.resolve(f.Property)
	if err != nil {
		return err
	}
	if len(f.Values) == 0 {
		c.sql.WriteString("1 = 0")
		return nil
	}
	c.writePath(path)
	c.sql.WriteString(" IN (")
	c.arg(bun.In(f.Values))
	c.sql.WriteByte(')')
	return nil
}

func (c *compiler) empty(f Empty) error {
	path, err := c.resolve(f.Property)
	if err != nil {
		return err
	}

	if f.Negated {
		c.writePath(path)
		c.sql.WriteString(" IS NOT NULL AND ")
		c.writePath(path)
		c.sql.WriteString(" <> ''")
		return nil
	}
	c.sql.WriteByte('(')
	c.writePath(path)
	c.sql.WriteString(" IS NULL OR ")
	c.writePath(path)
	c.sql.WriteString(" = '')")
	return nil
}
