package provider

import (
	"fmt"
	"reflect"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-entity-provider/filter"
	"github.com/goliatone/go-entity-provider/metadata"
	"github.com/uptrace/bun"
)

// QueryStage marks the point of query construction a QueryModifier is
// called at.
type QueryStage int

const (
	// BeforeFilters runs after joins and columns are set up.
	BeforeFilters QueryStage = iota
	AfterFilters
	// BeforeOrderBy and AfterOrderBy only run for queries that are sorted.
	BeforeOrderBy
	AfterOrderBy
)

func (s QueryStage) String() string {
	switch s {
	case BeforeFilters:
		return "before-filters"
	case AfterFilters:
		return "after-filters"
	case BeforeOrderBy:
		return "before-order-by"
	case AfterOrderBy:
		return "after-order-by"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// QueryModifier can add joins, restrictions or ordering to the select
// queries a provider builds. Count queries only see the filter stages.
type QueryModifier interface {
	ModifyQuery(stage QueryStage, q *bun.SelectQuery) *bun.SelectQuery
}

// QueryModifierFunc adapts a function to QueryModifier.
type QueryModifierFunc func(stage QueryStage, q *bun.SelectQuery) *bun.SelectQuery

func (f QueryModifierFunc) ModifyQuery(stage QueryStage, q *bun.SelectQuery) *bun.SelectQuery {
	return f(stage, q)
}

// condition is a WHERE fragment in bun placeholder syntax.
type condition struct {
	sql       string
	args      []any
	relations []string
}

type orderTerm struct {
	path *metadata.Path
	asc  bool
}

// selection describes one select query.
type selection struct {
	filter  filter.Filter
	sort    []SortBy
	where   []condition
	ordered bool
	reverse bool
	idsOnly bool
	offset  int
	limit   int
}

// criteria turns s into a go-repository-bun select criteria.
func (p *LocalEntityProvider[T, ID]) criteria(s selection) (repository.SelectCriteria, error) {
	clause, err := filter.Compile(s.filter, p.md)
	if err != nil {
		return nil, err
	}

	var terms []orderTerm
	if s.ordered {
		if terms, err = p.orderTerms(s.sort); err != nil {
			return nil, err
		}
	}

	// relation name -> load its columns
	joins := map[string]bool{}
	var order []string
	join := func(name string, columns bool) {
		if name == "" {
			return
		}
		if _, ok := joins[name]; !ok {
			order = append(order, name)
		}
		joins[name] = joins[name] || columns
	}
	if !s.idsOnly {
		for _, rel := range p.relations {
			join(rel, true)
		}
	}
	for _, rel := range clause.Relations {
		join(rel, false)
	}
	for _, c := range s.where {
		for _, rel := range c.relations {
			join(rel, false)
		}
	}
	for _, t := range terms {
		join(t.path.Relation, false)
	}

	return func(q *bun.SelectQuery) *bun.SelectQuery {
		for _, rel := range order {
			if joins[rel] {
				q = q.Relation(rel)
			} else {
				q = q.Relation(rel, excludeColumns)
			}
		}
		if s.idsOnly {
			q = q.ColumnExpr("?TableAlias.?", bun.Ident(p.pk.Column))
		}

		q = p.modify(BeforeFilters, q)
		q = clause.Where(q)
		for _, c := range s.where {
			q = q.Where(c.sql, c.args...)
		}
		q = p.modify(AfterFilters, q)

		if s.ordered {
			q = p.modify(BeforeOrderBy, q)
			for _, t := range terms {
				expr, args := t.path.Expr()
				if t.asc != s.reverse {
					q = q.OrderExpr(expr+" ASC", args...)
				} else {
					q = q.OrderExpr(expr+" DESC", args...)
				}
			}
			q = p.modify(AfterOrderBy, q)
		}

		// The repository pages lists by default; zero clears that.
		return q.Offset(s.offset).Limit(s.limit)
	}, nil
}

func excludeColumns(q *bun.SelectQuery) *bun.SelectQuery {
	return q.ExcludeColumn("*")
}

func (p *LocalEntityProvider[T, ID]) modify(stage QueryStage, q *bun.SelectQuery) *bun.SelectQuery {
	if p.modifier == nil {
		return q
	}
	return p.modifier.ModifyQuery(stage, q)
}

// orderTerms resolves sort and appends the identifier as the final
// tie-breaker, so every ordering is total.
func (p *LocalEntityProvider[T, ID]) orderTerms(sort []SortBy) ([]orderTerm, error) {
	terms := make([]orderTerm, 0, len(sort)+1)
	seen := map[string]bool{}
	for _, s := range sort {
		path, err := p.md.Resolve(s.Property)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotSortable, err)
		}
		if !path.Queryable() {
			return nil, fmt.Errorf("%w: %s", ErrNotSortable, s.Property)
		}
		if seen[path.ID] {
			continue
		}
		seen[path.ID] = true
		terms = append(terms, orderTerm{path: path, asc: s.Ascending})
	}
	if !seen[p.pk.Name] {
		terms = append(terms, orderTerm{path: p.pkPath, asc: true})
	}
	return terms, nil
}

// pkEquals restricts a query to one identifier.
func (p *LocalEntityProvider[T, ID]) pkEquals(id ID) condition {
	return condition{sql: "?TableAlias.? = ?", args: []any{bun.Ident(p.pk.Column), id}}
}

// keyset builds the predicate selecting rows strictly after (forward) or
// before the row whose sort values are values:
//
//	(a > ?) OR (a = ? AND b > ?) OR (a = ? AND b = ? AND id > ?)
func keyset(terms []orderTerm, values []any, forward bool) condition {
	var sql strings.Builder
	var args []any
	var relations []string

	sql.WriteString("(")
	for k := range terms {
		if k > 0 {
			sql.WriteString(" OR ")
		}
		sql.WriteString("(")
		for j := 0; j <= k; j++ {
			if j > 0 {
				sql.WriteString(" AND ")
			}
			expr, exprArgs := terms[j].path.Expr()
			op := " = ?"
			if j == k {
				if terms[j].asc == forward {
					op = " > ?"
				} else {
					op = " < ?"
				}
			}
			sql.WriteString(expr + op)
			args = append(args, exprArgs...)
			args = append(args, values[j])
		}
		sql.WriteString(")")
		if terms[k].path.Relation != "" {
			relations = append(relations, terms[k].path.Relation)
		}
	}
	sql.WriteString(")")

	return condition{sql: sql.String(), args: args, relations: relations}
}

// nullConditions matches rows where any nullable sort column is NULL.
// ok is false when no sort column is nullable.
func nullConditions(terms []orderTerm) (condition, bool) {
	var parts []string
	var args []any
	var relations []string
	for _, t := range terms {
		if !t.path.Nullable() {
			continue
		}
		expr, exprArgs := t.path.Expr()
		parts = append(parts, expr+" IS NULL")
		args = append(args, exprArgs...)
		if t.path.Relation != "" {
			relations = append(relations, t.path.Relation)
		}
	}
	if len(parts) == 0 {
		return condition{}, false
	}
	return condition{sql: "(" + strings.Join(parts, " OR ") + ")", args: args, relations: relations}, true
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

// neighbour returns the identifier next to id in ids.
func neighbour[ID comparable](ids []ID, id ID, forward bool) (ID, bool) {
	var zero ID
	for i, x := range ids {
		if x != id {
			continue
		}
		j := i - 1
		if forward {
			j = i + 1
		}
		if j < 0 || j >= len(ids) {
			return zero, false
		}
		return ids[j], true
	}
	return zero, false
}
