package filter

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Filter is an immutable predicate over entity properties. Filters are
// compiled to SQL by Compile and identified in caches by CacheKey.
type Filter interface {
	fmt.Stringer
	// CacheKey returns the canonical form of the filter. Two filters with the
	// same key select the same rows.
	CacheKey() string

	walk(fn func(property string))
}

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "<>"
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Compare tests a property against a single value.
type Compare struct {
	Property string
	Op       Op
	Value    any
}

func (f Compare) String() string {
	return fmt.Sprintf("%s %s %s", f.Property, f.Op, formatValue(f.Value))
}

func (f Compare) CacheKey() string { return f.String() }
func (f Compare) walk(fn func(string)) { fn(f.Property) }

// Range tests that a property lies between two values.
type Range struct {
	Property     string
	Start        any
	End          any
	IncludeStart bool
	IncludeEnd   bool
}

func (f Range) String() string {
	lo, hi := "(", ")"
	if f.IncludeStart {
		lo = "["
	}
	if f.IncludeEnd {
		hi = "]"
	}
	return fmt.Sprintf("%s in %s%s, %s%s", f.Property, lo, formatValue(f.Start), formatValue(f.End), hi)
}

func (f Range) CacheKey() string { return f.String() }
func (f Range) walk(fn func(string)) { fn(f.Property) }

// Pattern matches a string property against a LIKE pattern where % matches
// any run of characters and _ a single character. When Escaped is set a !
// makes the following character literal; otherwise ! is an ordinary character.
type Pattern struct {
	Property      string
	Value         string
	CaseSensitive bool
	Escaped       bool
}

func (f Pattern) String() string {
	op := "like"
	if !f.CaseSensitive {
		op = "ilike"
	}
	if f.Escaped {
		return fmt.Sprintf("%s %s %q escape %q", f.Property, op, f.Value, LikeEscape)
	}
	return fmt.Sprintf("%s %s %q", f.Property, op, f.Value)
}

func (f Pattern) CacheKey() string { return f.String() }
func (f Pattern) walk(fn func(string)) { fn(f.Property) }

// Membership tests that a property equals one of Values.
type Membership struct {
	Property string
	Values   []any
}

func (f Membership) String() string {
	parts := make([]string, len(f.Values))
	for i, v := range f.Values {
		parts[i] = formatValue(v)
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s in {%s}", f.Property, strings.Join(parts, ", "))
}

func (f Membership) CacheKey() string { return f.String() }
func (f Membership) walk(fn func(string)) { fn(f.Property) }

// Null tests a property for NULL, or for NOT NULL when Negated.
type Null struct {
	Property string
	Negated  bool
}

func (f Null) String() string {
	if f.Negated {
		return f.Property + " is not null"
	}
	return f.Property + " is null"
}

func (f Null) CacheKey() string { return f.String() }
func (f Null) walk(fn func(string)) { fn(f.Property) }

// Empty tests a string property for NULL or "", or the opposite when Negated.
type Empty struct {
	Property string
	Negated  bool
}

func (f Empty) String() string {
	if f.Negated {
		return f.Property + " is not empty"
	}
	return f.Property + " is empty"
}

func (f Empty) CacheKey() string { return f.String() }
func (f Empty) walk(fn func(string)) { fn(f.Property) }

// Junction combines filters with AND (Any false) or OR (Any true).
type Junction struct {
	Any     bool
	Filters []Filter
}

func (f Junction) String() string {
	parts := make([]string, len(f.Filters))
	for i, child := range f.Filters {
		parts[i] = "(" + child.String() + ")"
	}
	sep := " and "
	if f.Any {
		sep = " or "
	}
	return strings.Join(parts, sep)
}

// CacheKey sorts the children so that And(a, b) and And(b, a) share a key.
func (f Junction) CacheKey() string {
	parts := make([]string, len(f.Filters))
	for i, child := range f.Filters {
		parts[i] = "(" + child.CacheKey() + ")"
	}
	sort.Strings(parts)
	sep := " and "
	if f.Any {
		sep = " or "
	}
	return strings.Join(parts, sep)
}

func (f Junction) walk(fn func(string)) {
	for _, child := range f.Filters {
		child.walk(fn)
	}
}

// Negation inverts a filter.
type Negation struct {
	Filter Filter
}

func (f Negation) String() string { return "not (" + f.Filter.String() + ")" }
func (f Negation) CacheKey() string { return "not (" + f.Filter.CacheKey() + ")" }
func (f Negation) walk(fn func(string)) { f.Filter.walk(fn) }

func Eq(property string, value any) Filter { return Compare{property, OpEq, value} }
func Neq(property string, value any) Filter { return Compare{property, OpNeq, value} }
func Lt(property string, value any) Filter { return Compare{property, OpLt, value} }
func Lte(property string, value any) Filter { return Compare{property, OpLte, value} }
func Gt(property string, value any) Filter { return Compare{property, OpGt, value} }
func Gte(property string, value any) Filter { return Compare{property, OpGte, value} }

// Between matches values from start to end with the given bound inclusion.
func Between(property string, start, end any, includeStart, includeEnd bool) Filter {
	return Range{property, start, end, includeStart, includeEnd}
}

// Like is a case sensitive pattern match.
func Like(property, pattern string) Filter {
	return Pattern{Property: property, Value: pattern, CaseSensitive: true}
}

// ILike is a case insensitive pattern match.
func ILike(property, pattern string) Filter {
	return Pattern{Property: property, Value: pattern}
}

// StartsWith matches values beginning with prefix. LIKE wildcards in prefix
// are matched literally.
func StartsWith(property, prefix string, caseSensitive bool) Filter {
	return Pattern{Property: property, Value: escapeLike(prefix) + "%", CaseSensitive: caseSensitive, Escaped: true}
}

// Contains matches values containing s anywhere.
func Contains(property, s string, caseSensitive bool) Filter {
	return Pattern{Property: property, Value: "%" + escapeLike(s) + "%", CaseSensitive: caseSensitive, Escaped: true}
}

func In(property string, values ...any) Filter {
	return Membership{property, append([]any(nil), values...)}
}

func IsNull(property string) Filter { return Null{Property: property} }
func IsNotNull(property string) Filter { return Null{Property: property, Negated: true} }
func IsEmpty(property string) Filter { return Empty{Property: property} }
func IsNotEmpty(property string) Filter { return Empty{Property: property, Negated: true} }

// And joins filters with AND. Nil filters are dropped and a single
// remaining filter is returned as is. And() with no filters returns nil.
func And(filters ...Filter) Filter {
	return junction(false, filters)
}

// Or joins filters with OR, with the same collapsing rules as And.
func Or(filters ...Filter) Filter {
	return junction(true, filters)
}

func Not(f Filter) Filter {
	if f == nil {
		return nil
	}
	return Negation{f}
}

func junction(anyOf bool, filters []Filter) Filter {
	kept := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return Junction{Any: anyOf, Filters: kept}
}

// Properties lists the property ids referenced by f, without duplicates,
// in first-use order.
func Properties(f Filter) []string {
	if f == nil {
		return nil
	}
	seen := map[string]bool{}
	var props []string
	f.walk(func(p string) {
		if !seen[p] {
			seen[p] = true
			props = append(props, p)
		}
	})
	return props
}

// Key returns the cache key of f, or "" for no filter.
func Key(f Filter) string {
	if f == nil {
		return ""
	}
	return f.CacheKey()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return "null"
		}
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// LikeEscape is the escape character of patterns built by StartsWith and
// Contains.
const LikeEscape = '!'

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
