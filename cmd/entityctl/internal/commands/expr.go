package commands

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-entity-provider/filter"
	"github.com/goliatone/go-entity-provider/metadata"
	"github.com/goliatone/go-entity-provider/provider"
	"github.com/google/uuid"
)

// ErrInvalidExpression is returned for --filter and --sort values that do
// not parse.
var ErrInvalidExpression = goerrors.New("invalid expression", goerrors.CategoryBadInput).
	WithTextCode("INVALID_EXPRESSION")

// operators are matched longest first at the first operator character.
var operators = []string{">=", "<=", "!=", "^=", "*=", "@=", "~*", "=", "<", ">", "~"}

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

// ParseFilter parses one filter expression such as "orderNo>=5010",
// "customer.customerName^=acme" or "billedDate=null". Values are converted
// to the property's type; reference properties take the referenced
// entity's identifier.
//
//	=  !=  <  <=  >  >=   comparison, "null" tests for NULL
//	^=                    starts with, case-insensitive
//	*=                    contains, case-insensitive
//	~  ~*                 LIKE pattern, case-sensitive and not
//	@=                    one of a comma separated list
func ParseFilter(md *metadata.ClassMetadata, expr string) (filter.Filter, error) {
	property, op, raw, err := splitExpression(expr)
	if err != nil {
		return nil, err
	}
	path, err := md.Resolve(property)
	if err != nil {
		return nil, err
	}

	switch op {
	case "^=":
		return filter.StartsWith(property, raw, false), nil
	case "*=":
		return filter.Contains(property, raw, false), nil
	case "~":
		return filter.Like(property, raw), nil
	case "~*":
		return filter.ILike(property, raw), nil
	case "@=":
		var values []any
		for _, part := range strings.Split(raw, ",") {
			v, err := convertValue(path, strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return filter.In(property, values...), nil
	}

	if raw == "null" {
		switch op {
		case "=":
			return filter.IsNull(property), nil
		case "!=":
			return filter.IsNotNull(property), nil
		}
	}

	v, err := convertValue(path, raw)
	if err != nil {
		return nil, err
	}
	switch op {
	case "=":
		return filter.Eq(property, v), nil
	case "!=":
		return filter.Neq(property, v), nil
	case "<":
		return filter.Lt(property, v), nil
	case "<=":
		return filter.Lte(property, v), nil
	case ">":
		return filter.Gt(property, v), nil
	default:
		return filter.Gte(property, v), nil
	}
}

func splitExpression(expr string) (string, string, string, error) {
	for i := 0; i < len(expr); i++ {
		for _, op := range operators {
			if strings.HasPrefix(expr[i:], op) {
				property := strings.TrimSpace(expr[:i])
				if property == "" {
					return "", "", "", fmt.Errorf("%w: %q has no property", ErrInvalidExpression, expr)
				}
				return property, op, strings.TrimSpace(expr[i+len(op):]), nil
			}
		}
	}
	return "", "", "", fmt.Errorf("%w: %q has no operator", ErrInvalidExpression, expr)
}

func convertValue(path *metadata.Path, raw string) (any, error) {
	leaf := path.Leaf()
	typ := leaf.Type
	if leaf.Kind == metadata.Reference {
		nested, err := leaf.Nested()
		if err != nil {
			return nil, err
		}
		pk, err := nested.Identifier()
		if err != nil {
			return nil, err
		}
		typ = pk.Type
	}
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}

	fail := func(err error) (any, error) {
		return nil, fmt.Errorf("%w: %q is not a valid %s for %s: %v", ErrInvalidExpression, raw, typ, path.ID, err)
	}

	switch typ {
	case uuidType:
		id, err := uuid.Parse(raw)
		if err != nil {
			return fail(err)
		}
		return id, nil
	case timeType:
		for _, layout := range []string{time.RFC3339, time.DateOnly} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, nil
			}
		}
		return fail(fmt.Errorf("want RFC 3339 or YYYY-MM-DD"))
	}

	switch typ.Kind() {
	case reflect.String:
		return reflect.ValueOf(raw).Convert(typ).Interface(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, typ.Bits())
		if err != nil {
			return fail(err)
		}
		return reflect.ValueOf(n).Convert(typ).Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, typ.Bits())
		if err != nil {
			return fail(err)
		}
		return reflect.ValueOf(n).Convert(typ).Interface(), nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, typ.Bits())
		if err != nil {
			return fail(err)
		}
		return reflect.ValueOf(f).Convert(typ).Interface(), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fail(err)
		}
		return b, nil
	}
	return fail(fmt.Errorf("unsupported type"))
}

// ParseSort parses "orderNo,-total" style sort terms; a leading "-" sorts
// descending and a leading "+" ascending.
func ParseSort(terms []string) ([]provider.SortBy, error) {
	var sorts []provider.SortBy
	for _, term := range terms {
		term = strings.TrimSpace(term)
		asc := true
		switch {
		case strings.HasPrefix(term, "-"):
			asc = false
			term = term[1:]
		case strings.HasPrefix(term, "+"):
			term = term[1:]
		}
		if term == "" {
			return nil, fmt.Errorf("%w: empty sort term", ErrInvalidExpression)
		}
		sorts = append(sorts, provider.SortBy{Property: term, Ascending: asc})
	}
	return sorts, nil
}
