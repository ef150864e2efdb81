package metadata

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/uptrace/bun"
)

// Path is a resolved property id such as "customer.customerName".
type Path struct {
	ID         string
	Properties []*Property

	// Relation is the bun relation to join ("Customer", "Customer.Address"),
	// empty when every segment lives in the entity table.
	Relation string
	// Alias is the join alias bun assigns to Relation ("customer", "customer__address").
	Alias string
	// Column is the column name, embed prefixes included.
	Column string
}

// Leaf returns the last property of the path.
func (p *Path) Leaf() *Property {
	return p.Properties[len(p.Properties)-1]
}

// Queryable reports whether the path points to a stored column reachable
// through joins, which is what sorting and filtering need.
func (p *Path) Queryable() bool {
	for _, prop := range p.Properties {
		if prop.Transient || prop.Kind == Collection {
			return false
		}
	}
	return p.Leaf().Kind == Simple
}

// Nullable reports whether the column can hold NULL, either by its type or
// because it is read through an outer join.
func (p *Path) Nullable() bool {
	return p.Relation != "" || p.Leaf().Nullable
}

// Expr returns a bun query fragment and its arguments addressing the column.
func (p *Path) Expr() (string, []any) {
	if p.Alias == "" {
		return "?TableAlias.?", []any{bun.Ident(p.Column)}
	}
	return "?", []any{bun.Ident(p.Alias + "." + p.Column)}
}

// Resolve walks a dotted property id through embedded and reference properties.
func (md *ClassMetadata) Resolve(id string) (*Path, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty property id", ErrUnknownProperty)
	}

	path := &Path{ID: id}
	var relations, aliases []string
	prefix := ""
	current := md

	segments := strings.Split(id, ".")
	for i, name := range segments {
		prop, ok := current.Property(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q on %s", ErrUnknownProperty, id, md.Type.Name())
		}
		path.Properties = append(path.Properties, prop)

		if i == len(segments)-1 {
			path.Column = prefix + prop.Column
			break
		}

		switch prop.Kind {
		case Embedded:
			prefix += prop.Prefix
		case Reference:
			if prefix != "" {
				return nil, fmt.Errorf("%w: %q joins through an embedded struct", ErrUnknownProperty, id)
			}
			relations = append(relations, prop.GoName)
			aliases = append(aliases, prop.Column)
		default:
			return nil, fmt.Errorf("%w: %q cannot traverse %s property %s", ErrUnknownProperty, id, prop.Kind, name)
		}

		nested, err := prop.Nested()
		if err != nil {
			return nil, err
		}
		current = nested
	}

	path.Relation = strings.Join(relations, ".")
	path.Alias = strings.Join(aliases, "__")
	return path, nil
}

// Value reads the property at id from entity. A nil pointer along the way
// yields nil without error.
func (md *ClassMetadata) Value(entity any, id string) (any, error) {
	path, err := md.Resolve(id)
	if err != nil {
		return nil, err
	}

	v := reflect.ValueOf(entity)
	for _, prop := range path.Properties {
		var ok bool
		if v, ok = deref(v); !ok {
			return nil, nil
		}
		if v, ok = fieldByIndex(v, prop.index, false); !ok {
			return nil, nil
		}
	}
	return v.Interface(), nil
}

// SetValue assigns value to the property at id, allocating nil pointers on
// the way. entity must be a non-nil pointer. A nil value stores the zero value.
func (md *ClassMetadata) SetValue(entity any, id string, value any) error {
	path, err := md.Resolve(id)
	if err != nil {
		return err
	}

	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("%w: entity must be a non-nil pointer", ErrNotStruct)
	}
	v = v.Elem()

	for _, prop := range path.Properties {
		fv, _ := fieldByIndex(v, prop.index, true)
		if prop == path.Leaf() {
			return assign(fv, value, id)
		}
		for fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				fv.Set(reflect.New(fv.Type().Elem()))
			}
			fv = fv.Elem()
		}
		v = fv
	}
	return nil
}

// IdentifierValue returns the primary key value of entity.
func (md *ClassMetadata) IdentifierValue(entity any) (any, error) {
	pk, err := md.Identifier()
	if err != nil {
		return nil, err
	}
	return md.Value(entity, pk.Name)
}

func deref(v reflect.Value) (reflect.Value, bool) {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

// fieldByIndex follows index through anonymous embedded structs. With alloc
// set, nil embedded pointers are allocated; otherwise ok is false for them.
func fieldByIndex(v reflect.Value, index []int, alloc bool) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 {
			for v.Kind() == reflect.Ptr {
				if v.IsNil() {
					if !alloc {
						return reflect.Value{}, false
					}
					v.Set(reflect.New(v.Type().Elem()))
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v, true
}

func assign(dst reflect.Value, value any, id string) error {
	if value == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	src := reflect.ValueOf(value)
	switch {
	case src.Type().AssignableTo(dst.Type()):
		dst.Set(src)
		return nil
	case dst.Kind() == reflect.Ptr && src.Type().AssignableTo(dst.Type().Elem()):
		ptr := reflect.New(dst.Type().Elem())
		ptr.Elem().Set(src)
		dst.Set(ptr)
		return nil
	case src.Kind() == reflect.Ptr && !src.IsNil() && src.Elem().Type().AssignableTo(dst.Type()):
		dst.Set(src.Elem())
		return nil
	case convertible(src.Type(), dst.Type()):
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("%w: %T to %s (%s)", ErrTypeMismatch, value, id, dst.Type())
}

// convertible limits reflect conversions to same-family kinds so that an
// int never silently becomes a one-rune string.
func convertible(src, dst reflect.Type) bool {
	if !src.ConvertibleTo(dst) {
		return false
	}
	family := func(k reflect.Kind) int {
		switch k {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return 1
		case reflect.String:
			return 2
		case reflect.Bool:
			return 3
		default:
			return 0
		}
	}
	fs, fd := family(src.Kind()), family(dst.Kind())
	return fs != 0 && fs == fd
}
