package metadata

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jinzhu/inflection"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/uptrace/bun"
	"github.com/vmihailenco/tagparser/v2"
)

// Kind classifies how a property is stored.
type Kind int

const (
	// Simple properties map to a single column of the entity table.
	Simple Kind = iota
	// Embedded properties are structs flattened into the entity table with a column prefix.
	Embedded
	// Reference properties point to one related entity (belongs-to, has-one).
	Reference
	// Collection properties hold many related entities (has-many, many-to-many).
	Collection
)

func (k Kind) String() string {
	switch k {
	case Simple:
		return "simple"
	case Embedded:
		return "embedded"
	case Reference:
		return "reference"
	case Collection:
		return "collection"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var baseModelType = reflect.TypeOf(bun.BaseModel{})

// Property describes one field of an entity.
type Property struct {
	Name      string
	GoName    string
	Column    string
	Prefix    string
	Kind      Kind
	Type      reflect.Type
	PK        bool
	Transient bool
	// Nullable is set for pointer fields, sql.Null* types and nullzero columns.
	Nullable  bool

	index []int
	elem  reflect.Type
}

// Persistent reports whether the property is stored by the ORM.
func (p *Property) Persistent() bool {
	return !p.Transient
}

// Nested returns the metadata of the struct behind an embedded, reference or
// collection property. It is resolved lazily so cyclic relations are fine.
func (p *Property) Nested() (*ClassMetadata, error) {
	if p.Kind == Simple || p.elem == nil {
		return nil, fmt.Errorf("%w: %s has no nested properties", ErrUnknownProperty, p.Name)
	}
	return ForType(p.elem)
}

// ClassMetadata describes a bun model.
type ClassMetadata struct {
	Type  reflect.Type
	Table string
	Alias string

	properties []*Property
	byName     map[string]*Property
	pk         *Property
}

var registry = xsync.NewMapOf[reflect.Type, *ClassMetadata]()

// For returns the metadata for the type of v, which may be a struct value,
// a pointer to one, or a typed nil pointer such as (*Person)(nil).
func For(v any) (*ClassMetadata, error) {
	if v == nil {
		return nil, ErrNotStruct
	}
	return ForType(reflect.TypeOf(v))
}

// ForType returns the memoized metadata for typ.
func ForType(typ reflect.Type) (*ClassMetadata, error) {
	for typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v", ErrNotStruct, typ)
	}

	if md, ok := registry.Load(typ); ok {
		return md, nil
	}

	md := build(typ)
	actual, _ := registry.LoadOrStore(typ, md)
	return actual, nil
}

func build(typ reflect.Type) *ClassMetadata {
	md := &ClassMetadata{
		Type:   typ,
		Table:  inflection.Plural(underscore(typ.Name())),
		Alias:  underscore(typ.Name()),
		byName: make(map[string]*Property),
	}
	md.collect(typ, nil)

	var pks []*Property
	for _, p := range md.properties {
		if p.PK {
			pks = append(pks, p)
		}
	}
	if len(pks) == 0 {
		if p, ok := md.byColumn("id"); ok {
			pks = append(pks, p)
		}
	}
	if len(pks) == 1 {
		md.pk = pks[0]
	}
	return md
}

func (md *ClassMetadata) collect(typ reflect.Type, index []int) {
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		fieldIndex := append(append([]int(nil), index...), i)

		if f.Type == baseModelType {
			md.applyModelTag(f.Tag.Get("bun"))
			continue
		}

		tag := tagparser.Parse(f.Tag.Get("bun"))

		if f.Anonymous && tag.Name == "" && !tag.HasOption("embed") {
			ft := f.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				md.collect(ft, fieldIndex)
				continue
			}
		}

		if !f.IsExported() || !isExportedName(f.Name) {
			continue
		}

		p := &Property{
			Name:   propertyName(f.Name),
			GoName: f.Name,
			Column: underscore(f.Name),
			Type:   f.Type,
			index:  fieldIndex,
		}
		if tag.Name == "-" {
			p.Transient = true
		} else if tag.Name != "" {
			p.Column = tag.Name
		}
		if tag.HasOption("pk") {
			p.PK = true
		}
		if tag.HasOption("scanonly") {
			p.Transient = true
		}
		p.Nullable = f.Type.Kind() == reflect.Ptr || tag.HasOption("nullzero") ||
			strings.HasPrefix(f.Type.Name(), "Null")

		elem := indirect(f.Type)
		switch rel := tag.Options["rel"]; {
		case rel == "belongs-to" || rel == "has-one":
			p.Kind = Reference
			p.elem = elem
		case rel == "has-many" || tag.HasOption("m2m"):
			p.Kind = Collection
			p.elem = indirect(elem.Elem())
		default:
			if prefix, ok := tag.Options["embed"]; ok {
				p.Kind = Embedded
				p.Prefix = prefix
				p.elem = elem
			} else if elem.Kind() == reflect.Slice && elem.Elem().Kind() != reflect.Uint8 && isStructLike(elem.Elem()) {
				p.Kind = Collection
				p.elem = indirect(elem.Elem())
				p.Transient = true
			}
		}

		if _, dup := md.byName[p.Name]; dup {
			continue
		}
		md.properties = append(md.properties, p)
		md.byName[p.Name] = p
	}
}

func (md *ClassMetadata) applyModelTag(raw string) {
	tag := tagparser.Parse(raw)
	if table := tag.Options["table"]; table != "" {
		md.Table = table
	}
	if alias := tag.Options["alias"]; alias != "" {
		md.Alias = alias
	}
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func isStructLike(t reflect.Type) bool {
	t = indirect(t)
	return t.Kind() == reflect.Struct && t.PkgPath() != "time"
}

func (md *ClassMetadata) byColumn(column string) (*Property, bool) {
	for _, p := range md.properties {
		if p.Kind == Simple && p.Persistent() && p.Column == column {
			return p, true
		}
	}
	return nil, false
}

// Identifier returns the primary key property.
func (md *ClassMetadata) Identifier() (*Property, error) {
	if md.pk == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoIdentifier, md.Type)
	}
	return md.pk, nil
}

// Property returns the top level property called name.
func (md *ClassMetadata) Property(name string) (*Property, bool) {
	p, ok := md.byName[name]
	return p, ok
}

// Properties returns every top level property in declaration order.
func (md *ClassMetadata) Properties() []*Property {
	return append([]*Property(nil), md.properties...)
}

// PropertyIDs lists the names of all top level properties.
func (md *ClassMetadata) PropertyIDs() []string {
	ids := make([]string, 0, len(md.properties))
	for _, p := range md.properties {
		ids = append(ids, p.Name)
	}
	return ids
}

// PersistentPropertyIDs lists top level properties that are stored.
func (md *ClassMetadata) PersistentPropertyIDs() []string {
	var ids []string
	for _, p := range md.properties {
		if p.Persistent() {
			ids = append(ids, p.Name)
		}
	}
	return ids
}

// SortablePropertyIDs lists top level properties usable in ORDER BY and WHERE.
func (md *ClassMetadata) SortablePropertyIDs() []string {
	var ids []string
	for _, p := range md.properties {
		if p.Kind == Simple && p.Persistent() {
			ids = append(ids, p.Name)
		}
	}
	return ids
}

// NestedPropertyIDs expands a wildcard declaration such as "billingAddress.*"
// into the simple properties of the nested struct. A path without the
// wildcard is resolved and returned as is.
func (md *ClassMetadata) NestedPropertyIDs(pattern string) ([]string, error) {
	base, wildcard := strings.CutSuffix(pattern, ".*")
	if !wildcard {
		if _, err := md.Resolve(pattern); err != nil {
			return nil, err
		}
		return []string{pattern}, nil
	}

	path, err := md.Resolve(base)
	if err != nil {
		return nil, err
	}
	nested, err := path.Leaf().Nested()
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, p := range nested.properties {
		if p.Kind == Simple {
			ids = append(ids, base+"."+p.Name)
		}
	}
	return ids, nil
}
