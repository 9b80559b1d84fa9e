// Package msgpath projects decoded messages onto a set of dotted message
// paths, producing sparse nested records.
package msgpath

import (
	"reflect"
	"sync"

	"github.com/roboto-ai/topicdata/pkg/models"
)

// Accessor reads named attributes of one decoded value.
type Accessor interface {
	Keys() []string
	Has(key string) bool
	Get(key string) (any, bool)
}

// Struct is implemented by decoders that produce named-slot values with a
// fixed field list, e.g. ROS-style dynamic messages.
type Struct interface {
	FieldNames() []string
	Field(name string) (any, bool)
}

// Family selects how values are accessed throughout one message.
type Family int

const (
	FamilyNone Family = iota
	FamilyMapping
	FamilyStruct
)

func (f Family) String() string {
	switch f {
	case FamilyMapping:
		return "mapping"
	case FamilyStruct:
		return "struct"
	default:
		return "none"
	}
}

// FamilyOf inspects a top-level message.
func FamilyOf(msg any) Family {
	switch msg.(type) {
	case map[string]any, models.Record:
		return FamilyMapping
	case Struct:
		return FamilyStruct
	}
	if structType(reflect.TypeOf(msg)) != nil {
		return FamilyStruct
	}
	return FamilyNone
}

// Wrap returns an accessor for v, or false when v is a leaf.
func (f Family) Wrap(v any) (Accessor, bool) {
	switch f {
	case FamilyMapping:
		switch m := v.(type) {
		case map[string]any:
			return MappingAccessor(m), true
		case models.Record:
			return MappingAccessor(m), true
		}
	case FamilyStruct:
		if s, ok := v.(Struct); ok {
			return StructAccessor{s}, true
		}
		if rs, ok := reflectStruct(v); ok {
			return StructAccessor{rs}, true
		}
	}
	return nil, false
}

// AccessorFor picks the family from v and wraps it.
func AccessorFor(v any) (Accessor, bool) {
	return FamilyOf(v).Wrap(v)
}

// MappingAccessor reads key/value decoded data such as JSON objects.
type MappingAccessor map[string]any

func (m MappingAccessor) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func (m MappingAccessor) Has(key string) bool {
	_, ok := m[key]
	return ok
}

func (m MappingAccessor) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// StructAccessor reads named-slot values.
type StructAccessor struct {
	s Struct
}

func (a StructAccessor) Keys() []string { return a.s.FieldNames() }

func (a StructAccessor) Has(key string) bool {
	_, ok := a.s.Field(key)
	return ok
}

func (a StructAccessor) Get(key string) (any, bool) { return a.s.Field(key) }

// DynamicStruct is a Struct built at runtime from a field list.
type DynamicStruct struct {
	names  []string
	values map[string]any
}

// NewDynamicStruct pairs names with values positionally.
func NewDynamicStruct(names []string, values []any) *DynamicStruct {
	ds := &DynamicStruct{names: names, values: make(map[string]any, len(names))}
	for i, name := range names {
		if i < len(values) {
			ds.values[name] = values[i]
		}
	}
	return ds
}

func (d *DynamicStruct) FieldNames() []string { return d.names }

func (d *DynamicStruct) Field(name string) (any, bool) {
	v, ok := d.values[name]
	return v, ok
}

// Go structs are read by reflection. The `msg` tag overrides a field's name;
// `msg:"-"` hides it.
type reflectedStruct struct {
	v      reflect.Value
	fields *structFields
}

type structFields struct {
	names []string
	index map[string]int
}

var fieldCache sync.Map // reflect.Type -> *structFields

func structType(t reflect.Type) reflect.Type {
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	return t
}

func reflectStruct(v any) (reflectedStruct, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflectedStruct{}, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflectedStruct{}, false
	}
	return reflectedStruct{v: rv, fields: fieldsOf(rv.Type())}, true
}

func fieldsOf(t reflect.Type) *structFields {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(*structFields)
	}
	sf := &structFields{index: make(map[string]int, t.NumField())}
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("msg"); ok {
			if tag == "-" {
				continue
			}
			name = tag
		}
		sf.names = append(sf.names, name)
		sf.index[name] = i
	}
	actual, _ := fieldCache.LoadOrStore(t, sf)
	return actual.(*structFields)
}

func (r reflectedStruct) FieldNames() []string { return r.fields.names }

func (r reflectedStruct) Field(name string) (any, bool) {
	i, ok := r.fields.index[name]
	if !ok {
		return nil, false
	}
	return r.v.Field(i).Interface(), true
}
