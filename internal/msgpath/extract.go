package msgpath

import (
	"reflect"
	"slices"

	"github.com/roboto-ai/topicdata/pkg/models"
)

// Time values are recognised by their field set. Canonical paths always spell
// the components sec and nsec.
var timeFieldNames = []struct {
	fields  [2]string
	rewrite map[string]string
}{
	{fields: [2]string{"secs", "nsecs"}, rewrite: map[string]string{"sec": "secs", "nsec": "nsecs"}},
	{fields: [2]string{"sec", "nanosec"}, rewrite: map[string]string{"nsec": "nanosec"}},
}

// Extract projects msg onto paths. Missing attributes are skipped: the output
// holds exactly the requested paths whose ancestors are all present. A path
// nested under another requested path adds nothing; the outer path's value is
// kept whole, whatever the order of paths.
func Extract(msg any, paths []models.MessagePath) models.Record {
	out := models.Record{}
	family := FamilyOf(msg)
	if family == FamilyNone {
		return out
	}
	for _, components := range outermost(paths) {
		walk(family, msg, components, out)
	}
	finalize(out)
	return out
}

// outermost returns the components of every path that has no strict
// ancestor among paths.
func outermost(paths []models.MessagePath) [][]string {
	all := make([][]string, 0, len(paths))
	for _, mp := range paths {
		if components := mp.Components(); len(components) > 0 {
			all = append(all, components)
		}
	}
	out := make([][]string, 0, len(all))
	for i, c := range all {
		covered := false
		for j, other := range all {
			if j != i && len(other) < len(c) && slices.Equal(other, c[:len(other)]) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, c)
		}
	}
	return out
}

// ExtractPath is Extract for a single dotted path.
func ExtractPath(msg any, path string) models.Record {
	return Extract(msg, []models.MessagePath{{Path: path}})
}

func walk(family Family, value any, components []string, acc models.Record) {
	a, ok := family.Wrap(value)
	if !ok {
		return
	}

	key := components[0]
	child, ok := a.Get(nativeName(a, key))
	if !ok {
		return
	}

	if len(components) == 1 {
		acc[key] = child
		return
	}

	if elems, ok := sequence(child); ok {
		list, _ := acc[key].(*ElementList)
		if list == nil {
			list = &ElementList{}
		}
		for i, elem := range elems {
			walk(family, elem, components[1:], list.GetOrInsertDefault(i))
		}
		if list.Len() > 0 {
			acc[key] = list
		}
		return
	}

	nested, _ := acc[key].(models.Record)
	if nested == nil {
		nested = models.Record{}
	}
	walk(family, child, components[1:], nested)
	if len(nested) > 0 {
		acc[key] = nested
	}
}

// nativeName maps a canonical time component onto the spelling used by the
// value's encoding.
func nativeName(a Accessor, component string) string {
	for _, tf := range timeFieldNames {
		if a.Has(tf.fields[0]) && a.Has(tf.fields[1]) {
			if native, ok := tf.rewrite[component]; ok {
				return native
			}
			return component
		}
	}
	return component
}

// sequence reports whether v is a list of values. Strings and byte slices are
// leaves.
func sequence(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []byte, string, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func finalize(r models.Record) {
	for k, v := range r {
		switch t := v.(type) {
		case *ElementList:
			for _, item := range t.items {
				finalize(item)
			}
			r[k] = t.Values()
		case models.Record:
			finalize(t)
		}
	}
}
