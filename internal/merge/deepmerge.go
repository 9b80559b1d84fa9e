package merge

import (
	"fmt"

	"github.com/roboto-ai/topicdata/pkg/models"
)

// DeepMerge copies src's fields into dst. Nested records and sequences of
// records are merged recursively. Two leaf values at the same path are a
// conflict: message path groups are meant to be disjoint, so a collision
// means the metadata is inconsistent.
func DeepMerge(dst, src models.Record) error {
	return mergeInto(dst, src, "")
}

func mergeInto(dst, src map[string]any, prefix string) error {
	for k, v := range src {
		path := k
		if prefix != "" {
			path = prefix + models.PathDelimiter + k
		}
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		merged, err := mergeValue(existing, v, path)
		if err != nil {
			return err
		}
		dst[k] = merged
	}
	return nil
}

func mergeValue(dst, src any, path string) (any, error) {
	if d, ok := asMap(dst); ok {
		if s, ok := asMap(src); ok {
			return dst, mergeInto(d, s, path)
		}
	}
	if d, ok := dst.([]any); ok {
		if s, ok := src.([]any); ok && len(d) == len(s) {
			for i := range d {
				merged, err := mergeValue(d[i], s[i], fmt.Sprintf("%s[%d]", path, i))
				if err != nil {
					return nil, err
				}
				d[i] = merged
			}
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: field %q contributed by more than one message path group", models.ErrMalformed, path)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case models.Record:
		return m, true
	case map[string]any:
		return m, true
	}
	return nil, false
}
