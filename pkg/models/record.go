package models

import "sort"

// LogTimeField is the distinguished field holding a record's log time.
const LogTimeField = "log_time"

// Record is one nested key/value datum produced by a topic reader.
type Record map[string]any

// LogTime returns the record's log time when it is held as epoch nanoseconds.
func (r Record) LogTime() (int64, bool) {
	ts, ok := r[LogTimeField].(int64)
	return ts, ok
}

// Flatten joins nested keys with PathDelimiter. Sequences are kept as values.
func (r Record) Flatten() map[string]any {
	out := make(map[string]any, len(r))
	flattenInto(out, "", r)
	return out
}

func flattenInto(out map[string]any, prefix string, value map[string]any) {
	for k, v := range value {
		key := k
		if prefix != "" {
			key = prefix + PathDelimiter + k
		}
		switch nested := v.(type) {
		case Record:
			flattenInto(out, key, nested)
		case map[string]any:
			flattenInto(out, key, nested)
		default:
			out[key] = v
		}
	}
}

// SortedKeys returns the top-level keys in lexical order.
func (r Record) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
