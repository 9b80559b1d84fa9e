package msgpath

import "github.com/roboto-ai/topicdata/pkg/models"

// ElementList accumulates one record per sequence element. Referencing an
// index past the end grows the list with empty records.
type ElementList struct {
	items []models.Record
}

// GetOrInsertDefault returns the record at i, growing the list as needed.
func (l *ElementList) GetOrInsertDefault(i int) models.Record {
	for len(l.items) <= i {
		l.items = append(l.items, models.Record{})
	}
	return l.items[i]
}

// Len returns the number of elements.
func (l *ElementList) Len() int { return len(l.items) }

// Values returns the accumulated records as a plain slice.
func (l *ElementList) Values() []any {
	out := make([]any, len(l.items))
	for i, item := range l.items {
		out[i] = item
	}
	return out
}
