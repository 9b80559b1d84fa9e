package topicdata

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roboto-ai/topicdata/internal/timeunit"
	"github.com/roboto-ai/topicdata/pkg/models"
)

// Table is a query result laid out by column. Nested fields are flattened
// into dotted column names and rows are indexed by log time in epoch
// nanoseconds.
type Table struct {
	Index   []int64
	columns []string
	data    map[string][]any
}

func newTable() *Table {
	return &Table{data: make(map[string][]any)}
}

// Len is the number of rows.
func (t *Table) Len() int { return len(t.Index) }

// Columns lists column names in first-seen order.
func (t *Table) Columns() []string { return t.columns }

// Column returns a column's values; rows without the field hold nil.
func (t *Table) Column(name string) ([]any, bool) {
	col, ok := t.data[name]
	return col, ok
}

// Row returns row i keyed by column name, omitting missing fields.
func (t *Table) Row(i int) map[string]any {
	row := make(map[string]any, len(t.columns))
	for _, name := range t.columns {
		if v := t.data[name][i]; v != nil {
			row[name] = v
		}
	}
	return row
}

// GetDataAsTable collects the records of q into a Table.
func (s *Service) GetDataAsTable(ctx context.Context, q Query) (*Table, error) {
	t := newTable()
	for rec, err := range s.GetData(ctx, q) {
		if err != nil {
			return nil, err
		}
		ns, err := indexNanos(rec[models.LogTimeField], q.LogTimeUnit)
		if err != nil {
			return nil, err
		}
		fields := models.Record(rec.Flatten())
		delete(fields, models.LogTimeField)
		t.appendRow(ns, fields.SortedKeys(), fields)
	}
	return t, nil
}

// appendRow adds one row. New columns are backfilled with nil and columns
// absent from fields get nil for this row.
func (t *Table) appendRow(ns int64, keys []string, fields map[string]any) {
	row := len(t.Index)
	t.Index = append(t.Index, ns)
	for _, name := range keys {
		col, ok := t.data[name]
		if !ok {
			col = make([]any, row, row+1)
			t.columns = append(t.columns, name)
		}
		t.data[name] = append(col, fields[name])
	}
	for _, name := range t.columns {
		if col := t.data[name]; len(col) == row {
			t.data[name] = append(col, nil)
		}
	}
}

// indexNanos converts an emitted log time back to epoch nanoseconds.
func indexNanos(v any, unit timeunit.Unit) (int64, error) {
	switch lt := v.(type) {
	case int64:
		return lt, nil
	case decimal.Decimal:
		if unit == "" {
			unit = timeunit.Nanoseconds
		}
		return timeunit.ToNanos(lt, unit)
	}
	return 0, fmt.Errorf("%w: record log time %T", models.ErrMalformed, v)
}
