// Package columnar reads topic data stored as Parquet files: schema and
// statistics inspection, timestamp inference, layout rewrites and a
// row-group-pruning reader.
package columnar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/metadata"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/roboto-ai/topicdata/internal/metrics"
	"github.com/roboto-ai/topicdata/internal/timeunit"
	"github.com/roboto-ai/topicdata/pkg/models"
)

const (
	// Files with more row groups than this whose groups average fewer
	// than MinRowGroupRows rows are worth rewriting.
	MaxRowGroups    = 32
	MinRowGroupRows = 100_000

	defaultBatchSize = 64 * 1024
)

var parquetMagic = []byte("PAR1")

// Store is an open Parquet file.
type Store struct {
	path    string
	file    *file.Reader
	reader  *pqarrow.FileReader
	schema  *arrow.Schema
	mem     memory.Allocator
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

func WithAllocator(mem memory.Allocator) Option {
	return func(s *Store) { s.mem = mem }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger.With().Str("component", "column-store").Logger() }
}

// Open opens the Parquet file at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		mem:    memory.DefaultAllocator,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: open parquet file %s: %v", models.ErrMalformed, filepath.Base(path), err)
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: defaultBatchSize}, s.mem)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("%w: read parquet schema: %v", models.ErrMalformed, err)
	}
	schema, err := fr.Schema()
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("%w: convert parquet schema: %v", models.ErrMalformed, err)
	}

	s.file = pf
	s.reader = fr
	s.schema = schema
	return s, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.file.Close()
}

func (s *Store) Path() string { return s.path }

// Schema is the arrow view of the file's schema.
func (s *Store) Schema() *arrow.Schema { return s.schema }

// Fields lists the top-level columns.
func (s *Store) Fields() []arrow.Field { return s.schema.Fields() }

func (s *Store) RowCount() int64 { return s.file.NumRows() }

// ColumnCount counts top-level columns.
func (s *Store) ColumnCount() int { return s.schema.NumFields() }

func (s *Store) RowGroupCount() int { return s.file.NumRowGroups() }

// RowGroupSize is the mean row count of all row groups except the last,
// which is usually a remainder. A single row group reports its own size.
func (s *Store) RowGroupSize() int64 {
	n := s.RowGroupCount()
	switch n {
	case 0:
		return 0
	case 1:
		return s.rowGroup(0).NumRows()
	}
	var total int64
	for i := 0; i < n-1; i++ {
		total += s.rowGroup(i).NumRows()
	}
	return total / int64(n-1)
}

func (s *Store) rowGroup(i int) *metadata.RowGroupMetaData {
	return s.file.MetaData().RowGroup(i)
}

// IsParquetFile reports whether path holds a Parquet file. Unreadable
// paths are judged by extension.
func IsParquetFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return strings.EqualFold(filepath.Ext(path), ".parquet")
	}
	defer f.Close()

	head := make([]byte, len(parquetMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		return strings.EqualFold(filepath.Ext(path), ".parquet")
	}
	return bytes.Equal(head, parquetMagic)
}

// field looks up a top-level column.
func (s *Store) field(name string) (arrow.Field, int, error) {
	idx := s.schema.FieldIndices(name)
	if len(idx) == 0 {
		return arrow.Field{}, -1, fmt.Errorf("%w: column %q not in %s", models.ErrNotFound, name, filepath.Base(s.path))
	}
	return s.schema.Field(idx[0]), idx[0], nil
}

// leafIndices maps top-level column names to the Parquet leaf columns
// backing them. Nil names selects every leaf.
func (s *Store) leafIndices(names []string) []int {
	sch := s.file.MetaData().Schema
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var leaves []int
	for i := 0; i < sch.NumColumns(); i++ {
		path := sch.Column(i).ColumnPath()
		if names == nil || (len(path) > 0 && want[path[0]]) {
			leaves = append(leaves, i)
		}
	}
	return leaves
}

// InferTimestampField picks the column holding log time. A named column
// must exist, hold timestamp-like values and, if typed, carry a time zone.
// Without a name the first time-zone-aware timestamp column is used.
func (s *Store) InferTimestampField(name string) (arrow.Field, error) {
	if name != "" {
		f, _, err := s.field(name)
		if err != nil {
			return arrow.Field{}, err
		}
		if !timeunit.IsTimestampLike(f.Type) {
			return arrow.Field{}, fmt.Errorf("%w: column %q of type %s cannot hold timestamps",
				models.ErrMalformed, name, f.Type)
		}
		if f.Type.ID() == arrow.TIMESTAMP && !timeunit.IsTimezoneAware(f.Type) {
			return arrow.Field{}, fmt.Errorf("%w: timestamp column %q has no time zone", models.ErrMalformed, name)
		}
		return f, nil
	}

	for _, f := range s.schema.Fields() {
		if f.Type.ID() != arrow.TIMESTAMP {
			continue
		}
		if !timeunit.IsTimezoneAware(f.Type) {
			s.logger.Warn().
				Str("column", f.Name).
				Str("file", filepath.Base(s.path)).
				Msg("Skipping timestamp column without time zone")
			continue
		}
		return f, nil
	}
	return arrow.Field{}, fmt.Errorf("%w: no time-zone-aware timestamp column in %s", models.ErrNotFound, filepath.Base(s.path))
}

// resolveUnit determines the unit log times are reported in. hint is an
// out-of-band unit used when the file's own field metadata has none. An
// override always wins; for typed timestamps it changes only the reporting
// unit, the stored integers are still read in the declared unit.
func (s *Store) resolveUnit(f arrow.Field, override timeunit.Unit, hint string) (timeunit.Unit, error) {
	hints := timeunit.Hints{Override: override, Declared: timeunit.DeclaredUnit(f.Type), Metadata: hint}
	if f.HasMetadata() {
		if i := f.Metadata.FindKey(models.MetadataUnit); i >= 0 {
			hints.Metadata = f.Metadata.Values()[i]
		}
	}
	return timeunit.Resolve(hints, s.logger.With().Str("column", f.Name).Logger())
}

// TimestampInfo describes the log-time column of a file.
type TimestampInfo struct {
	Field string
	Unit  timeunit.Unit

	startNs int64
	endNs   int64
}

// Start is the earliest log time expressed exactly in Unit.
func (ti TimestampInfo) Start() decimal.Decimal { return timeunit.Rescale(ti.startNs, ti.Unit) }

// End is the latest log time expressed exactly in Unit.
func (ti TimestampInfo) End() decimal.Decimal { return timeunit.Rescale(ti.endNs, ti.Unit) }

func (ti TimestampInfo) StartNanos() int64 { return ti.startNs }

func (ti TimestampInfo) EndNanos() int64 { return ti.endNs }

// ExtractTimestampBounds scans the timestamp column for its minimum and
// maximum. Nulls are ignored.
func (s *Store) ExtractTimestampBounds(ctx context.Context, field string, override timeunit.Unit) (TimestampInfo, error) {
	f, err := s.InferTimestampField(field)
	if err != nil {
		return TimestampInfo{}, err
	}
	unit, err := s.resolveUnit(f, override, "")
	if err != nil {
		return TimestampInfo{}, err
	}

	rr, err := s.reader.GetRecordReader(ctx, s.leafIndices([]string{f.Name}), nil)
	if err != nil {
		return TimestampInfo{}, fmt.Errorf("%w: read column %q: %v", models.ErrMalformed, f.Name, err)
	}
	defer rr.Release()

	info := TimestampInfo{Field: f.Name, Unit: unit}
	found := false
	for rr.Next() {
		rec := rr.Record()
		ns, err := timeunit.NormalizeArray(s.mem, rec.Column(0), unit)
		if err != nil {
			return TimestampInfo{}, fmt.Errorf("column %q: %w", f.Name, err)
		}
		lo, hi, ok := minMax(ns)
		ns.Release()
		if !ok {
			continue
		}
		if !found {
			info.startNs, info.endNs, found = lo, hi, true
			continue
		}
		info.startNs = min(info.startNs, lo)
		info.endNs = max(info.endNs, hi)
	}
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return TimestampInfo{}, fmt.Errorf("%w: read column %q: %v", models.ErrMalformed, f.Name, err)
	}
	if !found {
		return TimestampInfo{}, fmt.Errorf("%w: column %q holds no timestamps", models.ErrNotFound, f.Name)
	}
	return info, nil
}

func minMax(arr *array.Int64) (lo, hi int64, ok bool) {
	values := arr.Int64Values()
	for i, v := range values {
		if arr.IsNull(i) {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi, ok
}

// RequiresRewrite reports whether the file's layout defeats row-group
// pruning: many small row groups, or a timestamp column without
// statistics in some row group.
func (s *Store) RequiresRewrite(field string) (bool, error) {
	if s.RowCount() == 0 {
		return false, nil
	}
	f, err := s.InferTimestampField(field)
	if err != nil {
		return false, err
	}
	if s.RowGroupCount() > MaxRowGroups && s.RowGroupSize() < MinRowGroupRows {
		return true, nil
	}

	leaves := s.leafIndices([]string{f.Name})
	if len(leaves) != 1 {
		return false, fmt.Errorf("%w: timestamp column %q is not a primitive column", models.ErrUnsupported, f.Name)
	}
	for i := 0; i < s.RowGroupCount(); i++ {
		if _, _, ok := s.columnStats(i, leaves[0]); !ok {
			return true, nil
		}
	}
	return false, nil
}

// columnStats returns the min/max statistics of a leaf column within a row
// group.
func (s *Store) columnStats(rowGroup, leaf int) (minV, maxV any, ok bool) {
	cc, err := s.rowGroup(rowGroup).ColumnChunk(leaf)
	if err != nil {
		return nil, nil, false
	}
	if set, err := cc.StatsSet(); err != nil || !set {
		return nil, nil, false
	}
	stats, err := cc.Statistics()
	if err != nil || stats == nil || !stats.HasMinMax() {
		return nil, nil, false
	}
	switch st := stats.(type) {
	case *metadata.Int64Statistics:
		return st.Min(), st.Max(), true
	case *metadata.Int32Statistics:
		return st.Min(), st.Max(), true
	case *metadata.Float64Statistics:
		return st.Min(), st.Max(), true
	case *metadata.Float32Statistics:
		return st.Min(), st.Max(), true
	}
	// Statistics exist but in an encoding pruning does not interpret.
	return nil, nil, true
}
