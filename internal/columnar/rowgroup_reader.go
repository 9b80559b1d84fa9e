package columnar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/decimal128"

	"github.com/roboto-ai/topicdata/internal/timeunit"
	"github.com/roboto-ai/topicdata/pkg/models"
)

// ReadOptions select what a RowGroupReader yields.
type ReadOptions struct {
	// TimestampField names the log-time column. Empty infers it.
	TimestampField string
	// TimestampUnit overrides the unit the log-time column is stored in.
	TimestampUnit timeunit.Unit
	// UnitHint is the unit recorded for the log-time column outside the
	// file, consulted when the file itself declares none.
	UnitHint string
	// OutputUnit is the unit of the emitted log-time column. Nanoseconds
	// are emitted as int64, other units as exact decimals.
	OutputUnit timeunit.Unit
	// Columns lists the top-level columns to read. Nil reads all of them.
	// The timestamp column is only emitted when listed.
	Columns []string
	Window  models.Window
	// LogTimeField names the injected log-time column.
	LogTimeField string
}

// ReadStats counts the row groups a read touched.
type ReadStats struct {
	RowGroupsRead   int
	RowGroupsPruned int
	RowsEmitted     int64
}

// RowGroupReader reads a Store one row group at a time, skipping row groups
// whose timestamp statistics fall outside the window.
type RowGroupReader struct {
	store   *Store
	opts    ReadOptions
	tsField arrow.Field
	tsLeaf  int
	unit    timeunit.Unit
	// statsUnit is the unit statistics are stored in. Typed timestamps keep
	// their own.
	statsUnit timeunit.Unit
	columns   []string
	keepTs    bool
	stats     ReadStats
}

// NewRowGroupReader validates opts against the store's schema.
func NewRowGroupReader(store *Store, opts ReadOptions) (*RowGroupReader, error) {
	if opts.LogTimeField == "" {
		opts.LogTimeField = models.LogTimeField
	}
	if opts.OutputUnit == "" {
		opts.OutputUnit = timeunit.Nanoseconds
	}
	if !opts.OutputUnit.Valid() {
		return nil, fmt.Errorf("%w: unknown output time unit %q", models.ErrInvalidArgument, opts.OutputUnit)
	}
	if opts.Window == (models.Window{}) {
		opts.Window = models.Unbounded
	}

	tsField, err := store.InferTimestampField(opts.TimestampField)
	if err != nil {
		return nil, err
	}
	unit, err := store.resolveUnit(tsField, opts.TimestampUnit, opts.UnitHint)
	if err != nil {
		return nil, err
	}
	leaves := store.leafIndices([]string{tsField.Name})
	if len(leaves) != 1 {
		return nil, fmt.Errorf("%w: timestamp column %q is not a primitive column", models.ErrUnsupported, tsField.Name)
	}

	r := &RowGroupReader{
		store:     store,
		opts:      opts,
		tsField:   tsField,
		tsLeaf:    leaves[0],
		unit:      unit,
		statsUnit: unit,
	}
	if declared := timeunit.DeclaredUnit(tsField.Type); declared != "" {
		r.statsUnit = declared
	}

	if opts.Columns == nil {
		for _, f := range store.Fields() {
			r.columns = append(r.columns, f.Name)
		}
		r.keepTs = true
	} else {
		seen := make(map[string]bool, len(opts.Columns))
		for _, name := range opts.Columns {
			if seen[name] {
				continue
			}
			seen[name] = true
			if _, _, err := store.field(name); err != nil {
				store.logger.Warn().Str("column", name).Msg("Requested column not in file, skipping")
				continue
			}
			if name == tsField.Name {
				r.keepTs = true
			}
			r.columns = append(r.columns, name)
		}
		if !r.keepTs {
			r.columns = append(r.columns, tsField.Name)
		}
	}
	return r, nil
}

// TimestampField is the log-time column in use.
func (r *RowGroupReader) TimestampField() arrow.Field { return r.tsField }

// Unit is the resolved storage unit of the log-time column.
func (r *RowGroupReader) Unit() timeunit.Unit { return r.unit }

// Stats reports the row groups considered so far.
func (r *RowGroupReader) Stats() ReadStats { return r.stats }

// mayContain reports whether row group rg can hold a log time inside the
// window. Missing or uninterpretable statistics mean the group is read.
func (r *RowGroupReader) mayContain(rg int) bool {
	if r.opts.Window == models.Unbounded {
		return true
	}
	minV, maxV, ok := r.store.columnStats(rg, r.tsLeaf)
	if !ok || minV == nil {
		return true
	}
	if isUnsigned(r.tsField.Type) {
		return true
	}
	lo, err := timeunit.FromValue(minV, r.statsUnit)
	if err != nil {
		return true
	}
	hi, err := timeunit.FromValue(maxV, r.statsUnit)
	if err != nil {
		return true
	}
	return r.opts.Window.Overlaps(lo, hi)
}

func isUnsigned(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return true
	}
	return false
}

// Records yields filtered record batches in file order. The first column is
// the log time; each batch is released once the consumer returns, so
// callers keeping one must Retain it.
func (r *RowGroupReader) Records(ctx context.Context) iter.Seq2[arrow.Record, error] {
	return func(yield func(arrow.Record, error) bool) {
		leaves := r.store.leafIndices(r.columns)
		for rg := 0; rg < r.store.RowGroupCount(); rg++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !r.mayContain(rg) {
				r.stats.RowGroupsPruned++
				r.store.metrics.RowGroupPruned()
				continue
			}
			r.stats.RowGroupsRead++
			r.store.metrics.RowGroupRead()

			if !r.readRowGroup(ctx, rg, leaves, yield) {
				return
			}
		}
	}
}

func (r *RowGroupReader) readRowGroup(ctx context.Context, rg int, leaves []int, yield func(arrow.Record, error) bool) bool {
	rr, err := r.store.reader.GetRecordReader(ctx, leaves, []int{rg})
	if err != nil {
		return yield(nil, fmt.Errorf("%w: read row group %d: %v", models.ErrMalformed, rg, err))
	}
	defer rr.Release()

	for rr.Next() {
		out, err := r.transform(ctx, rr.Record())
		if err != nil {
			return yield(nil, fmt.Errorf("row group %d: %w", rg, err))
		}
		if out.NumRows() == 0 {
			out.Release()
			continue
		}
		r.stats.RowsEmitted += out.NumRows()
		cont := yield(out, nil)
		out.Release()
		if !cont {
			return false
		}
	}
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return yield(nil, fmt.Errorf("%w: read row group %d: %v", models.ErrMalformed, rg, err))
	}
	return true
}

// transform injects the normalized log time, applies the window exactly
// and rescales log time to the output unit.
func (r *RowGroupReader) transform(ctx context.Context, rec arrow.Record) (arrow.Record, error) {
	mem := r.store.mem
	tsIdx := rec.Schema().FieldIndices(r.tsField.Name)
	if len(tsIdx) == 0 {
		return nil, fmt.Errorf("%w: timestamp column %q missing from batch", models.ErrMalformed, r.tsField.Name)
	}

	ns, err := timeunit.NormalizeArray(mem, rec.Column(tsIdx[0]), r.unit)
	if err != nil {
		return nil, err
	}
	defer ns.Release()

	fields := []arrow.Field{{Name: r.opts.LogTimeField, Type: arrow.PrimitiveTypes.Int64}}
	cols := []arrow.Array{ns}
	for i, f := range rec.Schema().Fields() {
		if i == tsIdx[0] && !r.keepTs {
			continue
		}
		if f.Name == r.opts.LogTimeField {
			continue
		}
		fields = append(fields, f)
		cols = append(cols, rec.Column(i))
	}
	combined := array.NewRecord(arrow.NewSchema(fields, nil), cols, rec.NumRows())
	defer combined.Release()

	mask, all := r.windowMask(ns)
	defer mask.Release()

	var filtered arrow.Record
	if all {
		combined.Retain()
		filtered = combined
	} else {
		filtered, err = compute.FilterRecordBatch(ctx, combined, mask, compute.DefaultFilterOptions())
		if err != nil {
			return nil, fmt.Errorf("filter to window: %w", err)
		}
	}

	if r.opts.OutputUnit == timeunit.Nanoseconds {
		return filtered, nil
	}
	defer filtered.Release()
	return r.rescale(filtered), nil
}

// windowMask marks rows whose log time falls inside the window. Null
// timestamps never match.
func (r *RowGroupReader) windowMask(ns *array.Int64) (*array.Boolean, bool) {
	b := array.NewBooleanBuilder(r.store.mem)
	defer b.Release()
	b.Reserve(ns.Len())

	all := true
	for i := 0; i < ns.Len(); i++ {
		keep := ns.IsValid(i) && r.opts.Window.Contains(ns.Value(i))
		all = all && keep
		b.UnsafeAppend(keep)
	}
	return b.NewBooleanArray(), all
}

// rescale replaces the nanosecond log-time column with an exact decimal in
// the output unit.
func (r *RowGroupReader) rescale(rec arrow.Record) arrow.Record {
	dt := LogTimeType(r.opts.OutputUnit).(*arrow.Decimal128Type)
	ns := rec.Column(0).(*array.Int64)

	b := array.NewDecimal128Builder(r.store.mem, dt)
	defer b.Release()
	b.Reserve(ns.Len())
	for i := 0; i < ns.Len(); i++ {
		if ns.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(decimal128.FromI64(ns.Value(i)))
	}
	lt := b.NewArray()
	defer lt.Release()

	fields := append([]arrow.Field(nil), rec.Schema().Fields()...)
	fields[0] = arrow.Field{Name: r.opts.LogTimeField, Type: dt}
	cols := append([]arrow.Array{lt}, rec.Columns()[1:]...)
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, rec.NumRows())
}

// LogTimeType is the arrow type of an emitted log-time column in unit u.
// The unscaled value is always the nanosecond count.
func LogTimeType(u timeunit.Unit) arrow.DataType {
	if u == timeunit.Nanoseconds {
		return arrow.PrimitiveTypes.Int64
	}
	return &arrow.Decimal128Type{Precision: maxDecimalPrecision, Scale: u.Exponent()}
}

// int64 nanoseconds need at most 19 digits.
const maxDecimalPrecision = 19

// Rows yields one record per row, keyed by column name, with the log time
// under LogTimeField.
func (r *RowGroupReader) Rows(ctx context.Context) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		for rec, err := range r.Records(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			for i := 0; i < int(rec.NumRows()); i++ {
				if !yield(Row(rec, i), nil) {
					return
				}
			}
		}
	}
}
