package timeunit

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/roboto-ai/topicdata/pkg/models"
)

// NormalizeArray converts a column of timestamps in unit u (ignored for typed
// timestamps, which carry their own) into epoch nanoseconds. Nulls are
// preserved. The caller releases the result.
func NormalizeArray(mem memory.Allocator, arr arrow.Array, u Unit) (*array.Int64, error) {
	if ts, ok := arr.DataType().(*arrow.TimestampType); ok {
		u = FromArrow(ts.Unit)
	}
	if in, ok := arr.(*array.Int64); ok && u == Nanoseconds {
		in.Retain()
		return in, nil
	}

	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.Reserve(arr.Len())

	convert, err := elementConverter(arr, u)
	if err != nil {
		return nil, err
	}
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			b.AppendNull()
			continue
		}
		ns, err := convert(i)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		b.Append(ns)
	}
	return b.NewInt64Array(), nil
}

func elementConverter(arr arrow.Array, u Unit) (func(int) (int64, error), error) {
	switch a := arr.(type) {
	case *array.Timestamp:
		return func(i int) (int64, error) { return FromInt(int64(a.Value(i)), u) }, nil
	case *array.Int64:
		return func(i int) (int64, error) { return FromInt(a.Value(i), u) }, nil
	case *array.Int32:
		return func(i int) (int64, error) { return FromInt(int64(a.Value(i)), u) }, nil
	case *array.Int16:
		return func(i int) (int64, error) { return FromInt(int64(a.Value(i)), u) }, nil
	case *array.Int8:
		return func(i int) (int64, error) { return FromInt(int64(a.Value(i)), u) }, nil
	case *array.Uint64:
		return func(i int) (int64, error) { return FromUint(a.Value(i), u) }, nil
	case *array.Uint32:
		return func(i int) (int64, error) { return FromInt(int64(a.Value(i)), u) }, nil
	case *array.Uint16:
		return func(i int) (int64, error) { return FromInt(int64(a.Value(i)), u) }, nil
	case *array.Uint8:
		return func(i int) (int64, error) { return FromInt(int64(a.Value(i)), u) }, nil
	case *array.Float64:
		return func(i int) (int64, error) { return FromFloat(a.Value(i), u) }, nil
	case *array.Float32:
		return func(i int) (int64, error) { return FromFloat(float64(a.Value(i)), u) }, nil
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		return func(i int) (int64, error) { return FromDecimal128(a.Value(i), scale, u) }, nil
	}
	return nil, fmt.Errorf("%w: timestamps stored as %s are not supported", models.ErrUnsupported, arr.DataType())
}

// IsTimestampLike reports whether a column of type dt can hold epoch times.
func IsTimestampLike(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.TIMESTAMP,
		arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT32, arrow.FLOAT64,
		arrow.DECIMAL128:
		return true
	}
	return false
}

// IsTimezoneAware reports whether dt is a typed timestamp with a time zone.
func IsTimezoneAware(dt arrow.DataType) bool {
	ts, ok := dt.(*arrow.TimestampType)
	return ok && ts.TimeZone != ""
}

// DeclaredUnit returns the unit carried by a typed timestamp, or "".
func DeclaredUnit(dt arrow.DataType) Unit {
	if ts, ok := dt.(*arrow.TimestampType); ok {
		return FromArrow(ts.Unit)
	}
	return ""
}
