package timeunit

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/shopspring/decimal"

	"github.com/roboto-ai/topicdata/pkg/models"
)

// Float64 values at or beyond these bounds cannot be represented as int64.
const (
	maxFloatNanos = 9.223372036854775807e18
	minFloatNanos = -9.223372036854775808e18
)

// FromInt converts an integer epoch value in unit u to nanoseconds.
func FromInt(v int64, u Unit) (int64, error) {
	m := u.NanoMultiplier()
	if m == 1 {
		return v, nil
	}
	if v > math.MaxInt64/m || v < math.MinInt64/m {
		return 0, fmt.Errorf("%w: %d%s overflows int64 nanoseconds", models.ErrMalformed, v, u)
	}
	return v * m, nil
}

// FromUint converts an unsigned epoch value in unit u to nanoseconds.
func FromUint(v uint64, u Unit) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d%s overflows int64 nanoseconds", models.ErrMalformed, v, u)
	}
	return FromInt(int64(v), u)
}

// FromFloat converts a floating point epoch value in unit u to nanoseconds,
// truncating toward zero.
func FromFloat(v float64, u Unit) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite timestamp %v", models.ErrMalformed, v)
	}
	scaled := math.Trunc(v * float64(u.NanoMultiplier()))
	if scaled >= maxFloatNanos || scaled < minFloatNanos {
		return 0, fmt.Errorf("%w: %v%s overflows int64 nanoseconds", models.ErrMalformed, v, u)
	}
	return int64(scaled), nil
}

// FromDecimal converts a fixed-point epoch value in unit u to nanoseconds.
// The multiplication is exact; any sub-nanosecond remainder is truncated.
func FromDecimal(d decimal.Decimal, u Unit) (int64, error) {
	scaled := d.Shift(u.Exponent()).Truncate(0)
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%w: %s%s overflows int64 nanoseconds", models.ErrMalformed, d.String(), u)
	}
	return bi.Int64(), nil
}

// FromDecimal128 converts an arrow decimal with the given scale.
func FromDecimal128(v decimal128.Num, scale int32, u Unit) (int64, error) {
	return FromDecimal(decimal.NewFromBigInt(v.BigInt(), -scale), u)
}

// FromTimestamp reinterprets an arrow typed timestamp as epoch nanoseconds.
func FromTimestamp(v arrow.Timestamp, tu arrow.TimeUnit) (int64, error) {
	return FromInt(int64(v), FromArrow(tu))
}

// FromValue converts a scalar of any supported encoding.
func FromValue(v any, u Unit) (int64, error) {
	switch t := v.(type) {
	case int64:
		return FromInt(t, u)
	case int32:
		return FromInt(int64(t), u)
	case int16:
		return FromInt(int64(t), u)
	case int8:
		return FromInt(int64(t), u)
	case int:
		return FromInt(int64(t), u)
	case uint64:
		return FromUint(t, u)
	case uint32:
		return FromInt(int64(t), u)
	case uint16:
		return FromInt(int64(t), u)
	case uint8:
		return FromInt(int64(t), u)
	case float64:
		return FromFloat(t, u)
	case float32:
		return FromFloat(float64(t), u)
	case decimal.Decimal:
		return FromDecimal(t, u)
	case arrow.Timestamp:
		return FromInt(int64(t), u)
	}
	return 0, fmt.Errorf("%w: unsupported timestamp value %T", models.ErrMalformed, v)
}

// Rescale expresses ns in unit u. The result is exact.
func Rescale(ns int64, u Unit) decimal.Decimal {
	return decimal.New(ns, -u.Exponent())
}

// ToNanos is the inverse of Rescale.
func ToNanos(d decimal.Decimal, u Unit) (int64, error) {
	return FromDecimal(d, u)
}
