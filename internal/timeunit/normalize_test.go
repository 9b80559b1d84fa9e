package timeunit

import (
	"bytes"
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboto-ai/topicdata/pkg/models"
)

var allUnits = []Unit{Seconds, Milliseconds, Microseconds, Nanoseconds}

func TestParseUnit(t *testing.T) {
	tests := []struct {
		in   string
		want Unit
	}{
		{"s", Seconds},
		{"seconds", Seconds},
		{"ms", Milliseconds},
		{"us", Microseconds},
		{"µs", Microseconds},
		{"ns", Nanoseconds},
		{" NS ", Nanoseconds},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUnit(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseUnit("fortnights")
	assert.ErrorIs(t, err, models.ErrMalformed)
}

func TestFromInt(t *testing.T) {
	ns, err := FromInt(1_700_000_000, Seconds)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_000_000_000), ns)

	_, err = FromInt(math.MaxInt64/1000+1, Microseconds)
	assert.ErrorIs(t, err, models.ErrMalformed)

	_, err = FromInt(math.MinInt64/1000-1, Microseconds)
	assert.ErrorIs(t, err, models.ErrMalformed)

	ns, err = FromInt(math.MinInt64, Nanoseconds)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), ns)
}

func TestFromFloat(t *testing.T) {
	ns, err := FromFloat(1.5, Seconds)
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000_000), ns)

	ns, err = FromFloat(-1.5, Milliseconds)
	require.NoError(t, err)
	assert.Equal(t, int64(-1_500_000), ns)

	_, err = FromFloat(math.NaN(), Seconds)
	assert.ErrorIs(t, err, models.ErrMalformed)

	_, err = FromFloat(1e11, Seconds)
	assert.ErrorIs(t, err, models.ErrMalformed)
}

func TestFromDecimal(t *testing.T) {
	d := decimal.RequireFromString("1700000000.123456789")
	ns, err := FromDecimal(d, Seconds)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_123_456_789), ns)

	// Sub-nanosecond digits truncate.
	ns, err = FromDecimal(decimal.RequireFromString("1.0000000019"), Seconds)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_001), ns)

	_, err = FromDecimal(decimal.RequireFromString("10000000000"), Seconds)
	assert.ErrorIs(t, err, models.ErrMalformed)
}

func TestFromDecimal128(t *testing.T) {
	// 1234.567 seconds stored with scale 3.
	ns, err := FromDecimal128(decimal128.FromI64(1_234_567), 3, Seconds)
	require.NoError(t, err)
	assert.Equal(t, int64(1_234_567_000_000), ns)
}

func TestFromTimestamp(t *testing.T) {
	ns, err := FromTimestamp(arrow.Timestamp(42), arrow.Microsecond)
	require.NoError(t, err)
	assert.Equal(t, int64(42_000), ns)
}

func TestRescaleRoundTrip(t *testing.T) {
	values := []int64{
		0,
		1,
		-1,
		1_700_000_000_123_456_789,
		-1_700_000_000_123_456_789,
		math.MaxInt64,
		math.MaxInt64 - 1,
		math.MinInt64,
		math.MinInt64 + 1,
	}
	for _, u := range allUnits {
		for _, ns := range values {
			scaled := Rescale(ns, u)
			back, err := ToNanos(scaled, u)
			require.NoError(t, err, "unit %s value %d", u, ns)
			assert.Equal(t, ns, back, "unit %s", u)
		}
	}
}

func TestRescaleIsExact(t *testing.T) {
	assert.Equal(t, "1700000000.123456789", Rescale(1_700_000_000_123_456_789, Seconds).String())
	assert.Equal(t, "1700000000123.456789", Rescale(1_700_000_000_123_456_789, Milliseconds).String())
	assert.Equal(t, "9223372036854775807", Rescale(math.MaxInt64, Nanoseconds).String())
}

func TestResolve(t *testing.T) {
	nop := zerolog.Nop()

	u, err := Resolve(Hints{Declared: Microseconds, Metadata: "ms"}, nop)
	require.NoError(t, err)
	assert.Equal(t, Microseconds, u, "declared type beats metadata")

	u, err = Resolve(Hints{Metadata: "ms"}, nop)
	require.NoError(t, err)
	assert.Equal(t, Milliseconds, u)

	_, err = Resolve(Hints{}, nop)
	assert.ErrorIs(t, err, models.ErrMalformed)

	_, err = Resolve(Hints{Metadata: "parsecs"}, nop)
	assert.ErrorIs(t, err, models.ErrMalformed)
}

func TestResolveOverrideMismatchWarns(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	u, err := Resolve(Hints{Override: Milliseconds, Declared: Microseconds}, logger)
	require.NoError(t, err)
	assert.Equal(t, Milliseconds, u)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"inferred":"us"`)

	ns, err := FromInt(5, u)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), ns)

	buf.Reset()
	_, err = Resolve(Hints{Override: Microseconds, Declared: Microseconds}, logger)
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestNormalizeArray(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	b := array.NewFloat64Builder(mem)
	b.AppendValues([]float64{1.5, 2.25}, nil)
	b.AppendNull()
	in := b.NewFloat64Array()
	b.Release()
	defer in.Release()

	out, err := NormalizeArray(mem, in, Seconds)
	require.NoError(t, err)
	defer out.Release()

	require.Equal(t, 3, out.Len())
	assert.Equal(t, int64(1_500_000_000), out.Value(0))
	assert.Equal(t, int64(2_250_000_000), out.Value(1))
	assert.True(t, out.IsNull(2))
}

func TestNormalizeArrayTypedTimestampIgnoresUnitArgument(t *testing.T) {
	mem := memory.NewGoAllocator()
	dt := &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}
	b := array.NewTimestampBuilder(mem, dt)
	b.Append(arrow.Timestamp(7))
	in := b.NewTimestampArray()
	b.Release()
	defer in.Release()

	out, err := NormalizeArray(mem, in, Seconds)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, int64(7_000_000), out.Value(0))
}

func TestTimestampTypePredicates(t *testing.T) {
	aware := &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}
	naive := &arrow.TimestampType{Unit: arrow.Nanosecond}

	assert.True(t, IsTimezoneAware(aware))
	assert.False(t, IsTimezoneAware(naive))
	assert.False(t, IsTimezoneAware(arrow.PrimitiveTypes.Int64))

	assert.True(t, IsTimestampLike(arrow.PrimitiveTypes.Float32))
	assert.True(t, IsTimestampLike(&arrow.Decimal128Type{Precision: 20, Scale: 9}))
	assert.False(t, IsTimestampLike(arrow.BinaryTypes.String))

	assert.Equal(t, Nanoseconds, DeclaredUnit(aware))
	assert.Equal(t, Unit(""), DeclaredUnit(arrow.PrimitiveTypes.Int64))
}
