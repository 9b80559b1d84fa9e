package columnar

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"github.com/roboto-ai/topicdata/pkg/models"
)

// MaxCategoriesBytes bounds the serialized dictionary stored in a
// categorical path's metadata.
const MaxCategoriesBytes = 2048

// CanonicalType classifies an arrow type.
func CanonicalType(dt arrow.DataType) models.CanonicalDataType {
	switch dt.ID() {
	case arrow.BOOL:
		return models.CanonicalBoolean
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64,
		arrow.DECIMAL128, arrow.DECIMAL256:
		return models.CanonicalNumber
	case arrow.STRING, arrow.LARGE_STRING:
		return models.CanonicalString
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY:
		return models.CanonicalByte
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return models.CanonicalTimestamp
	case arrow.DICTIONARY:
		return models.CanonicalCategorical
	case arrow.STRUCT, arrow.MAP:
		return models.CanonicalObject
	case arrow.LIST, arrow.LARGE_LIST, arrow.FIXED_SIZE_LIST:
		elem := dt.(arrow.ListLikeType).Elem()
		if CanonicalType(elem) == models.CanonicalNumber {
			return models.CanonicalNumberArray
		}
		return models.CanonicalArray
	}
	return models.CanonicalUnknown
}

// SanitizePath makes a column name usable as a dotted message path.
func SanitizePath(name string) string {
	return strings.ReplaceAll(name, models.PathDelimiter, "_")
}

// DescribeFields derives one message path per top-level column, with
// statistics computed from the data. tsField marks the log-time column; an
// empty name infers it.
func (s *Store) DescribeFields(ctx context.Context, tsField string) ([]models.MessagePath, error) {
	ts, err := s.InferTimestampField(tsField)
	if err != nil {
		return nil, err
	}
	tsUnit, err := s.resolveUnit(ts, "", "")
	if err != nil {
		return nil, err
	}

	tbl, err := s.reader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrMalformed, s.path, err)
	}
	defer tbl.Release()

	paths := make([]models.MessagePath, 0, s.ColumnCount())
	for i, f := range s.schema.Fields() {
		mp := models.MessagePath{
			Path:              SanitizePath(f.Name),
			SourcePath:        f.Name,
			PathInSchema:      []string{f.Name},
			DataType:          f.Type.String(),
			CanonicalDataType: CanonicalType(f.Type),
			Metadata:          map[string]any{models.MetadataColumnName: f.Name},
		}
		chunks := tbl.Column(i).Data().Chunks()

		switch {
		case f.Name == ts.Name:
			mp.CanonicalDataType = models.CanonicalTimestamp
			mp.Metadata[models.MetadataUnit] = tsUnit.String()
		case mp.CanonicalDataType == models.CanonicalNumber:
			numericStats(chunks, mp.Metadata)
		case mp.CanonicalDataType == models.CanonicalBoolean:
			booleanStats(chunks, mp.Metadata)
		case mp.CanonicalDataType == models.CanonicalCategorical:
			if categories, ok := s.categories(f.Name, chunks); ok {
				mp.Metadata[models.MetadataCategories] = categories
			}
		}
		paths = append(paths, mp)
	}
	return paths, nil
}

func numericStats(chunks []arrow.Array, md map[string]any) {
	var values []float64
	for _, c := range chunks {
		for i := 0; i < c.Len(); i++ {
			if c.IsNull(i) {
				continue
			}
			if v, ok := asFloat(c, i); ok {
				values = append(values, v)
			}
		}
	}
	md[models.StatisticCount] = len(values)
	if len(values) == 0 {
		return
	}
	slices.Sort(values)
	var sum float64
	for _, v := range values {
		sum += v
	}
	md[models.StatisticMin] = values[0]
	md[models.StatisticMax] = values[len(values)-1]
	md[models.StatisticMean] = sum / float64(len(values))
	mid := len(values) / 2
	if len(values)%2 == 0 {
		md[models.StatisticMedian] = (values[mid-1] + values[mid]) / 2
	} else {
		md[models.StatisticMedian] = values[mid]
	}
}

func asFloat(arr arrow.Array, i int) (float64, bool) {
	switch v := ValueAt(arr, i).(type) {
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case decimal.Decimal:
		f, _ := v.Float64()
		return f, true
	}
	return 0, false
}

func booleanStats(chunks []arrow.Array, md map[string]any) {
	var trues, falses int
	for _, c := range chunks {
		b := c.(*array.Boolean)
		for i := 0; i < b.Len(); i++ {
			switch {
			case b.IsNull(i):
			case b.Value(i):
				trues++
			default:
				falses++
			}
		}
	}
	md[models.StatisticCount] = trues + falses
	md[models.StatisticTrueCount] = trues
	md[models.StatisticFalseCount] = falses
}

// categories collects the distinct dictionary values of a column in first
// seen order. Dictionaries too large for metadata are dropped.
func (s *Store) categories(name string, chunks []arrow.Array) ([]any, bool) {
	seen := make(map[string]bool)
	var out []any
	for _, c := range chunks {
		dict := c.(*array.Dictionary).Dictionary()
		for i := 0; i < dict.Len(); i++ {
			if dict.IsNull(i) || seen[dict.ValueStr(i)] {
				continue
			}
			seen[dict.ValueStr(i)] = true
			out = append(out, ValueAt(dict, i))
		}
	}

	encoded, err := sonic.Marshal(out)
	if err != nil || len(encoded) > MaxCategoriesBytes {
		s.logger.Warn().
			Str("column", name).
			Int("categories", len(out)).
			Int("encoded_bytes", len(encoded)).
			Int("limit_bytes", MaxCategoriesBytes).
			Msg("Categorical dictionary too large for metadata, omitting categories")
		return nil, false
	}
	return out, true
}
