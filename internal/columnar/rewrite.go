package columnar

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/roboto-ai/topicdata/pkg/models"
)

// DefaultRowGroupBytes is the row group size Rewrite aims for.
const DefaultRowGroupBytes = 128 << 20

// RowGroupLength is the number of rows per rewritten row group: enough rows
// to fill targetBytes at the widest observed row, and never fewer than
// MinRowGroupRows.
func (s *Store) RowGroupLength(targetBytes int64) int64 {
	var widest int64 = 1
	for i := 0; i < s.RowGroupCount(); i++ {
		rg := s.rowGroup(i)
		if rg.NumRows() == 0 {
			continue
		}
		widest = max(widest, rg.TotalByteSize()/rg.NumRows())
	}
	return max(targetBytes/widest, MinRowGroupRows)
}

// Rewrite copies the file to w with row groups sized for pruning, data
// page v2, format version 2.6 and statistics on the timestamp column.
func (s *Store) Rewrite(ctx context.Context, w io.Writer, field string, targetBytes int64) error {
	f, err := s.InferTimestampField(field)
	if err != nil {
		return err
	}
	if targetBytes <= 0 {
		targetBytes = DefaultRowGroupBytes
	}
	rowGroupLen := s.RowGroupLength(targetBytes)

	props := parquet.NewWriterProperties(
		parquet.WithAllocator(s.mem),
		parquet.WithVersion(parquet.V2_6),
		parquet.WithDataPageVersion(parquet.DataPageV2),
		parquet.WithMaxRowGroupLength(rowGroupLen),
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithStats(true),
		parquet.WithStatsFor(f.Name, true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(s.schema, w, props, arrowProps)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}

	rr, err := s.reader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		writer.Close()
		return fmt.Errorf("%w: read %s: %v", models.ErrMalformed, s.path, err)
	}
	defer rr.Release()

	var rows int64
	for rr.Next() {
		if err := ctx.Err(); err != nil {
			writer.Close()
			return err
		}
		rec := rr.Record()
		if err := writer.WriteBuffered(rec); err != nil {
			writer.Close()
			return fmt.Errorf("write record batch: %w", err)
		}
		rows += rec.NumRows()
	}
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		writer.Close()
		return fmt.Errorf("%w: read %s: %v", models.ErrMalformed, s.path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}

	s.logger.Info().
		Str("timestamp_field", f.Name).
		Int64("rows", rows).
		Int64("row_group_length", rowGroupLen).
		Int("source_row_groups", s.RowGroupCount()).
		Msg("Rewrote parquet file")
	return nil
}
