package topicdata

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/rs/zerolog"

	"github.com/roboto-ai/topicdata/internal/columnar"
	"github.com/roboto-ai/topicdata/internal/merge"
	"github.com/roboto-ai/topicdata/internal/msgpath"
	"github.com/roboto-ai/topicdata/pkg/models"
)

// reader turns planned groups of one storage format into records.
type reader interface {
	accepts(format models.StorageFormat) bool
	read(ctx context.Context, p *queryPlan, logger zerolog.Logger) iter.Seq2[models.Record, error]
}

// logReader merges log containers.
type logReader struct{ s *Service }

func (logReader) accepts(format models.StorageFormat) bool {
	return format == models.StorageFormatMCAP
}

func (r logReader) read(ctx context.Context, p *queryPlan, logger zerolog.Logger) iter.Seq2[models.Record, error] {
	if p.query.LogTimeUnit != "" && p.query.LogTimeUnit.String() != "ns" {
		logger.Debug().
			Str("log_time_unit", p.query.LogTimeUnit.String()).
			Msg("Log container results are always in nanoseconds")
	}
	return r.s.merger.Merge(ctx, p.groups, p.window)
}

// columnarReader reads a single Parquet representation.
type columnarReader struct{ s *Service }

func (columnarReader) accepts(format models.StorageFormat) bool {
	return format == models.StorageFormatParquet
}

func (r columnarReader) read(ctx context.Context, p *queryPlan, logger zerolog.Logger) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		if len(p.groups) != 1 {
			yield(nil, fmt.Errorf("%w: columnar topics must be backed by one representation, found %d",
				models.ErrUnsupported, len(p.groups)))
			return
		}
		tsPath, err := p.topic.TimestampPath()
		if errors.Is(err, models.ErrNotFound) {
			err = fmt.Errorf("%w: columnar reads need a timestamp message path: %w", models.ErrUnsupported, err)
		}
		if err != nil {
			yield(nil, err)
			return
		}

		local := r.s.merger.EnsureLocal(ctx, p.groups)
		if len(local) == 0 {
			yield(nil, fmt.Errorf("%w: representation %s is unavailable",
				models.ErrTransient, p.groups[0].Representation.ID))
			return
		}

		store, err := columnar.Open(local[0].Path,
			columnar.WithAllocator(r.s.mem),
			columnar.WithMetrics(r.s.metrics),
			columnar.WithLogger(logger),
		)
		if err != nil {
			yield(nil, err)
			return
		}
		defer store.Close()

		paths := local[0].Group.MessagePaths
		unitHint, _ := tsPath.Unit()
		rgr, err := columnar.NewRowGroupReader(store, columnar.ReadOptions{
			TimestampField: ColumnOf(tsPath),
			TimestampUnit:  p.query.TimestampUnit,
			UnitHint:       unitHint,
			OutputUnit:     p.query.LogTimeUnit,
			Columns:        columnsOf(paths),
			Window:         p.window,
			LogTimeField:   models.LogTimeField,
		})
		if err != nil {
			yield(nil, err)
			return
		}

		emitted := 0
		defer func() {
			r.s.metrics.RecordsEmitted(string(models.StorageFormatParquet), emitted)
			stats := rgr.Stats()
			logger.Debug().
				Int("row_groups_read", stats.RowGroupsRead).
				Int("row_groups_pruned", stats.RowGroupsPruned).
				Int64("rows", stats.RowsEmitted).
				Msg("Columnar read finished")
		}()

		for row, err := range rgr.Rows(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			rec, err := project(row, paths)
			if err != nil {
				yield(nil, err)
				return
			}
			emitted++
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// ColumnOf is the top-level column holding a message path's data.
func ColumnOf(mp models.MessagePath) string {
	if name, ok := mp.Metadata[models.MetadataColumnName].(string); ok && name != "" {
		return name
	}
	return mp.Components()[0]
}

func columnsOf(paths []models.MessagePath) []string {
	columns := make([]string, 0, len(paths))
	for _, mp := range paths {
		columns = append(columns, ColumnOf(mp))
	}
	return columns
}

// project shapes a columnar row like a log record: each message path's
// value nested under its dotted path.
func project(row models.Record, paths []models.MessagePath) (models.Record, error) {
	out := models.Record{models.LogTimeField: row[models.LogTimeField]}

	var nested []models.MessagePath
	for _, mp := range paths {
		if _, ok := mp.Metadata[models.MetadataColumnName]; !ok {
			nested = append(nested, mp)
			continue
		}
		v, ok := row[ColumnOf(mp)]
		if !ok {
			continue
		}
		if err := merge.DeepMerge(out, nest(models.Parts(mp.Path), v)); err != nil {
			return nil, err
		}
	}
	if len(nested) > 0 {
		if err := merge.DeepMerge(out, msgpath.Extract(row, nested)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func nest(parts []string, v any) models.Record {
	rec := models.Record{parts[len(parts)-1]: v}
	for i := len(parts) - 2; i >= 0; i-- {
		rec = models.Record{parts[i]: rec}
	}
	return rec
}
