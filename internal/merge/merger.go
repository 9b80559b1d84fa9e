// Package merge combines the log containers backing a topic's message path
// groups into one stream ordered by log time.
package merge

import (
	"context"
	"fmt"
	"io"
	"iter"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/roboto-ai/topicdata/internal/cache"
	"github.com/roboto-ai/topicdata/internal/logstream"
	"github.com/roboto-ai/topicdata/internal/metrics"
	"github.com/roboto-ai/topicdata/internal/storage"
	"github.com/roboto-ai/topicdata/pkg/models"
)

// Merger downloads MCAP representations into a cache and merges them.
type Merger struct {
	cache       *cache.Cache
	fetcher     storage.Fetcher
	registry    *logstream.Registry
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	concurrency int
}

// Option configures a Merger.
type Option func(*Merger)

func WithRegistry(reg *logstream.Registry) Option {
	return func(m *Merger) { m.registry = reg }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Merger) { m.metrics = mt }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Merger) { m.logger = logger.With().Str("component", "log-merger").Logger() }
}

// WithConcurrency bounds parallel downloads. Values < 1 use GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(m *Merger) { m.concurrency = n }
}

// New creates a Merger.
func New(c *cache.Cache, fetcher storage.Fetcher, opts ...Option) *Merger {
	m := &Merger{
		cache:    c,
		fetcher:  fetcher,
		registry: logstream.DefaultRegistry(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.concurrency < 1 {
		m.concurrency = runtime.GOMAXPROCS(0)
	}
	return m
}

// LocalGroup is a message path group whose backing file is in the cache.
type LocalGroup struct {
	Group models.MessagePathGroup
	Path  string
}

// Merge yields one record per distinct log time across all groups. Each
// record holds LogTimeField plus the fields of every group with a message at
// that time. Groups whose file cannot be downloaded are dropped.
func (m *Merger) Merge(ctx context.Context, groups []models.MessagePathGroup, window models.Window) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		for _, g := range groups {
			if g.Representation.StorageFormat != models.StorageFormatMCAP {
				yield(nil, fmt.Errorf("%w: representation %s has storage format %q, expected %q",
					models.ErrUnsupported, g.Representation.ID, g.Representation.StorageFormat, models.StorageFormatMCAP))
				return
			}
		}

		local := m.EnsureLocal(ctx, groups)
		if len(local) == 0 {
			return
		}

		readers := make([]*logstream.Reader, 0, len(local))
		files := make([]*os.File, 0, len(local))
		defer func() {
			for _, f := range files {
				f.Close()
			}
		}()

		for _, lg := range local {
			f, err := os.Open(lg.Path)
			if err != nil {
				yield(nil, fmt.Errorf("open cached representation %s: %w", lg.Group.Representation.ID, err))
				return
			}
			files = append(files, f)

			r, err := logstream.NewReader(f, lg.Group.MessagePaths,
				logstream.WithWindow(window),
				logstream.WithRegistry(m.registry),
				logstream.WithLogger(m.logger),
			)
			if err != nil {
				yield(nil, fmt.Errorf("representation %s: %w", lg.Group.Representation.ID, err))
				return
			}
			readers = append(readers, r)
		}

		emitted := 0
		defer func() { m.metrics.RecordsEmitted(string(models.StorageFormatMCAP), emitted) }()

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			t := int64(math.MaxInt64)
			pending := false
			for i, r := range readers {
				// A decode failure surfaces only after the records read before it.
				if err := r.Err(); err != nil {
					yield(nil, fmt.Errorf("representation %s: %w", local[i].Group.Representation.ID, err))
					return
				}
				if r.HasNext() {
					pending = true
					t = min(t, r.PeekTimestamp())
				}
			}
			if !pending {
				return
			}

			record := models.Record{models.LogTimeField: t}
			for i, r := range readers {
				if !r.IsTimeAligned(t) {
					continue
				}
				fields, err := r.Next()
				if err != nil {
					yield(nil, fmt.Errorf("representation %s: %w", local[i].Group.Representation.ID, err))
					return
				}
				if _, ok := fields[models.LogTimeField]; ok {
					yield(nil, fmt.Errorf("%w: representation %s at %d: message field %q collides with the reserved log time field",
						models.ErrMalformed, local[i].Group.Representation.ID, t, models.LogTimeField))
					return
				}
				if err := DeepMerge(record, fields); err != nil {
					yield(nil, fmt.Errorf("merge representation %s at %d: %w", local[i].Group.Representation.ID, t, err))
					return
				}
			}

			emitted++
			if !yield(record, nil) {
				return
			}
		}
	}
}

// EnsureLocal makes every group's backing file available in the cache,
// downloading missing ones in parallel. Groups that cannot be made local are
// logged and left out. Input order is preserved.
func (m *Merger) EnsureLocal(ctx context.Context, groups []models.MessagePathGroup) []LocalGroup {
	names := make([]string, len(groups))
	slots := make(map[string]int)
	results := make([]string, len(groups))

	var (
		eg        errgroup.Group
		downloads int
	)
	eg.SetLimit(m.concurrency)

	for i, g := range groups {
		rep := g.Representation
		name, err := cache.Name(rep)
		if err != nil {
			m.logger.Warn().
				Err(err).
				Str("representation_id", rep.ID).
				Str("error_class", models.Classify(err)).
				Msg("Skipping message path group without a backing file")
			continue
		}
		names[i] = name
		if _, seen := slots[name]; seen {
			continue
		}
		slots[name] = i

		if p, ok := m.cache.Lookup(rep); ok {
			results[i] = p
			continue
		}

		downloads++
		slot := i
		eg.Go(func() error {
			results[slot] = m.download(ctx, rep)
			return nil
		})
	}
	_ = eg.Wait()

	local := make([]LocalGroup, 0, len(groups))
	for i, g := range groups {
		if names[i] == "" {
			continue
		}
		if p := results[slots[names[i]]]; p != "" {
			local = append(local, LocalGroup{Group: g, Path: p})
		}
	}

	if downloads > 0 || len(local) < len(groups) {
		m.logger.Info().
			Int("groups", len(groups)).
			Int("downloads", downloads).
			Int("available", len(local)).
			Msg("Prepared representations for merge")
	}
	return local
}

func (m *Merger) download(ctx context.Context, rep models.Representation) string {
	start := time.Now()
	path, err := m.cache.Store(ctx, rep, func(ctx context.Context, w io.Writer) error {
		return m.fetcher.Fetch(ctx, rep, w)
	})

	var size int64
	if err == nil {
		if info, statErr := os.Stat(path); statErr == nil {
			size = info.Size()
		}
	}
	m.metrics.Download(err, size, time.Since(start).Seconds())

	if err != nil {
		m.logger.Error().
			Err(err).
			Str("representation_id", rep.ID).
			Str("error_class", models.Classify(err)).
			Msg("Failed to download representation, dropping it from the query")
		return ""
	}
	m.logger.Debug().
		Str("representation_id", rep.ID).
		Int64("bytes", size).
		Dur("duration", time.Since(start)).
		Msg("Downloaded representation")
	return path
}
