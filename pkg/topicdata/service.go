// Package topicdata serves topic data as temporally filtered, field-projected
// record streams, whichever format the data is stored in.
package topicdata

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roboto-ai/topicdata/internal/cache"
	"github.com/roboto-ai/topicdata/internal/logstream"
	"github.com/roboto-ai/topicdata/internal/merge"
	"github.com/roboto-ai/topicdata/internal/metrics"
	"github.com/roboto-ai/topicdata/internal/shutdown"
	"github.com/roboto-ai/topicdata/internal/storage"
	"github.com/roboto-ai/topicdata/internal/timeunit"
	"github.com/roboto-ai/topicdata/pkg/models"
)

// Config controls the local download cache.
type Config struct {
	// CacheDir holds downloaded representation files.
	CacheDir string
	// CacheRetention is how long an unaccessed file is kept.
	CacheRetention time.Duration
	// DownloadConcurrency bounds parallel downloads; < 1 uses GOMAXPROCS.
	DownloadConcurrency int
	// JanitorSchedule, when set, sweeps the cache on this cron schedule.
	JanitorSchedule string
}

// DefaultConfig caches under the user cache directory.
func DefaultConfig() Config {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return Config{
		CacheDir:       filepath.Join(dir, "topicdata"),
		CacheRetention: cache.DefaultRetention,
	}
}

// Query selects data from one topic.
type Query struct {
	TopicID string
	// Include keeps only these paths and their descendants. Empty keeps all.
	Include []string
	// Exclude drops these paths and their descendants. Exclude wins.
	Exclude []string
	// Start and End bound log time to [Start, End) in epoch nanoseconds.
	Start, End *int64
	// LogTimeUnit is the unit of log_time in columnar results. Log
	// container results are always in nanoseconds.
	LogTimeUnit timeunit.Unit
	// TimestampUnit overrides the unit a columnar timestamp is stored in.
	TimestampUnit timeunit.Unit
}

// Service answers topic data queries.
type Service struct {
	source   MetadataSource
	cache    *cache.Cache
	merger   *merge.Merger
	janitor  *cache.Janitor
	readers  []reader
	mem      memory.Allocator
	registry *logstream.Registry
	coord    *shutdown.Coordinator
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDecoders adds message decoders ahead of the built-in ones.
func WithDecoders(factories ...logstream.DecoderFactory) Option {
	return func(s *Service) { s.registry = s.registry.With(factories...) }
}

func WithAllocator(mem memory.Allocator) Option {
	return func(s *Service) { s.mem = mem }
}

// WithShutdown sweeps the cache when coord shuts down.
func WithShutdown(coord *shutdown.Coordinator) Option {
	return func(s *Service) { s.coord = coord }
}

// New creates a Service reading metadata from source and files through
// fetcher.
func New(cfg Config, source MetadataSource, fetcher storage.Fetcher, opts ...Option) (*Service, error) {
	s := &Service{
		source:   source,
		mem:      memory.DefaultAllocator,
		registry: logstream.DefaultRegistry(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "topic-data").Logger()

	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultConfig().CacheDir
	}
	c, err := cache.New(cfg.CacheDir,
		cache.WithRetention(cfg.CacheRetention),
		cache.WithMetrics(s.metrics),
		cache.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	s.cache = c
	s.merger = merge.New(c, fetcher,
		merge.WithRegistry(s.registry),
		merge.WithMetrics(s.metrics),
		merge.WithLogger(s.logger),
		merge.WithConcurrency(cfg.DownloadConcurrency),
	)
	s.readers = []reader{logReader{s}, columnarReader{s}}

	if s.cache.RegisterExitSweep(s.coord) {
		s.logger.Debug().Str("dir", c.Dir()).Msg("Registered cache sweep at exit")
	}
	if cfg.JanitorSchedule != "" {
		j, err := cache.NewJanitor(c, cfg.JanitorSchedule, s.logger)
		if err != nil {
			return nil, err
		}
		if err := j.Start(); err != nil {
			return nil, err
		}
		s.janitor = j
	}
	return s, nil
}

// Close stops background cache maintenance.
func (s *Service) Close() error {
	if s.janitor != nil {
		return s.janitor.Close()
	}
	return nil
}

// Cache exposes the download cache.
func (s *Service) Cache() *cache.Cache { return s.cache }

// GetData streams the records of q in non-decreasing log time. Records are
// produced lazily as the sequence is consumed; errors end the sequence.
func (s *Service) GetData(ctx context.Context, q Query) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		logger := s.logger.With().
			Str("query_id", uuid.NewString()).
			Str("topic_id", q.TopicID).
			Logger()
		start := time.Now()

		plan, err := s.plan(ctx, q, logger)
		if err != nil {
			s.metrics.Query("", err)
			logger.Error().Err(err).Str("error_class", models.Classify(err)).Msg("Topic data query failed")
			yield(nil, err)
			return
		}
		if plan == nil {
			return
		}

		var (
			count int
			qerr  error
		)
		defer func() {
			s.metrics.Query(string(plan.format), qerr)
			var ev *zerolog.Event
			if qerr != nil {
				ev = logger.Error().Err(qerr).Str("error_class", models.Classify(qerr))
			} else {
				ev = logger.Info()
			}
			ev.Str("format", string(plan.format)).
				Int("groups", len(plan.groups)).
				Int("records", count).
				Dur("duration", time.Since(start)).
				Msg("Topic data query finished")
		}()

		for rec, err := range plan.reader.read(ctx, plan, logger) {
			if err != nil {
				qerr = err
				yield(nil, err)
				return
			}
			count++
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// GetMessagePathData streams the data of one message path of a topic.
func (s *Service) GetMessagePathData(ctx context.Context, topicID, path string, start, end *int64) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		topic, err := s.source.Topic(ctx, topicID)
		if err == nil {
			_, err = topic.MessagePath(path)
		}
		if err != nil {
			yield(nil, err)
			return
		}
		for rec, err := range s.GetData(ctx, Query{TopicID: topicID, Include: []string{path}, Start: start, End: end}) {
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// queryPlan is a validated query bound to a reader.
type queryPlan struct {
	query  Query
	window models.Window
	topic  models.Topic
	groups []models.MessagePathGroup
	format models.StorageFormat
	reader reader
}

// plan resolves and validates q. A nil plan with no error means nothing
// was selected.
func (s *Service) plan(ctx context.Context, q Query, logger zerolog.Logger) (*queryPlan, error) {
	window, err := models.NewWindow(q.Start, q.End)
	if err != nil {
		return nil, err
	}
	if q.LogTimeUnit != "" && !q.LogTimeUnit.Valid() {
		return nil, fmt.Errorf("%w: unknown log time unit %q", models.ErrInvalidArgument, q.LogTimeUnit)
	}

	topic, err := s.source.Topic(ctx, q.TopicID)
	if err != nil {
		return nil, err
	}
	groups, err := s.source.MessagePathGroups(ctx, q.TopicID)
	if err != nil {
		return nil, err
	}

	selected := FilterGroups(groups, q.Include, q.Exclude)
	if len(selected) == 0 {
		logger.Warn().
			Strs("include", q.Include).
			Strs("exclude", q.Exclude).
			Msg("No message paths selected, returning no data")
		return nil, nil
	}

	format, err := storageFormat(selected)
	if err != nil {
		return nil, err
	}

	p := &queryPlan{query: q, window: window, topic: topic, groups: selected, format: format}
	for _, r := range s.readers {
		if r.accepts(format) {
			p.reader = r
			break
		}
	}
	if p.reader == nil {
		return nil, fmt.Errorf("%w: no reader for storage format %q", models.ErrUnsupported, format)
	}

	logger.Debug().
		Str("format", string(format)).
		Int("groups", len(selected)).
		Str("window", window.String()).
		Msg("Planned topic data query")
	return p, nil
}

// storageFormat asserts that all groups share one storage format.
func storageFormat(groups []models.MessagePathGroup) (models.StorageFormat, error) {
	format := groups[0].Representation.StorageFormat
	for _, g := range groups[1:] {
		if g.Representation.StorageFormat != format {
			return "", fmt.Errorf("%w: message paths span storage formats %q and %q",
				models.ErrUnsupported, format, g.Representation.StorageFormat)
		}
	}
	return format, nil
}
