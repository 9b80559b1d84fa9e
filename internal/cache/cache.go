// Package cache keeps downloaded representation files on local disk, keyed
// by representation and file id, and evicts entries that have not been read
// within a retention window.
package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roboto-ai/topicdata/internal/metrics"
	"github.com/roboto-ai/topicdata/internal/shutdown"
	"github.com/roboto-ai/topicdata/pkg/models"
)

// DefaultRetention is how long an unread entry survives.
const DefaultRetention = 7 * 24 * time.Hour

const tempPrefix = ".tmp-"

// entryPattern matches names produced by Name.
var entryPattern = regexp.MustCompile(`^[^./\\][^/\\]*_[^/\\]+\.(mcap|parquet|bin)$`)

// owned reports whether a file in the cache directory was written by a Cache.
func owned(name string) bool {
	return strings.HasPrefix(name, tempPrefix) || entryPattern.MatchString(name)
}

// Cache is a directory of downloaded representation files.
type Cache struct {
	dir       string
	retention time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

func WithRetention(d time.Duration) Option {
	return func(c *Cache) { c.retention = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) { c.logger = logger.With().Str("component", "cache").Logger() }
}

// New creates dir if needed.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: cache directory is required", models.ErrInvalidArgument)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	c := &Cache{
		dir:       abs,
		retention: DefaultRetention,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dir returns the cache's absolute directory.
func (c *Cache) Dir() string { return c.dir }

// Name is the deterministic file name of a representation's backing file.
func Name(rep models.Representation) (string, error) {
	fileID, ok := rep.FileID()
	if !ok {
		return "", fmt.Errorf("%w: representation %s is backed by a %q, not a file",
			models.ErrUnsupported, rep.ID, rep.Association.Type)
	}
	ext := string(rep.StorageFormat)
	if ext == "" {
		ext = "bin"
	}
	name := fmt.Sprintf("%s_%s.%s", rep.ID, fileID, ext)
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: unsafe cache key %q", models.ErrMalformed, name)
	}
	return name, nil
}

// Path is where rep's file lives in the cache, whether or not it exists.
func (c *Cache) Path(rep models.Representation) (string, error) {
	name, err := Name(rep)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.dir, name), nil
}

// Lookup returns rep's cached path. A hit refreshes the entry's access time.
func (c *Cache) Lookup(rep models.Representation) (string, bool) {
	path, err := c.Path(rep)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		c.metrics.CacheMiss()
		return "", false
	}
	c.touch(path)
	c.metrics.CacheHit()
	return path, true
}

// Store writes rep's file with fill and publishes it atomically. Readers
// never observe a partial file.
func (c *Cache) Store(ctx context.Context, rep models.Representation, fill func(ctx context.Context, w io.Writer) error) (string, error) {
	path, err := c.Path(rep)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(c.dir, tempPrefix+uuid.NewString()+"-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := fill(ctx, tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("publish cache entry: %w", err)
	}
	return path, nil
}

func (c *Cache) touch(path string) {
	now := c.now()
	if err := os.Chtimes(path, now, now); err != nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("Failed to refresh cache entry access time")
	}
}

// Sweep removes entries not accessed within the retention window, plus
// abandoned temp files of the same age. Files the cache did not write are
// left alone. It returns how many were removed.
func (c *Cache) Sweep() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read cache directory: %w", err)
	}

	cutoff := c.now().Add(-c.retention)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !owned(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove stale cache entry")
			continue
		}
		removed++
	}

	if removed > 0 {
		c.metrics.CacheEvicted(removed)
		c.logger.Info().
			Int("removed", removed).
			Dur("retention", c.retention).
			Msg("Removed stale cache entries")
	}
	return removed, nil
}

// RegisterExitSweep arranges for Sweep to run when coord shuts down. Each
// cache directory is registered at most once per coordinator.
func (c *Cache) RegisterExitSweep(coord *shutdown.Coordinator) bool {
	if coord == nil {
		return false
	}
	return coord.RegisterHookOnce("cache-sweep:"+c.dir, "cache-sweep", func(context.Context) error {
		_, err := c.Sweep()
		return err
	}, shutdown.PriorityCacheSweep)
}
