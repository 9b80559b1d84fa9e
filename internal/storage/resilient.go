package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/roboto-ai/topicdata/pkg/models"
)

// RetryConfig controls RetryingFetcher backoff.
type RetryConfig struct {
	MaxRetries    int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// DefaultRetryConfig returns default retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
		RetryMaxDelay: 5 * time.Second,
	}
}

// rewinder is implemented by *os.File. A partially written attempt can only
// be retried when the destination can be reset.
type rewinder interface {
	io.Seeker
	Truncate(size int64) error
}

// RetryingFetcher retries a Fetcher with exponential backoff. Missing
// objects and unsupported representations fail immediately.
type RetryingFetcher struct {
	next   Fetcher
	cfg    RetryConfig
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryingFetcher wraps next.
func NewRetryingFetcher(next Fetcher, cfg RetryConfig, logger zerolog.Logger) *RetryingFetcher {
	return &RetryingFetcher{
		next:   next,
		cfg:    cfg,
		logger: logger.With().Str("component", "retrying-fetcher").Logger(),
		sleep:  sleepCtx,
	}
}

func (r *RetryingFetcher) Fetch(ctx context.Context, rep models.Representation, w io.Writer) error {
	rw, canRewind := w.(rewinder)

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := r.next.Fetch(ctx, rep, w)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || !canRewind || ctx.Err() != nil || attempt >= r.cfg.MaxRetries {
			break
		}
		if err := rewind(rw); err != nil {
			return fmt.Errorf("reset destination after failed attempt: %w", err)
		}

		delay := r.cfg.RetryDelay * time.Duration(1<<uint(attempt))
		if delay > r.cfg.RetryMaxDelay {
			delay = r.cfg.RetryMaxDelay
		}
		r.logger.Warn().
			Err(err).
			Str("representation_id", rep.ID).
			Int("attempt", attempt+1).
			Int("max_retries", r.cfg.MaxRetries).
			Dur("retry_delay", delay).
			Msg("Fetch failed, retrying")

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func retryable(err error) bool {
	return !errors.Is(err, ErrObjectNotFound) &&
		!errors.Is(err, models.ErrUnsupported) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func rewind(rw rewinder) error {
	if err := rw.Truncate(0); err != nil {
		return err
	}
	_, err := rw.Seek(0, io.SeekStart)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
