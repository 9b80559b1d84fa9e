package cache

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultJanitorSchedule sweeps every hour at :17.
const DefaultJanitorSchedule = "17 * * * *"

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Janitor sweeps a cache on a cron schedule, for processes that live longer
// than the retention window.
type Janitor struct {
	cache    *Cache
	schedule string
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewJanitor validates schedule. An empty schedule uses DefaultJanitorSchedule.
func NewJanitor(c *Cache, schedule string, logger zerolog.Logger) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	if _, err := scheduleParser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return &Janitor{
		cache:    c,
		schedule: schedule,
		logger:   logger.With().Str("component", "cache-janitor").Logger(),
	}, nil
}

// Start begins sweeping. Calling Start twice is a no-op.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}

	j.cron = cron.New(cron.WithParser(scheduleParser))
	if _, err := j.cron.AddFunc(j.schedule, j.sweep); err != nil {
		return err
	}
	j.cron.Start()
	j.running = true

	sched, _ := scheduleParser.Parse(j.schedule)
	j.logger.Info().
		Str("schedule", j.schedule).
		Str("dir", j.cache.Dir()).
		Time("next_run", sched.Next(j.cache.now())).
		Msg("Cache janitor started")
	return nil
}

// Close stops the schedule and waits for a running sweep.
func (j *Janitor) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return nil
	}
	<-j.cron.Stop().Done()
	j.running = false
	j.logger.Info().Msg("Cache janitor stopped")
	return nil
}

func (j *Janitor) sweep() {
	if _, err := j.cache.Sweep(); err != nil {
		j.logger.Error().Err(err).Msg("Scheduled cache sweep failed")
	}
}
