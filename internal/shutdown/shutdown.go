package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Closer is a resource released at exit.
type Closer interface {
	Close() error
}

// HookFunc runs once when the process exits.
type HookFunc func(ctx context.Context) error

// Coordinator runs exit hooks and closes resources in priority order.
// Hooks registered under the same key run once no matter how often they are
// registered.
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	entries []entry
	keys    map[string]struct{}

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	shutdownCh   chan struct{}
	err          error
}

type entry struct {
	name     string
	priority int // lower runs first
	hook     HookFunc
}

// New creates a coordinator whose Shutdown gives up after timeout.
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		keys:       make(map[string]struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// Register closes c at exit.
func (c *Coordinator) Register(name string, closer Closer, priority int) {
	c.RegisterHook(name, func(context.Context) error { return closer.Close() }, priority)
}

// RegisterHook runs hook at exit.
func (c *Coordinator) RegisterHook(name string, hook HookFunc, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(name, hook, priority)
}

// RegisterHookOnce runs hook at exit unless a hook with the same key is
// already registered. It reports whether hook was added.
func (c *Coordinator) RegisterHookOnce(key, name string, hook HookFunc, priority int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; ok {
		return false
	}
	c.keys[key] = struct{}{}
	c.add(name, hook, priority)
	return true
}

func (c *Coordinator) add(name string, hook HookFunc, priority int) {
	c.entries = append(c.entries, entry{name: name, priority: priority, hook: hook})
	c.logger.Debug().
		Str("name", name).
		Int("priority", priority).
		Msg("Registered exit hook")
}

// WaitForSignal blocks until SIGINT/SIGTERM or TriggerShutdown.
func (c *Coordinator) WaitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	}
}

// TriggerShutdown wakes WaitForSignal. Safe for concurrent use.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() { close(c.shutdownCh) })
}

// Shutdown runs every hook once. Later calls return the first call's result.
func (c *Coordinator) Shutdown() error {
	c.shutdownOnce.Do(func() {
		c.TriggerShutdown()

		c.mu.Lock()
		entries := make([]entry, len(c.entries))
		copy(entries, c.entries)
		c.mu.Unlock()
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].priority < entries[j].priority
		})

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		start := time.Now()

		for _, e := range entries {
			if ctx.Err() != nil {
				c.logger.Warn().Str("hook", e.name).Msg("Shutdown timeout reached, skipping remaining hooks")
				c.err = ctx.Err()
				return
			}
			if err := e.hook(ctx); err != nil {
				c.logger.Error().Err(err).Str("hook", e.name).Msg("Exit hook failed")
				if c.err == nil {
					c.err = err
				}
			}
		}

		c.logger.Debug().
			Int("hooks", len(entries)).
			Dur("duration", time.Since(start)).
			Msg("Shutdown complete")
	})
	return c.err
}

// Priorities for the resources this module registers.
const (
	PriorityJanitor    = 10 // stop background sweeps first
	PriorityCacheSweep = 50
	PriorityCatalog    = 90
	PriorityStorage    = 95
)
