package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logx "monitorq/pkg/logx"
)

// SettingsStore is the slice of the settings store the limiter needs.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) ([]byte, bool, error)
	SetSetting(ctx context.Context, key string, value []byte, category string) error
}

// Status is a read-only view for diagnostics.
type Status struct {
	Config          Config `json:"rateLimits"`
	TrackedMonitors int    `json:"activeChecks"`
}

// Limiter tracks per-monitor window counters and admits checks against the
// configured ceilings.
//
// Admit and Cleanup are serialized by mu. The config is swapped atomically,
// so Admit never sees a half-written config.
type Limiter struct {
	store   SettingsStore
	log     logx.Logger
	now     func() time.Time
	metrics MetricsCollector

	cfg atomic.Pointer[Config]

	// updMu serializes UpdateConfig so store and cache are updated in the same order.
	updMu sync.Mutex

	mu       sync.Mutex
	counters map[int64]*counterSet
}

type Option func(*Limiter)

func WithLogger(log logx.Logger) Option { return func(l *Limiter) { l.log = log } }

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

func WithMetrics(m MetricsCollector) Option { return func(l *Limiter) { l.metrics = m } }

// WithConfig sets the initial config without touching the store.
// Unlike Update.Merge it keeps ceilings as given, including zero.
func WithConfig(cfg Config) Option { return func(l *Limiter) { l.cfg.Store(&cfg) } }

// New creates a limiter using DefaultConfig until LoadConfig is called.
// store may be nil, in which case updates only live in memory.
func New(store SettingsStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		log:      logx.Nop(),
		now:      time.Now,
		metrics:  disabledMetrics{},
		counters: map[int64]*counterSet{},
	}
	def := DefaultConfig()
	l.cfg.Store(&def)
	for _, o := range opts {
		o(l)
	}
	return l
}

// Config returns the cached config.
func (l *Limiter) Config() Config { return *l.cfg.Load() }

// LoadConfig reads the config from the store and caches it. Any failure falls
// back to DefaultConfig and is logged; it never fails.
func (l *Limiter) LoadConfig(ctx context.Context) Config {
	cfg, err := l.readStored(ctx)
	if err != nil {
		l.log.Error("failed to load rate limits; using defaults", logx.Err(err))
		cfg = DefaultConfig()
	}
	l.cfg.Store(&cfg)
	l.log.Info("rate limits loaded", logx.String("limits", cfg.String()))
	return cfg
}

func (l *Limiter) readStored(ctx context.Context) (Config, error) {
	if l.store == nil {
		return DefaultConfig(), nil
	}
	b, ok, err := l.store.GetSetting(ctx, SettingKey)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", SettingKey, err)
	}
	if !ok || len(b) == 0 {
		return DefaultConfig(), nil
	}
	cfg, err := decodeStored(b)
	if err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", SettingKey, err)
	}
	return cfg, nil
}

// UpdateConfig merges u over the defaults, persists the result, then swaps the
// cached config. If persisting fails the cached config is left untouched.
func (l *Limiter) UpdateConfig(ctx context.Context, u Update) (Config, error) {
	cfg := u.Merge()

	l.updMu.Lock()
	defer l.updMu.Unlock()

	if l.store != nil {
		b, err := json.Marshal(cfg)
		if err != nil {
			return l.Config(), err
		}
		if err := l.store.SetSetting(ctx, SettingKey, b, SettingCategory); err != nil {
			l.log.Error("failed to update rate limits", logx.Err(err))
			return l.Config(), fmt.Errorf("persist %s: %w", SettingKey, err)
		}
	}
	l.cfg.Store(&cfg)
	l.log.Info("rate limits updated", logx.String("limits", cfg.String()))
	return cfg, nil
}

// Admit reports whether monitorID may run a check now, charging its counters
// if so. Unknown monitors start with empty counters.
func (l *Limiter) Admit(monitorID int64) bool {
	cfg := l.cfg.Load()
	if !cfg.Enabled {
		return true
	}

	b := bucketsAt(l.now())

	l.mu.Lock()
	defer l.mu.Unlock()

	cs, ok := l.counters[monitorID]
	if !ok {
		cs = newCounterSet(b)
		l.counters[monitorID] = cs
		l.metrics.SetTrackedMonitors(len(l.counters))
	}
	cs.roll(b)

	if !cs.allows(*cfg) {
		return false
	}
	cs.charge()
	return true
}

// Cleanup drops counter sets whose day bucket is more than two days behind
// the current one, and returns how many were removed.
func (l *Limiter) Cleanup() int {
	today := bucketsAt(l.now()).day

	l.mu.Lock()
	removed := 0
	for id, cs := range l.counters {
		if cs.day.start < today-staleDays {
			delete(l.counters, id)
			removed++
		}
	}
	tracked := len(l.counters)
	l.mu.Unlock()

	l.metrics.SetTrackedMonitors(tracked)
	l.metrics.AddCleanupRemoved(removed)
	if removed > 0 {
		l.log.Info("stale rate limit counters removed", logx.Int("removed", removed), logx.Int("tracked", tracked))
	} else {
		l.log.Debug("rate limit cleanup: nothing stale", logx.Int("tracked", tracked))
	}
	return removed
}

func (l *Limiter) Status() Status {
	l.mu.Lock()
	n := len(l.counters)
	l.mu.Unlock()
	return Status{Config: l.Config(), TrackedMonitors: n}
}
