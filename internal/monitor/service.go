package monitor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"monitorq/internal/checkqueue"
	"monitorq/internal/eventbus"
	logx "monitorq/pkg/logx"
)

const (
	// CleanupName is the schedule name of the rate limit housekeeping job.
	CleanupName = "ratelimit.cleanup"

	DefaultCleanupSchedule = "@hourly"

	enqueueWarnThrottle = 5 * time.Second
)

// Enqueuer is the part of the check queue the scheduler feeds.
type Enqueuer interface {
	EnqueuePriority(monitorID int64, check checkqueue.CheckFunc, priority int) error
}

// Config controls the trigger service.
type Config struct {
	Enabled         bool
	Timezone        string // IANA name; empty means Local
	CleanupSchedule string // cron spec; empty means @hourly
}

type scheduleDef struct {
	name          string
	spec          string
	monitor       *Monitor // nil for housekeeping
	run           func()
	entryID       cron.EntryID
	startupSpread time.Duration
}

// Service registers one cron entry per active monitor plus the limiter
// cleanup, and tracks the last queue outcome of every monitor.
type Service struct {
	mu sync.Mutex

	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	queue   Enqueuer
	cleanup func() int
	client  *http.Client

	started bool
	loc     *time.Location
	c       *cron.Cron
	defs    map[string]*scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	rmu      sync.RWMutex
	results  map[int64]*Result
	unsub    func()
	consumed chan struct{}
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

// WithCleanup sets the housekeeping job, normally ratelimit.Limiter.Cleanup.
func WithCleanup(fn func() int) Option { return func(s *Service) { s.cleanup = fn } }

// WithHTTPClient sets the client used by http checks.
func WithHTTPClient(c *http.Client) Option { return func(s *Service) { s.client = c } }

func New(cfg Config, queue Enqueuer, opts ...Option) *Service {
	s := &Service{
		cfg:         cfg,
		log:         logx.Nop(),
		queue:       queue,
		client:      &http.Client{},
		defs:        map[string]*scheduleDef{},
		lastEnqWarn: map[string]time.Time{},
		results:     map[int64]*Result{},
	}
	for _, o := range opts {
		o(s)
	}
	s.setCleanupLocked()
	return s
}

// Start registers every definition with a fresh cron instance and begins
// triggering. It does nothing when the scheduler is disabled.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	if s.bus != nil && s.unsub == nil {
		ch, unsub := s.bus.Subscribe(256, checkqueue.EventFinished, checkqueue.EventFailed, checkqueue.EventRejected)
		s.unsub = unsub
		s.consumed = make(chan struct{})
		go s.consume(ch, s.consumed)
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.startCronLocked()
}

// Stop halts triggering. Checks already enqueued are the queue's business.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	s.started = false
	c := s.c
	s.c = nil
	unsub, consumed := s.unsub, s.consumed
	s.unsub, s.consumed = nil, nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if unsub != nil {
		unsub()
		<-consumed
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Apply replaces the scheduler config and the monitor set. Unchanged monitors
// keep their cron entry; changed ones are re-registered; vanished ones are
// removed. A timezone change restarts cron.
func (s *Service) Apply(cfg Config, monitors []Monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cfg
	s.cfg = cfg

	want := make(map[string]Monitor, len(monitors))
	for _, m := range monitors {
		want[m.Key()] = m
	}

	added, changed, removed := 0, 0, 0
	for name, d := range s.defs {
		if d.monitor == nil {
			continue
		}
		if _, ok := want[name]; !ok {
			s.removeLocked(name)
			removed++
		}
	}
	for name, m := range want {
		if d, ok := s.defs[name]; ok {
			if *d.monitor == m {
				continue
			}
			if sameTrigger(*d.monitor, m) {
				// Display-only change: keep the cron entry, its Prev and its spread.
				d.monitor.Name = m.Name
				continue
			}
			changed++
		} else {
			added++
		}
		s.upsertLocked(s.monitorDef(m))
	}
	if strings.TrimSpace(prev.CleanupSchedule) != strings.TrimSpace(cfg.CleanupSchedule) {
		s.setCleanupLocked()
	}

	switch {
	case !s.started:
	case !cfg.Enabled && s.c != nil:
		c := s.c
		s.c = nil
		<-c.Stop().Done()
		s.log.Info("scheduler disabled")
	case cfg.Enabled && s.c == nil:
		s.startCronLocked()
	case strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone):
		<-s.c.Stop().Done()
		s.c = nil
		s.startCronLocked()
	}

	if added+changed+removed > 0 {
		s.log.Info("monitors applied",
			logx.Int("added", added),
			logx.Int("changed", changed),
			logx.Int("removed", removed),
			logx.Int("total", len(want)),
		)
	}
}

func (s *Service) monitorDef(m Monitor) *scheduleDef {
	mon := m
	check := mon.Check(s.client)
	name := mon.Key()
	return &scheduleDef{
		name:    name,
		spec:    mon.Schedule.Spec(),
		monitor: &mon,
		run: func() {
			if s.queue == nil {
				return
			}
			if err := s.queue.EnqueuePriority(mon.ID, check, mon.Priority); err != nil {
				s.reportEnqueueError(name, err)
			}
		},
	}
}

func (s *Service) setCleanupLocked() {
	if s.cleanup == nil {
		return
	}
	spec := strings.TrimSpace(s.cfg.CleanupSchedule)
	if spec == "" {
		spec = DefaultCleanupSchedule
	}
	fn := s.cleanup
	s.upsertLocked(&scheduleDef{
		name: CleanupName,
		spec: spec,
		run:  func() { _ = fn() },
	})
}

func (s *Service) upsertLocked(d *scheduleDef) {
	s.removeLocked(d.name)
	s.defs[d.name] = d
	if s.c == nil {
		return
	}
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	s.log.Debug("schedule registered",
		logx.String("name", d.name),
		logx.String("spec", d.spec),
		logx.Duration("startup_spread", d.startupSpread),
	)
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// addCronLocked spreads the first run of interval monitors; cron specs and
// housekeeping run as written.
func (s *Service) addCronLocked(d *scheduleDef) error {
	job := cron.FuncJob(d.run)
	if d.monitor != nil && d.monitor.Schedule.IsInterval() {
		sched, jitter := withStartupSpread(d.monitor.Schedule.Every, time.Now().In(s.loc), d.name)
		d.startupSpread = jitter
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}
	d.startupSpread = 0
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) reportEnqueueError(name string, err error) {
	if errors.Is(err, checkqueue.ErrStopped) {
		s.log.Debug("queue stopped; trigger dropped", logx.String("schedule", name))
		return
	}
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()
	s.log.Warn("schedule failed to enqueue check", logx.String("schedule", name), logx.Err(err))
}

// sameTrigger reports whether a and b enqueue the same check on the same
// schedule, ignoring the name.
func sameTrigger(a, b Monitor) bool {
	a.Name = b.Name
	return a == b
}
