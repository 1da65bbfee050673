package checkqueue

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/xid"
	"golang.org/x/time/rate"

	"monitorq/internal/eventbus"
	"monitorq/internal/ratelimit"
	logx "monitorq/pkg/logx"
)

const (
	// DefaultRequeueDelay is how long a rejected item is held before it is
	// put back.
	DefaultRequeueDelay = time.Second

	warnThrottleEvery = 5 * time.Second
)

// Limiter is the admission side of a ratelimit.Limiter.
type Limiter interface {
	Admit(monitorID int64) bool
	Status() ratelimit.Status
}

// Snapshot is the on-demand queue status.
type Snapshot struct {
	Length          int              `json:"queueLength"`
	Processing      bool             `json:"processing"`
	Suspended       bool             `json:"suspended"`
	RateLimits      ratelimit.Config `json:"rateLimits"`
	TrackedMonitors int              `json:"activeChecks"`
}

// Queue is a single-flight, priority-ordered execution queue.
type Queue struct {
	lim     Limiter
	log     logx.Logger
	bus     eventbus.Bus
	metrics MetricsCollector
	now     func() time.Time
	baseCtx context.Context

	// requeue yields the suspension delay after each rejection.
	requeue backoff.BackOff
	// warn throttles rejection warnings; throttled ones go to debug.
	warn *rate.Limiter

	mu        sync.Mutex
	items     itemHeap
	seq       uint64
	draining  bool
	suspended bool
	running   bool
	stopped   bool
	stopCh    chan struct{}
	done      chan struct{} // closed when the current drain loop exits
}

type Option func(*Queue)

func WithLogger(log logx.Logger) Option { return func(q *Queue) { q.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(q *Queue) { q.bus = bus } }

func WithMetrics(m MetricsCollector) Option {
	return func(q *Queue) {
		if m != nil {
			q.metrics = m
		}
	}
}

// WithClock overrides the clock used for enqueue times and durations.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// WithRequeueDelay sets a constant suspension delay. Non-positive values keep
// the default.
func WithRequeueDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.requeue = backoff.NewConstantBackOff(d)
		}
	}
}

// WithRequeueBackOff lets the suspension delay vary per rejection.
// A backoff.Stop result falls back to DefaultRequeueDelay.
func WithRequeueBackOff(b backoff.BackOff) Option {
	return func(q *Queue) {
		if b != nil {
			q.requeue = b
		}
	}
}

// WithBaseContext sets the parent of the context handed to checks. Its values
// are kept but its cancellation is not: Stop never cancels a running check.
func WithBaseContext(ctx context.Context) Option {
	return func(q *Queue) {
		if ctx != nil {
			q.baseCtx = ctx
		}
	}
}

func New(lim Limiter, opts ...Option) *Queue {
	q := &Queue{
		lim:     lim,
		log:     logx.Nop(),
		metrics: disabledMetrics{},
		now:     time.Now,
		baseCtx: context.Background(),
		requeue: backoff.NewConstantBackOff(DefaultRequeueDelay),
		warn:    rate.NewLimiter(rate.Every(warnThrottleEvery), 1),
		stopCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue adds a check with DefaultPriority.
func (q *Queue) Enqueue(monitorID int64, check CheckFunc) error {
	return q.EnqueuePriority(monitorID, check, DefaultPriority)
}

// EnqueuePriority adds a check and starts the drain loop if the queue is idle.
// It never waits for the drain loop.
func (q *Queue) EnqueuePriority(monitorID int64, check CheckFunc, priority int) error {
	if check == nil {
		return ErrNilCheck
	}
	it := &item{
		id:        xid.New().String(),
		monitorID: monitorID,
		check:     check,
		priority:  priority,
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	q.seq++
	it.seq = q.seq
	it.enqueuedAt = q.now()
	heap.Push(&q.items, it)
	n := q.items.Len()
	q.metrics.SetLength(n)
	start := !q.draining
	if start {
		q.draining = true
		q.done = make(chan struct{})
	}
	done := q.done
	q.mu.Unlock()

	q.metrics.Enqueued()
	q.log.Debug("check enqueued",
		logx.String("id", it.id),
		logx.Int64("monitor_id", monitorID),
		logx.Int("priority", priority),
		logx.Int("queue_length", n),
	)

	if start {
		go q.drain(done)
	}
	return nil
}

func (q *Queue) drain(done chan struct{}) {
	defer close(done)
	for {
		q.mu.Lock()
		if q.stopped || q.items.Len() == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		it := heap.Pop(&q.items).(*item)
		q.metrics.SetLength(q.items.Len())
		q.mu.Unlock()

		if !q.lim.Admit(it.monitorID) {
			q.rejected(it)
			if !q.suspend(it) {
				q.mu.Lock()
				q.draining = false
				q.mu.Unlock()
				return
			}
			continue
		}
		q.metrics.Admitted()
		q.execute(it)
	}
}

// suspend holds a rejected item for the requeue delay, then puts it back.
// It reports false if the queue was stopped meanwhile; the item is put back
// either way.
func (q *Queue) suspend(it *item) bool {
	d := q.requeue.NextBackOff()
	if d == backoff.Stop || d < 0 {
		d = DefaultRequeueDelay
	}

	q.mu.Lock()
	q.suspended = true
	q.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()

	ok := true
	select {
	case <-t.C:
	case <-q.stopCh:
		ok = false
	}

	q.mu.Lock()
	q.suspended = false
	heap.Push(&q.items, it)
	q.metrics.SetLength(q.items.Len())
	q.mu.Unlock()
	return ok
}

func (q *Queue) rejected(it *item) {
	it.rejections++
	q.metrics.Rejected()

	fields := []logx.Field{
		logx.String("id", it.id),
		logx.Int64("monitor_id", it.monitorID),
		logx.Int("rejections", it.rejections),
	}
	if q.warn.Allow() {
		q.log.Warn("rate limit exceeded; check requeued", fields...)
	} else {
		q.log.Debug("rate limit exceeded; check requeued", fields...)
	}
	q.publish(EventRejected, it, time.Time{}, 0, nil)
}

func (q *Queue) execute(it *item) {
	q.mu.Lock()
	q.running = true
	q.mu.Unlock()

	start := q.now()
	err := q.invoke(it)
	dur := q.now().Sub(start)

	q.mu.Lock()
	q.running = false
	q.mu.Unlock()

	q.metrics.Finished(dur, err)
	if err != nil {
		q.log.Error("check failed",
			logx.String("id", it.id),
			logx.Int64("monitor_id", it.monitorID),
			logx.Duration("duration", dur),
			logx.Err(err),
		)
		q.publish(EventFailed, it, start, dur, err)
		return
	}
	q.log.Debug("check finished",
		logx.String("id", it.id),
		logx.Int64("monitor_id", it.monitorID),
		logx.Duration("duration", dur),
		logx.Duration("queue_delay", start.Sub(it.enqueuedAt)),
	)
	q.publish(EventFinished, it, start, dur, nil)
}

func (q *Queue) invoke(it *item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("check panic",
				logx.Int64("monitor_id", it.monitorID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrCheckPanic, r)
		}
	}()
	return it.check(context.WithoutCancel(q.baseCtx))
}

func (q *Queue) publish(typ string, it *item, started time.Time, dur time.Duration, err error) {
	if q.bus == nil {
		return
	}
	ev := CheckEvent{
		ID:         it.id,
		MonitorID:  it.monitorID,
		Priority:   it.priority,
		EnqueuedAt: it.enqueuedAt,
		Started:    started,
		Duration:   dur,
		Rejections: it.rejections,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	q.bus.Publish(eventbus.Event{Type: typ, Time: q.now(), Data: ev})
}

// Status returns the current queue state together with the limiter's.
func (q *Queue) Status() Snapshot {
	q.mu.Lock()
	s := Snapshot{
		Length:     q.items.Len(),
		Processing: q.draining,
		Suspended:  q.suspended,
	}
	q.mu.Unlock()

	if q.lim != nil {
		ls := q.lim.Status()
		s.RateLimits = ls.Config
		s.TrackedMonitors = ls.TrackedMonitors
	}
	return s
}

// Running reports whether a check callback is executing right now.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Stop rejects further Enqueue calls, ends any suspension and waits for the
// drain loop to exit, which includes a check that is already running.
// Queued items stay in memory. Stop is idempotent.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.stopCh)
	}
	done := q.done
	q.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
