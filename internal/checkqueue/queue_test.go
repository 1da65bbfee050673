package checkqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"monitorq/internal/eventbus"
	"monitorq/internal/ratelimit"
)

// scriptLimiter admits unless a rejection is scheduled for the monitor.
type scriptLimiter struct {
	mu     sync.Mutex
	reject map[int64]int // monitor -> remaining rejections; -1 rejects forever
	calls  []int64
}

func newScriptLimiter() *scriptLimiter { return &scriptLimiter{reject: map[int64]int{}} }

func (l *scriptLimiter) Admit(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, id)
	n := l.reject[id]
	switch {
	case n < 0:
		return false
	case n > 0:
		l.reject[id] = n - 1
		return false
	}
	return true
}

func (l *scriptLimiter) Status() ratelimit.Status {
	return ratelimit.Status{Config: ratelimit.DefaultConfig(), TrackedMonitors: 3}
}

type recorder struct {
	mu    sync.Mutex
	order []string
	at    []time.Time
}

func (r *recorder) check(name string) CheckFunc {
	return func(ctx context.Context) error {
		r.mu.Lock()
		r.order = append(r.order, name)
		r.at = append(r.at, time.Now())
		r.mu.Unlock()
		return nil
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// blocker returns a check that holds the drain loop until release is closed.
func blocker(started chan<- struct{}, release <-chan struct{}) CheckFunc {
	return func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()
	fixed := time.Unix(1_700_000_000, 0)
	q := New(newScriptLimiter(), WithClock(func() time.Time { return fixed }))
	rec := &recorder{}

	started, release := make(chan struct{}), make(chan struct{})
	if err := q.EnqueuePriority(0, blocker(started, release), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-started

	for _, c := range []struct {
		name string
		prio int
	}{{"A", 5}, {"B", 1}, {"C", 5}, {"D", 3}} {
		if err := q.EnqueuePriority(1, rec.check(c.name), c.prio); err != nil {
			t.Fatalf("enqueue %s: %v", c.name, err)
		}
	}
	close(release)

	waitFor(t, "all checks", func() bool { return len(rec.snapshot()) == 4 })
	if got, want := rec.snapshot(), []string{"B", "D", "A", "C"}; !equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestEnqueueUsesDefaultPriority(t *testing.T) {
	t.Parallel()
	q := New(newScriptLimiter())
	rec := &recorder{}

	started, release := make(chan struct{}), make(chan struct{})
	_ = q.EnqueuePriority(0, blocker(started, release), 0)
	<-started

	_ = q.Enqueue(1, rec.check("default"))
	_ = q.EnqueuePriority(2, rec.check("low"), DefaultPriority+1)
	_ = q.EnqueuePriority(3, rec.check("high"), DefaultPriority-1)
	close(release)

	waitFor(t, "all checks", func() bool { return len(rec.snapshot()) == 3 })
	if got, want := rec.snapshot(), []string{"high", "default", "low"}; !equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestHeadOfLineBlocking(t *testing.T) {
	t.Parallel()
	lim := newScriptLimiter()
	lim.reject[1] = 1
	q := New(lim, WithRequeueDelay(150*time.Millisecond))
	rec := &recorder{}

	started, release := make(chan struct{}), make(chan struct{})
	_ = q.EnqueuePriority(0, blocker(started, release), 0)
	<-started
	_ = q.EnqueuePriority(1, rec.check("limited"), 1)
	_ = q.EnqueuePriority(2, rec.check("behind"), 5)
	close(release)

	waitFor(t, "suspension", func() bool { return q.Status().Suspended })
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("checks ran during suspension: %v", got)
	}
	if st := q.Status(); !st.Processing {
		t.Fatal("queue must stay draining while suspended")
	}

	// Enqueue during the suspension only inserts.
	_ = q.EnqueuePriority(3, rec.check("late"), 9)

	waitFor(t, "all checks", func() bool { return len(rec.snapshot()) == 3 })
	if got, want := rec.snapshot(), []string{"limited", "behind", "late"}; !equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	waitFor(t, "idle", func() bool { return !q.Status().Processing })
}

func TestRequeueKeepsEnqueueTime(t *testing.T) {
	t.Parallel()
	lim := newScriptLimiter()
	lim.reject[1] = 1
	var clock atomic.Int64
	clock.Store(1000)
	q := New(lim,
		WithRequeueDelay(20*time.Millisecond),
		WithClock(func() time.Time { return time.UnixMilli(clock.Load()) }),
	)
	rec := &recorder{}

	started, release := make(chan struct{}), make(chan struct{})
	_ = q.EnqueuePriority(0, blocker(started, release), 0)
	<-started
	_ = q.EnqueuePriority(1, rec.check("old"), 5)
	close(release)

	waitFor(t, "suspension", func() bool { return q.Status().Suspended })
	// Same priority, later enqueue time: must stay behind the requeued item.
	clock.Store(2000)
	_ = q.EnqueuePriority(2, rec.check("new"), 5)

	waitFor(t, "all checks", func() bool { return len(rec.snapshot()) == 2 })
	if got, want := rec.snapshot(), []string{"old", "new"}; !equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestEndToEndPerSecondLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on real one-second windows")
	}
	t.Parallel()
	lim := ratelimit.New(nil, ratelimit.WithConfig(ratelimit.Config{
		Enabled: true, MaxPerSecond: 1, MaxPerMinute: 100, MaxPerHour: 1000, MaxPerDay: 10000,
	}))
	q := New(lim)
	rec := &recorder{}

	// Start just past a second boundary so B and C cannot share a window by luck.
	time.Sleep(time.Until(time.Now().Truncate(time.Second).Add(time.Second + 50*time.Millisecond)))
	start := time.Now()
	for _, name := range []string{"A", "B", "C"} {
		if err := q.Enqueue(1, rec.check(name)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	waitFor(t, "all checks", func() bool { return len(rec.snapshot()) == 3 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !equal(rec.order, []string{"A", "B", "C"}) {
		t.Fatalf("order = %v", rec.order)
	}
	if d := rec.at[0].Sub(start); d > 500*time.Millisecond {
		t.Fatalf("A ran after %v, want immediately", d)
	}
	if d := rec.at[1].Sub(rec.at[0]); d < 900*time.Millisecond {
		t.Fatalf("B ran %v after A, want >= 1s", d)
	}
	if d := rec.at[2].Sub(rec.at[0]); d < 1900*time.Millisecond {
		t.Fatalf("C ran %v after A, want >= 2s", d)
	}
}

func TestFailedChecksAreNotRetried(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, EventFailed, EventFinished)
	defer unsub()

	q := New(newScriptLimiter(), WithBus(bus))
	var errCalls, panicCalls atomic.Int32
	rec := &recorder{}

	_ = q.EnqueuePriority(1, func(ctx context.Context) error {
		errCalls.Add(1)
		return errors.New("connection refused")
	}, 1)
	_ = q.EnqueuePriority(2, func(ctx context.Context) error {
		panicCalls.Add(1)
		panic("boom")
	}, 2)
	_ = q.EnqueuePriority(3, rec.check("after"), 3)

	waitFor(t, "last check", func() bool { return len(rec.snapshot()) == 1 })
	waitFor(t, "idle", func() bool { return !q.Status().Processing })
	if errCalls.Load() != 1 || panicCalls.Load() != 1 {
		t.Fatalf("calls: err=%d panic=%d, want 1 each", errCalls.Load(), panicCalls.Load())
	}

	var failed []CheckEvent
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			if ev.Type == EventFailed {
				failed = append(failed, ev.Data.(CheckEvent))
			}
		case <-time.After(time.Second):
			t.Fatal("missing event")
		}
	}
	if len(failed) != 2 {
		t.Fatalf("failed events = %d, want 2", len(failed))
	}
	if failed[0].MonitorID != 1 || failed[0].Error != "connection refused" {
		t.Fatalf("first failure = %+v", failed[0])
	}
	if failed[1].MonitorID != 2 || failed[1].Error == "" {
		t.Fatalf("panic failure = %+v", failed[1])
	}
}

func TestSingleFlight(t *testing.T) {
	t.Parallel()
	q := New(newScriptLimiter())

	var active, peak, ran atomic.Int32
	check := func(ctx context.Context) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		ran.Add(1)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_ = q.Enqueue(id, check)
			}
		}(int64(i))
	}
	wg.Wait()

	waitFor(t, "all checks", func() bool { return ran.Load() == 40 })
	if p := peak.Load(); p != 1 {
		t.Fatalf("peak concurrency = %d, want 1", p)
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	q := New(newScriptLimiter())
	if err := q.Enqueue(1, nil); !errors.Is(err, ErrNilCheck) {
		t.Fatalf("nil check: err = %v", err)
	}
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("stop idle queue: %v", err)
	}
	if err := q.Enqueue(1, func(context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop: err = %v", err)
	}
}

func TestStopCancelsSuspension(t *testing.T) {
	t.Parallel()
	lim := newScriptLimiter()
	lim.reject[1] = -1
	q := New(lim, WithRequeueDelay(time.Hour))

	_ = q.Enqueue(1, func(context.Context) error { return nil })
	waitFor(t, "suspension", func() bool { return q.Status().Suspended })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st := q.Status()
	if st.Suspended || st.Processing {
		t.Fatalf("status after stop = %+v", st)
	}
	if st.Length != 1 {
		t.Fatalf("queued items after stop = %d, want 1", st.Length)
	}
}

func TestStopWaitsForRunningCheck(t *testing.T) {
	t.Parallel()
	q := New(newScriptLimiter())

	started, release := make(chan struct{}), make(chan struct{})
	var ctxErr error // read after Stop returns, which happens after the check
	_ = q.Enqueue(1, func(ctx context.Context) error {
		close(started)
		<-release
		ctxErr = ctx.Err()
		return nil
	})
	<-started

	short, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := q.Stop(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop with running check: err = %v", err)
	}
	if !q.Running() {
		t.Fatal("check should still be running")
	}

	close(release)
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if ctxErr != nil {
		t.Fatalf("check context cancelled by Stop: %v", ctxErr)
	}
}

func TestStatusIncludesLimiter(t *testing.T) {
	t.Parallel()
	q := New(newScriptLimiter())
	st := q.Status()
	if st.RateLimits != ratelimit.DefaultConfig() || st.TrackedMonitors != 3 {
		t.Fatalf("status = %+v", st)
	}
	if st.Length != 0 || st.Processing || st.Suspended {
		t.Fatalf("idle status = %+v", st)
	}
}

func TestPrometheusMetrics(t *testing.T) {
	t.Parallel()
	lim := newScriptLimiter()
	lim.reject[1] = 1
	m := NewPrometheusMetrics("test")
	q := New(lim, WithMetrics(m), WithRequeueDelay(5*time.Millisecond))

	rec := &recorder{}
	_ = q.Enqueue(1, rec.check("a"))
	_ = q.Enqueue(2, func(context.Context) error { return errors.New("down") })
	waitFor(t, "idle", func() bool { return !q.Status().Processing })

	if v := testutil.ToFloat64(m.EnqueuedTotal); v != 2 {
		t.Fatalf("enqueued = %v", v)
	}
	if v := testutil.ToFloat64(m.RejectedTotal); v != 1 {
		t.Fatalf("rejected = %v", v)
	}
	if v := testutil.ToFloat64(m.AdmittedTotal); v != 2 {
		t.Fatalf("admitted = %v", v)
	}
	if v := testutil.ToFloat64(m.FailedTotal); v != 1 {
		t.Fatalf("failed = %v", v)
	}
	if v := testutil.ToFloat64(m.Length); v != 0 {
		t.Fatalf("length = %v", v)
	}
}
