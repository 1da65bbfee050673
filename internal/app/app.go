package app

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"monitorq/internal/checkqueue"
	"monitorq/internal/config"
	"monitorq/internal/eventbus"
	"monitorq/internal/httpapi"
	"monitorq/internal/monitor"
	"monitorq/internal/ratelimit"
	rtsup "monitorq/internal/runtime/supervisor"
	"monitorq/internal/storage"
	logx "monitorq/pkg/logx"
)

const metricsNamespace = "monitorq"

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	reg   *prometheus.Registry

	limiter *ratelimit.Limiter
	queue   *checkqueue.Queue
	sched   *monitor.Service
	http    *httpapi.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	limMetrics := ratelimit.NewPrometheusMetrics(metricsNamespace)
	limMetrics.MustRegister(reg)
	queueMetrics := checkqueue.NewPrometheusMetrics(metricsNamespace)
	queueMetrics.MustRegister(reg)

	lim := ratelimit.New(store,
		ratelimit.WithLogger(log.With(logx.String("comp", "ratelimit"))),
		ratelimit.WithMetrics(limMetrics),
	)
	lctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	lim.LoadConfig(lctx)
	cancel()

	delay, err := mapQueueDelay(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	queue := checkqueue.New(lim,
		checkqueue.WithLogger(log.With(logx.String("comp", "queue"))),
		checkqueue.WithBus(bus),
		checkqueue.WithMetrics(queueMetrics),
		checkqueue.WithRequeueDelay(delay),
	)

	sched := monitor.New(mapSchedulerConfig(cfg), queue,
		monitor.WithLogger(log.With(logx.String("comp", "scheduler"))),
		monitor.WithBus(bus),
		monitor.WithCleanup(lim.Cleanup),
	)
	monitors, err := mapMonitors(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched.Apply(mapSchedulerConfig(cfg), monitors)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		reg:     reg,
		limiter: lim,
		queue:   queue,
		sched:   sched,
	}

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.http = httpapi.New(hc, httpapi.Deps{
		Queue:    queue,
		Limits:   lim,
		Monitors: sched,
		Gatherer: reg,
		Health:   a.health,
	}, log.With(logx.String("comp", "http")))

	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Queue exposes the check queue for embedding callers and tests.
func (a *App) Queue() *checkqueue.Queue { return a.queue }

// HTTP exposes the operator API service.
func (a *App) HTTP() *httpapi.Service { return a.http }

type healthPayload struct {
	Status    string          `json:"status"`
	Queue     healthQueue     `json:"queue"`
	App       rtsup.Snapshot  `json:"app"`
	HTTP      *rtsup.Snapshot `json:"http,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
}

type healthQueue struct {
	Length  int  `json:"length"`
	Running bool `json:"running"`
}

func (a *App) health() any {
	p := healthPayload{
		Status:    "ok",
		CheckedAt: time.Now(),
	}
	st := a.queue.Status()
	p.Queue = healthQueue{Length: st.Length, Running: a.queue.Running()}
	if a.sup != nil {
		p.App = a.sup.Snapshot()
		if p.App.FirstError != "" {
			p.Status = "degraded"
		}
	}
	if hs := a.http.Supervisor(); hs != nil {
		snap := hs.Snapshot()
		p.HTTP = &snap
	}
	return p
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.sched.Start(a.sup.Context())
	a.http.Start(a.sup.Context())

	// Debug-level event trail; the scheduler subscribes to the check events itself.
	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if prev == nil || !reflect.DeepEqual(prev.Storage, next.Storage) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if prev != nil && prev.Queue.RequeueDelay != next.Queue.RequeueDelay {
		a.log.Warn("queue.requeue_delay changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLoggingConfig(next))

	if monitors, err := mapMonitors(next); err != nil {
		a.log.Warn("invalid monitors config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(mapSchedulerConfig(next), monitors)
	}

	if hc, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hc)
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("queue", 5*time.Second, a.queue.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
