package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"monitorq/internal/checkqueue"
	"monitorq/internal/monitor"
	"monitorq/internal/ratelimit"
	logx "monitorq/pkg/logx"
)

const maxBodyBytes = 64 << 10

type QueueStatus interface {
	Status() checkqueue.Snapshot
}

type LimitUpdater interface {
	UpdateConfig(ctx context.Context, u ratelimit.Update) (ratelimit.Config, error)
}

type MonitorSnapshot interface {
	Snapshot() monitor.Snapshot
}

// Deps are the components the API reads from and writes to. Nil members
// make the routes that need them answer 503.
type Deps struct {
	Queue    QueueStatus
	Limits   LimitUpdater
	Monitors MonitorSnapshot
	Gatherer prometheus.Gatherer
	// Health returns the payload of /healthz.
	Health func() any
}

type envelope struct {
	OK   bool   `json:"ok"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

// NewRouter builds the chi router. It is exported for tests and for callers
// that run their own http.Server.
func NewRouter(cfg Config, deps Deps, log logx.Logger) chi.Router {
	h := &handlers{deps: deps, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, recoverer(log))

	r.Get("/healthz", h.health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Pprof {
		r.With(bearer(cfg.Token)).Mount("/debug", middleware.Profiler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(bearer(cfg.Token))
		r.Get("/queue/status", h.queueStatus)
		r.Post("/queue/settings", h.queueSettings)
		r.Get("/monitors", h.monitors)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Msg: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Msg: "method not allowed"})
	})
	return r
}

type handlers struct {
	deps Deps
	log  logx.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	var data any = "ok"
	if h.deps.Health != nil {
		data = h.deps.Health()
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

func (h *handlers) queueStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{Msg: "queue not available"})
		return
	}
	h.log.Debug("queue status requested", logx.String("request_id", middleware.GetReqID(r.Context())))
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: h.deps.Queue.Status()})
}

func (h *handlers) queueSettings(w http.ResponseWriter, r *http.Request) {
	if h.deps.Limits == nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{Msg: "rate limiter not available"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Msg: "request body too large or unreadable"})
		return
	}
	u, err := parseSettings(body)
	if err != nil {
		var ve validationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, envelope{Msg: ve.msg})
			return
		}
		writeJSON(w, http.StatusBadRequest, envelope{Msg: err.Error()})
		return
	}

	cfg, err := h.deps.Limits.UpdateConfig(r.Context(), u)
	if err != nil {
		h.log.Error("queue settings update failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, envelope{Msg: err.Error()})
		return
	}
	h.log.Info("queue settings updated", logx.String("limits", cfg.String()))
	writeJSON(w, http.StatusOK, envelope{OK: true, Msg: "Queue settings updated successfully", Data: cfg})
}

func (h *handlers) monitors(w http.ResponseWriter, r *http.Request) {
	if h.deps.Monitors == nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{Msg: "scheduler not available"})
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: h.deps.Monitors.Snapshot()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// bearer requires "Authorization: Bearer <token>" or ?token=<token> when
// token is set.
func bearer(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
					got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
				}
			}
			if got != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, http.StatusUnauthorized, envelope{Msg: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// recoverer turns handler panics into 500s and logs them through logx.
func recoverer(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("http handler panic",
						logx.String("path", r.URL.Path),
						logx.String("request_id", middleware.GetReqID(r.Context())),
						logx.Any("panic", rec),
					)
					writeJSON(w, http.StatusInternalServerError, envelope{Msg: "internal error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
