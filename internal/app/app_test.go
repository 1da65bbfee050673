package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"monitorq/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      *config.StorageConfig
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{name: "omitted", in: nil, driver: "memory"},
		{name: "none", in: &config.StorageConfig{Driver: "none"}, driver: "memory"},
		{name: "file", in: &config.StorageConfig{Driver: "file", Path: "x.json"}, driver: "file"},
		{name: "file without path", in: &config.StorageConfig{Driver: "file"}, wantErr: true},
		{name: "sqlite default busy", in: &config.StorageConfig{Driver: "SQLite", Path: "x.db"}, driver: "sqlite", busy: time.Second},
		{name: "sqlite busy", in: &config.StorageConfig{Driver: "sqlite3", Path: "x.db", BusyTimeout: "3s"}, driver: "sqlite3", busy: 3 * time.Second},
		{name: "sqlite bad busy", in: &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "soon"}, wantErr: true},
		{name: "redis", in: &config.StorageConfig{Driver: "redis", Addr: "127.0.0.1:6379"}, driver: "redis"},
		{name: "redis without addr", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "etcd"}, wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Driver != tc.driver || got.BusyTimeout != tc.busy {
				t.Fatalf("got driver=%q busy=%v, want %q %v", got.Driver, got.BusyTimeout, tc.driver, tc.busy)
			}
		})
	}
}

func TestMapMonitorsSkipsInactiveAndAppliesDefaultPriority(t *testing.T) {
	t.Parallel()

	off := false
	cfg := &config.Config{
		Queue: config.QueueConfig{DefaultPriority: 7},
		Monitors: []config.MonitorConfig{
			{ID: 1, Type: "http", URL: "http://a", Interval: "60"},
			{ID: 2, Type: "tcp", Host: "h", Port: 22, Interval: "30s", Priority: 2},
			{ID: 3, Type: "http", URL: "http://c", Interval: "60", Active: &off},
		},
	}
	got, err := mapMonitors(cfg)
	if err != nil {
		t.Fatalf("mapMonitors: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 active monitors, got %d", len(got))
	}
	if got[0].Priority != 7 || got[1].Priority != 2 {
		t.Fatalf("unexpected priorities: %d %d", got[0].Priority, got[1].Priority)
	}
}

func TestMapSchedulerConfigNormalizesCleanup(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Queue: config.QueueConfig{CleanupSchedule: "30m"}}
	if got := mapSchedulerConfig(cfg).CleanupSchedule; got != "@every 30m0s" {
		t.Fatalf("cleanup = %q", got)
	}
	cfg.Queue.CleanupSchedule = "@daily"
	if got := mapSchedulerConfig(cfg).CleanupSchedule; got != "@daily" {
		t.Fatalf("cleanup = %q", got)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]*config.Config{
		"timezone": {Scheduler: config.SchedulerConfig{Timezone: "Mars/Olympus"}},
		"cleanup":  {Queue: config.QueueConfig{CleanupSchedule: "every now and then"}},
		"requeue":  {Queue: config.QueueConfig{RequeueDelay: "later"}},
		"http":     {HTTP: config.HTTPConfig{ReadTimeout: "x"}},
		"interval": {Monitors: []config.MonitorConfig{{ID: 1, Type: "http", URL: "http://a", Interval: "100ms"}}},
	}
	for name, cfg := range cases {
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestAppLifecycle(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: error
  console: true
storage:
  driver: memory
scheduler:
  enabled: false
http:
  enabled: true
  addr: 127.0.0.1:0
monitors:
  - id: 1
    type: http
    url: http://127.0.0.1:1/
    interval: "60"
`)

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-a.HTTP().Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("http api did not become ready")
	}
	base := "http://" + a.HTTP().Addr()

	resp, err := http.Get(base + "/api/queue/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var env struct {
		OK   bool `json:"ok"`
		Data struct {
			QueueLength int `json:"queueLength"`
			RateLimits  struct {
				MaxPerSecond int `json:"maxPerSecond"`
			} `json:"rateLimits"`
		} `json:"data"`
	}
	err = json.NewDecoder(resp.Body).Decode(&env)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.OK || env.Data.RateLimits.MaxPerSecond != 10 {
		t.Fatalf("unexpected status payload: %+v", env)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), "monitorq_queue_length") {
		t.Fatalf("metrics missing queue gauge:\n%s", b)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("app context still live after Stop")
	}
}
