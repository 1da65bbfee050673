package app

import (
	"fmt"
	"strings"
	"time"

	"monitorq/internal/config"
	"monitorq/internal/httpapi"
	"monitorq/internal/monitor"
	"monitorq/internal/storage"
	logx "monitorq/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled:    lc.File.Enabled,
			Path:       lc.File.Path,
			MaxSizeMB:  lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAgeDays: lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		},
	}
}

// mapStorageConfig returns a memory store config when storage is omitted.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "redis":
		addr := strings.TrimSpace(sc.Addr)
		if addr == "" {
			return storage.Config{}, fmt.Errorf("storage.addr is required when storage.driver=redis")
		}
		return storage.Config{
			Driver:   "redis",
			Addr:     addr,
			Password: sc.Password,
			DB:       sc.DB,
			Prefix:   strings.TrimSpace(sc.Prefix),
		}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapQueueDelay(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("queue.requeue_delay", cfg.Queue.RequeueDelay, time.Second)
}

func mapSchedulerConfig(cfg *config.Config) monitor.Config {
	cleanup := strings.TrimSpace(cfg.Queue.CleanupSchedule)
	if sched, err := monitor.ParseSchedule(cleanup); cleanup != "" && err == nil {
		cleanup = sched.Spec()
	}
	return monitor.Config{
		Enabled:         cfg.Scheduler.Enabled,
		Timezone:        cfg.Scheduler.Timezone,
		CleanupSchedule: cleanup,
	}
}

// mapMonitors resolves the active monitors. Inactive entries are skipped.
func mapMonitors(cfg *config.Config) ([]monitor.Monitor, error) {
	prio := cfg.Queue.DefaultPriority
	if prio == 0 {
		prio = 10
	}
	out := make([]monitor.Monitor, 0, len(cfg.Monitors))
	for _, mc := range cfg.Monitors {
		if !mc.IsActive() {
			continue
		}
		m, err := monitor.FromConfig(mc, prio)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	rt, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	addr := strings.TrimSpace(hc.Addr)
	if addr == "" {
		addr = httpapi.DefaultAddr
	}
	return httpapi.Config{
		Enabled:      hc.Enabled,
		Addr:         addr,
		Token:        strings.TrimSpace(hc.Token),
		Pprof:        hc.Pprof,
		ReadTimeout:  rt,
		WriteTimeout: wt,
	}, nil
}

// validate runs the checks that need other packages: schedules, the
// timezone and the storage mapping.
func validate(cfg *config.Config) error {
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if spec := strings.TrimSpace(cfg.Queue.CleanupSchedule); spec != "" {
		if _, err := monitor.ParseSchedule(spec); err != nil {
			return fmt.Errorf("queue.cleanup_schedule: %w", err)
		}
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapQueueDelay(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	_, err := mapMonitors(cfg)
	return err
}
