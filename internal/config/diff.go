package config

import (
	"reflect"

	logx "monitorq/pkg/logx"
)

// SummarizeConfigChange returns the list of changed sections and safe structured
// attrs for logging (never includes secrets like tokens or passwords).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}
	if oldCfg.Queue != newCfg.Queue {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.String("queue.requeue_delay", newCfg.Queue.RequeueDelay),
			logx.String("queue.cleanup_schedule", newCfg.Queue.CleanupSchedule),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Monitors, newCfg.Monitors) {
		changed = append(changed, "monitors")
		attrs = append(attrs, logx.Int("monitors.count", len(newCfg.Monitors)))
	}
	return changed, attrs
}
