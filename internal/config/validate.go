package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks structural rules that do not need other packages.
// Schedule specs are validated by the monitor scheduler (see app validator).
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "memory":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(c.Storage.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required when storage.driver=%s", c.Storage.Driver))
			}
		case "redis":
			if strings.TrimSpace(c.Storage.Addr) == "" {
				errs = append(errs, errors.New("storage.addr is required when storage.driver=redis"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown storage.driver: %s", c.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := ParseDurationField("queue.requeue_delay", c.Queue.RequeueDelay); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("http.read_timeout", c.HTTP.ReadTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("http.write_timeout", c.HTTP.WriteTimeout); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[int64]struct{}, len(c.Monitors))
	for i, m := range c.Monitors {
		p := fmt.Sprintf("monitors[%d]", i)
		if m.ID <= 0 {
			errs = append(errs, fmt.Errorf("%s.id must be > 0", p))
		} else if _, dup := seen[m.ID]; dup {
			errs = append(errs, fmt.Errorf("%s.id %d is duplicated", p, m.ID))
		}
		seen[m.ID] = struct{}{}

		switch strings.ToLower(strings.TrimSpace(m.Type)) {
		case "", "http", "https", "keyword":
			if strings.TrimSpace(m.URL) == "" {
				errs = append(errs, fmt.Errorf("%s.url is required for http monitors", p))
			}
		case "tcp", "port":
			if strings.TrimSpace(m.Host) == "" {
				errs = append(errs, fmt.Errorf("%s.host is required for tcp monitors", p))
			}
			if m.Port < 1 || m.Port > 65535 {
				errs = append(errs, fmt.Errorf("%s.port must be between 1 and 65535", p))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.type %q is not supported", p, m.Type))
		}
		if strings.TrimSpace(m.Interval) == "" {
			errs = append(errs, fmt.Errorf("%s.interval is required", p))
		}
		if _, err := ParseDurationField(p+".timeout", m.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
