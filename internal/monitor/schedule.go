package monitor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts 5-field and 6-field (leading seconds) specs plus descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is a parsed monitor interval: either a fixed period or a cron
// expression, never both.
type Schedule struct {
	Every time.Duration
	Cron  string
}

// Spec renders s in the form the cron scheduler registers.
func (s Schedule) Spec() string {
	if s.Every > 0 {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

func (s Schedule) IsInterval() bool { return s.Every > 0 }

// ParseSchedule accepts:
//   - bare seconds: "60"
//   - Go durations: "30s", "2h30m"
//   - "@every <duration>"
//   - cron expressions and descriptors: "*/5 * * * *", "0 */2 * * * *", "@hourly"
//
// The prefixes "every:" and "cron:" force one interpretation.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, errors.New("schedule required")
	}
	low := strings.ToLower(s)

	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseEvery(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(low, "@every"):
		return parseEvery(strings.TrimSpace(s[len("@every"):]))
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return parseCron(s)
	}
	return parseEvery(s)
}

func parseEvery(v string) (Schedule, error) {
	if v == "" {
		return Schedule{}, errors.New("interval required")
	}
	var d time.Duration
	if n, err := strconv.Atoi(v); err == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(v); err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q (use seconds like '60' or a duration like '5m')", v)
	}
	if d < time.Second {
		return Schedule{}, fmt.Errorf("interval %q must be at least 1s", v)
	}
	return Schedule{Every: d}, nil
}

func parseCron(expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, errors.New("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return Schedule{Cron: expr}, nil
}
