package ratelimit

import (
	"encoding/json"
	"fmt"
)

const (
	// SettingKey is the settings store key holding the JSON-encoded Config.
	SettingKey = "monitorRateLimits"
	// SettingCategory is the category the config is stored under.
	SettingCategory = "general"

	DefaultMaxPerSecond = 10
	DefaultMaxPerMinute = 100
	DefaultMaxPerHour   = 1000
	DefaultMaxPerDay    = 10000
)

// Config holds the process-wide admission ceilings.
type Config struct {
	Enabled      bool `json:"enabled"`
	MaxPerSecond int  `json:"maxPerSecond"`
	MaxPerMinute int  `json:"maxPerMinute"`
	MaxPerHour   int  `json:"maxPerHour"`
	MaxPerDay    int  `json:"maxPerDay"`
}

// DefaultConfig is used when nothing is stored or the store cannot be read.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxPerSecond: DefaultMaxPerSecond,
		MaxPerMinute: DefaultMaxPerMinute,
		MaxPerHour:   DefaultMaxPerHour,
		MaxPerDay:    DefaultMaxPerDay,
	}
}

func (c Config) String() string {
	return fmt.Sprintf("enabled=%t sec=%d min=%d hour=%d day=%d", c.Enabled, c.MaxPerSecond, c.MaxPerMinute, c.MaxPerHour, c.MaxPerDay)
}

// Update is a partial config. Nil fields fall back to defaults, not to the
// current value: an update always replaces the whole config.
type Update struct {
	Enabled      *bool `json:"enabled,omitempty"`
	MaxPerSecond *int  `json:"maxPerSecond,omitempty"`
	MaxPerMinute *int  `json:"maxPerMinute,omitempty"`
	MaxPerHour   *int  `json:"maxPerHour,omitempty"`
	MaxPerDay    *int  `json:"maxPerDay,omitempty"`
}

// Merge resolves u against the defaults. Missing or non-positive ceilings take
// their default; Enabled is true unless explicitly false.
func (u Update) Merge() Config {
	return Config{
		Enabled:      u.Enabled == nil || *u.Enabled,
		MaxPerSecond: positiveOr(u.MaxPerSecond, DefaultMaxPerSecond),
		MaxPerMinute: positiveOr(u.MaxPerMinute, DefaultMaxPerMinute),
		MaxPerHour:   positiveOr(u.MaxPerHour, DefaultMaxPerHour),
		MaxPerDay:    positiveOr(u.MaxPerDay, DefaultMaxPerDay),
	}
}

func positiveOr(v *int, def int) int {
	if v == nil || *v <= 0 {
		return def
	}
	return *v
}

// decodeStored parses a stored blob. Fields absent from the blob are defaulted.
func decodeStored(b []byte) (Config, error) {
	var u Update
	if err := json.Unmarshal(b, &u); err != nil {
		return Config{}, err
	}
	return u.Merge(), nil
}
