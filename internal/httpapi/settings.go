package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"monitorq/internal/ratelimit"
)

// ceiling bounds accepted by POST /api/queue/settings.
var ceilings = []struct {
	field string
	max   int
	set   func(u *ratelimit.Update, v int)
}{
	{"maxPerSecond", 1000, func(u *ratelimit.Update, v int) { u.MaxPerSecond = &v }},
	{"maxPerMinute", 10000, func(u *ratelimit.Update, v int) { u.MaxPerMinute = &v }},
	{"maxPerHour", 100000, func(u *ratelimit.Update, v int) { u.MaxPerHour = &v }},
	{"maxPerDay", 1000000, func(u *ratelimit.Update, v int) { u.MaxPerDay = &v }},
}

// validationError is reported to the client as 400.
type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

// parseSettings decodes and validates a settings request body. enabled is
// required and must be a JSON boolean. Ceilings are optional; numbers and
// numeric strings are accepted and truncated to their leading integer.
func parseSettings(body []byte) (ratelimit.Update, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return ratelimit.Update{}, validationError{"request body must be a JSON object"}
	}

	var u ratelimit.Update
	switch string(bytes.TrimSpace(raw["enabled"])) {
	case "true":
		u.Enabled = boolPtr(true)
	case "false":
		u.Enabled = boolPtr(false)
	default:
		return u, validationError{"enabled must be a boolean"}
	}

	for _, c := range ceilings {
		v, ok := raw[c.field]
		if !ok {
			continue
		}
		n, err := leadingInt(v)
		if err != nil || n < 1 || n > c.max {
			return u, validationError{fmt.Sprintf("%s must be between 1 and %d", c.field, c.max)}
		}
		c.set(&u, n)
	}
	return u, nil
}

func boolPtr(v bool) *bool { return &v }

var errNotANumber = errors.New("not a number")

// leadingInt reads a JSON number or string the way a lenient form parser
// would: "42", 42, 42.9 and "42abc" all give 42.
func leadingInt(v json.RawMessage) (int, error) {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return 0, errNotANumber
		}
		if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
			return 0, errNotANumber
		}
		return int(f), nil
	}

	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, errNotANumber
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, errNotANumber
	}
	return n, nil
}
