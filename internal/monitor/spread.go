package monitor

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule delays the first run of an interval schedule so monitors
// registered together do not all fire in the same second.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// withStartupSpread returns an @every schedule whose first run lands in
// [now+every, now+every+min(every, 30s)). The offset is derived from key so
// a given monitor keeps roughly the same phase across restarts.
func withStartupSpread(every time.Duration, now time.Time, key string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	window := every
	if window > maxStartupSpread {
		window = maxStartupSpread
	}
	if window <= 0 {
		return base, 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	jitter := time.Duration(rng.Int63n(int64(window)))
	return &spreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}
