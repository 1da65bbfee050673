package ratelimit

import "time"

// Window sizes in milliseconds.
const (
	secondMillis = int64(time.Second / time.Millisecond)
	minuteMillis = int64(time.Minute / time.Millisecond)
	hourMillis   = int64(time.Hour / time.Millisecond)
	dayMillis    = 24 * hourMillis
)

// staleDays is how many day buckets a monitor may lag before Cleanup drops it.
const staleDays = 2

type windowCounter struct {
	start int64 // bucket index: floor(epochMillis / size)
	count int
}

// roll resets the counter if bucket is newer than the stored one.
func (w *windowCounter) roll(bucket int64) {
	if w.start != bucket {
		w.start = bucket
		w.count = 0
	}
}

// counterSet is the per-monitor state: one counter per granularity.
type counterSet struct {
	second windowCounter
	minute windowCounter
	hour   windowCounter
	day    windowCounter
}

type buckets struct {
	second, minute, hour, day int64
}

func bucketsAt(t time.Time) buckets {
	ms := t.UnixMilli()
	return buckets{
		second: floorDiv(ms, secondMillis),
		minute: floorDiv(ms, minuteMillis),
		hour:   floorDiv(ms, hourMillis),
		day:    floorDiv(ms, dayMillis),
	}
}

func newCounterSet(b buckets) *counterSet {
	return &counterSet{
		second: windowCounter{start: b.second},
		minute: windowCounter{start: b.minute},
		hour:   windowCounter{start: b.hour},
		day:    windowCounter{start: b.day},
	}
}

func (c *counterSet) roll(b buckets) {
	c.second.roll(b.second)
	c.minute.roll(b.minute)
	c.hour.roll(b.hour)
	c.day.roll(b.day)
}

// allows reports whether one more request fits under every ceiling.
func (c *counterSet) allows(cfg Config) bool {
	return c.second.count < cfg.MaxPerSecond &&
		c.minute.count < cfg.MaxPerMinute &&
		c.hour.count < cfg.MaxPerHour &&
		c.day.count < cfg.MaxPerDay
}

func (c *counterSet) charge() {
	c.second.count++
	c.minute.count++
	c.hour.count++
	c.day.count++
}

// floorDiv rounds toward negative infinity so pre-epoch clocks still bucket correctly.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
