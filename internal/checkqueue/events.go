package checkqueue

import "time"

// Event types published on the bus.
const (
	EventRejected = "check.rejected"
	EventFinished = "check.finished"
	EventFailed   = "check.failed"
)

// CheckEvent is the payload of every queue event.
type CheckEvent struct {
	ID         string        `json:"id"`
	MonitorID  int64         `json:"monitorId"`
	Priority   int           `json:"priority"`
	EnqueuedAt time.Time     `json:"enqueuedAt"`
	Started    time.Time     `json:"started,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Rejections int           `json:"rejections"`
	Error      string        `json:"error,omitempty"`
}
