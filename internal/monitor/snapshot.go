package monitor

import (
	"sort"
	"time"

	"monitorq/internal/checkqueue"
	"monitorq/internal/eventbus"
)

// Result is the last queue outcome seen for a monitor.
type Result struct {
	Up         bool          `json:"up"`
	CheckedAt  time.Time     `json:"checkedAt"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	Rejections int           `json:"rejections"` // rate limit rejections since start
}

type ScheduleInfo struct {
	Name          string        `json:"name"`
	MonitorID     int64         `json:"monitorId,omitempty"`
	Monitor       string        `json:"monitor,omitempty"`
	Target        string        `json:"target,omitempty"`
	Spec          string        `json:"spec"`
	Priority      int           `json:"priority,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	StartupSpread time.Duration `json:"startupSpread,omitempty"`
	Next          time.Time     `json:"next"`
	Prev          time.Time     `json:"prev"`
	Last          *Result       `json:"last,omitempty"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}

// Snapshot lists schedules sorted by name with their next run and last result.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: s.cfg.Timezone}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, StartupSpread: d.startupSpread}
		if d.monitor != nil {
			it.MonitorID = d.monitor.ID
			it.Monitor = d.monitor.Name
			it.Target = d.monitor.Target()
			it.Priority = d.monitor.Priority
			it.Timeout = d.monitor.Timeout
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	s.rmu.RLock()
	for i := range items {
		if items[i].MonitorID == 0 {
			continue
		}
		if r, ok := s.results[items[i].MonitorID]; ok {
			cp := *r
			items[i].Last = &cp
		}
	}
	s.rmu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	snap.Schedules = items
	return snap
}

func (s *Service) consume(ch <-chan eventbus.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range ch {
		ce, ok := ev.Data.(checkqueue.CheckEvent)
		if !ok {
			continue
		}
		s.record(ev.Type, ce)
	}
}

func (s *Service) record(typ string, ce checkqueue.CheckEvent) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	r := s.results[ce.MonitorID]
	if r == nil {
		r = &Result{}
		s.results[ce.MonitorID] = r
	}
	switch typ {
	case checkqueue.EventRejected:
		r.Rejections++
	case checkqueue.EventFinished, checkqueue.EventFailed:
		r.Up = typ == checkqueue.EventFinished
		r.CheckedAt = ce.Started
		r.Duration = ce.Duration
		r.Error = ce.Error
	}
}
