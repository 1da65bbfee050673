package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"monitorq/internal/checkqueue"
	"monitorq/internal/config"
)

const (
	TypeHTTP = "http"
	TypeTCP  = "tcp"

	DefaultTimeout = 30 * time.Second
)

var (
	ErrBadStatus   = errors.New("unexpected http status")
	ErrUnknownType = errors.New("unknown monitor type")
)

// Monitor is a resolved, schedulable monitor. It is comparable so Apply can
// detect unchanged entries.
type Monitor struct {
	ID       int64
	Name     string
	Type     string
	URL      string
	Host     string
	Port     int
	Schedule Schedule
	Timeout  time.Duration
	Priority int
}

// Key is the schedule name the monitor is registered under.
func (m Monitor) Key() string { return "monitor:" + strconv.FormatInt(m.ID, 10) }

// Target is a human-readable address for logs and snapshots.
func (m Monitor) Target() string {
	if m.Type == TypeTCP {
		return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	}
	return m.URL
}

// FromConfig resolves a config entry. Zero priority takes defaultPriority.
func FromConfig(mc config.MonitorConfig, defaultPriority int) (Monitor, error) {
	m := Monitor{
		ID:       mc.ID,
		Name:     strings.TrimSpace(mc.Name),
		Type:     normalizeType(mc.Type),
		URL:      strings.TrimSpace(mc.URL),
		Host:     strings.TrimSpace(mc.Host),
		Port:     mc.Port,
		Priority: mc.Priority,
	}
	if m.Name == "" {
		m.Name = m.Key()
	}
	if m.Priority == 0 {
		m.Priority = defaultPriority
	}
	sched, err := ParseSchedule(mc.Interval)
	if err != nil {
		return Monitor{}, fmt.Errorf("monitor %d: %w", mc.ID, err)
	}
	m.Schedule = sched

	to, err := config.ParseDurationOrDefault("timeout", mc.Timeout, DefaultTimeout)
	if err != nil {
		return Monitor{}, fmt.Errorf("monitor %d: %w", mc.ID, err)
	}
	m.Timeout = to

	switch m.Type {
	case TypeHTTP:
		if m.URL == "" {
			return Monitor{}, fmt.Errorf("monitor %d: url required", mc.ID)
		}
	case TypeTCP:
		if m.Host == "" || m.Port <= 0 {
			return Monitor{}, fmt.Errorf("monitor %d: host and port required", mc.ID)
		}
	default:
		return Monitor{}, fmt.Errorf("monitor %d: %w: %q", mc.ID, ErrUnknownType, mc.Type)
	}
	return m, nil
}

func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "http", "https", "keyword":
		return TypeHTTP
	case "tcp", "port":
		return TypeTCP
	}
	return strings.ToLower(strings.TrimSpace(t))
}

// Check builds the check function for m. client is used for http monitors.
func (m Monitor) Check(client *http.Client) checkqueue.CheckFunc {
	if m.Type == TypeTCP {
		return TCPCheck(m.Target(), m.Timeout)
	}
	return HTTPCheck(client, m.URL, m.Timeout)
}

// HTTPCheck issues a GET and treats 2xx and 3xx as up.
func HTTPCheck(client *http.Client, url string, timeout time.Duration) checkqueue.CheckFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", "monitorq")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 399 {
			return fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
		}
		return nil
	}
}

// TCPCheck succeeds if a connection to addr can be opened within timeout.
func TCPCheck(addr string, timeout time.Duration) checkqueue.CheckFunc {
	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}
