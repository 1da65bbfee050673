package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"monitorq/internal/config"
)

func TestFromConfig(t *testing.T) {
	t.Parallel()

	m, err := FromConfig(config.MonitorConfig{ID: 7, Type: "port", Host: "db.local", Port: 5432, Interval: "30"}, 10)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if m.Type != TypeTCP || m.Name != "monitor:7" || m.Priority != 10 || m.Timeout != DefaultTimeout {
		t.Fatalf("monitor = %+v", m)
	}
	if m.Schedule.Every != 30*time.Second || m.Target() != "db.local:5432" {
		t.Fatalf("schedule/target = %+v %s", m.Schedule, m.Target())
	}

	m, err = FromConfig(config.MonitorConfig{ID: 8, Name: "site", URL: "https://example.org", Interval: "*/2 * * * *", Timeout: "5s", Priority: 3}, 10)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if m.Type != TypeHTTP || m.Priority != 3 || m.Timeout != 5*time.Second || m.Schedule.Cron != "*/2 * * * *" {
		t.Fatalf("monitor = %+v", m)
	}

	bad := []config.MonitorConfig{
		{ID: 1, Type: "dns", Interval: "60"},
		{ID: 2, Type: "http", Interval: "60"},
		{ID: 3, Type: "tcp", Host: "x", Interval: "60"},
		{ID: 4, URL: "http://x", Interval: "never"},
		{ID: 5, URL: "http://x", Interval: "60", Timeout: "fast"},
	}
	for _, mc := range bad {
		if _, err := FromConfig(mc, 10); err == nil {
			t.Fatalf("monitor %d: expected error", mc.ID)
		}
	}
	if _, err := FromConfig(bad[0], 10); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("unknown type: err = %v", err)
	}
}

func TestHTTPCheck(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusNoContent)
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	if err := HTTPCheck(srv.Client(), srv.URL+"/ok", time.Second)(ctx); err != nil {
		t.Fatalf("ok endpoint: %v", err)
	}
	if err := HTTPCheck(srv.Client(), srv.URL+"/down", time.Second)(ctx); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("down endpoint: err = %v", err)
	}
	if err := HTTPCheck(srv.Client(), srv.URL+"/slow", 20*time.Millisecond)(ctx); err == nil {
		t.Fatal("slow endpoint: expected timeout")
	}
}

func TestTCPCheck(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	addr := ln.Addr().String()

	if err := TCPCheck(addr, time.Second)(context.Background()); err != nil {
		t.Fatalf("open port: %v", err)
	}
	_ = ln.Close()

	host, port, _ := net.SplitHostPort(addr)
	p, _ := strconv.Atoi(port)
	m := Monitor{Type: TypeTCP, Host: host, Port: p, Timeout: time.Second}
	if err := m.Check(nil)(context.Background()); err == nil {
		t.Fatal("closed port: expected error")
	}
}
