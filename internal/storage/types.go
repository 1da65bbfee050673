package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Store is the settings API used by the rate limiter and the HTTP layer.
type Store interface {
	// GetSetting returns (nil, false, nil) when key is absent.
	GetSetting(ctx context.Context, key string) (value []byte, ok bool, err error)
	SetSetting(ctx context.Context, key string, value []byte, category string) error
	Close() error
}

// Config configures storage.
//
// If Driver is empty, "none" or "memory", an in-memory store is used.
type Config struct {
	Driver      string
	Path        string        // file/sqlite
	BusyTimeout time.Duration // sqlite only; 0 means default

	Addr     string // redis
	Password string
	DB       int
	Prefix   string // redis key prefix, default "monitorq"

	// ConnectAttempts bounds redis PING retries at open. 0 means 5.
	ConnectAttempts int
}
