package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "monitorq/pkg/logx"
)

// fileStore keeps every setting in one JSON document:
//
//	{"monitorRateLimits": {"type": "general", "value": {...}}}
//
// Each write rewrites the document through a temp file + rename, so a crash
// never leaves a half-written file behind. Values must be valid JSON and are
// kept compact, so the indented document reads back byte-identical.
type fileStore struct {
	log  logx.Logger
	path string

	mu       sync.Mutex
	settings map[string]fileRecord
	closed   bool
}

type fileRecord struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	settings := map[string]fileRecord{}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Debug("settings file not found; starting empty", logx.String("path", path))
	case err != nil:
		return nil, err
	case len(strings.TrimSpace(string(b))) > 0:
		if err := json.Unmarshal(b, &settings); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		for k, r := range settings {
			v, err := compactJSON(r.Value)
			if err != nil {
				return nil, fmt.Errorf("decode %s: setting %q: %w", path, k, err)
			}
			r.Value = v
			settings[k] = r
		}
	}

	return &fileStore{log: log, path: path, settings: settings}, nil
}

func (s *fileStore) GetSetting(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	r, ok := s.settings[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), r.Value...), true, nil
}

func (s *fileStore) SetSetting(ctx context.Context, key string, value []byte, category string) error {
	_ = ctx
	v, err := compactJSON(value)
	if err != nil {
		return fmt.Errorf("setting %q: value is not valid JSON: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.settings[key]
	s.settings[key] = fileRecord{Type: category, Value: v}
	if err := s.flushLocked(); err != nil {
		// Keep memory consistent with disk.
		if had {
			s.settings[key] = prev
		} else {
			delete(s.settings, key)
		}
		return err
	}
	return nil
}

func (s *fileStore) flushLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.settings); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func compactJSON(b []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
