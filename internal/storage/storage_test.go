package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "monitorq/pkg/logx"
)

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := st.GetSetting(ctx, "missing"); err != nil || ok {
		t.Fatalf("GetSetting(missing) = ok=%v err=%v", ok, err)
	}
	if err := st.SetSetting(ctx, "monitorRateLimits", []byte(`{"enabled":true}`), "general"); err != nil {
		t.Fatalf("SetSetting error: %v", err)
	}
	if err := st.SetSetting(ctx, "monitorRateLimits", []byte(`{"enabled":false}`), "general"); err != nil {
		t.Fatalf("SetSetting overwrite error: %v", err)
	}
	v, ok, err := st.GetSetting(ctx, "monitorRateLimits")
	if err != nil || !ok {
		t.Fatalf("GetSetting = ok=%v err=%v", ok, err)
	}
	if string(v) != `{"enabled":false}` {
		t.Fatalf("value = %s", v)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	exerciseStore(t, st)
	_ = st.Close()
	if err := st.SetSetting(context.Background(), "k", []byte("1"), ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("SetSetting after Close = %v, want ErrClosed", err)
	}
}

func TestFileStorePersistsAcrossOpen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	exerciseStore(t, st)
	if err := st.SetSetting(context.Background(), "bad", []byte("not json"), "general"); err == nil {
		t.Fatal("expected invalid JSON to be rejected")
	}
	_ = st.Close()

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st2.Close()
	v, ok, err := st2.GetSetting(context.Background(), "monitorRateLimits")
	if err != nil || !ok || string(v) != `{"enabled":false}` {
		t.Fatalf("after reopen: %s ok=%v err=%v", v, ok, err)
	}
	if _, ok, _ := st2.GetSetting(context.Background(), "bad"); ok {
		t.Fatal("rejected value must not be stored")
	}
}

func TestFileStoreValueSurvivesReopenUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.json")
	const want = `{"enabled":false,"maxPerSecond":3}`

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := st.SetSetting(ctx, "monitorRateLimits", []byte("{ \"enabled\": false,\n  \"maxPerSecond\": 3 }"), "general"); err != nil {
		t.Fatalf("SetSetting error: %v", err)
	}
	before, _, err := st.GetSetting(ctx, "monitorRateLimits")
	if err != nil {
		t.Fatalf("GetSetting error: %v", err)
	}
	_ = st.Close()

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st2.Close()
	after, _, err := st2.GetSetting(ctx, "monitorRateLimits")
	if err != nil {
		t.Fatalf("GetSetting after reopen error: %v", err)
	}
	if string(before) != want || string(after) != want {
		t.Fatalf("before=%q after=%q, want %q", before, after, want)
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "kuma.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()
	exerciseStore(t, st)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("MONITORQ_TEST_REDIS")
	if addr == "" {
		t.Skip("MONITORQ_TEST_REDIS not set")
	}
	st, err := Open(Config{Driver: "redis", Addr: addr, Prefix: "monitorq-test-" + t.Name(), ConnectAttempts: 1}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()
	exerciseStore(t, st)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}
