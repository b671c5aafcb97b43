package listener

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fleetwatch/internal/bus"
	"fleetwatch/internal/model"
	"fleetwatch/internal/redistest"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestListenerDispatchesPublishedCommands(t *testing.T) {
	_, client := redistest.Start(t)
	b := bus.NewRedisBus(client)

	var updates, logs, handled int32
	l := New(Options{
		Subscriber: b,
		Channel:    "cmd:farm:w1",
		Poll:       20 * time.Millisecond,
		OnHandled:  func(model.Command) { atomic.AddInt32(&handled, 1) },
	})
	if err := l.RegisterHandler(model.CommandUpdateStatus, func(ctx context.Context, cmd model.Command) error {
		atomic.AddInt32(&updates, 1)
		return nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := l.RegisterAsyncHandler(model.CommandGetLog, func(ctx context.Context, cmd model.Command) error {
		atomic.AddInt32(&logs, 1)
		return nil
	}); err != nil {
		t.Fatalf("register async: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := l.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}

	for _, payload := range []string{"update_status", "update_status", "get_log", "reboot"} {
		if _, err := b.Publish(ctx, "cmd:farm:w1", payload); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	waitFor(t, "handlers", func() bool {
		return atomic.LoadInt32(&updates) == 2 && atomic.LoadInt32(&logs) == 1
	})
	waitFor(t, "handled callbacks", func() bool { return atomic.LoadInt32(&handled) == 3 })

	cancel()
	if !l.Wait(2 * time.Second) {
		t.Fatalf("listener did not stop")
	}
}

func TestDispatchIgnoresUnknownVerbs(t *testing.T) {
	var calls int32
	l := New(Options{})
	_ = l.RegisterHandler(model.CommandUpdateStatus, func(ctx context.Context, cmd model.Command) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	l.Dispatch(context.Background(), "shutdown")
	l.Dispatch(context.Background(), " update_status ")
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one handled command, got %d", calls)
	}
	if err := l.RegisterHandler("", nil); err == nil {
		t.Fatalf("expected error for empty verb")
	}
}

func TestLogSnapshotTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	content := strings.Repeat("a", 2048) + "TAIL"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	text, err := LogSnapshot(path, 1024)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	header := "📂 ...Last 1KB of app.log:\n\n"
	if !strings.HasPrefix(text, header) {
		t.Fatalf("unexpected header in %q", text[:40])
	}
	body := strings.TrimPrefix(text, header)
	if len(body) != 1024 || !strings.HasSuffix(body, "TAIL") {
		t.Fatalf("expected last 1024 bytes, got %d bytes", len(body))
	}

	small := filepath.Join(dir, "small.log")
	_ = os.WriteFile(small, []byte("hello"), 0o644)
	text, _ = LogSnapshot(small, 16384)
	if text != "📂 ...Last 16KB of small.log:\n\nhello" {
		t.Fatalf("unexpected small snapshot %q", text)
	}
}

func TestLogSnapshotMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.log")
	text, err := LogSnapshot(path, 0)
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if text != "❌ Log file not found at: "+path {
		t.Fatalf("unexpected text %q", text)
	}
}
