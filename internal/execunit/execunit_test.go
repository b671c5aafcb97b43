package execunit

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fleetwatch/internal/agent"
	"fleetwatch/internal/redistest"
	"fleetwatch/internal/store"
)

func newTestAgent(t *testing.T) (*agent.Agent, *store.RedisStore) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	_, client := redistest.Start(t)
	s := store.NewRedisStore(client, store.Options{})
	a, err := agent.New(agent.Options{Project: "farm", Worker: "w1", Store: s})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, s
}

func TestWorkPassesItemAndParsesFields(t *testing.T) {
	a, s := newTestAgent(t)
	runner := Runner{Command: `echo "working on $FLEETWATCH_ITEM $FLEETWATCH_POSITION/$FLEETWATCH_TOTAL"; echo '{"coins": 7, "name": "x"}'`}

	outcome := a.Run(context.Background(), agent.Unit{ID: "acc-1", Position: 1, Total: 1}, runner.Work())
	if !outcome.Succeeded {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if outcome.Final.Inventory["coins"] != 7 {
		t.Fatalf("expected coins from last stdout line, got %+v", outcome.Final)
	}
	record, err := s.ReadStatus(context.Background(), "farm", "w1")
	if err != nil || record.Inventory["coins"] != 7 {
		t.Fatalf("unexpected record %+v err=%v", record, err)
	}
}

func TestWorkFailureCommitsStderr(t *testing.T) {
	a, s := newTestAgent(t)
	runner := Runner{Command: `echo "step one"; echo "quota exceeded" >&2; exit 3`}

	outcome := a.Run(context.Background(), agent.Unit{ID: "acc-2", Position: 1, Total: 2}, runner.Work())
	if outcome.Succeeded || outcome.Err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(outcome.Err.Error(), "exit status 3") || !strings.Contains(outcome.Err.Error(), "quota exceeded") {
		t.Fatalf("unexpected error %v", outcome.Err)
	}
	lines, err := s.FailureLog(context.Background(), "farm", "w1", "acc-2")
	if err != nil || len(lines) != 2 {
		t.Fatalf("expected stdout and stderr lines committed, got %v err=%v", lines, err)
	}
}

func TestOversizedLineFailsWithoutHanging(t *testing.T) {
	a, s := newTestAgent(t)
	runner := Runner{
		Command:      `yes x | head -n 200000 | tr -d '\n'; echo; echo "after the long line"; echo '{"coins": 1}'`,
		MaxLineBytes: 1024,
	}

	done := make(chan agent.Outcome, 1)
	go func() {
		done <- a.Run(context.Background(), agent.Unit{ID: "acc-3", Position: 1, Total: 1}, runner.Work())
	}()
	var outcome agent.Outcome
	select {
	case outcome = <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("unit did not finish after an oversized output line")
	}
	if outcome.Succeeded || !errors.Is(outcome.Err, bufio.ErrTooLong) {
		t.Fatalf("expected a too-long failure, got succeeded=%v err=%v", outcome.Succeeded, outcome.Err)
	}
	items, err := s.FailureItems(context.Background(), "farm", "w1")
	if err != nil || len(items) != 1 || items[0] != "acc-3" {
		t.Fatalf("expected acc-3 in the failure set, got %v err=%v", items, err)
	}
}

func TestParseFields(t *testing.T) {
	if fields := ParseFields("done"); fields != nil {
		t.Fatalf("plain text must not parse, got %v", fields)
	}
	fields := ParseFields(`{"coins": 2.5, "ok": true}`)
	if len(fields) != 1 || fields["coins"] != 2.5 {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestReadItemsSkipsCommentsAndBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.txt")
	if err := os.WriteFile(path, []byte("# accounts\nacc-1\n\n  acc-2  \n"), 0o644); err != nil {
		t.Fatalf("write items: %v", err)
	}
	items, err := ReadItems(path)
	if err != nil {
		t.Fatalf("read items: %v", err)
	}
	if len(items) != 2 || items[0] != "acc-1" || items[1] != "acc-2" {
		t.Fatalf("unexpected items %v", items)
	}
}
