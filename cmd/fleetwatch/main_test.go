package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fleetwatch/internal/config"
	"fleetwatch/internal/controller"
	"fleetwatch/internal/liveness"
	"fleetwatch/internal/model"
	"fleetwatch/internal/redistest"
	"fleetwatch/internal/store"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := cliOut
	cliOut = &buf
	t.Cleanup(func() { cliOut = previous })
	return &buf
}

func missingConfig(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.json")
}

func TestRootCommandRegistersEveryCommand(t *testing.T) {
	rootCmd, err := newRootCommand()
	if err != nil {
		t.Fatalf("new root command: %v", err)
	}
	registered := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range []string{"run", "status", "failures", "request", "mute", "notify", "clear-errors", "prune", "reset", "watch", "serve", "config-init"} {
		if !registered[name] {
			t.Fatalf("expected command %q to be registered", name)
		}
	}
}

func TestFormatAge(t *testing.T) {
	if got := formatAge(200 * time.Millisecond); got != "just now" {
		t.Fatalf("expected just now, got %q", got)
	}
	got := formatAge(2*time.Hour + 5*time.Minute + 7*time.Second)
	if !strings.Contains(got, "2 hours") || !strings.Contains(got, "5 minutes") || strings.Contains(got, "seconds") {
		t.Fatalf("expected two leading units, got %q", got)
	}
	if !strings.HasSuffix(got, " ago") {
		t.Fatalf("expected ago suffix, got %q", got)
	}
}

func TestRenderProjectsListsCounts(t *testing.T) {
	var buf bytes.Buffer
	now := time.Now()
	renderProjects(&buf, []controller.ProjectSummary{
		{Name: "alpha", Workers: 3, Active: 1, Sleeping: 1, Offline: 1, Scale: 40, LastUpdated: now.Add(-time.Minute)},
	}, controller.SortByScale, now)
	out := buf.String()
	if !strings.Contains(out, "sorted by scale") || !strings.Contains(out, "alpha") || !strings.Contains(out, "40") {
		t.Fatalf("unexpected projects output:\n%s", out)
	}
	if !strings.Contains(out, "1 minute ago") {
		t.Fatalf("expected last update age, got:\n%s", out)
	}
}

func TestRenderWorkersMarksOffline(t *testing.T) {
	var buf bytes.Buffer
	renderWorkers(&buf, "alpha", []controller.WorkerView{{
		Project:  "alpha",
		Worker:   "w1",
		Record:   model.StatusRecord{State: model.StateWorking, LastUpdated: 1, PosTotal: 10, Progress: "4/10 (✅3 ❌1)"},
		Health:   liveness.Health{State: model.StateWorking, Offline: true, Age: 20 * time.Minute},
		Progress: model.Progress{Detailed: true, Done: 4, Total: 10, Success: 3, Failed: 1},
		Failures: 1,
	}})
	out := buf.String()
	if !strings.Contains(out, "offline") || !strings.Contains(out, model.OfflineGlyph) {
		t.Fatalf("expected offline marker, got:\n%s", out)
	}
	if !strings.Contains(out, "4/10 (✅3 ❌1)") || !strings.Contains(out, "20 minutes ago") {
		t.Fatalf("expected progress and age, got:\n%s", out)
	}
}

func TestStatusCommandReadsStore(t *testing.T) {
	server, client := redistest.Start(t)
	redisStore := store.NewRedisStore(client, store.Options{})
	record := model.StatusRecord{
		State:       model.StateWorking,
		LastUpdated: model.EpochSeconds(time.Now()),
		PosCurrent:  2,
		PosTotal:    5,
		Progress:    model.FormatProgress(2, 0, 5),
	}
	if err := redisStore.WriteStatus(context.Background(), "alpha", "w1", record); err != nil {
		t.Fatalf("write status: %v", err)
	}

	out := captureOutput(t)
	err := executeCLI([]string{"status", "--redis-url", redistest.URL(server), "--config-path", missingConfig(t)})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "alpha") {
		t.Fatalf("expected project in overview, got:\n%s", out.String())
	}

	out.Reset()
	err = executeCLI([]string{"status", "--project", "alpha", "--redis-url", redistest.URL(server), "--config-path", missingConfig(t)})
	if err != nil {
		t.Fatalf("status --project: %v", err)
	}
	if !strings.Contains(out.String(), "w1") || !strings.Contains(out.String(), "working") {
		t.Fatalf("expected worker row, got:\n%s", out.String())
	}
}

func TestMuteCommandTogglesKillSwitchAndProjectMute(t *testing.T) {
	server, client := redistest.Start(t)
	redisStore := store.NewRedisStore(client, store.Options{})
	ctx := context.Background()
	captureOutput(t)
	base := []string{"--redis-url", redistest.URL(server), "--config-path", missingConfig(t)}

	if err := executeCLI(append([]string{"mute"}, base...)); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if muted, _ := redisStore.MuteAll(ctx); !muted {
		t.Fatalf("expected kill switch on")
	}
	if err := executeCLI(append([]string{"mute", "--off"}, base...)); err != nil {
		t.Fatalf("mute --off: %v", err)
	}
	if muted, _ := redisStore.MuteAll(ctx); muted {
		t.Fatalf("expected kill switch off")
	}
	if err := executeCLI(append([]string{"mute", "--project", "alpha"}, base...)); err != nil {
		t.Fatalf("mute --project: %v", err)
	}
	if muted, _ := redisStore.ProjectMuted(ctx, "alpha"); !muted {
		t.Fatalf("expected project alpha muted")
	}
}

func TestNotifyCommandWritesExplicitFlag(t *testing.T) {
	server, client := redistest.Start(t)
	redisStore := store.NewRedisStore(client, store.Options{})
	out := captureOutput(t)
	err := executeCLI([]string{"notify", "--scope", "alpha", "--kind", "success", "--state", "off",
		"--redis-url", redistest.URL(server), "--config-path", missingConfig(t)})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	value, set, err := redisStore.NotifySetting(context.Background(), "alpha", model.NotifyKindSuccess)
	if err != nil || !set || value {
		t.Fatalf("expected explicit off flag, got value=%v set=%v err=%v", value, set, err)
	}
	if !strings.Contains(out.String(), "Notifications for alpha") {
		t.Fatalf("expected settings listing, got:\n%s", out.String())
	}

	if err := executeCLI([]string{"notify", "--kind", "bogus", "--state", "on"}); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}

func TestResetRequiresConfirmation(t *testing.T) {
	captureOutput(t)
	err := executeCLI([]string{"reset"})
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected confirmation error, got %v", err)
	}
}

func TestConfigInitWritesLoadableDefaults(t *testing.T) {
	captureOutput(t)
	path := filepath.Join(t.TempDir(), "fleet", "config.toml")
	if err := executeCLI([]string{"config-init", "--path", path}); err != nil {
		t.Fatalf("config-init: %v", err)
	}
	cfg, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.Alerts.Channel != "alerts" {
		t.Fatalf("expected default alert channel, got %q", cfg.Alerts.Channel)
	}
	if err := executeCLI([]string{"config-init", "--path", path}); err == nil {
		t.Fatalf("expected existing file to be kept without --force")
	}
}

func TestRunCommandReportsCycle(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	server, client := redistest.Start(t)
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Redis.URL = redistest.URL(server)
	cfg.Agent.Project = "alpha"
	cfg.Agent.Worker = "w1"
	cfg.Agent.LogPath = filepath.Join(dir, "app.log")
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	configPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(configPath, b, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out := captureOutput(t)
	err = executeCLI([]string{"run", "--config-path", configPath, "--log-level", "info",
		"--item", "first", "--item", "second",
		"--command", `echo "working on $FLEETWATCH_ITEM"; echo '{"coins": 2}'`})
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "2/2 units, 0 failed") {
		t.Fatalf("unexpected run output:\n%s", out.String())
	}

	record, err := store.NewRedisStore(client, store.Options{}).ReadStatus(context.Background(), "alpha", "w1")
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if record.State != model.StateSleeping {
		t.Fatalf("expected sleeping after a clean cycle, got %s", record.State)
	}
	logged, err := os.ReadFile(cfg.Agent.LogPath)
	if err != nil {
		t.Fatalf("read app log: %v", err)
	}
	if !strings.Contains(string(logged), "working on first") {
		t.Fatalf("expected unit output in app log, got:\n%s", logged)
	}
}
