package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"

	"fleetwatch/internal/agent"
	"fleetwatch/internal/config"
	"fleetwatch/internal/execunit"
	"fleetwatch/internal/notify"
	"fleetwatch/internal/observer"
)

type runGlazedCommand struct {
	*cmds.CommandDescription
}

type runSettings struct {
	Project string   `glazed.parameter:"project"`
	Worker  string   `glazed.parameter:"worker"`
	Items   string   `glazed.parameter:"items"`
	Item    []string `glazed.parameter:"item"`
	Command string   `glazed.parameter:"command"`
	Shell   string   `glazed.parameter:"shell"`
	Dir     string   `glazed.parameter:"dir"`
	Linger  bool     `glazed.parameter:"linger"`
}

func newRunGlazedCommand() (*runGlazedCommand, error) {
	desc, err := newFleetCommandDescription(
		"run",
		"Run a shell command once per item as a reporting worker",
		"Each item is one unit of work. The command sees the item in $"+execunit.EnvItem+
			" and may print a JSON object of numeric fields as its last stdout line to add them to the inventory.",
		parameters.NewParameterDefinition(
			"project",
			parameters.ParameterTypeString,
			parameters.WithHelp("Project name (overrides agent.project)"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"worker",
			parameters.ParameterTypeString,
			parameters.WithHelp("Worker name (overrides agent.worker)"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"items",
			parameters.ParameterTypeString,
			parameters.WithHelp("File with one item per line"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"item",
			parameters.ParameterTypeStringList,
			parameters.WithHelp("Item to process (repeatable, appended after --items)"),
			parameters.WithDefault([]string{}),
		),
		parameters.NewParameterDefinition(
			"command",
			parameters.ParameterTypeString,
			parameters.WithHelp("Shell command run for every item"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"shell",
			parameters.ParameterTypeString,
			parameters.WithHelp("Shell used to run the command"),
			parameters.WithDefault("sh"),
		),
		parameters.NewParameterDefinition(
			"dir",
			parameters.ParameterTypeString,
			parameters.WithHelp("Working directory of the command"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"linger",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Keep answering controller commands after the cycle until interrupted"),
			parameters.WithDefault(false),
		),
	)
	if err != nil {
		return nil, err
	}
	return &runGlazedCommand{CommandDescription: desc}, nil
}

func (c *runGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &runSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	fleet, err := initializeFleetSettings(parsedLayers)
	if err != nil {
		return err
	}
	cfg, err := loadFleetConfig(fleet)
	if err != nil {
		return err
	}
	if project := strings.TrimSpace(settings.Project); project != "" {
		cfg.Agent.Project = project
	}
	if worker := strings.TrimSpace(settings.Worker); worker != "" {
		cfg.Agent.Worker = worker
	}
	if err := config.ValidateName("project", cfg.Agent.Project); err != nil {
		return err
	}
	if err := config.ValidateName("worker", cfg.Agent.Worker); err != nil {
		return err
	}
	command, err := requireFlag("command", settings.Command)
	if err != nil {
		return err
	}
	items, err := collectItems(settings.Items, settings.Item)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no items to process; pass --items or --item")
	}

	logFile, err := openAppLog(cfg.Agent.LogPath)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger, err := newLogger(fleet.LogLevel, io.MultiWriter(os.Stderr, logFile))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime, err := connectFleet(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer runtime.Close()

	direct, err := notify.NewDirectSender(cfg.Direct)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(notify.Options{
		Settings:  runtime.store,
		Publisher: runtime.bus,
		Direct:    direct,
		Channel:   cfg.Alerts.Channel,
		Logger:    logger,
	})
	worker, err := agent.New(agent.Options{
		Project:            cfg.Agent.Project,
		Worker:             cfg.Agent.Worker,
		Store:              runtime.store,
		Alerts:             dispatcher,
		Subscriber:         runtime.bus,
		HeartbeatThreshold: cfg.HeartbeatThreshold(),
		HeartbeatInterval:  cfg.HeartbeatInterval(),
		LivenessMargin:     cfg.SafetyMargin(),
		CommandPoll:        cfg.CommandPoll(),
		MaxCommandWorkers:  cfg.Agent.MaxCommandWorkers,
		LogPath:            cfg.Agent.LogPath,
		LogTailBytes:       cfg.Agent.LogTailBytes,
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	defer worker.Close()
	if err := worker.Start(ctx); err != nil {
		logger.Warn("worker started without command listener", "error", err)
	}

	runner := execunit.Runner{Command: command, Shell: settings.Shell, Dir: settings.Dir}
	failed := 0
	processed := 0
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		outcome := worker.Run(ctx, agent.Unit{ID: item, Position: i + 1, Total: len(items)}, runner.Work())
		processed++
		if outcome.Succeeded {
			fmt.Fprintf(cliOut, "%s %s %s\n", okStyle.Render("✔"), item, mutedStyle.Render(outcome.Record.Progress))
			continue
		}
		failed++
		fmt.Fprintf(cliOut, "%s %s %s\n", errorStyle.Render("✘"), item, outcome.Summary.Summary())
	}
	fmt.Fprintf(cliOut, "%s | %s: %d/%d units, %d failed\n", cfg.Agent.Project, cfg.Agent.Worker, processed, len(items), failed)

	if settings.Linger && ctx.Err() == nil {
		fmt.Fprintln(cliOut, mutedStyle.Render("answering commands until interrupted"))
		<-ctx.Done()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d units failed", failed, processed)
	}
	return nil
}

var _ cmds.BareCommand = &runGlazedCommand{}

func collectItems(path string, extra []string) ([]string, error) {
	items := []string{}
	if strings.TrimSpace(path) != "" {
		fromFile, err := execunit.ReadItems(path)
		if err != nil {
			return nil, err
		}
		items = append(items, fromFile...)
	}
	for _, item := range extra {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items, nil
}

// openAppLog opens the file the get_log command reads back.
func openAppLog(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open app log %s: %w", path, err)
	}
	return f, nil
}

type watchGlazedCommand struct {
	*cmds.CommandDescription
}

type watchSettings struct {
	Project  string   `glazed.parameter:"project"`
	Worker   string   `glazed.parameter:"worker"`
	Kinds    []string `glazed.parameter:"kind"`
	SaveLogs string   `glazed.parameter:"save-logs"`
}

func newWatchGlazedCommand() (*watchGlazedCommand, error) {
	desc, err := newFleetCommandDescription(
		"watch",
		"Print alerts as they arrive",
		"Subscribes to the alert channel, applies the per-kind notification settings and prints every delivered alert. While running, workers see a receiver and skip their direct fallback.",
		parameters.NewParameterDefinition(
			"project",
			parameters.ParameterTypeString,
			parameters.WithHelp("Only show alerts of this project"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"worker",
			parameters.ParameterTypeString,
			parameters.WithHelp("Only show alerts of this worker"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"kind",
			parameters.ParameterTypeStringList,
			parameters.WithHelp("Only show these kinds: success, error, log, other (repeatable)"),
			parameters.WithDefault([]string{}),
		),
		parameters.NewParameterDefinition(
			"save-logs",
			parameters.ParameterTypeString,
			parameters.WithHelp("Directory to write log deliveries into"),
			parameters.WithDefault(""),
		),
	)
	if err != nil {
		return nil, err
	}
	return &watchGlazedCommand{CommandDescription: desc}, nil
}

func (c *watchGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &watchSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	sub, err := observer.ParseSubscription(settings.Project, settings.Worker, settings.Kinds)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime, err := openFleet(ctx, parsedLayers)
	if err != nil {
		return err
	}
	defer runtime.Close()

	obs := observer.New(observer.Options{
		Subscriber: runtime.bus,
		Channel:    runtime.cfg.Alerts.Channel,
		Filter:     notify.NewFilter(runtime.store),
		Logger:     runtime.logger,
	})
	events, unsubscribe := obs.Broker().Subscribe(sub)
	defer unsubscribe()

	ready := make(chan struct{})
	runErr := make(chan error, 1)
	go func() {
		runErr <- obs.Run(ctx, ready)
	}()
	select {
	case <-ready:
		fmt.Fprintln(cliOut, mutedStyle.Render("watching "+runtime.cfg.Alerts.Channel+" (ctrl-c to stop)"))
	case err := <-runErr:
		return err
	}

	for {
		select {
		case <-ctx.Done():
			stats := obs.Stats()
			fmt.Fprintf(cliOut, "received %d, shown %d, duplicates %d, filtered %d, dropped %d\n",
				stats.Received, stats.Delivered, stats.Duplicates, stats.Filtered, stats.Dropped)
			return <-runErr
		case event, ok := <-events:
			if !ok {
				return <-runErr
			}
			if err := printEvent(event, settings.SaveLogs); err != nil {
				runtime.logger.Warn("log delivery not saved", "error", err)
			}
		}
	}
}

var _ cmds.BareCommand = &watchGlazedCommand{}

func printEvent(event observer.Event, saveDir string) error {
	stamp := mutedStyle.Render(event.ReceivedAt.Format(time.TimeOnly))
	fmt.Fprintf(cliOut, "%s %s\n\n", stamp, event.Text)
	if event.Attachment == nil {
		return nil
	}
	if strings.TrimSpace(saveDir) == "" {
		fmt.Fprintln(cliOut, event.Attachment.Body)
		return nil
	}
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(saveDir, event.Attachment.Name)
	if err := os.WriteFile(path, []byte(event.Attachment.Body), 0o644); err != nil {
		return err
	}
	fmt.Fprintln(cliOut, mutedStyle.Render("saved "+path))
	return nil
}

type configInitGlazedCommand struct {
	*cmds.CommandDescription
}

type configInitSettings struct {
	Path  string `glazed.parameter:"path"`
	Force bool   `glazed.parameter:"force"`
}

func newConfigInitGlazedCommand() (*configInitGlazedCommand, error) {
	desc := cmds.NewCommandDescription(
		"config-init",
		cmds.WithShort("Write a default config file"),
		cmds.WithLong("Write the default configuration as JSON, or TOML when the path ends in .toml."),
		cmds.WithFlags(
			parameters.NewParameterDefinition(
				"path",
				parameters.ParameterTypeString,
				parameters.WithHelp("Config path to create"),
				parameters.WithDefault(config.DefaultConfigPath),
			),
			parameters.NewParameterDefinition(
				"force",
				parameters.ParameterTypeBool,
				parameters.WithHelp("Overwrite an existing file"),
				parameters.WithDefault(false),
			),
		),
	)
	return &configInitGlazedCommand{CommandDescription: desc}, nil
}

func (c *configInitGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &configInitSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	path := strings.TrimSpace(settings.Path)
	if path == "" {
		path = config.DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil && !settings.Force {
		return fmt.Errorf("%s already exists; pass --force to overwrite", path)
	}
	if err := config.SaveDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(cliOut, "wrote %s\n", path)
	return nil
}

var _ cmds.BareCommand = &configInitGlazedCommand{}
