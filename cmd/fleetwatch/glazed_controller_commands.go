package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"

	"fleetwatch/internal/model"
	"fleetwatch/internal/store"
)

type statusGlazedCommand struct {
	*cmds.CommandDescription
}

type statusSettings struct {
	Project string `glazed.parameter:"project"`
	Sort    string `glazed.parameter:"sort"`
	Save    bool   `glazed.parameter:"save-sort"`
}

func newStatusGlazedCommand() (*statusGlazedCommand, error) {
	desc, err := newFleetCommandDescription(
		"status",
		"Show fleet or project status",
		"Without --project, summarize every project. With --project, list its workers with health, progress and failure counts.",
		parameters.NewParameterDefinition(
			"project",
			parameters.ParameterTypeString,
			parameters.WithHelp("Project to list workers for"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"sort",
			parameters.ParameterTypeString,
			parameters.WithHelp("Project order: scale|latest|name (defaults to the stored mode)"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"save-sort",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Store --sort as the default project order"),
			parameters.WithDefault(false),
		),
	)
	if err != nil {
		return nil, err
	}
	return &statusGlazedCommand{CommandDescription: desc}, nil
}

func (c *statusGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &statusSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	runtime, err := openFleet(ctx, parsedLayers)
	if err != nil {
		return err
	}
	defer runtime.Close()

	if project := strings.TrimSpace(settings.Project); project != "" {
		views, err := runtime.controller.Workers(ctx, project)
		if err != nil {
			return err
		}
		renderWorkers(cliOut, project, views)
		return nil
	}
	if settings.Save {
		if err := runtime.controller.SetSortMode(ctx, settings.Sort); err != nil {
			return err
		}
	}
	summaries, mode, err := runtime.controller.Projects(ctx, strings.TrimSpace(settings.Sort))
	if err != nil {
		return err
	}
	renderProjects(cliOut, summaries, mode, time.Now())
	return nil
}

var _ cmds.BareCommand = &statusGlazedCommand{}

type failuresGlazedCommand struct {
	*cmds.CommandDescription
}

type failuresSettings struct {
	Project string `glazed.parameter:"project"`
	Worker  string `glazed.parameter:"worker"`
	Item    string `glazed.parameter:"item"`
	Report  bool   `glazed.parameter:"report"`
}

func newFailuresGlazedCommand() (*failuresGlazedCommand, error) {
	desc, err := newFleetCommandDescription(
		"failures",
		"Show failure records of a worker",
		"List failed items, print one item's committed log (exact name or substring), or print the full error report.",
		parameters.NewParameterDefinition(
			"project",
			parameters.ParameterTypeString,
			parameters.WithHelp("Project name"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"worker",
			parameters.ParameterTypeString,
			parameters.WithHelp("Worker name"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"item",
			parameters.ParameterTypeString,
			parameters.WithHelp("Item whose log to print"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"report",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Print every committed log as one report"),
			parameters.WithDefault(false),
		),
	)
	if err != nil {
		return nil, err
	}
	return &failuresGlazedCommand{CommandDescription: desc}, nil
}

func (c *failuresGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &failuresSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	project, err := requireFlag("project", settings.Project)
	if err != nil {
		return err
	}
	worker, err := requireFlag("worker", settings.Worker)
	if err != nil {
		return err
	}
	runtime, err := openFleet(ctx, parsedLayers)
	if err != nil {
		return err
	}
	defer runtime.Close()

	switch {
	case settings.Report:
		report, err := runtime.controller.FailureReport(ctx, project, worker)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintln(cliOut, "no failures recorded")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprint(cliOut, report)
	case strings.TrimSpace(settings.Item) != "":
		entry, err := runtime.controller.FailureLog(ctx, project, worker, strings.TrimSpace(settings.Item))
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no failure log matches %q", settings.Item)
		}
		if err != nil {
			return err
		}
		renderFailureLog(cliOut, entry)
	default:
		entries, err := runtime.controller.Failures(ctx, project, worker)
		if err != nil {
			return err
		}
		renderFailures(cliOut, project, worker, entries)
	}
	return nil
}

var _ cmds.BareCommand = &failuresGlazedCommand{}

type requestGlazedCommand struct {
	*cmds.CommandDescription
}

type requestSettings struct {
	Project string `glazed.parameter:"project"`
	Worker  string `glazed.parameter:"worker"`
	What    string `glazed.parameter:"what"`
}

func newRequestGlazedCommand() (*requestGlazedCommand, error) {
	desc, err := newFleetCommandDescription(
		"request",
		"Send a command to a worker",
		"Publish update_status (--what status) or get_log (--what log) on the worker's command channel.",
		parameters.NewParameterDefinition(
			"project",
			parameters.ParameterTypeString,
			parameters.WithHelp("Project name"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"worker",
			parameters.ParameterTypeString,
			parameters.WithHelp("Worker name"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"what",
			parameters.ParameterTypeString,
			parameters.WithHelp("status|log"),
			parameters.WithDefault("status"),
		),
	)
	if err != nil {
		return nil, err
	}
	return &requestGlazedCommand{CommandDescription: desc}, nil
}

func (c *requestGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &requestSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	project, err := requireFlag("project", settings.Project)
	if err != nil {
		return err
	}
	worker, err := requireFlag("worker", settings.Worker)
	if err != nil {
		return err
	}
	what := strings.ToLower(strings.TrimSpace(settings.What))
	if what != "status" && what != "log" {
		return fmt.Errorf("--what must be status or log")
	}
	runtime, err := openFleet(ctx, parsedLayers)
	if err != nil {
		return err
	}
	defer runtime.Close()

	var receivers int64
	if what == "log" {
		receivers, err = runtime.controller.RequestLog(ctx, project, worker)
	} else {
		receivers, err = runtime.controller.RequestStatus(ctx, project, worker)
	}
	if err != nil {
		return err
	}
	if receivers == 0 {
		fmt.Fprintln(cliOut, offlineStyle.Render(fmt.Sprintf("%s | %s is not listening; nothing will answer", project, worker)))
		return nil
	}
	fmt.Fprintf(cliOut, "%s request sent to %s | %s (%d receivers)\n", what, project, worker, receivers)
	return nil
}

var _ cmds.BareCommand = &requestGlazedCommand{}

type muteGlazedCommand struct {
	*cmds.CommandDescription
}

type muteSettings struct {
	Project string `glazed.parameter:"project"`
	Off     bool   `glazed.parameter:"off"`
}

func newMuteGlazedCommand() (*muteGlazedCommand, error) {
	desc, err := newFleetCommandDescription(
		"mute",
		"Mute alerts globally or for one project",
		"Without --project, sets the global kill switch. Error alerts still pass a project mute, never the kill switch.",
		parameters.NewParameterDefinition(
			"project",
			parameters.ParameterTypeString,
			parameters.WithHelp("Project to mute (empty means every alert)"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"off",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Unmute instead"),
			parameters.WithDefault(false),
		),
	)
	if err != nil {
		return nil, err
	}
	return &muteGlazedCommand{CommandDescription: desc}, nil
}

func (c *muteGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &muteSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	runtime, err := openFleet(ctx, parsedLayers)
	if err != nil {
		return err
	}
	defer runtime.Close()

	muted := !settings.Off
	project := strings.TrimSpace(settings.Project)
	if project == "" {
		if err := runtime.controller.SetMuteAll(ctx, muted); err != nil {
			return err
		}
		fmt.Fprintf(cliOut, "kill switch: %s\n", onOff(muted, "muted", "off"))
		return nil
	}
	if err := runtime.controller.SetProjectMute(ctx, project, muted); err != nil {
		return err
	}
	fmt.Fprintf(cliOut, "project %s: %s\n", project, onOff(muted, "muted", "off"))
	return nil
}

var _ cmds.BareCommand = &muteGlazedCommand{}

type notifyGlazedCommand struct {
	*cmds.CommandDescription
}

type notifySettings struct {
	Scope string `glazed.parameter:"scope"`
	Kind  string `glazed.parameter:"kind"`
	State string `glazed.parameter:"state"`
	Reset bool   `glazed.parameter:"reset"`
}

func newNotifyGlazedCommand() (*notifyGlazedCommand, error) {
	desc, err := newFleetCommandDescription(
		"notify",
		"Show or change per-kind notification settings",
		"Projects without an explicit flag inherit the GLOBAL one, which defaults to on.",
		parameters.NewParameterDefinition(
			"scope",
			parameters.ParameterTypeString,
			parameters.WithHelp("GLOBAL or a project name"),
			parameters.WithDefault(model.GlobalScope),
		),
		parameters.NewParameterDefinition(
			"kind",
			parameters.ParameterTypeString,
			parameters.WithHelp("success|error|log|other"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"state",
			parameters.ParameterTypeString,
			parameters.WithHelp("on|off (requires --kind)"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"reset",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Remove every explicit flag of the scope"),
			parameters.WithDefault(false),
		),
	)
	if err != nil {
		return nil, err
	}
	return &notifyGlazedCommand{CommandDescription: desc}, nil
}

func (c *notifyGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &notifySettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	scope := strings.TrimSpace(settings.Scope)
	if scope == "" {
		scope = model.GlobalScope
	}
	var (
		kind    model.NotifyKind
		enabled bool
		change  = strings.TrimSpace(settings.Kind) != "" || strings.TrimSpace(settings.State) != ""
	)
	if change {
		var ok bool
		if kind, ok = model.ParseNotifyKind(settings.Kind); !ok {
			return fmt.Errorf("--kind must be one of %v", model.NotifyKinds)
		}
		switch strings.ToLower(strings.TrimSpace(settings.State)) {
		case "on":
			enabled = true
		case "off":
			enabled = false
		default:
			return fmt.Errorf("--state must be on or off")
		}
	}

	runtime, err := openFleet(ctx, parsedLayers)
	if err != nil {
		return err
	}
	defer runtime.Close()

	if settings.Reset {
		if err := runtime.controller.ResetNotify(ctx, scope); err != nil {
			return err
		}
	}
	if change {
		if err := runtime.controller.SetNotify(ctx, scope, kind, enabled); err != nil {
			return err
		}
	}
	current, err := runtime.controller.Settings(ctx, scope)
	if err != nil {
		return err
	}
	renderSettings(cliOut, current)
	return nil
}

var _ cmds.BareCommand = &notifyGlazedCommand{}

type clearErrorsGlazedCommand struct {
	*cmds.CommandDescription
}

type clearErrorsSettings struct {
	Project string `glazed.parameter:"project"`
}

func newClearErrorsGlazedCommand() (*clearErrorsGlazedCommand, error) {
	desc, err := newFleetCommandDescription(
		"clear-errors",
		"Delete failure records",
		"Delete failure sets and committed logs of one project, or of every project when --project is empty.",
		parameters.NewParameterDefinition(
			"project",
			parameters.ParameterTypeString,
			parameters.WithHelp("Project to clear (empty means all)"),
			parameters.WithDefault(""),
		),
	)
	if err != nil {
		return nil, err
	}
	return &clearErrorsGlazedCommand{CommandDescription: desc}, nil
}

func (c *clearErrorsGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &clearErrorsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	runtime, err := openFleet(ctx, parsedLayers)
	if err != nil {
		return err
	}
	defer runtime.Close()

	removed, err := runtime.controller.ClearErrors(ctx, strings.TrimSpace(settings.Project))
	if err != nil {
		return err
	}
	fmt.Fprintf(cliOut, "removed %d failure keys\n", removed)
	return nil
}

var _ cmds.BareCommand = &clearErrorsGlazedCommand{}

type pruneGlazedCommand struct {
	*cmds.CommandDescription
}

type pruneSettings struct {
	Project string `glazed.parameter:"project"`
	Worker  string `glazed.parameter:"worker"`
}

func newPruneGlazedCommand() (*pruneGlazedCommand, error) {
	desc, err := newFleetCommandDescription(
		"prune",
		"Remove a worker's status record",
		"",
		parameters.NewParameterDefinition(
			"project",
			parameters.ParameterTypeString,
			parameters.WithHelp("Project name"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"worker",
			parameters.ParameterTypeString,
			parameters.WithHelp("Worker name"),
			parameters.WithDefault(""),
		),
	)
	if err != nil {
		return nil, err
	}
	return &pruneGlazedCommand{CommandDescription: desc}, nil
}

func (c *pruneGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &pruneSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	project, err := requireFlag("project", settings.Project)
	if err != nil {
		return err
	}
	worker, err := requireFlag("worker", settings.Worker)
	if err != nil {
		return err
	}
	runtime, err := openFleet(ctx, parsedLayers)
	if err != nil {
		return err
	}
	defer runtime.Close()

	removed, err := runtime.controller.PruneWorker(ctx, project, worker)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(cliOut, "%s | %s has no status record\n", project, worker)
		return nil
	}
	fmt.Fprintf(cliOut, "pruned %s | %s\n", project, worker)
	return nil
}

var _ cmds.BareCommand = &pruneGlazedCommand{}

type resetGlazedCommand struct {
	*cmds.CommandDescription
}

type resetSettings struct {
	Yes bool `glazed.parameter:"yes"`
}

func newResetGlazedCommand() (*resetGlazedCommand, error) {
	desc, err := newFleetCommandDescription(
		"reset",
		"Delete every fleetwatch key",
		"Factory reset: status, failures, buffers and settings of every project are removed.",
		parameters.NewParameterDefinition(
			"yes",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Confirm the reset"),
			parameters.WithDefault(false),
		),
	)
	if err != nil {
		return nil, err
	}
	return &resetGlazedCommand{CommandDescription: desc}, nil
}

func (c *resetGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &resetSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if !settings.Yes {
		return fmt.Errorf("reset deletes all fleet data; pass --yes to confirm")
	}
	runtime, err := openFleet(ctx, parsedLayers)
	if err != nil {
		return err
	}
	defer runtime.Close()

	removed, err := runtime.controller.FactoryReset(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cliOut, "factory reset removed %d keys\n", removed)
	return nil
}

var _ cmds.BareCommand = &resetGlazedCommand{}
