// Package controller implements the operator side of the fleet: overviews
// derived from stored status records, commands to workers, failure records,
// notification settings and data maintenance.
package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"fleetwatch/internal/bus"
	"fleetwatch/internal/liveness"
	"fleetwatch/internal/model"
	"fleetwatch/internal/notify"
	"fleetwatch/internal/store"
)

const (
	SortByScale  = "scale"
	SortByLatest = "latest"
	SortByName   = "name"
)

var SortModes = []string{SortByScale, SortByLatest, SortByName}

type Controller struct {
	store    *store.RedisStore
	bus      *bus.RedisBus
	filter   *notify.Filter
	liveness liveness.Options
	now      func() time.Time
}

type Options struct {
	Store    *store.RedisStore
	Bus      *bus.RedisBus
	Liveness liveness.Options
	Now      func() time.Time
}

func New(opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		store:    opts.Store,
		bus:      opts.Bus,
		filter:   notify.NewFilter(opts.Store),
		liveness: opts.Liveness,
		now:      opts.Now,
	}
}

type WorkerView struct {
	Project  string
	Worker   string
	Record   model.StatusRecord
	Health   liveness.Health
	Progress model.Progress
	Failures int64
}

type ProjectSummary struct {
	Name        string
	Workers     int
	Active      int
	Sleeping    int
	Errors      int
	Offline     int
	Scale       int
	LastUpdated time.Time
}

func (c *Controller) Workers(ctx context.Context, project string) ([]WorkerView, error) {
	entries, err := c.store.ProjectStatus(ctx, project)
	if err != nil {
		return nil, err
	}
	now := c.now()
	views := make([]WorkerView, 0, len(entries))
	for _, entry := range entries {
		view := WorkerView{
			Project: project,
			Worker:  entry.Worker,
			Record:  entry.Record,
			Health:  liveness.ClassifyDecoded(entry.Record, entry.Err, now, c.liveness),
		}
		view.Progress, _ = model.ParseProgress(entry.Record)
		if count, err := c.store.FailureCount(ctx, project, entry.Worker); err == nil {
			view.Failures = count
		}
		views = append(views, view)
	}
	return views, nil
}

// Projects summarizes every project with a status hash, ordered by the
// stored sort mode unless mode is given.
func (c *Controller) Projects(ctx context.Context, mode string) ([]ProjectSummary, string, error) {
	if mode == "" {
		stored, err := c.store.SortMode(ctx)
		if err != nil {
			return nil, "", err
		}
		mode = stored
	}
	if !validSortMode(mode) {
		mode = SortByScale
	}

	names, err := c.store.ListProjects(ctx)
	if err != nil {
		return nil, mode, err
	}
	summaries := make([]ProjectSummary, 0, len(names))
	for _, name := range names {
		views, err := c.Workers(ctx, name)
		if err != nil {
			return nil, mode, err
		}
		summaries = append(summaries, summarize(name, views))
	}

	switch mode {
	case SortByLatest:
		sort.SliceStable(summaries, func(i, j int) bool {
			return summaries[i].LastUpdated.After(summaries[j].LastUpdated)
		})
	case SortByName:
		sort.SliceStable(summaries, func(i, j int) bool {
			return summaries[i].Name < summaries[j].Name
		})
	default:
		sort.SliceStable(summaries, func(i, j int) bool {
			return summaries[i].Scale > summaries[j].Scale
		})
	}
	return summaries, mode, nil
}

func summarize(name string, views []WorkerView) ProjectSummary {
	summary := ProjectSummary{Name: name, Workers: len(views)}
	for _, view := range views {
		summary.Scale += view.Record.PosTotal
		if updated := view.Record.UpdatedAt(); view.Record.LastUpdated > 0 && updated.After(summary.LastUpdated) {
			summary.LastUpdated = updated
		}
		switch {
		case view.Health.Offline:
			summary.Offline++
		case view.Health.State == model.StateError:
			summary.Errors++
		case view.Health.State.Active():
			summary.Active++
		default:
			summary.Sleeping++
		}
	}
	return summary
}

func validSortMode(mode string) bool {
	for _, known := range SortModes {
		if mode == known {
			return true
		}
	}
	return false
}

// RequestStatus asks a worker to rewrite its status record. The result is
// only visible as a later record write; receivers is 0 when the worker's
// listener is not running.
func (c *Controller) RequestStatus(ctx context.Context, project string, worker string) (int64, error) {
	return c.bus.Publish(ctx, store.CommandChannel(project, worker), string(model.CommandUpdateStatus))
}

// RequestLog asks a worker for a log snapshot, delivered as a log_delivery alert.
func (c *Controller) RequestLog(ctx context.Context, project string, worker string) (int64, error) {
	return c.bus.Publish(ctx, store.CommandChannel(project, worker), string(model.CommandGetLog))
}

func (c *Controller) Failures(ctx context.Context, project string, worker string) ([]model.FailureEntry, error) {
	logs, err := c.store.FailureLogs(ctx, project, worker)
	if err != nil {
		return nil, err
	}
	items, err := c.store.FailureItems(ctx, project, worker)
	if err != nil {
		return nil, err
	}
	entries := make([]model.FailureEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, model.FailureEntry{Item: item, Lines: logs[item]})
	}
	return entries, nil
}

// FailureLog finds an item by exact name, or by substring when no exact
// match exists.
func (c *Controller) FailureLog(ctx context.Context, project string, worker string, item string) (model.FailureEntry, error) {
	logs, err := c.store.FailureLogs(ctx, project, worker)
	if err != nil {
		return model.FailureEntry{}, err
	}
	if lines, ok := logs[item]; ok {
		return model.FailureEntry{Item: item, Lines: lines}, nil
	}
	keys := make([]string, 0, len(logs))
	for key := range logs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.Contains(key, item) {
			return model.FailureEntry{Item: key, Lines: logs[key]}, nil
		}
	}
	return model.FailureEntry{}, store.ErrNotFound
}

// FailureReport renders every committed log of one worker as plain text.
func (c *Controller) FailureReport(ctx context.Context, project string, worker string) (string, error) {
	logs, err := c.store.FailureLogs(ctx, project, worker)
	if err != nil {
		return "", err
	}
	if len(logs) == 0 {
		return "", store.ErrNotFound
	}
	items := make([]string, 0, len(logs))
	for item := range logs {
		items = append(items, item)
	}
	sort.Strings(items)

	separator := strings.Repeat("=", 60)
	var b strings.Builder
	fmt.Fprintf(&b, "FULL ERROR REPORT | %s | %s\n%s\n", project, worker, separator)
	for _, item := range items {
		fmt.Fprintf(&b, "ITEM: %s\n%s\n", item, strings.Repeat("-", 30))
		for _, line := range logs[item] {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s\n\n", separator)
	}
	return b.String(), nil
}

func (c *Controller) ClearErrors(ctx context.Context, project string) (int, error) {
	return c.store.ClearErrors(ctx, project)
}

func (c *Controller) PruneWorker(ctx context.Context, project string, worker string) (bool, error) {
	return c.store.DeleteWorker(ctx, project, worker)
}

func (c *Controller) FactoryReset(ctx context.Context) (int, error) {
	return c.store.FactoryReset(ctx)
}

func (c *Controller) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}
