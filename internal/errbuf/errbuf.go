// Package errbuf keeps a short-lived per-item log while a unit of work is
// running and commits it into the worker's failure record on terminal
// failure.
package errbuf

import (
	"context"
	"fmt"
	"time"

	"fleetwatch/internal/model"
)

// Store is the subset of the shared store the buffer needs.
type Store interface {
	AppendTempError(ctx context.Context, project string, item string, line string) error
	ClearTempErrors(ctx context.Context, project string, item string) error
	TakeTempErrors(ctx context.Context, project string, item string) ([]string, error)
	CommitFailure(ctx context.Context, project string, worker string, item string, lines []string) error
}

type Buffer struct {
	store   Store
	project string
	worker  string
	source  string
	now     func() time.Time
}

type Option func(*Buffer)

// WithSource sets the source column of lines synthesized by Flush.
func WithSource(source string) Option {
	return func(b *Buffer) { b.source = source }
}

func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

func New(store Store, project string, worker string, opts ...Option) *Buffer {
	b := &Buffer{
		store:   store,
		project: project,
		worker:  worker,
		source:  "System",
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Buffer) Append(ctx context.Context, item string, line model.LogLine) error {
	if err := b.store.AppendTempError(ctx, b.project, item, line.String()); err != nil {
		return fmt.Errorf("append to error buffer %s: %w", item, err)
	}
	return nil
}

// Clear discards the buffer without touching the failure record.
func (b *Buffer) Clear(ctx context.Context, item string) error {
	if err := b.store.ClearTempErrors(ctx, b.project, item); err != nil {
		return fmt.Errorf("clear error buffer %s: %w", item, err)
	}
	return nil
}

// Flush moves the buffer into the failure record and returns the last line
// as the alert summary. An empty or unreadable buffer is replaced by one
// ERROR line built from fallback. The summary is valid even when err is not
// nil.
func (b *Buffer) Flush(ctx context.Context, item string, fallback string) (model.LogLine, error) {
	lines, takeErr := b.store.TakeTempErrors(ctx, b.project, item)
	if takeErr != nil {
		lines = nil
	}
	if len(lines) == 0 {
		lines = []string{model.NewLogLine(b.now(), model.LevelError, b.source, fallback).String()}
	}
	summary := model.ParseLogLine(lines[len(lines)-1])
	if err := b.store.CommitFailure(ctx, b.project, b.worker, item, lines); err != nil {
		return summary, fmt.Errorf("commit failure %s: %w", item, err)
	}
	if takeErr != nil {
		return summary, fmt.Errorf("read error buffer %s: %w", item, takeErr)
	}
	return summary, nil
}
