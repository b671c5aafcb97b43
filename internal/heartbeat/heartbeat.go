// Package heartbeat forces a fresh status write when a worker has been
// silent for longer than its declared threshold.
package heartbeat

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fleetwatch/internal/liveness"
)

// RefreshFunc rewrites the worker's status record from current state.
type RefreshFunc func(ctx context.Context) error

type Snapshot struct {
	Running           bool       `json:"running"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	LastActivityAt    *time.Time `json:"last_activity_at,omitempty"`
	LastRefreshAt     *time.Time `json:"last_refresh_at,omitempty"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	TotalRefreshes    int64      `json:"total_refreshes"`
	TotalChecks       int64      `json:"total_checks"`
}

type Options struct {
	Threshold time.Duration
	// Margin is the observer's safety margin past Threshold. A refresh must
	// land inside it, so it bounds Interval. Zero means the liveness default.
	Margin time.Duration
	// Interval is how often silence is checked. Defaults to the smaller of a
	// third of Threshold and half of Margin, at least one second.
	Interval time.Duration
	Refresh  RefreshFunc
	Logger   *slog.Logger
	Now      func() time.Time
}

type Loop struct {
	threshold time.Duration
	interval  time.Duration
	refresh   RefreshFunc
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.RWMutex
	running      bool
	doneChan     chan struct{}
	lastActivity time.Time
	snapshot     Snapshot
}

func New(opts Options) *Loop {
	if opts.Threshold <= 0 {
		opts.Threshold = 900 * time.Second
	}
	if opts.Margin <= 0 {
		opts.Margin = liveness.DefaultSafetyMargin
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval(opts.Threshold, opts.Margin)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Loop{
		threshold: opts.Threshold,
		interval:  opts.Interval,
		refresh:   opts.Refresh,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	l.lastActivity = l.now()
	return l
}

// DefaultInterval checks often enough that a refresh triggered by silence
// past threshold is written before threshold+margin.
func DefaultInterval(threshold time.Duration, margin time.Duration) time.Duration {
	interval := threshold / 3
	if margin > 0 && margin/2 < interval {
		interval = margin / 2
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Touch records activity: a status write, a handled command or a sent alert.
func (l *Loop) Touch() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.After(l.lastActivity) {
		l.lastActivity = now
	}
	l.snapshot.LastActivityAt = timePtr(l.lastActivity)
}

func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.snapshot.Running = true
	l.snapshot.StartedAt = timePtr(l.now())
	l.doneChan = make(chan struct{})
	done := l.doneChan
	l.mu.Unlock()

	go func() {
		defer close(done)
		l.loop(ctx)
		l.mu.Lock()
		l.running = false
		l.snapshot.Running = false
		l.mu.Unlock()
	}()
}

func (l *Loop) Wait(timeout time.Duration) bool {
	l.mu.RLock()
	done := l.doneChan
	l.mu.RUnlock()
	if done == nil {
		return true
	}
	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (l *Loop) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := l.snapshot
	out.StartedAt = cloneTimePtr(l.snapshot.StartedAt)
	out.LastActivityAt = cloneTimePtr(l.snapshot.LastActivityAt)
	out.LastRefreshAt = cloneTimePtr(l.snapshot.LastRefreshAt)
	out.LastErrorAt = cloneTimePtr(l.snapshot.LastErrorAt)
	return out
}

func (l *Loop) loop(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.CheckOnce(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("heartbeat refresh failed", "error", err)
			}
		}
	}
}

// CheckOnce refreshes when the silence since the last activity exceeds the
// threshold. It reports whether a refresh was attempted.
func (l *Loop) CheckOnce(ctx context.Context) (bool, error) {
	now := l.now()
	l.mu.Lock()
	l.snapshot.TotalChecks++
	silent := now.Sub(l.lastActivity)
	l.mu.Unlock()

	if silent <= l.threshold || l.refresh == nil {
		return false, nil
	}
	err := l.refresh(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.snapshot.ConsecutiveErrors++
		l.snapshot.LastErrorAt = timePtr(now)
		l.snapshot.LastError = strings.TrimSpace(err.Error())
		return true, err
	}
	l.snapshot.ConsecutiveErrors = 0
	l.snapshot.TotalRefreshes++
	l.snapshot.LastRefreshAt = timePtr(now)
	if now.After(l.lastActivity) {
		l.lastActivity = now
	}
	l.snapshot.LastActivityAt = timePtr(l.lastActivity)
	return true, nil
}

func timePtr(value time.Time) *time.Time {
	clone := value
	return &clone
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
