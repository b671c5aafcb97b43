// Package agent wraps units of work so that each one reports status,
// aggregates progress and inventory, commits failure logs and raises alerts.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetwatch/internal/errbuf"
	"fleetwatch/internal/heartbeat"
	"fleetwatch/internal/listener"
	"fleetwatch/internal/model"
	"fleetwatch/internal/notify"
	"fleetwatch/internal/store"
)

var ErrClosed = errors.New("agent closed")

// Store is everything the agent writes to the shared store.
type Store interface {
	errbuf.Store
	WriteStatus(ctx context.Context, project string, worker string, record model.StatusRecord) error
}

type AlertSender interface {
	Send(ctx context.Context, alert model.Alert) (notify.Delivery, error)
}

// Unit identifies one unit of work. Position is 1-based; Total is the number
// of units declared for the current cycle.
type Unit struct {
	ID       string
	Position int
	Total    int
}

// Result carries the numeric fields a successful unit adds to the inventory.
type Result struct {
	Fields map[string]float64
}

type WorkFunc func(ctx context.Context, unit Unit, log *UnitLog) (Result, error)

// Outcome is what Run reports back. Err is the unit's own error.
type Outcome struct {
	Unit      Unit
	Succeeded bool
	Err       error
	Summary   model.LogLine
	Record    model.StatusRecord
	Finished  bool
	// Final holds the cycle totals when Finished is set.
	Final Counters
}

type Options struct {
	Project string
	Worker  string
	Store   Store
	Alerts  AlertSender
	// Subscriber enables the command listener when set.
	Subscriber         listener.Subscriber
	HeartbeatThreshold time.Duration
	HeartbeatInterval  time.Duration
	// LivenessMargin is the safety margin observers add to the threshold.
	LivenessMargin    time.Duration
	CommandPoll       time.Duration
	MaxCommandWorkers int
	LogPath           string
	LogTailBytes      int
	StoreTimeout      time.Duration
	Logger            *slog.Logger
	Now               func() time.Time
}

type Agent struct {
	project            string
	worker             string
	instance           string
	store              Store
	alerts             AlertSender
	buffer             *errbuf.Buffer
	heartbeat          *heartbeat.Loop
	listener           *listener.Listener
	heartbeatThreshold time.Duration
	storeTimeout       time.Duration
	logPath            string
	logTailBytes       int
	logger             *slog.Logger
	now                func() time.Time

	events       chan event
	quit         chan struct{}
	reporterDone chan struct{}

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New builds an agent and starts its reporter. Call Start to run the
// heartbeat and command listener, and Close when done.
func New(opts Options) (*Agent, error) {
	if err := validateNames(opts.Project, opts.Worker); err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("agent store is required")
	}
	if opts.HeartbeatThreshold <= 0 {
		opts.HeartbeatThreshold = 900 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.LogTailBytes <= 0 {
		opts.LogTailBytes = 16 * 1024
	}
	if opts.LogPath == "" {
		opts.LogPath = "app.log"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.With("project", opts.Project, "worker", opts.Worker)

	a := &Agent{
		project:            opts.Project,
		worker:             opts.Worker,
		instance:           uuid.NewString(),
		store:              opts.Store,
		alerts:             opts.Alerts,
		buffer:             errbuf.New(opts.Store, opts.Project, opts.Worker, errbuf.WithClock(opts.Now)),
		heartbeatThreshold: opts.HeartbeatThreshold,
		storeTimeout:       opts.StoreTimeout,
		logPath:            opts.LogPath,
		logTailBytes:       opts.LogTailBytes,
		logger:             logger,
		now:                opts.Now,
		events:             make(chan event),
		quit:               make(chan struct{}),
		reporterDone:       make(chan struct{}),
	}
	a.heartbeat = heartbeat.New(heartbeat.Options{
		Threshold: opts.HeartbeatThreshold,
		Margin:    opts.LivenessMargin,
		Interval:  opts.HeartbeatInterval,
		Refresh:   a.Refresh,
		Logger:    logger,
		Now:       opts.Now,
	})
	if opts.Subscriber != nil {
		a.listener = listener.New(listener.Options{
			Subscriber: opts.Subscriber,
			Channel:    store.CommandChannel(opts.Project, opts.Worker),
			Poll:       opts.CommandPoll,
			MaxWorkers: opts.MaxCommandWorkers,
			Logger:     logger,
			OnHandled:  func(model.Command) { a.heartbeat.Touch() },
		})
		if err := a.registerCommands(); err != nil {
			return nil, err
		}
	}

	r := &reporter{
		agent:    a,
		counters: Counters{Inventory: map[string]float64{}},
		units:    map[string]model.UnitState{},
	}
	go func() {
		defer close(a.reporterDone)
		r.loop(a.events, a.quit)
	}()
	return a, nil
}

func validateNames(project string, worker string) error {
	for field, value := range map[string]string{"project": project, "worker": worker} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("agent %s is required", field)
		}
		if strings.ContainsAny(value, ":*? \t\n") {
			return fmt.Errorf("agent %s %q contains reserved characters", field, value)
		}
	}
	return nil
}

func (a *Agent) Project() string  { return a.project }
func (a *Agent) Worker() string   { return a.worker }
func (a *Agent) Instance() string { return a.instance }

// Start runs the heartbeat loop and, when configured, the command listener.
// A listener that cannot subscribe is reported but leaves the heartbeat
// running.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	select {
	case <-a.quit:
		return ErrClosed
	default:
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.started = true
	a.heartbeat.Start(runCtx)
	if a.listener != nil {
		if err := a.listener.Start(runCtx); err != nil {
			return fmt.Errorf("start command listener: %w", err)
		}
	}
	return nil
}

// Close stops the background loops and the reporter. Run calls after Close
// return ErrClosed without running the work.
func (a *Agent) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		cancel := a.cancel
		a.mu.Unlock()
		if cancel != nil {
			cancel()
			a.heartbeat.Wait(5 * time.Second)
			if a.listener != nil {
				a.listener.Wait(5 * time.Second)
			}
		}
		close(a.quit)
		<-a.reporterDone
	})
	return nil
}

func (a *Agent) send(ev event) (report, bool) {
	ev.reply = make(chan report, 1)
	select {
	case a.events <- ev:
	case <-a.quit:
		return report{}, false
	}
	return <-ev.reply, true
}

// Refresh rewrites the worker's status record with a fresh timestamp.
func (a *Agent) Refresh(ctx context.Context) error {
	rep, ok := a.send(event{ctx: ctx, kind: eventRefresh})
	if !ok {
		return ErrClosed
	}
	return rep.writeErr
}

// Counters returns a copy of the current cycle's aggregates.
func (a *Agent) Counters() (Counters, error) {
	rep, ok := a.send(event{ctx: context.Background(), kind: eventSnapshot})
	if !ok {
		return Counters{}, ErrClosed
	}
	return rep.counters, nil
}

func (a *Agent) Heartbeat() heartbeat.Snapshot {
	return a.heartbeat.Snapshot()
}

// Notify sends an alert for this worker. Delivery problems are logged, not
// returned.
func (a *Agent) Notify(ctx context.Context, alertType model.AlertType, text string) notify.Delivery {
	if a.alerts == nil {
		return notify.Delivery{Outcome: notify.OutcomeLost}
	}
	delivery, err := a.alerts.Send(ctx, model.Alert{
		Type:    alertType,
		Project: a.project,
		Worker:  a.worker,
		Text:    text,
	})
	if err != nil {
		a.logger.Warn("alert not delivered", "type", string(alertType), "error", err)
	}
	if delivery.Sent() {
		a.heartbeat.Touch()
	}
	return delivery
}
