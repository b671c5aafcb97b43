// Package listener runs one worker's command subscription loop.
package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"fleetwatch/internal/bus"
	"fleetwatch/internal/model"
)

var ErrAlreadyStarted = errors.New("command listener already started")

type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (*bus.Subscription, error)
}

type Handler func(ctx context.Context, cmd model.Command) error

type registration struct {
	handler Handler
	async   bool
}

type Options struct {
	Subscriber Subscriber
	Channel    string
	// Poll bounds a single wait for the next message.
	Poll time.Duration
	// MaxWorkers bounds concurrently running async handlers.
	MaxWorkers int
	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration
	Logger       *slog.Logger
	// OnHandled runs after every recognized command, whatever its result.
	OnHandled func(model.Command)
}

type Listener struct {
	subscriber   Subscriber
	channel      string
	poll         time.Duration
	errorBackoff time.Duration
	logger       *slog.Logger
	onHandled    func(model.Command)
	workers      sizedwaitgroup.SizedWaitGroup

	mu       sync.RWMutex
	handlers map[model.Command]registration
	running  bool
	doneChan chan struct{}
}

func New(opts Options) *Listener {
	if opts.Poll <= 0 {
		opts.Poll = time.Second
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Listener{
		subscriber:   opts.Subscriber,
		channel:      strings.TrimSpace(opts.Channel),
		poll:         opts.Poll,
		errorBackoff: opts.ErrorBackoff,
		logger:       opts.Logger,
		onHandled:    opts.OnHandled,
		workers:      sizedwaitgroup.New(opts.MaxWorkers),
		handlers:     make(map[model.Command]registration),
	}
}

// RegisterHandler runs handler inline on the poll loop.
func (l *Listener) RegisterHandler(cmd model.Command, handler Handler) error {
	return l.register(cmd, handler, false)
}

// RegisterAsyncHandler runs handler on a bounded one-shot goroutine so slow
// work does not stall polling.
func (l *Listener) RegisterAsyncHandler(cmd model.Command, handler Handler) error {
	return l.register(cmd, handler, true)
}

func (l *Listener) register(cmd model.Command, handler Handler, async bool) error {
	if strings.TrimSpace(string(cmd)) == "" {
		return fmt.Errorf("command verb is required")
	}
	if handler == nil {
		return fmt.Errorf("handler for %s is required", cmd)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[cmd] = registration{handler: handler, async: async}
	return nil
}

// Start subscribes before returning, so commands published afterwards are
// seen. The loop stops when ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	if l.subscriber == nil || l.channel == "" {
		return fmt.Errorf("command listener needs a subscriber and a channel")
	}
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	sub, err := l.subscriber.Subscribe(ctx, l.channel)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("subscribe to %s: %w", l.channel, err)
	}
	l.running = true
	l.doneChan = make(chan struct{})
	done := l.doneChan
	l.mu.Unlock()

	go func() {
		defer close(done)
		l.loop(ctx, sub)
		l.workers.Wait()
		_ = sub.Close()
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()
	return nil
}

func (l *Listener) Wait(timeout time.Duration) bool {
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

func (l *Listener) loop(ctx context.Context, sub *bus.Subscription) {
	for ctx.Err() == nil {
		msg, ok, err := sub.Receive(ctx, l.poll)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("command receive failed", "channel", l.channel, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.errorBackoff):
			}
			continue
		}
		if ok {
			l.Dispatch(ctx, msg.Payload)
		}
	}
}

// Dispatch handles one raw payload. Unknown verbs are logged and dropped.
func (l *Listener) Dispatch(ctx context.Context, payload string) {
	cmd, known := model.ParseCommand(payload)
	l.mu.RLock()
	reg, registered := l.handlers[cmd]
	l.mu.RUnlock()
	if !known || !registered {
		l.logger.Info("ignoring unknown command", "channel", l.channel, "payload", payload)
		return
	}

	if !reg.async {
		l.run(ctx, cmd, reg.handler)
		return
	}
	if err := l.workers.AddWithContext(ctx); err != nil {
		return
	}
	go func() {
		defer l.workers.Done()
		l.run(ctx, cmd, reg.handler)
	}()
}

func (l *Listener) run(ctx context.Context, cmd model.Command, handler Handler) {
	if err := handler(ctx, cmd); err != nil {
		l.logger.Warn("command handler failed", "command", string(cmd), "error", err)
	} else {
		l.logger.Debug("command handled", "command", string(cmd))
	}
	if l.onHandled != nil {
		l.onHandled(cmd)
	}
}
