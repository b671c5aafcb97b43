// Package observer consumes the shared alert channel on the controller side.
package observer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fleetwatch/internal/bus"
	"fleetwatch/internal/codec"
	"fleetwatch/internal/model"
	"fleetwatch/internal/notify"
)

type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (*bus.Subscription, error)
}

type Stats struct {
	Received   int64 `json:"received"`
	Delivered  int64 `json:"delivered"`
	Duplicates int64 `json:"duplicates"`
	Filtered   int64 `json:"filtered"`
	Malformed  int64 `json:"malformed"`
	// Dropped counts events lost by consumers that fell behind.
	Dropped int64 `json:"dropped"`
}

type Options struct {
	Subscriber Subscriber
	Channel    string
	Filter     *notify.Filter
	Broker     *Broker
	Poll       time.Duration
	// DedupeWindow is how many recent alert ids are remembered.
	DedupeWindow int
	Logger       *slog.Logger
	Now          func() time.Time
}

type Observer struct {
	subscriber Subscriber
	channel    string
	filter     *notify.Filter
	broker     *Broker
	poll       time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
	stats Stats
}

func New(opts Options) *Observer {
	if strings.TrimSpace(opts.Channel) == "" {
		opts.Channel = notify.DefaultChannel
	}
	if opts.Broker == nil {
		opts.Broker = NewBroker(0)
	}
	if opts.Poll <= 0 {
		opts.Poll = 500 * time.Millisecond
	}
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Observer{
		subscriber: opts.Subscriber,
		channel:    strings.TrimSpace(opts.Channel),
		filter:     opts.Filter,
		broker:     opts.Broker,
		poll:       opts.Poll,
		logger:     opts.Logger,
		now:        opts.Now,
		seen:       make(map[string]struct{}),
		limit:      opts.DedupeWindow,
	}
}

func (o *Observer) Broker() *Broker {
	return o.broker
}

func (o *Observer) Stats() Stats {
	o.mu.Lock()
	stats := o.stats
	o.mu.Unlock()
	stats.Dropped = o.broker.Dropped()
	return stats
}

// Run subscribes and processes alerts until ctx is cancelled. ready, when
// not nil, is closed once the subscription is confirmed.
func (o *Observer) Run(ctx context.Context, ready chan<- struct{}) error {
	if o.subscriber == nil {
		return fmt.Errorf("observer needs a subscriber")
	}
	sub, err := o.subscriber.Subscribe(ctx, o.channel)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", o.channel, err)
	}
	defer sub.Close()
	if ready != nil {
		close(ready)
	}

	for {
		msg, ok, err := sub.Receive(ctx, o.poll)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			o.logger.Warn("alert receive failed", "channel", o.channel, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if ok {
			o.Handle(ctx, msg.Payload)
		}
	}
}

// Handle processes one raw alert payload and reports whether it was
// delivered to the broker.
func (o *Observer) Handle(ctx context.Context, payload string) bool {
	o.count(func(s *Stats) { s.Received++ })

	var alert model.Alert
	if err := codec.UnmarshalString(payload, &alert); err != nil {
		o.count(func(s *Stats) { s.Malformed++ })
		o.logger.Debug("dropping malformed alert", "error", err)
		return false
	}
	if alert.Type == "" {
		alert.Type = model.AlertTypeInfo
	}
	if o.duplicate(alert.ID) {
		o.count(func(s *Stats) { s.Duplicates++ })
		return false
	}
	if o.filter != nil && !o.filter.Allowed(ctx, alert) {
		o.count(func(s *Stats) { s.Filtered++ })
		return false
	}
	o.broker.Publish(Render(alert, o.now()))
	o.count(func(s *Stats) { s.Delivered++ })
	return true
}

// duplicate remembers id and reports whether it was already seen. Alerts
// without an id are never treated as duplicates.
func (o *Observer) duplicate(id string) bool {
	if id == "" {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.seen[id]; ok {
		return true
	}
	o.seen[id] = struct{}{}
	o.order = append(o.order, id)
	if len(o.order) > o.limit {
		delete(o.seen, o.order[0])
		o.order = o.order[1:]
	}
	return false
}

func (o *Observer) count(update func(*Stats)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	update(&o.stats)
}
