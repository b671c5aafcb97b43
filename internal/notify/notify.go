// Package notify decides whether an alert may leave a worker, publishes it
// on the shared alert channel, and falls back to a direct send when nobody
// is listening.
package notify

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid"

	"fleetwatch/internal/codec"
	"fleetwatch/internal/model"
)

// Settings is the read side of the mute hierarchy.
type Settings interface {
	MuteAll(ctx context.Context) (bool, error)
	ProjectMuted(ctx context.Context, project string) (bool, error)
	NotifySetting(ctx context.Context, scope string, kind model.NotifyKind) (bool, bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, channel string, payload string) (int64, error)
}

// DirectSender delivers plain text to one known recipient.
type DirectSender interface {
	Send(ctx context.Context, text string) error
}

type Outcome string

const (
	OutcomeKillSwitch   Outcome = "kill_switch"
	OutcomeProjectMuted Outcome = "project_muted"
	OutcomePublished    Outcome = "published"
	OutcomeFallback     Outcome = "fallback"
	// OutcomeLost means nobody was listening and no direct sender is configured.
	OutcomeLost Outcome = "lost"
)

type Delivery struct {
	Outcome   Outcome
	AlertID   string
	Receivers int64
}

func (d Delivery) Sent() bool {
	return d.Outcome == OutcomePublished || d.Outcome == OutcomeFallback
}

type Options struct {
	Settings  Settings
	Publisher Publisher
	Direct    DirectSender
	Channel   string
	Logger    *slog.Logger
	Now       func() time.Time
	Entropy   io.Reader
}

type Dispatcher struct {
	settings  Settings
	publisher Publisher
	direct    DirectSender
	channel   string
	logger    *slog.Logger
	now       func() time.Time
	entropy   io.Reader
}

func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		settings:  opts.Settings,
		publisher: opts.Publisher,
		direct:    opts.Direct,
		channel:   strings.TrimSpace(opts.Channel),
		logger:    opts.Logger,
		now:       opts.Now,
		entropy:   opts.Entropy,
	}
	if d.channel == "" {
		d.channel = DefaultChannel
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.entropy == nil {
		d.entropy = rand.Reader
	}
	return d
}

const DefaultChannel = "alerts"

func (d *Dispatcher) Channel() string {
	return d.channel
}

// Send applies the kill switch and the project mute, then publishes. Error
// alerts ignore the project mute. Settings that cannot be read count as
// unmuted. The returned error is only set when the alert could not be
// delivered by any path.
func (d *Dispatcher) Send(ctx context.Context, alert model.Alert) (Delivery, error) {
	if alert.ID == "" {
		id, err := ulid.New(ulid.Timestamp(d.now()), d.entropy)
		if err == nil {
			alert.ID = id.String()
		}
	}
	delivery := Delivery{AlertID: alert.ID}

	if d.settings != nil {
		killed, err := d.settings.MuteAll(ctx)
		if err != nil {
			d.logger.Debug("read kill switch failed", "error", err)
		}
		if killed {
			delivery.Outcome = OutcomeKillSwitch
			return delivery, nil
		}
		if alert.Type != model.AlertTypeError {
			muted, err := d.settings.ProjectMuted(ctx, alert.Project)
			if err != nil {
				d.logger.Debug("read project mute failed", "project", alert.Project, "error", err)
			}
			if muted {
				delivery.Outcome = OutcomeProjectMuted
				return delivery, nil
			}
		}
	}

	var publishErr error
	if d.publisher != nil {
		payload, err := codec.MarshalString(alert)
		if err != nil {
			return delivery, fmt.Errorf("encode alert: %w", err)
		}
		receivers, err := d.publisher.Publish(ctx, d.channel, payload)
		if err == nil && receivers > 0 {
			delivery.Outcome = OutcomePublished
			delivery.Receivers = receivers
			return delivery, nil
		}
		if err != nil {
			publishErr = err
			d.logger.Warn("alert publish failed", "project", alert.Project, "worker", alert.Worker, "error", err)
		}
	}

	if d.direct == nil {
		delivery.Outcome = OutcomeLost
		return delivery, publishErr
	}
	if err := d.direct.Send(ctx, FormatDirect(alert)); err != nil {
		delivery.Outcome = OutcomeLost
		return delivery, fmt.Errorf("direct send: %w", err)
	}
	delivery.Outcome = OutcomeFallback
	return delivery, nil
}

var directEmoji = map[model.AlertType]string{
	model.AlertTypeSuccess:        "✅",
	model.AlertTypeError:          "❌",
	model.AlertTypeLog:            "📝",
	model.AlertTypeInfo:           "ℹ️",
	model.AlertTypeWorkerFinished: "🏁",
	model.AlertTypeLogDelivery:    "📂",
}

// FormatDirect is the plain layout used when the alert bypasses the observer.
func FormatDirect(alert model.Alert) string {
	emoji, ok := directEmoji[alert.Type]
	if !ok {
		emoji = "ℹ️"
	}
	return fmt.Sprintf("%s %s [%s]\n\n%s", emoji, titleCase(string(alert.Type)), alert.Worker, alert.Text)
}

func titleCase(value string) string {
	words := strings.Fields(strings.ReplaceAll(value, "_", " "))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
