package notify

import (
	"context"

	"fleetwatch/internal/model"
)

// Filter is the observer side of the mute hierarchy.
type Filter struct {
	settings Settings
}

func NewFilter(settings Settings) *Filter {
	return &Filter{settings: settings}
}

// KindEnabled resolves one (project, kind) setting: an explicit project value
// wins, then GLOBAL, then enabled.
func (f *Filter) KindEnabled(ctx context.Context, project string, kind model.NotifyKind) bool {
	if project != "" && project != model.GlobalScope {
		if value, set, err := f.settings.NotifySetting(ctx, project, kind); err == nil && set {
			return value
		}
	}
	if value, set, err := f.settings.NotifySetting(ctx, model.GlobalScope, kind); err == nil && set {
		return value
	}
	return true
}

// Allowed runs the full chain for an incoming alert. Errors and the
// bypass types only answer to the kill switch and project mute.
func (f *Filter) Allowed(ctx context.Context, alert model.Alert) bool {
	if killed, err := f.settings.MuteAll(ctx); err == nil && killed {
		return false
	}
	if alert.Type != model.AlertTypeError {
		if muted, err := f.settings.ProjectMuted(ctx, alert.Project); err == nil && muted {
			return false
		}
	}
	if alert.Type == model.AlertTypeError || alert.Type.BypassesKindFilter() {
		return true
	}
	return f.KindEnabled(ctx, alert.Project, alert.Type.Kind())
}
