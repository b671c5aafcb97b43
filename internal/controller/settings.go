package controller

import (
	"context"
	"fmt"

	"fleetwatch/internal/model"
)

// KindSetting is one row of a scope's notification settings.
type KindSetting struct {
	Kind     model.NotifyKind
	Explicit bool
	Value    bool
	// Effective is what the observer would apply for this scope.
	Effective bool
}

type ScopeSettings struct {
	Scope   string
	MuteAll bool
	Muted   bool
	Kinds   []KindSetting
}

func (c *Controller) Settings(ctx context.Context, scope string) (ScopeSettings, error) {
	if scope == "" {
		scope = model.GlobalScope
	}
	out := ScopeSettings{Scope: scope}
	var err error
	if out.MuteAll, err = c.store.MuteAll(ctx); err != nil {
		return out, err
	}
	if scope != model.GlobalScope {
		if out.Muted, err = c.store.ProjectMuted(ctx, scope); err != nil {
			return out, err
		}
	}
	for _, kind := range model.NotifyKinds {
		value, set, err := c.store.NotifySetting(ctx, scope, kind)
		if err != nil {
			return out, err
		}
		out.Kinds = append(out.Kinds, KindSetting{
			Kind:      kind,
			Explicit:  set,
			Value:     value,
			Effective: c.filter.KindEnabled(ctx, scope, kind),
		})
	}
	return out, nil
}

func (c *Controller) SetMuteAll(ctx context.Context, muted bool) error {
	return c.store.SetMuteAll(ctx, muted)
}

func (c *Controller) SetProjectMute(ctx context.Context, project string, muted bool) error {
	if project == "" || project == model.GlobalScope {
		return fmt.Errorf("project mute needs a project name")
	}
	return c.store.SetProjectMute(ctx, project, muted)
}

// SetNotify writes one explicit (scope, kind) flag. GLOBAL writes are not
// copied into project scopes; projects without their own flag inherit.
func (c *Controller) SetNotify(ctx context.Context, scope string, kind model.NotifyKind, enabled bool) error {
	if scope == "" {
		scope = model.GlobalScope
	}
	return c.store.SetNotifySetting(ctx, scope, kind, enabled)
}

func (c *Controller) ResetNotify(ctx context.Context, scope string) error {
	if scope == "" {
		scope = model.GlobalScope
	}
	return c.store.ResetNotifySettings(ctx, scope)
}

func (c *Controller) SetSortMode(ctx context.Context, mode string) error {
	if !validSortMode(mode) {
		return fmt.Errorf("sort mode must be one of %v", SortModes)
	}
	return c.store.SetSortMode(ctx, mode)
}
