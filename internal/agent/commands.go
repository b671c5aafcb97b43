package agent

import (
	"context"

	"fleetwatch/internal/listener"
	"fleetwatch/internal/model"
)

func (a *Agent) registerCommands() error {
	if err := a.listener.RegisterHandler(model.CommandUpdateStatus, a.handleUpdateStatus); err != nil {
		return err
	}
	return a.listener.RegisterAsyncHandler(model.CommandGetLog, a.handleGetLog)
}

func (a *Agent) handleUpdateStatus(ctx context.Context, _ model.Command) error {
	return a.Refresh(ctx)
}

func (a *Agent) handleGetLog(ctx context.Context, _ model.Command) error {
	text, err := listener.LogSnapshot(a.logPath, a.logTailBytes)
	if err != nil {
		a.Notify(ctx, model.AlertTypeError, "Log Error: "+err.Error())
		return err
	}
	a.Notify(ctx, model.AlertTypeLogDelivery, text)
	return nil
}
