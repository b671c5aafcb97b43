package agent

import (
	"context"
	"fmt"

	"fleetwatch/internal/model"
)

// UnitLog is handed to a running unit. Every line goes to the agent's logger
// and to the unit's error buffer, so a failure commits the full history.
type UnitLog struct {
	agent  *Agent
	ctx    context.Context
	unit   Unit
	source string
}

func newUnitLog(a *Agent, ctx context.Context, unit Unit) *UnitLog {
	return &UnitLog{agent: a, ctx: ctx, unit: unit, source: "Worker"}
}

// WithSource returns a log writing lines under a different source column.
func (l *UnitLog) WithSource(source string) *UnitLog {
	clone := *l
	clone.source = source
	return &clone
}

func (l *UnitLog) Info(format string, args ...any) {
	l.write(model.LevelInfo, fmt.Sprintf(format, args...))
}

func (l *UnitLog) Warning(format string, args ...any) {
	l.write(model.LevelWarning, fmt.Sprintf(format, args...))
}

func (l *UnitLog) Error(format string, args ...any) {
	l.write(model.LevelError, fmt.Sprintf(format, args...))
}

func (l *UnitLog) write(level string, message string) {
	attrs := []any{"item", l.unit.ID, "source", l.source}
	switch level {
	case model.LevelError:
		l.agent.logger.Error(message, attrs...)
	case model.LevelWarning:
		l.agent.logger.Warn(message, attrs...)
	default:
		l.agent.logger.Info(message, attrs...)
	}
	line := model.NewLogLine(l.agent.now(), level, l.source, message)
	if err := l.agent.buffer.Append(l.ctx, l.unit.ID, line); err != nil {
		l.agent.logger.Debug("error buffer append failed", "item", l.unit.ID, "error", err)
	}
}
