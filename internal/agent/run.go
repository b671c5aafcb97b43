package agent

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sort"
	"strings"

	"fleetwatch/internal/model"
)

// Run executes one unit of work. It never returns an error: a failing or
// panicking unit becomes a committed failure record plus an error alert,
// and store or channel trouble only costs the report.
func (a *Agent) Run(ctx context.Context, unit Unit, work WorkFunc) Outcome {
	outcome := Outcome{Unit: unit}
	reportCtx := context.WithoutCancel(ctx)

	if _, ok := a.send(event{ctx: reportCtx, kind: eventStarted, unit: unit}); !ok {
		outcome.Err = ErrClosed
		return outcome
	}

	log := newUnitLog(a, reportCtx, unit)
	result, err := a.invoke(ctx, unit, work, log)

	var rep report
	if err == nil {
		if clearErr := a.buffer.Clear(reportCtx, unit.ID); clearErr != nil {
			a.logger.Debug("error buffer clear failed", "item", unit.ID, "error", clearErr)
		}
		rep, _ = a.send(event{ctx: reportCtx, kind: eventSucceeded, unit: unit, fields: numericFields(result.Fields)})
		outcome.Succeeded = true
		a.Notify(reportCtx, model.AlertTypeSuccess, successText(unit, rep.counters, result.Fields))
	} else {
		summary, flushErr := a.buffer.Flush(reportCtx, unit.ID, err.Error())
		if flushErr != nil {
			a.logger.Debug("error buffer flush failed", "item", unit.ID, "error", flushErr)
		}
		outcome.Err = err
		outcome.Summary = summary
		rep, _ = a.send(event{ctx: reportCtx, kind: eventFailed, unit: unit})
		a.Notify(reportCtx, model.AlertTypeError, failureText(unit, err, summary, rep.counters))
	}
	outcome.Record = rep.record

	if rep.finished {
		outcome.Finished = true
		outcome.Final = rep.counters
		a.Notify(reportCtx, model.AlertTypeWorkerFinished, finishedText(rep.counters))
	}
	return outcome
}

func (a *Agent) invoke(ctx context.Context, unit Unit, work WorkFunc, log *UnitLog) (result Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			a.logger.Error("unit panicked", "item", unit.ID, "panic", recovered, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	if work == nil {
		return Result{}, fmt.Errorf("no work function for %s", unit.ID)
	}
	return work(ctx, unit, log)
}

// numericFields drops NaN values, which would poison the inventory.
func numericFields(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for key, value := range in {
		if math.IsNaN(value) {
			continue
		}
		out[key] = value
	}
	return out
}

func successText(unit Unit, counters Counters, fields map[string]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Unit %s completed!\n", shortID(unit.ID))
	fmt.Fprintf(&b, "📊 Stats: %s\n", counters.Progress())
	if len(fields) > 0 {
		b.WriteString("\n🎒 Loot:\n")
		writeInventory(&b, fields)
	}
	return strings.TrimRight(b.String(), "\n")
}

func failureText(unit Unit, err error, summary model.LogLine, counters Counters) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Unit %s failed: %v\n", shortID(unit.ID), err)
	fmt.Fprintf(&b, "📊 Stats: %s\n", counters.Progress())
	if line := summary.Summary(); line != "" {
		fmt.Fprintf(&b, "\n📝 %s", line)
	}
	return strings.TrimRight(b.String(), "\n")
}

func finishedText(counters Counters) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏁 Cycle finished: %s\n", counters.Progress())
	if len(counters.Inventory) > 0 {
		b.WriteString("\n🎒 Total inventory:\n")
		writeInventory(&b, counters.Inventory)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeInventory(b *strings.Builder, inventory map[string]float64) {
	keys := make([]string, 0, len(inventory))
	for key := range inventory {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(b, "• %s: %s\n", key, model.FormatNumber(inventory[key]))
	}
}

func shortID(id string) string {
	runes := []rune(id)
	if len(runes) <= 12 {
		return id
	}
	return string(runes[:12]) + "..."
}
