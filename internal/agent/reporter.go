package agent

import (
	"context"
	"time"

	"fleetwatch/internal/hsm"
	"fleetwatch/internal/model"
)

type eventKind int

const (
	eventStarted eventKind = iota
	eventSucceeded
	eventFailed
	eventRefresh
	eventSnapshot
)

type event struct {
	ctx    context.Context
	kind   eventKind
	unit   Unit
	fields map[string]float64
	reply  chan report
}

type report struct {
	record   model.StatusRecord
	written  bool
	writeErr error
	finished bool
	counters Counters
}

// Counters are the per-cycle aggregates owned by the reporter goroutine.
type Counters struct {
	Success   int
	Failed    int
	Total     int
	Inventory map[string]float64
}

func (c Counters) Progress() string {
	return model.FormatProgress(c.Success, c.Failed, c.Total)
}

func (c Counters) Done() int {
	return c.Success + c.Failed
}

// reporter owns the counters, the inventory and the last written record.
// Status writes happen here so they stay ordered per worker.
type reporter struct {
	agent       *Agent
	counters    Counters
	last        *model.StatusRecord
	lastUpdated float64
	// units tracks units between their start and finish events.
	units map[string]model.UnitState
}

func (r *reporter) loop(events <-chan event, quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case ev := <-events:
			ev.reply <- r.handle(ev)
		}
	}
}

func (r *reporter) handle(ev event) report {
	ctx := ev.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	switch ev.kind {
	case eventStarted:
		unit := ev.unit
		r.advanceUnit(unit.ID, model.UnitStateRunning)
		if unit.Position == 1 && unit.Total > 0 && r.counters.Done() >= unit.Total {
			r.reset()
		}
		r.counters.Total = unit.Total
		return r.write(ctx, r.build(model.StateWorking, unit), false)

	case eventSucceeded, eventFailed:
		unit := ev.unit
		if ev.kind == eventSucceeded {
			r.advanceUnit(unit.ID, model.UnitStateSucceeded)
			r.counters.Success++
			for key, value := range ev.fields {
				r.counters.Inventory[key] += value
			}
		} else {
			r.advanceUnit(unit.ID, model.UnitStateFailed)
			r.counters.Failed++
		}
		delete(r.units, unit.ID)
		r.counters.Total = unit.Total
		finished := r.counters.Total > 0 && r.counters.Done() >= r.counters.Total
		state := model.StateWorking
		if finished {
			state = model.StateSleeping
			if r.counters.Failed > 0 {
				state = model.StateError
			}
		}
		rep := r.write(ctx, r.build(state, unit), finished)
		if finished {
			r.reset()
		}
		return rep

	case eventRefresh:
		if r.last == nil {
			return r.write(ctx, r.build(model.StateSleeping, Unit{}), false)
		}
		record := *r.last
		record.Inventory = model.CloneInventory(r.last.Inventory)
		record.LastUpdated = r.timestamp()
		return r.write(ctx, record, false)

	default:
		return report{counters: r.snapshot()}
	}
}

// advanceUnit records a unit transition. Out-of-order events are logged,
// never rejected.
func (r *reporter) advanceUnit(id string, to model.UnitState) {
	from, ok := r.units[id]
	if !ok {
		from = model.UnitStateIdle
	}
	if !hsm.CanTransitionUnit(from, to) || (from == to && to == model.UnitStateRunning) {
		r.agent.logger.Warn("unexpected unit transition", "item", id, "from", string(from), "to", string(to))
	}
	r.units[id] = to
}

func (r *reporter) build(state model.State, unit Unit) model.StatusRecord {
	return model.StatusRecord{
		State:              state,
		Label:              state.Label(),
		CurrentAccount:     unit.ID,
		LastUpdated:        r.timestamp(),
		HeartbeatThreshold: int(r.agent.heartbeatThreshold / time.Second),
		PosCurrent:         unit.Position,
		PosTotal:           r.counters.Total,
		Progress:           r.counters.Progress(),
		Instance:           r.agent.instance,
		Inventory:          model.CloneInventory(r.counters.Inventory),
	}
}

// timestamp never goes backwards, even if the wall clock does.
func (r *reporter) timestamp() float64 {
	ts := model.EpochSeconds(r.agent.now())
	if ts < r.lastUpdated {
		ts = r.lastUpdated
	}
	r.lastUpdated = ts
	return ts
}

func (r *reporter) write(ctx context.Context, record model.StatusRecord, finished bool) report {
	previous := model.StateUnknown
	if r.last != nil {
		previous = r.last.State
	}
	if !hsm.CanTransitionWorker(previous, record.State) {
		r.agent.logger.Debug("unexpected worker state transition", "from", string(previous), "to", string(record.State))
	}
	last := record
	r.last = &last
	rep := report{record: record, finished: finished, counters: r.snapshot()}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.agent.storeTimeout)
	defer cancel()
	rep.writeErr = r.agent.store.WriteStatus(writeCtx, r.agent.project, r.agent.worker, record)
	rep.written = rep.writeErr == nil
	if rep.written {
		r.agent.heartbeat.Touch()
	} else {
		r.agent.logger.Debug("status write skipped", "project", r.agent.project, "worker", r.agent.worker, "error", rep.writeErr)
	}
	return rep
}

func (r *reporter) snapshot() Counters {
	out := r.counters
	out.Inventory = model.CloneInventory(r.counters.Inventory)
	return out
}

func (r *reporter) reset() {
	r.counters = Counters{Inventory: map[string]float64{}}
}
