// Package hsm holds the allowed transitions of units of work and of the
// worker state written to the store.
package hsm

import "fleetwatch/internal/model"

var unitTransitions = map[model.UnitState]map[model.UnitState]bool{
	model.UnitStateIdle: {
		model.UnitStateRunning: true,
	},
	model.UnitStateRunning: {
		model.UnitStateSucceeded: true,
		model.UnitStateFailed:    true,
	},
	model.UnitStateSucceeded: {
		model.UnitStateIdle: true,
	},
	model.UnitStateFailed: {
		model.UnitStateIdle: true,
	},
}

var workerTransitions = map[model.State]map[model.State]bool{
	model.StateUnknown: {
		model.StateWorking:  true,
		model.StateSleeping: true,
	},
	model.StateWorking: {
		model.StateSleeping: true,
		model.StateError:    true,
		model.StateDone:     true,
		model.StateStopped:  true,
	},
	model.StateSleeping: {
		model.StateWorking: true,
		model.StateStopped: true,
	},
	model.StateError: {
		model.StateWorking: true,
		model.StateStopped: true,
	},
	model.StateDone: {
		model.StateWorking: true,
	},
	model.StateStopped: {
		model.StateWorking: true,
	},
}

func CanTransitionUnit(from model.UnitState, to model.UnitState) bool {
	if from == to {
		return true
	}
	return unitTransitions[from][to]
}

func CanTransitionWorker(from model.State, to model.State) bool {
	if from == to {
		return true
	}
	return workerTransitions[from][to]
}
