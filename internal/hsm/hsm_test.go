package hsm

import (
	"testing"

	"fleetwatch/internal/model"
)

func TestUnitTransitions(t *testing.T) {
	if !CanTransitionUnit(model.UnitStateIdle, model.UnitStateRunning) {
		t.Fatalf("expected idle -> running transition to be allowed")
	}
	if !CanTransitionUnit(model.UnitStateRunning, model.UnitStateFailed) {
		t.Fatalf("expected running -> failed transition to be allowed")
	}
	if !CanTransitionUnit(model.UnitStateSucceeded, model.UnitStateIdle) {
		t.Fatalf("expected succeeded -> idle cycle reset to be allowed")
	}
	if CanTransitionUnit(model.UnitStateIdle, model.UnitStateSucceeded) {
		t.Fatalf("expected idle -> succeeded transition to be disallowed")
	}
	if CanTransitionUnit(model.UnitStateFailed, model.UnitStateSucceeded) {
		t.Fatalf("expected failed -> succeeded transition to be disallowed")
	}
}

func TestWorkerTransitions(t *testing.T) {
	if !CanTransitionWorker(model.StateWorking, model.StateSleeping) {
		t.Fatalf("expected working -> sleeping transition to be allowed")
	}
	if !CanTransitionWorker(model.StateError, model.StateWorking) {
		t.Fatalf("expected error -> working transition to be allowed")
	}
	if !CanTransitionWorker(model.StateUnknown, model.StateSleeping) {
		t.Fatalf("expected a first refresh to write sleeping")
	}
	if CanTransitionWorker(model.StateSleeping, model.StateError) {
		t.Fatalf("expected sleeping -> error transition to be disallowed")
	}
}
