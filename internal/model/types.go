package model

import "strings"

// State is the closed set of worker states. Free-text labels only exist on
// the wire; see ParseStateLabel and State.Label.
type State string

const (
	StateWorking  State = "working"
	StateError    State = "error"
	StateDone     State = "done"
	StateSleeping State = "sleeping"
	StateStopped  State = "stopped"
	StateUnknown  State = "unknown"
)

type UnitState string

const (
	UnitStateIdle      UnitState = "idle"
	UnitStateRunning   UnitState = "running"
	UnitStateSucceeded UnitState = "succeeded"
	UnitStateFailed    UnitState = "failed"
)

var stateLabels = map[State]string{
	StateWorking:  "Working 🟢",
	StateError:    "Error ❌",
	StateDone:     "Done 🏁",
	StateSleeping: "Sleeping 💤",
	StateStopped:  "Stopped 🛑",
	StateUnknown:  "Unknown",
}

var stateGlyphs = map[State]string{
	StateWorking:  "🟢",
	StateError:    "🔴",
	StateDone:     "🏁",
	StateSleeping: "💤",
	StateStopped:  "🛑",
	StateUnknown:  "⚪️",
}

// OfflineGlyph is shown instead of the state glyph once a working record has gone stale.
const OfflineGlyph = "🔇"

func (s State) Label() string {
	if label, ok := stateLabels[s]; ok {
		return label
	}
	return stateLabels[StateUnknown]
}

func (s State) Glyph() string {
	if glyph, ok := stateGlyphs[s]; ok {
		return glyph
	}
	return stateGlyphs[StateUnknown]
}

func (s State) Active() bool {
	return s == StateWorking
}

func (s State) Terminal() bool {
	return s == StateError || s == StateDone || s == StateSleeping || s == StateStopped
}

// ParseStateLabel maps a legacy free-text label onto State. The error check
// runs before the active check, so "error while working" is StateError.
func ParseStateLabel(label string) State {
	st := strings.ToLower(strings.TrimSpace(label))
	switch {
	case st == "":
		return StateUnknown
	case strings.Contains(st, "error") || strings.Contains(st, "fail"):
		return StateError
	case strings.Contains(st, "working") || strings.Contains(st, "active"):
		return StateWorking
	case strings.Contains(st, "done") || strings.Contains(st, "finish"):
		return StateDone
	case strings.Contains(st, "sleep"):
		return StateSleeping
	case strings.Contains(st, "stop"):
		return StateStopped
	default:
		return StateUnknown
	}
}
