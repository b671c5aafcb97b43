// Package liveness derives a worker's health from its stored status record
// and the wall clock. It keeps no state of its own.
package liveness

import (
	"time"

	"fleetwatch/internal/model"
)

const (
	DefaultThreshold    = 900 * time.Second
	DefaultSafetyMargin = 300 * time.Second
)

type Options struct {
	// DefaultThreshold applies when a record declares no heartbeat_threshold.
	DefaultThreshold time.Duration
	SafetyMargin     time.Duration
}

func (o Options) normalized() Options {
	if o.DefaultThreshold <= 0 {
		o.DefaultThreshold = DefaultThreshold
	}
	if o.SafetyMargin < 0 {
		o.SafetyMargin = 0
	}
	return o
}

type Health struct {
	State     model.State
	Offline   bool
	Malformed bool
	Age       time.Duration
	Threshold time.Duration
}

func (h Health) Glyph() string {
	if h.Offline {
		return model.OfflineGlyph
	}
	return h.State.Glyph()
}

// Label is the short name shown in tables.
func (h Health) Label() string {
	if h.Offline {
		return "offline"
	}
	return string(h.State)
}

// Threshold is the silence a record may show before it counts as offline.
func Threshold(record model.StatusRecord, opts Options) time.Duration {
	opts = opts.normalized()
	declared := opts.DefaultThreshold
	if record.HeartbeatThreshold > 0 {
		declared = time.Duration(record.HeartbeatThreshold) * time.Second
	}
	return declared + opts.SafetyMargin
}

// Classify reports offline only for an active record whose age is strictly
// greater than its threshold.
func Classify(record model.StatusRecord, now time.Time, opts Options) Health {
	threshold := Threshold(record, opts)
	// last_updated is float seconds and carries a few hundred nanoseconds of
	// error, so ages are compared at microsecond precision.
	age := now.Sub(record.UpdatedAt()).Round(time.Microsecond)
	state := record.State
	if state == "" {
		state = model.ParseStateLabel(record.Label)
	}
	return Health{
		State:     state,
		Offline:   state.Active() && age > threshold,
		Age:       age,
		Threshold: threshold,
	}
}

// ClassifyDecoded handles the result of reading a record from the store. A
// decode error yields an unknown, offline health instead of an error.
func ClassifyDecoded(record model.StatusRecord, decodeErr error, now time.Time, opts Options) Health {
	if decodeErr != nil {
		return Health{
			State:     model.StateUnknown,
			Offline:   true,
			Malformed: true,
			Threshold: Threshold(model.StatusRecord{}, opts),
		}
	}
	return Classify(record, now, opts)
}
