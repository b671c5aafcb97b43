package liveness

import (
	"errors"
	"testing"
	"time"

	"fleetwatch/internal/model"
)

func TestWorkingBoundaryIsExclusive(t *testing.T) {
	cases := []struct {
		threshold int
		margin    time.Duration
	}{
		{threshold: 0, margin: 300 * time.Second},
		{threshold: 60, margin: 300 * time.Second},
		{threshold: 3600, margin: 0},
		{threshold: 1, margin: 5 * time.Second},
	}
	for _, tc := range cases {
		opts := Options{DefaultThreshold: 900 * time.Second, SafetyMargin: tc.margin}
		record := model.StatusRecord{
			State:              model.StateWorking,
			LastUpdated:        1700000000,
			HeartbeatThreshold: tc.threshold,
		}
		limit := Threshold(record, opts)
		at := record.UpdatedAt().Add(limit)

		if h := Classify(record, at, opts); h.Offline {
			t.Fatalf("threshold=%d margin=%s: expected online at exact boundary", tc.threshold, tc.margin)
		}
		if h := Classify(record, at.Add(time.Second), opts); !h.Offline {
			t.Fatalf("threshold=%d margin=%s: expected offline past boundary", tc.threshold, tc.margin)
		}
	}
}

func TestSubSecondWritesKeepBoundaryExclusive(t *testing.T) {
	opts := Options{DefaultThreshold: 900 * time.Second, SafetyMargin: 300 * time.Second}
	base := time.Unix(1700000000, 0)
	for i := 0; i < 500; i++ {
		written := base.Add(time.Duration(i)*7919*time.Microsecond + time.Duration(i*37)*time.Nanosecond)
		record := model.StatusRecord{
			State:       model.StateWorking,
			LastUpdated: model.EpochSeconds(written),
		}
		limit := Threshold(record, opts)
		if h := Classify(record, written.Add(limit), opts); h.Offline {
			t.Fatalf("written=%s: offline at exact boundary (age %s)", written.Format(time.RFC3339Nano), h.Age)
		}
		if h := Classify(record, written.Add(limit+time.Millisecond), opts); !h.Offline {
			t.Fatalf("written=%s: expected offline just past boundary", written.Format(time.RFC3339Nano))
		}
	}
}

func TestDefaultThresholdApplies(t *testing.T) {
	record := model.StatusRecord{State: model.StateWorking, LastUpdated: 1000}
	if got := Threshold(record, Options{SafetyMargin: 300 * time.Second}); got != 1200*time.Second {
		t.Fatalf("expected 1200s, got %s", got)
	}
}

func TestNonActiveStatesNeverOffline(t *testing.T) {
	now := time.Unix(1700000000, 0)
	for _, state := range []model.State{model.StateError, model.StateDone, model.StateSleeping, model.StateStopped, model.StateUnknown} {
		record := model.StatusRecord{State: state, LastUpdated: 0}
		h := Classify(record, now, Options{})
		if h.Offline {
			t.Fatalf("state %s must not be offline", state)
		}
		if h.State != state {
			t.Fatalf("expected state %s, got %s", state, h.State)
		}
	}
}

func TestLabelWithErrorAndWorkingIsError(t *testing.T) {
	record := model.StatusRecord{Label: "error while Working 🟢", LastUpdated: 0}
	h := Classify(record, time.Unix(1700000000, 0), Options{})
	if h.State != model.StateError || h.Offline {
		t.Fatalf("expected error-dominant and online, got %+v", h)
	}
	if h.Glyph() != model.StateError.Glyph() {
		t.Fatalf("unexpected glyph %s", h.Glyph())
	}
}

func TestMalformedRecordIsUnknownOffline(t *testing.T) {
	h := ClassifyDecoded(model.StatusRecord{}, errors.New("bad json"), time.Now(), Options{})
	if !h.Offline || !h.Malformed || h.State != model.StateUnknown {
		t.Fatalf("unexpected health %+v", h)
	}
	if h.Label() != "offline" || h.Glyph() != model.OfflineGlyph {
		t.Fatalf("unexpected presentation %s %s", h.Label(), h.Glyph())
	}
}
