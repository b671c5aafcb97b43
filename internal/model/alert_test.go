package model

import "testing"

func TestAlertTypeKind(t *testing.T) {
	cases := map[AlertType]NotifyKind{
		AlertTypeSuccess:        NotifyKindSuccess,
		AlertTypeError:          NotifyKindError,
		AlertTypeLog:            NotifyKindLog,
		AlertTypeInfo:           NotifyKindOther,
		AlertType("progress"):   NotifyKindOther,
		AlertType("log_stream"): NotifyKindLog,
	}
	for alertType, want := range cases {
		if got := alertType.Kind(); got != want {
			t.Fatalf("%s.Kind() = %s, want %s", alertType, got, want)
		}
	}
}

func TestBypassesKindFilter(t *testing.T) {
	if !AlertTypeWorkerFinished.BypassesKindFilter() || !AlertTypeLogDelivery.BypassesKindFilter() {
		t.Fatalf("expected worker_finished and log_delivery to bypass kind filtering")
	}
	if AlertTypeSuccess.BypassesKindFilter() {
		t.Fatalf("expected success to be kind-filtered")
	}
}

func TestParseCommand(t *testing.T) {
	if cmd, ok := ParseCommand(" get_log "); !ok || cmd != CommandGetLog {
		t.Fatalf("expected get_log, got %q %t", cmd, ok)
	}
	if _, ok := ParseCommand("reboot"); ok {
		t.Fatalf("expected unknown verb to be rejected")
	}
}

func TestParseNotifyKind(t *testing.T) {
	if kind, ok := ParseNotifyKind("SUCCESS"); !ok || kind != NotifyKindSuccess {
		t.Fatalf("expected success kind, got %q %t", kind, ok)
	}
	if _, ok := ParseNotifyKind("verbose"); ok {
		t.Fatalf("expected unknown kind to be rejected")
	}
}
