package observer

import (
	"context"
	"strings"
	"testing"
	"time"

	"fleetwatch/internal/bus"
	"fleetwatch/internal/model"
	"fleetwatch/internal/notify"
	"fleetwatch/internal/redistest"
	"fleetwatch/internal/store"
)

var fixedTime = time.Date(2024, 5, 1, 9, 7, 0, 0, time.UTC)

func newTestObserver(t *testing.T) (*Observer, *store.RedisStore, *bus.RedisBus) {
	t.Helper()
	_, client := redistest.Start(t)
	s := store.NewRedisStore(client, store.Options{})
	b := bus.NewRedisBus(client)
	o := New(Options{
		Subscriber: b,
		Channel:    "alerts",
		Filter:     notify.NewFilter(s),
		Poll:       20 * time.Millisecond,
		Now:        func() time.Time { return fixedTime },
	})
	return o, s, b
}

func TestHandleDedupesByID(t *testing.T) {
	o, _, _ := newTestObserver(t)
	events, unsubscribe := o.Broker().Subscribe(Subscription{})
	defer unsubscribe()

	payload := `{"id":"01HX","type":"error","project":"farm","worker":"w1","text":"timeout"}`
	if !o.Handle(context.Background(), payload) {
		t.Fatalf("first delivery must pass")
	}
	if o.Handle(context.Background(), payload) {
		t.Fatalf("duplicate id must be dropped")
	}
	if stats := o.Stats(); stats.Duplicates != 1 || stats.Delivered != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	event := <-events
	if event.Text != "🔴 ALARM:\n🤖 farm | w1\n\ntimeout" {
		t.Fatalf("unexpected rendering %q", event.Text)
	}
}

func TestHandleAppliesKindFilter(t *testing.T) {
	ctx := context.Background()
	o, s, _ := newTestObserver(t)
	_ = s.SetNotifySetting(ctx, model.GlobalScope, model.NotifyKindSuccess, false)

	if o.Handle(ctx, `{"type":"success","project":"farm","worker":"w1","text":"ok"}`) {
		t.Fatalf("success alerts disabled globally must be filtered")
	}
	if !o.Handle(ctx, `{"type":"worker_finished","project":"farm","worker":"w1","text":"done"}`) {
		t.Fatalf("worker_finished bypasses kind filter")
	}
	if o.Handle(ctx, `not json`) {
		t.Fatalf("malformed payload must be dropped")
	}
	stats := o.Stats()
	if stats.Filtered != 1 || stats.Malformed != 1 || stats.Received != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRenderLogDeliveryAsAttachment(t *testing.T) {
	event := Render(model.Alert{Type: model.AlertTypeLogDelivery, Project: "farm", Worker: "w1", Text: "log body"}, fixedTime)
	if event.Attachment == nil || event.Attachment.Name != "log_w1_09-07.txt" || event.Attachment.Body != "log body" {
		t.Fatalf("unexpected attachment %+v", event.Attachment)
	}
	if !strings.HasPrefix(event.Text, "📄 Log Received") {
		t.Fatalf("unexpected caption %q", event.Text)
	}
	finished := Render(model.Alert{Type: model.AlertTypeWorkerFinished, Project: "farm", Worker: "w1", Text: "x"}, fixedTime)
	if !strings.HasPrefix(finished.Text, "🏁 JOB COMPLETED:") {
		t.Fatalf("unexpected finished header %q", finished.Text)
	}
}

func TestRunReceivesDispatchedAlerts(t *testing.T) {
	o, s, b := newTestObserver(t)
	events, unsubscribe := o.Broker().Subscribe(Subscription{Project: "farm"})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, ready) }()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("observer never subscribed")
	}

	dispatcher := notify.NewDispatcher(notify.Options{Settings: s, Publisher: b, Channel: "alerts"})
	delivery, err := dispatcher.Send(context.Background(), model.Alert{Type: model.AlertTypeSuccess, Project: "farm", Worker: "w1", Text: "ok"})
	if err != nil || delivery.Outcome != notify.OutcomePublished {
		t.Fatalf("expected published delivery, got %+v err=%v", delivery, err)
	}

	select {
	case event := <-events:
		if event.Alert.ID != delivery.AlertID || !strings.HasPrefix(event.Text, "✅ FINISHED:") {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for alert")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
}

func TestStatsCountBrokerDrops(t *testing.T) {
	o := New(Options{Broker: NewBroker(1), Now: func() time.Time { return fixedTime }})
	events, unsubscribe := o.Broker().Subscribe(Subscription{})
	defer unsubscribe()

	o.Handle(context.Background(), `{"id":"a","type":"error","project":"farm","worker":"w1","text":"first"}`)
	o.Handle(context.Background(), `{"id":"b","type":"error","project":"farm","worker":"w1","text":"second"}`)

	if stats := o.Stats(); stats.Delivered != 2 || stats.Dropped != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if event := <-events; event.Alert.ID != "b" {
		t.Fatalf("expected the newest alert to survive, got %s", event.Alert.ID)
	}
}
