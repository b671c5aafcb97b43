package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fleetwatch/internal/bus"
	"fleetwatch/internal/controller"
	"fleetwatch/internal/model"
	"fleetwatch/internal/notify"
	"fleetwatch/internal/observer"
	"fleetwatch/internal/redistest"
	"fleetwatch/internal/store"
)

type testEnv struct {
	runtime  *Runtime
	store    *store.RedisStore
	bus      *bus.RedisBus
	observer *observer.Observer
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	_, client := redistest.Start(t)
	s := store.NewRedisStore(client, store.Options{})
	b := bus.NewRedisBus(client)
	obs := observer.New(observer.Options{
		Subscriber: b,
		Filter:     notify.NewFilter(s),
	})
	runtime, err := NewRuntime(Options{
		Controller: controller.New(controller.Options{Store: s, Bus: b}),
		Observer:   obs,
		StreamPing: time.Hour,
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return &testEnv{runtime: runtime, store: s, bus: b, observer: obs, handler: runtime.Handler()}
}

func (e *testEnv) do(t *testing.T, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, nil)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	response := httptest.NewRecorder()
	e.handler.ServeHTTP(response, request)
	return response
}

func writeRecord(t *testing.T, s *store.RedisStore, project string, worker string, record model.StatusRecord) {
	t.Helper()
	if err := s.WriteStatus(context.Background(), project, worker, record); err != nil {
		t.Fatalf("write status: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	response := env.do(t, http.MethodGet, "/api/v1/health", "")
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", response.Code, response.Body.String())
	}
	var payload HealthResponse
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if payload.Status != "ok" || !payload.Store.Healthy {
		t.Fatalf("unexpected health %+v", payload)
	}
}

func TestHandleProjectsAndWorkers(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	writeRecord(t, env.store, "farm", "w1", model.StatusRecord{
		State:       model.StateWorking,
		LastUpdated: model.EpochSeconds(now),
		PosCurrent:  3,
		PosTotal:    10,
		Progress:    model.FormatProgress(2, 1, 10),
	})
	writeRecord(t, env.store, "farm", "w2", model.StatusRecord{
		State:       model.StateWorking,
		LastUpdated: model.EpochSeconds(now.Add(-2 * time.Hour)),
	})

	response := env.do(t, http.MethodGet, "/api/v1/projects", "")
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", response.Code, response.Body.String())
	}
	var projects struct {
		Sort     string        `json:"sort"`
		Projects []projectView `json:"projects"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &projects); err != nil {
		t.Fatalf("unmarshal projects: %v", err)
	}
	if len(projects.Projects) != 1 || projects.Projects[0].Name != "farm" {
		t.Fatalf("unexpected projects %+v", projects.Projects)
	}
	if got := projects.Projects[0]; got.Active != 1 || got.Offline != 1 || got.Scale != 10 {
		t.Fatalf("unexpected summary %+v", got)
	}

	response = env.do(t, http.MethodGet, "/api/v1/projects/farm/workers", "")
	var workers struct {
		Workers []workerView `json:"workers"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &workers); err != nil {
		t.Fatalf("unmarshal workers: %v", err)
	}
	if len(workers.Workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(workers.Workers))
	}
	if workers.Workers[0].Worker != "w1" || workers.Workers[0].Offline || workers.Workers[0].Done != 3 {
		t.Fatalf("unexpected w1 view %+v", workers.Workers[0])
	}
	if !workers.Workers[1].Offline || workers.Workers[1].Label != "offline" {
		t.Fatalf("expected w2 offline, got %+v", workers.Workers[1])
	}
}

func TestHandleFailures(t *testing.T) {
	env := newTestEnv(t)
	line := model.NewLogLine(time.Now(), "ERROR", "Worker", "boom").String()
	if err := env.store.CommitFailure(context.Background(), "farm", "w1", "item-7", []string{line}); err != nil {
		t.Fatalf("commit failure: %v", err)
	}

	response := env.do(t, http.MethodGet, "/api/v1/projects/farm/workers/w1/failures", "")
	var list struct {
		Failures []failureView `json:"failures"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal failures: %v", err)
	}
	if len(list.Failures) != 1 || list.Failures[0].Item != "item-7" || !strings.Contains(list.Failures[0].Summary, "boom") {
		t.Fatalf("unexpected failures %+v", list.Failures)
	}

	response = env.do(t, http.MethodGet, "/api/v1/projects/farm/workers/w1/failures?item=7", "")
	if response.Code != http.StatusOK {
		t.Fatalf("expected substring match, got %d: %s", response.Code, response.Body.String())
	}
	response = env.do(t, http.MethodGet, "/api/v1/projects/farm/workers/w1/failures?item=nope", "")
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown item, got %d", response.Code)
	}
}

func TestHandleCommandReportsReceivers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	response := env.do(t, http.MethodPost, "/api/v1/projects/farm/workers/w1/commands", `{"command":"update_status"}`)
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", response.Code, response.Body.String())
	}
	if !strings.Contains(response.Body.String(), `"delivered":false`) {
		t.Fatalf("expected no receivers, got %s", response.Body.String())
	}

	sub, err := env.bus.Subscribe(ctx, store.CommandChannel("farm", "w1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	response = env.do(t, http.MethodPost, "/api/v1/projects/farm/workers/w1/commands", `{"command":"get_log"}`)
	if !strings.Contains(response.Body.String(), `"receivers":1`) {
		t.Fatalf("expected one receiver, got %s", response.Body.String())
	}
	msg, ok, err := sub.Receive(ctx, time.Second)
	if err != nil || !ok || msg.Payload != string(model.CommandGetLog) {
		t.Fatalf("expected get_log on command channel, got %+v ok=%v err=%v", msg, ok, err)
	}

	response = env.do(t, http.MethodPost, "/api/v1/projects/farm/workers/w1/commands", `{"command":"reboot"}`)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown command, got %d", response.Code)
	}
}

func TestHandlePruneWorker(t *testing.T) {
	env := newTestEnv(t)
	writeRecord(t, env.store, "farm", "w1", model.StatusRecord{State: model.StateSleeping, LastUpdated: model.EpochSeconds(time.Now())})

	if response := env.do(t, http.MethodDelete, "/api/v1/projects/farm/workers/w1", ""); response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", response.Code, response.Body.String())
	}
	if response := env.do(t, http.MethodDelete, "/api/v1/projects/farm/workers/w1", ""); response.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second prune, got %d", response.Code)
	}
}

func TestHandleSettingsShowsInheritance(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.SetNotifySetting(context.Background(), model.GlobalScope, model.NotifyKindLog, false); err != nil {
		t.Fatalf("set notify: %v", err)
	}
	response := env.do(t, http.MethodGet, "/api/v1/settings?scope=farm", "")
	var payload struct {
		Scope    string                    `json:"scope"`
		Kinds    map[model.NotifyKind]bool `json:"kinds"`
		Explicit []model.NotifyKind        `json:"explicit"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal settings: %v", err)
	}
	if payload.Kinds[model.NotifyKindLog] || !payload.Kinds[model.NotifyKindSuccess] {
		t.Fatalf("expected log inherited off and success on, got %+v", payload.Kinds)
	}
	if len(payload.Explicit) != 0 {
		t.Fatalf("farm has no explicit flags, got %v", payload.Explicit)
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	env := newTestEnv(t)
	response := env.do(t, http.MethodGet, "/api/v1/nope", "")
	if response.Code != http.StatusNotFound || !strings.Contains(response.Body.String(), "not_found") {
		t.Fatalf("unexpected response %d: %s", response.Code, response.Body.String())
	}
}

func TestAlertStreamRejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	response := env.do(t, http.MethodGet, "/api/v1/alerts/stream?kind=pager", "")
	if response.Code != http.StatusBadRequest || !strings.Contains(response.Body.String(), "invalid_kind") {
		t.Fatalf("unexpected response %d: %s", response.Code, response.Body.String())
	}
}

func TestAlertStreamPushesObservedAlerts(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/alerts/stream?project=farm&kind=error"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()

	// The stream subscribes after the upgrade; keep feeding alerts until
	// one arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
			}
			env.observer.Handle(context.Background(), fmt.Sprintf(`{"id":"other-%d","type":"error","project":"ranch","worker":"w9","text":"skip"}`, i))
			env.observer.Handle(context.Background(), fmt.Sprintf(`{"id":"a-%d","type":"error","project":"farm","worker":"w1","text":"timeout"}`, i))
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, body, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame struct {
		Type  string      `json:"type"`
		Alert model.Alert `json:"alert"`
		Text  string      `json:"text"`
	}
	if err := json.Unmarshal(body, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Type != "alert" || frame.Alert.Project != "farm" {
		t.Fatalf("expected farm alert, got %+v", frame)
	}
	if !strings.HasPrefix(frame.Text, "🔴 ALARM:") {
		t.Fatalf("unexpected text %q", frame.Text)
	}
}
