package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fleetwatch/internal/codec"
	"fleetwatch/internal/controller"
	"fleetwatch/internal/model"
	"fleetwatch/internal/store"
)

func (r *Runtime) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", r.handleHealth)
	mux.HandleFunc("GET /api/v1/projects", r.handleProjects)
	mux.HandleFunc("GET /api/v1/projects/{project}/workers", r.handleWorkers)
	mux.HandleFunc("DELETE /api/v1/projects/{project}/workers/{worker}", r.handlePruneWorker)
	mux.HandleFunc("GET /api/v1/projects/{project}/workers/{worker}/failures", r.handleFailures)
	mux.HandleFunc("POST /api/v1/projects/{project}/workers/{worker}/commands", r.handleCommand)
	mux.HandleFunc("GET /api/v1/settings", r.handleSettings)
	mux.HandleFunc("GET /api/v1/alerts/stream", r.handleAlertStream)
	mux.HandleFunc("/", r.handleNotFound)
}

type projectView struct {
	Name        string     `json:"name"`
	Workers     int        `json:"workers"`
	Active      int        `json:"active"`
	Sleeping    int        `json:"sleeping"`
	Errors      int        `json:"errors"`
	Offline     int        `json:"offline"`
	Scale       int        `json:"scale"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

type workerView struct {
	Worker         string             `json:"worker"`
	State          model.State        `json:"state"`
	Label          string             `json:"label"`
	Offline        bool               `json:"offline"`
	Malformed      bool               `json:"malformed,omitempty"`
	AgeSeconds     float64            `json:"age_seconds"`
	ThresholdSecs  float64            `json:"threshold_seconds"`
	CurrentAccount string             `json:"current_account,omitempty"`
	Progress       string             `json:"progress,omitempty"`
	Done           int                `json:"done"`
	Total          int                `json:"total"`
	Failures       int64              `json:"failures"`
	Inventory      map[string]float64 `json:"inventory,omitempty"`
}

type failureView struct {
	Item    string   `json:"item"`
	Summary string   `json:"summary"`
	Lines   []string `json:"lines"`
}

type commandRequest struct {
	Command string `json:"command"`
}

func (r *Runtime) handleProjects(w http.ResponseWriter, req *http.Request) {
	summaries, mode, err := r.controller.Projects(req.Context(), strings.TrimSpace(req.URL.Query().Get("sort")))
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "list_projects_failed", err.Error())
		return
	}
	projects := make([]projectView, 0, len(summaries))
	for _, summary := range summaries {
		view := projectView{
			Name:     summary.Name,
			Workers:  summary.Workers,
			Active:   summary.Active,
			Sleeping: summary.Sleeping,
			Errors:   summary.Errors,
			Offline:  summary.Offline,
			Scale:    summary.Scale,
		}
		if !summary.LastUpdated.IsZero() {
			updated := summary.LastUpdated.UTC()
			view.LastUpdated = &updated
		}
		projects = append(projects, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sort": mode, "projects": projects})
}

func (r *Runtime) handleWorkers(w http.ResponseWriter, req *http.Request) {
	project := req.PathValue("project")
	views, err := r.controller.Workers(req.Context(), project)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "list_workers_failed", err.Error())
		return
	}
	workers := make([]workerView, 0, len(views))
	for _, view := range views {
		workers = append(workers, newWorkerView(view))
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project, "workers": workers})
}

func newWorkerView(view controller.WorkerView) workerView {
	return workerView{
		Worker:         view.Worker,
		State:          view.Health.State,
		Label:          view.Health.Label(),
		Offline:        view.Health.Offline,
		Malformed:      view.Health.Malformed,
		AgeSeconds:     view.Health.Age.Seconds(),
		ThresholdSecs:  view.Health.Threshold.Seconds(),
		CurrentAccount: view.Record.CurrentAccount,
		Progress:       view.Record.Progress,
		Done:           view.Progress.Done,
		Total:          view.Progress.Total,
		Failures:       view.Failures,
		Inventory:      view.Record.Inventory,
	}
}

func (r *Runtime) handlePruneWorker(w http.ResponseWriter, req *http.Request) {
	removed, err := r.controller.PruneWorker(req.Context(), req.PathValue("project"), req.PathValue("worker"))
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "prune_failed", err.Error())
		return
	}
	if !removed {
		writeAPIError(w, http.StatusNotFound, "worker_not_found", "worker has no status record")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (r *Runtime) handleFailures(w http.ResponseWriter, req *http.Request) {
	project, worker := req.PathValue("project"), req.PathValue("worker")
	if item := strings.TrimSpace(req.URL.Query().Get("item")); item != "" {
		entry, err := r.controller.FailureLog(req.Context(), project, worker, item)
		if errors.Is(err, store.ErrNotFound) {
			writeAPIError(w, http.StatusNotFound, "failure_not_found", fmt.Sprintf("no failure log matches %q", item))
			return
		}
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "failure_log_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"failure": newFailureView(entry)})
		return
	}
	entries, err := r.controller.Failures(req.Context(), project, worker)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "list_failures_failed", err.Error())
		return
	}
	failures := make([]failureView, 0, len(entries))
	for _, entry := range entries {
		failures = append(failures, newFailureView(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

func newFailureView(entry model.FailureEntry) failureView {
	view := failureView{Item: entry.Item, Lines: entry.Lines}
	if len(entry.Lines) > 0 {
		view.Summary = model.ParseLogLine(entry.Lines[len(entry.Lines)-1]).Summary()
	}
	if view.Lines == nil {
		view.Lines = []string{}
	}
	return view
}

func (r *Runtime) handleCommand(w http.ResponseWriter, req *http.Request) {
	var payload commandRequest
	if err := decodeJSON(req, &payload); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	command, ok := model.ParseCommand(payload.Command)
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "unknown_command", fmt.Sprintf("unknown command %q", payload.Command))
		return
	}
	project, worker := req.PathValue("project"), req.PathValue("worker")
	var (
		receivers int64
		err       error
	)
	switch command {
	case model.CommandGetLog:
		receivers, err = r.controller.RequestLog(req.Context(), project, worker)
	default:
		receivers, err = r.controller.RequestStatus(req.Context(), project, worker)
	}
	if err != nil {
		writeAPIError(w, http.StatusBadGateway, "publish_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"command":   command,
		"receivers": receivers,
		"delivered": receivers > 0,
	})
}

func (r *Runtime) handleSettings(w http.ResponseWriter, req *http.Request) {
	settings, err := r.controller.Settings(req.Context(), strings.TrimSpace(req.URL.Query().Get("scope")))
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "settings_failed", err.Error())
		return
	}
	kinds := make(map[model.NotifyKind]bool, len(settings.Kinds))
	explicit := make([]model.NotifyKind, 0, len(settings.Kinds))
	for _, kind := range settings.Kinds {
		kinds[kind.Kind] = kind.Effective
		if kind.Explicit {
			explicit = append(explicit, kind.Kind)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scope":    settings.Scope,
		"mute_all": settings.MuteAll,
		"muted":    settings.Muted,
		"kinds":    kinds,
		"explicit": explicit,
	})
}

func (r *Runtime) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeAPIError(w, http.StatusNotFound, "not_found", "route not found")
}

func decodeJSON(req *http.Request, out any) error {
	if req.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer req.Body.Close()
	decoder := codec.NewDecoder(req.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeAPIError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": apiError{
			Code:    strings.TrimSpace(code),
			Message: strings.TrimSpace(message),
		},
	})
}
