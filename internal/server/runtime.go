// Package server exposes the controller over HTTP and streams observed
// alerts to websocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"fleetwatch/internal/codec"
	"fleetwatch/internal/controller"
	"fleetwatch/internal/observer"
)

type Options struct {
	Addr            string
	Controller      *controller.Controller
	Observer        *observer.Observer
	ShutdownTimeout time.Duration
	// StreamPing is the keepalive period of alert streams.
	StreamPing time.Duration
	Logger     *slog.Logger
}

type Runtime struct {
	opts       Options
	controller *controller.Controller
	observer   *observer.Observer
	logger     *slog.Logger
	startedAt  time.Time
	server     *http.Server
}

type HealthResponse struct {
	Status    string            `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	Now       time.Time         `json:"now"`
	Observer  observer.Stats    `json:"observer"`
	Store     HealthStoreStatus `json:"store"`
}

type HealthStoreStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func NewRuntime(options Options) (*Runtime, error) {
	options = normalizeOptions(options)
	if options.Controller == nil {
		return nil, fmt.Errorf("server needs a controller")
	}
	runtime := &Runtime{
		opts:       options,
		controller: options.Controller,
		observer:   options.Observer,
		logger:     options.Logger,
		startedAt:  time.Now().UTC(),
	}
	runtime.server = &http.Server{
		Addr:              options.Addr,
		Handler:           runtime.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return runtime, nil
}

// Handler returns the API routes without starting a listener.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	r.registerRoutes(mux)
	return mux
}

// Run serves until ctx is cancelled, running the observer alongside when
// one is configured.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is required")
	}
	observerCtx, observerCancel := context.WithCancel(ctx)
	defer observerCancel()
	var observerDone chan error
	if r.observer != nil {
		observerDone = make(chan error, 1)
		go func() {
			observerDone <- r.observer.Run(observerCtx, nil)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	r.logger.Info("api listening", "addr", r.opts.Addr)

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		serveErr = err
	case err := <-observerDone:
		if err != nil {
			serveErr = fmt.Errorf("alert observer: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
	defer cancel()
	if err := r.server.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	observerCancel()
	if r.observer != nil {
		r.observer.Broker().Close()
	}
	return serveErr
}

func normalizeOptions(options Options) Options {
	if options.Addr == "" {
		options.Addr = ":3001"
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 5 * time.Second
	}
	if options.StreamPing <= 0 {
		options.StreamPing = 30 * time.Second
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return options
}

func (r *Runtime) handleHealth(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()
	response := HealthResponse{
		Status:    "ok",
		StartedAt: r.startedAt,
		Now:       time.Now().UTC(),
		Store:     HealthStoreStatus{Healthy: true},
	}
	if r.observer != nil {
		response.Observer = r.observer.Stats()
	}
	statusCode := http.StatusOK
	if err := r.controller.Ping(ctx); err != nil {
		response.Status = "degraded"
		response.Store = HealthStoreStatus{Healthy: false, Error: err.Error()}
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := codec.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
