package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"

	"fleetwatch/internal/notify"
	"fleetwatch/internal/observer"
	"fleetwatch/internal/server"
)

type serveGlazedCommand struct {
	*cmds.CommandDescription
}

type serveSettings struct {
	Addr string `glazed.parameter:"addr"`
}

func newServeGlazedCommand() (*serveGlazedCommand, error) {
	desc, err := newFleetCommandDescription(
		"serve",
		"Serve the fleet HTTP API and alert stream",
		"Exposes project and worker status, failures, settings and commands under /api/v1, and streams observed alerts over a websocket at /api/v1/alerts/stream.",
		parameters.NewParameterDefinition(
			"addr",
			parameters.ParameterTypeString,
			parameters.WithHelp("Listen address"),
			parameters.WithDefault(":3001"),
		),
	)
	if err != nil {
		return nil, err
	}
	return &serveGlazedCommand{CommandDescription: desc}, nil
}

func (c *serveGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &serveSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime, err := openFleet(ctx, parsedLayers)
	if err != nil {
		return err
	}
	defer runtime.Close()

	api, err := server.NewRuntime(server.Options{
		Addr:       settings.Addr,
		Controller: runtime.controller,
		Observer: observer.New(observer.Options{
			Subscriber: runtime.bus,
			Channel:    runtime.cfg.Alerts.Channel,
			Filter:     notify.NewFilter(runtime.store),
			Logger:     runtime.logger,
		}),
		Logger: runtime.logger,
	})
	if err != nil {
		return err
	}
	return api.Run(ctx)
}

var _ cmds.BareCommand = &serveGlazedCommand{}
