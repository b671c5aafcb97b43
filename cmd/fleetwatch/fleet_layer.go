package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"

	"fleetwatch/internal/bus"
	"fleetwatch/internal/config"
	"fleetwatch/internal/controller"
	"fleetwatch/internal/liveness"
	"fleetwatch/internal/store"
)

const fleetLayerSlug = "fleet"

type fleetSettings struct {
	ConfigPath string `glazed.parameter:"config-path"`
	RedisURL   string `glazed.parameter:"redis-url"`
	LogLevel   string `glazed.parameter:"log-level"`
}

func newFleetLayer() (layers.ParameterLayer, error) {
	layer, err := layers.NewParameterLayer(fleetLayerSlug, "Fleet connection")
	if err != nil {
		return nil, err
	}
	layer.AddFlags(
		parameters.NewParameterDefinition(
			"config-path",
			parameters.ParameterTypeString,
			parameters.WithHelp("Path to config file (defaults to "+config.DefaultConfigPath+")"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"redis-url",
			parameters.ParameterTypeString,
			parameters.WithHelp("Redis URL, overrides redis.url from the config file"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"log-level",
			parameters.ParameterTypeString,
			parameters.WithHelp("debug|info|warn|error"),
			parameters.WithDefault("info"),
		),
	)
	return layer, nil
}

func newFleetCommandDescription(name string, short string, long string, flags ...*parameters.ParameterDefinition) (*cmds.CommandDescription, error) {
	fleetLayer, err := newFleetLayer()
	if err != nil {
		return nil, err
	}
	options := []cmds.CommandDescriptionOption{
		cmds.WithShort(short),
		cmds.WithLayersList(fleetLayer),
	}
	if strings.TrimSpace(long) != "" {
		options = append(options, cmds.WithLong(long))
	}
	if len(flags) > 0 {
		options = append(options, cmds.WithFlags(flags...))
	}
	return cmds.NewCommandDescription(name, options...), nil
}

func initializeFleetSettings(parsedLayers *layers.ParsedLayers) (*fleetSettings, error) {
	settings := &fleetSettings{}
	if err := parsedLayers.InitializeStruct(fleetLayerSlug, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// fleetRuntime is the connected state every fleet command works against.
type fleetRuntime struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *store.RedisStore
	bus        *bus.RedisBus
	controller *controller.Controller
}

func loadFleetConfig(settings *fleetSettings) (config.Config, error) {
	cfg, _, err := config.Load(settings.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if url := strings.TrimSpace(settings.RedisURL); url != "" {
		cfg.Redis.URL = url
	}
	return cfg, nil
}

func openFleet(ctx context.Context, parsedLayers *layers.ParsedLayers) (*fleetRuntime, error) {
	settings, err := initializeFleetSettings(parsedLayers)
	if err != nil {
		return nil, err
	}
	cfg, err := loadFleetConfig(settings)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(settings.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}
	return connectFleet(ctx, cfg, logger)
}

func connectFleet(ctx context.Context, cfg config.Config, logger *slog.Logger) (*fleetRuntime, error) {
	client, err := store.Connect(ctx, cfg.Redis.URL, cfg.Redis.ConnectRetries, cfg.ConnectBackoff())
	if err != nil {
		return nil, err
	}
	redisStore := store.NewRedisStore(client, store.Options{
		StatusTTL:      cfg.StatusTTL(),
		ErrorBufferTTL: cfg.ErrorBufferTTL(),
	})
	redisBus := bus.NewRedisBus(client)
	return &fleetRuntime{
		cfg:    cfg,
		logger: logger,
		store:  redisStore,
		bus:    redisBus,
		controller: controller.New(controller.Options{
			Store: redisStore,
			Bus:   redisBus,
			Liveness: liveness.Options{
				DefaultThreshold: time.Duration(cfg.Liveness.DefaultThresholdSeconds) * time.Second,
				SafetyMargin:     time.Duration(cfg.Liveness.SafetyMarginSeconds) * time.Second,
			},
		}),
	}, nil
}

func (r *fleetRuntime) Close() error {
	return r.store.Close()
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if strings.TrimSpace(level) != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid --log-level %q", level)
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func requireFlag(name string, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return value, nil
}
