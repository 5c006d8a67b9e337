// Package cmd implements the CLI commands.
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"grimm.is/cordon/internal/brand"
	"grimm.is/cordon/internal/config"
	"grimm.is/cordon/internal/device"
	"grimm.is/cordon/internal/enforce"
	"grimm.is/cordon/internal/logging"
	"grimm.is/cordon/internal/manager"
	"grimm.is/cordon/internal/refresh"
	"grimm.is/cordon/internal/resolver"
	"grimm.is/cordon/internal/state"
	"grimm.is/cordon/internal/systemd"
)

// app bundles the wired collaborators for one command invocation.
type app struct {
	cfg       *config.Config
	store     *state.Store
	manager   *manager.Manager
	refresher *refresh.Refresher
	sysClient systemd.Client
	stateDir  string
}

// buildApp loads config and wires everything up. withTimers controls
// whether a systemd connection is attempted; status never needs one.
func buildApp(ctx context.Context, configPath string, withTimers bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := logging.LevelInfo
	if cfg.LogLevel == "debug" {
		level = logging.LevelDebug
	}
	logging.SetDefault(logging.New(logging.Config{Level: level, JSON: cfg.LogJSON}))

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = brand.GetStateDir()
	}

	store, err := state.Open(stateDir)
	if err != nil {
		return nil, err
	}

	cache := resolver.NewCache(filepath.Join(stateDir, "cache"))
	res, err := resolver.New(resolver.Config{
		QueryTimeout: cfg.ResolveTimeoutDuration(),
	}, cache, nil)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing resolver: %w", err)
	}

	engine := enforce.NewEngine(nil, nil, nil)

	var sysClient systemd.Client
	var units *systemd.Manager
	var restarter device.UnitRestarter
	if withTimers {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		dbusClient, err := systemd.NewDbusClient(dialCtx)
		cancel()
		if err != nil {
			logging.Warn("systemd unavailable, timers and polkit reloads disabled", "error", err)
		} else {
			sysClient = dbusClient
			units = systemd.NewManager(sysClient, cfg.RefreshIntervalDuration(), nil)
			restarter = dbusClient
		}
	}

	devices := device.NewController(nil, restarter, nil)

	mgr := manager.New(manager.Options{
		Config:   cfg,
		Store:    store,
		Resolver: res,
		Engine:   engine,
		Devices:  devices,
		Units:    units,
		Cache:    cache,
		StateDir: stateDir,
	})

	return &app{
		cfg:       cfg,
		store:     store,
		manager:   mgr,
		refresher: refresh.New(cfg, store, res, engine, stateDir, nil),
		sysClient: sysClient,
		stateDir:  stateDir,
	}, nil
}

func (a *app) close() {
	if a.sysClient != nil {
		a.sysClient.Close()
	}
	a.store.Close()
}

// DefaultConfigPath is where commands look for config unless -config is
// given.
func DefaultConfigPath() string {
	return brand.DefaultConfigPath()
}
