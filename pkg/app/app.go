// Package app provides the top-level orchestrator: it builds the registry,
// installs the bus, loads configuration, drives startup, and tears
// everything down in reverse on shutdown. This is the composition root,
// wiring plugins onto a message bus via explicit constructor injection.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/amadeus-host/amadeus/pkg/bus"
	"github.com/amadeus-host/amadeus/pkg/config"
	"github.com/amadeus-host/amadeus/pkg/plugin"
)

// Options configures an App instance. There is no process-wide singleton:
// each App owns exactly one DistributionCenter and one MessageManager, so
// multiple Apps are isolable within a single process.
type Options struct {
	IngressCapacity  int
	StopTimeout      time.Duration
	PluginConfigPath string // optional declarative JSON overrides file
	Log              *slog.Logger
}

// App is the top-level orchestrator: builds the bus and registry, drives
// startup, and tears everything down in reverse on shutdown.
type App struct {
	opts Options
	log  *slog.Logger

	Center   *bus.DistributionCenter
	Manager  *bus.MessageManager
	Registry *plugin.Registry
}

// New constructs an App with a fresh DistributionCenter, MessageManager,
// and Registry. Plugins must be registered (via Registry.Register) before
// calling Start.
func New(opts Options) *App {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}

	center := bus.NewDistributionCenter()
	manager := bus.NewMessageManager(center, opts.IngressCapacity, opts.Log)
	registry := plugin.NewRegistry(center, manager, opts.Log)
	registry.SetStopBudget(opts.StopTimeout)

	return &App{
		opts:     opts,
		log:      opts.Log,
		Center:   center,
		Manager:  manager,
		Registry: registry,
	}
}

// Start applies declarative plugin overrides, starts the routing loop,
// then runs the registry's three-phase startup sequence. An error aborts
// startup; the caller is expected to exit non-zero.
func (a *App) Start(ctx context.Context) error {
	overrides, err := config.LoadPluginOverrides(a.opts.PluginConfigPath)
	if err != nil {
		return err
	}
	config.ApplyPluginOverrides(a.Registry.Plugins(), overrides, a.log)

	a.Manager.Start(ctx)

	if err := a.Registry.Startup(ctx); err != nil {
		a.Manager.Stop()
		return fmt.Errorf("app: startup failed: %w", err)
	}
	return nil
}

// Shutdown runs the registry's reverse-order teardown, then stops the
// routing loop.
func (a *App) Shutdown(ctx context.Context) {
	a.Registry.Shutdown(ctx)
	a.Manager.Stop()
}
