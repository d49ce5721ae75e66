// Package plugin defines the contract every Amadeus plugin implements and
// the typed metadata the registry uses to order and describe it.
package plugin

import (
	"context"

	"github.com/amadeus-host/amadeus/pkg/bus"
)

// Type tags a plugin as Privileged or Normal. Privilege reorders startup
// (Privileged first) and is the only type permitted to install a wiretap.
type Type string

const (
	Privileged Type = "privileged"
	Normal     Type = "normal"
)

// Metadata describes a plugin instance. It is carried by every plugin and
// is serializable to JSON for export via the declarative configuration
// file.
type Metadata struct {
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	Version          string            `json:"version"`
	EnabledByDefault bool              `json:"enabled_by_default"`
	Author           string            `json:"author,omitempty"`
	Priority         int32             `json:"priority"`
	Dependencies     []string          `json:"dependencies,omitempty"`
	Properties       map[string]string `json:"properties,omitempty"`
	PluginType       Type              `json:"plugin_type"`
}

// Plugin is the capability set every plugin implements: identity,
// metadata, lifecycle hooks, and a messaging setup hook. Hooks may be
// no-ops; the registry never assumes a plugin overrides all of them.
type Plugin interface {
	// Identity returns this plugin's unique name within a registry.
	Identity() string
	// Metadata returns the plugin's descriptive metadata.
	Metadata() Metadata

	// SetupMessaging wires the plugin to the bus. The plugin may retain
	// the returned context's owner (itself) for later use in Start. Called
	// once, before Init.
	SetupMessaging(center *bus.DistributionCenter, ingress chan<- bus.Message) error

	// Init performs one-time setup (opening stores, validating config).
	// An error here aborts registry startup.
	Init(ctx context.Context) error

	// Start begins any background work (spawning goroutines, registering
	// scheduled jobs). An error here aborts registry startup, but Stop is
	// still invoked since Init already succeeded.
	Start(ctx context.Context) error

	// Stop tears down background work. Must tolerate being called without
	// a matching successful Start (e.g. when Start itself failed).
	Stop(ctx context.Context) error
}

// Overridable is implemented by plugins whose properties the declarative
// JSON configuration file is permitted to adjust (enable/disable, property
// overrides) before lifecycle startup.
type Overridable interface {
	ApplyOverride(enabled bool, properties map[string]string)
}

// Base provides no-op implementations of the lifecycle hooks so concrete
// plugins can embed it and override only what they need; hooks may be
// absent entirely.
type Base struct{}

func (Base) SetupMessaging(*bus.DistributionCenter, chan<- bus.Message) error { return nil }
func (Base) Init(context.Context) error                                      { return nil }
func (Base) Start(context.Context) error                                     { return nil }
func (Base) Stop(context.Context) error                                      { return nil }
