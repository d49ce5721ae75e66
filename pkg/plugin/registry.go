package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/amadeus-host/amadeus/pkg/bus"
)

// RegistryError is a typed error-kind constant for registry-level failures.
type RegistryError string

func (e RegistryError) Error() string { return string(e) }

const (
	ErrDuplicateIdentity  RegistryError = "plugin: duplicate identity"
	ErrMissingDependency  RegistryError = "plugin: missing dependency"
	ErrEmptyIdentity      RegistryError = "plugin: identity must not be empty"
)

// defaultStopBudget bounds how long the registry waits for a single
// plugin's Stop hook before moving on during shutdown.
const defaultStopBudget = 5 * time.Second

type entry struct {
	p          Plugin
	insertSeq  int
	registered bool // true once Init succeeded; gates whether Stop is called
}

// Registry holds plugins, orders them by privilege then priority, and
// drives their lifecycle against a shared DistributionCenter.
type Registry struct {
	center     *bus.DistributionCenter
	manager    *bus.MessageManager
	log        *slog.Logger
	stopBudget time.Duration

	entries []*entry
	byID    map[string]*entry
}

// NewRegistry builds a registry bound to center and manager. log may be
// nil, in which case slog.Default() is used.
func NewRegistry(center *bus.DistributionCenter, manager *bus.MessageManager, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		center:     center,
		manager:    manager,
		log:        log,
		stopBudget: defaultStopBudget,
		byID:       make(map[string]*entry),
	}
}

// SetStopBudget overrides the per-plugin shutdown timeout (default 5s).
func (r *Registry) SetStopBudget(d time.Duration) { r.stopBudget = d }

// Register appends p to the registry and re-sorts so that all Privileged
// plugins precede all Normal plugins, preserving insertion order within
// each group except where metadata Priority (higher runs first) breaks
// ties. Registering two plugins under the same identity fails with
// ErrDuplicateIdentity.
func (r *Registry) Register(p Plugin) error {
	id := p.Identity()
	if id == "" {
		return ErrEmptyIdentity
	}
	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateIdentity, id)
	}

	e := &entry{p: p, insertSeq: len(r.entries)}
	r.entries = append(r.entries, e)
	r.byID[id] = e

	sort.SliceStable(r.entries, func(i, j int) bool {
		a, b := r.entries[i].p.Metadata(), r.entries[j].p.Metadata()
		if (a.PluginType == Privileged) != (b.PluginType == Privileged) {
			return a.PluginType == Privileged
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return r.entries[i].insertSeq < r.entries[j].insertSeq
	})
	return nil
}

// Plugins returns the registry's plugins in their current startup order.
func (r *Registry) Plugins() []Plugin {
	out := make([]Plugin, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.p
	}
	return out
}

// checkDependencies verifies every plugin's declared dependencies refer to
// registered identities.
func (r *Registry) checkDependencies() error {
	for _, e := range r.entries {
		for _, dep := range e.p.Metadata().Dependencies {
			if _, ok := r.byID[dep]; !ok {
				return fmt.Errorf("%w: %q requires %q", ErrMissingDependency, e.p.Identity(), dep)
			}
		}
	}
	return nil
}

// Startup runs the three-phase sequence over every registered plugin in
// order: setup_messaging, then init, then start. Any error at any phase
// aborts startup. A plugin whose Init succeeded has entry.registered set
// so that Shutdown will call its Stop even if Start subsequently failed.
func (r *Registry) Startup(ctx context.Context) error {
	if err := r.checkDependencies(); err != nil {
		return err
	}

	for _, e := range r.entries {
		if err := e.p.SetupMessaging(r.center, r.manager.Ingress()); err != nil {
			return fmt.Errorf("setup_messaging %q: %w", e.p.Identity(), err)
		}
	}

	for _, e := range r.entries {
		if err := e.p.Init(ctx); err != nil {
			return fmt.Errorf("init %q: %w", e.p.Identity(), err)
		}
		e.registered = true
	}

	for _, e := range r.entries {
		if err := e.p.Start(ctx); err != nil {
			return fmt.Errorf("start %q: %w", e.p.Identity(), err)
		}
	}
	return nil
}

// Shutdown iterates the registry in reverse startup order, calling Stop on
// every plugin whose Init succeeded. Errors are logged but never halt
// teardown. Each Stop is bounded by the registry's stop budget.
func (r *Registry) Shutdown(ctx context.Context) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if !e.registered {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, r.stopBudget)
		done := make(chan error, 1)
		go func() { done <- e.p.Stop(stopCtx) }()
		select {
		case err := <-done:
			if err != nil {
				r.log.Warn("plugin stop failed", "plugin", e.p.Identity(), "error", err)
			}
		case <-stopCtx.Done():
			r.log.Warn("plugin stop exceeded budget", "plugin", e.p.Identity(), "budget", r.stopBudget)
		}
		cancel()
	}
}
