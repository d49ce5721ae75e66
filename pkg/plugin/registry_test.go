package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/amadeus-host/amadeus/pkg/bus"
)

type fakePlugin struct {
	Base
	id         string
	pluginType Type
	priority   int32
	deps       []string

	startErr error

	setupCalled bool
	initCalled  bool
	startCalled bool
	stopCalled  bool
}

func (f *fakePlugin) Identity() string { return f.id }

func (f *fakePlugin) Metadata() Metadata {
	return Metadata{Name: f.id, PluginType: f.pluginType, Priority: f.priority, Dependencies: f.deps}
}

func (f *fakePlugin) SetupMessaging(*bus.DistributionCenter, chan<- bus.Message) error {
	f.setupCalled = true
	return nil
}

func (f *fakePlugin) Init(context.Context) error {
	f.initCalled = true
	return nil
}

func (f *fakePlugin) Start(context.Context) error {
	f.startCalled = true
	return f.startErr
}

func (f *fakePlugin) Stop(context.Context) error {
	f.stopCalled = true
	return nil
}

func newTestRegistry() (*Registry, *bus.DistributionCenter, *bus.MessageManager) {
	center := bus.NewDistributionCenter()
	manager := bus.NewMessageManager(center, 0, nil)
	return NewRegistry(center, manager, nil), center, manager
}

func TestPrivilegedPluginsStartBeforeNormal(t *testing.T) {
	reg, _, _ := newTestRegistry()

	normal := &fakePlugin{id: "normal", pluginType: Normal}
	privileged := &fakePlugin{id: "privileged", pluginType: Privileged}

	if err := reg.Register(normal); err != nil {
		t.Fatalf("register normal: %v", err)
	}
	if err := reg.Register(privileged); err != nil {
		t.Fatalf("register privileged: %v", err)
	}

	ordered := reg.Plugins()
	if len(ordered) != 2 || ordered[0].Identity() != "privileged" {
		t.Fatalf("expected privileged plugin first, got order: %v", identitiesOf(ordered))
	}
}

func TestDuplicateIdentityRejected(t *testing.T) {
	reg, _, _ := newTestRegistry()
	if err := reg.Register(&fakePlugin{id: "dup"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := reg.Register(&fakePlugin{id: "dup"})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
}

func TestMissingDependencyFailsStartup(t *testing.T) {
	reg, _, _ := newTestRegistry()
	if err := reg.Register(&fakePlugin{id: "a", deps: []string{"ghost"}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := reg.Startup(context.Background())
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
}

// TestLifecycleSymmetry verifies that a plugin whose Init succeeded has
// Stop called regardless of whether Start failed. Shutdown order is
// checked in pkg/app's TestAppStartupAndShutdownOrder.
func TestLifecycleSymmetry(t *testing.T) {
	reg, _, _ := newTestRegistry()

	first := &fakePlugin{id: "first", pluginType: Privileged, priority: 10}
	second := &fakePlugin{id: "second", pluginType: Privileged, priority: 5}
	failing := &fakePlugin{id: "failing", pluginType: Normal, startErr: errors.New("boom")}

	for _, p := range []*fakePlugin{first, second, failing} {
		if err := reg.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.id, err)
		}
	}

	err := reg.Startup(context.Background())
	if err == nil {
		t.Fatal("expected startup to fail because the last plugin's Start errors")
	}

	if !first.initCalled || !second.initCalled || !failing.initCalled {
		t.Fatal("expected Init to have been called on all plugins before the failure")
	}
	if !failing.startCalled {
		t.Fatal("expected Start to have been attempted on the failing plugin")
	}

	reg.Shutdown(context.Background())

	for _, p := range []*fakePlugin{first, second, failing} {
		if !p.stopCalled {
			t.Fatalf("expected Stop to be called on %s since its Init succeeded", p.id)
		}
	}
}

func identitiesOf(plugins []Plugin) []string {
	out := make([]string, len(plugins))
	for i, p := range plugins {
		out[i] = p.Identity()
	}
	return out
}
