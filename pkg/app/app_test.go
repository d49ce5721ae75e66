package app

import (
	"context"
	"testing"

	"github.com/amadeus-host/amadeus/pkg/bus"
	"github.com/amadeus-host/amadeus/pkg/plugin"
)

type recordingPlugin struct {
	plugin.Base
	id    string
	order *[]string
}

func (r *recordingPlugin) Identity() string { return r.id }
func (r *recordingPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{Name: r.id, PluginType: plugin.Normal}
}
func (r *recordingPlugin) Init(context.Context) error {
	*r.order = append(*r.order, "init:"+r.id)
	return nil
}
func (r *recordingPlugin) Stop(context.Context) error {
	*r.order = append(*r.order, "stop:"+r.id)
	return nil
}

func TestAppStartupAndShutdownOrder(t *testing.T) {
	var order []string
	a := New(Options{})

	first := &recordingPlugin{id: "first", order: &order}
	second := &recordingPlugin{id: "second", order: &order}
	if err := a.Registry.Register(first); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if err := a.Registry.Register(second); err != nil {
		t.Fatalf("register second: %v", err)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	a.Shutdown(ctx)

	want := []string{"init:first", "init:second", "stop:second", "stop:first"}
	if len(order) != len(want) {
		t.Fatalf("got order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
}

func TestAppIsolatesMultipleInstances(t *testing.T) {
	a1 := New(Options{})
	a2 := New(Options{})

	if a1.Center == a2.Center {
		t.Fatal("expected each App to own its own DistributionCenter")
	}

	sub1 := a1.Center.Subscribe("x")
	if err := a2.Center.Distribute(bus.NewMessage("x", nil, "p")); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	select {
	case <-sub1:
		t.Fatal("a1's subscriber should not observe a2's traffic")
	default:
	}
}
