package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/amadeus-host/amadeus/pkg/plugin"
)

type overridablePlugin struct {
	plugin.Base
	id         string
	enabled    bool
	properties map[string]string
}

func (p *overridablePlugin) Identity() string { return p.id }
func (p *overridablePlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{Name: p.id, PluginType: plugin.Normal}
}
func (p *overridablePlugin) ApplyOverride(enabled bool, properties map[string]string) {
	p.enabled = enabled
	p.properties = properties
}

var _ plugin.Plugin = (*overridablePlugin)(nil)
var _ plugin.Overridable = (*overridablePlugin)(nil)

func TestLoadPluginOverridesMissingFileIsNotAnError(t *testing.T) {
	overrides, err := LoadPluginOverrides(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("expected no error for a missing file, got %v", err)
	}
	if overrides != nil {
		t.Fatalf("expected nil overrides, got %+v", overrides)
	}
}

func TestApplyPluginOverridesAdjustsKnownPlugin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.json")
	data, _ := json.Marshal([]PluginOverride{
		{Name: "known", EnabledByDefault: false, Properties: map[string]string{"k": "v"}},
	})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	overrides, err := LoadPluginOverrides(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	known := &overridablePlugin{id: "known"}
	ApplyPluginOverrides([]plugin.Plugin{known}, overrides, nil)

	if known.enabled {
		t.Fatal("expected override to disable the plugin")
	}
	if known.properties["k"] != "v" {
		t.Fatalf("expected property override to apply, got %+v", known.properties)
	}
}

func TestApplyPluginOverridesIgnoresUnknownPlugin(t *testing.T) {
	// Should not panic or error; unknown names are ignored with a warning.
	ApplyPluginOverrides(nil, []PluginOverride{{Name: "ghost"}}, nil)
}

func TestLoadFileMissingPathYieldsDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Bus.IngressCapacity != 0 {
		t.Fatalf("expected zero-value defaults, got %+v", cfg)
	}
}

func TestLoadFileParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amadeus.yaml")
	yaml := []byte("bus:\n  ingress_capacity: 2048\ncoresystem:\n  auto_remind_rules:\n    - tag: stage_goal\n      cron: \"0 0 10 * * * *\"\n")
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bus.IngressCapacity != 2048 {
		t.Fatalf("expected ingress_capacity 2048, got %d", cfg.Bus.IngressCapacity)
	}
	if len(cfg.CoreSystem.AutoRemindRules) != 1 || cfg.CoreSystem.AutoRemindRules[0].Tag != "stage_goal" {
		t.Fatalf("unexpected auto remind rules: %+v", cfg.CoreSystem.AutoRemindRules)
	}
}
