package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/amadeus-host/amadeus/pkg/plugin"
)

// PluginOverride is one element of the declarative JSON plugin-metadata
// file: it adjusts an already-registered, already-compiled plugin — it
// never loads code.
type PluginOverride struct {
	Name             string            `json:"name"`
	EnabledByDefault bool              `json:"enabled_by_default"`
	Properties       map[string]string `json:"properties,omitempty"`
}

// LoadPluginOverrides reads the optional JSON array at path. A missing
// file yields an empty slice, not an error.
func LoadPluginOverrides(path string) ([]PluginOverride, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var overrides []PluginOverride
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return overrides, nil
}

// ApplyPluginOverrides adjusts every plugin named in overrides that
// implements plugin.Overridable. Unknown plugin names or plugins that
// don't support overrides are ignored with a warning, never an error.
func ApplyPluginOverrides(plugins []plugin.Plugin, overrides []PluginOverride, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	byName := make(map[string]plugin.Plugin, len(plugins))
	for _, p := range plugins {
		byName[p.Identity()] = p
	}

	for _, o := range overrides {
		p, ok := byName[o.Name]
		if !ok {
			log.Warn("config: plugin override names unknown plugin, ignoring", "plugin", o.Name)
			continue
		}
		overridable, ok := p.(plugin.Overridable)
		if !ok {
			log.Warn("config: plugin does not support overrides, ignoring", "plugin", o.Name)
			continue
		}
		overridable.ApplyOverride(o.EnabledByDefault, o.Properties)
	}
}
