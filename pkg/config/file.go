package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AutoRemindRule maps a memo tag to the cron expression for its
// tag-derived auto-reminder job.
type AutoRemindRule struct {
	Tag  string `yaml:"tag"`
	Cron string `yaml:"cron"`
}

// FileConfig is the optional, human-authored runtime-tuning file — distinct
// from the declarative plugin-metadata JSON file in plugins.go. Absent any
// file, every field's zero value is a safe default.
type FileConfig struct {
	Bus struct {
		IngressCapacity int `yaml:"ingress_capacity"`
		// LagTolerance is parsed but not applied: the bus's per-subscriber
		// buffer depth is the fixed lagTolerance constant in pkg/bus.
		LagTolerance int `yaml:"lag_tolerance"`
	} `yaml:"bus"`

	CoreSystem struct {
		AutoRemindRules         []AutoRemindRule `yaml:"auto_remind_rules"`
		ExpirationCheckInterval string           `yaml:"expiration_check_interval"`
		ExpirationRetentionDays int              `yaml:"expiration_retention_days"`
	} `yaml:"coresystem"`

	IPC struct {
		Slots       int      `yaml:"slots"`
		TopicFilter []string `yaml:"topic_filter"`
	} `yaml:"ipc"`
}

// LoadFile reads a YAML runtime-tuning file at path. A missing file is not
// an error; it simply yields zero-value defaults.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
