package watchdog

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML accepts durations in Go syntax ("30s", "4h")
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Enabled       bool   `yaml:"enabled"`
		CheckInterval string `yaml:"check_interval"`
		MaxRetries    int    `yaml:"max_retries"`
		RetryDelay    string `yaml:"retry_delay"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Enabled = raw.Enabled
	c.MaxRetries = raw.MaxRetries

	var err error
	if c.CheckInterval, err = parseDuration("check_interval", raw.CheckInterval); err != nil {
		return err
	}
	if c.RetryDelay, err = parseDuration("retry_delay", raw.RetryDelay); err != nil {
		return err
	}
	return nil
}

// UnmarshalYAML accepts durations in Go syntax
func (c *ManagerConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		UnhealthyCooldown   string `yaml:"unhealthy_cooldown"`
		SupervisionInterval string `yaml:"supervision_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	var err error
	if c.UnhealthyCooldown, err = parseDuration("unhealthy_cooldown", raw.UnhealthyCooldown); err != nil {
		return err
	}
	if c.SupervisionInterval, err = parseDuration("supervision_interval", raw.SupervisionInterval); err != nil {
		return err
	}
	return nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
