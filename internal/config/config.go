// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

// Package config holds the daemon configuration: command-line values merged
// over an optional YAML file, with validated controller tunables.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alban/tcmmd/internal/errors"
)

// Duration is a time.Duration that unmarshals from YAML strings like "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ControllerConfig tunes the adaptive bandwidth controller.
type ControllerConfig struct {
	// MinimumBandwidth is the floor for the background class, in bytes/s.
	// It is also the rate the class snaps to on a panic transition.
	MinimumBandwidth uint64 `yaml:"minimum_bandwidth"`
	// GrowthFactor multiplies the background rate on every recompute tick
	// while the stream buffer is healthy.
	GrowthFactor float64 `yaml:"growth_factor"`
	// PanicEntryPct is the buffer percentage below which the controller
	// enters panic.
	PanicEntryPct int `yaml:"panic_entry_pct"`
	// PanicExitPct is the buffer percentage at which panic is left.
	PanicExitPct int `yaml:"panic_exit_pct"`
	// RecomputePeriod is the interval between growth ticks.
	RecomputePeriod Duration `yaml:"recompute_period"`
}

// Config is the daemon configuration.
type Config struct {
	// Interface is the hardware interface to police. Empty means
	// auto-detect the unique non-ifb Ethernet link.
	Interface string `yaml:"interface"`
	// StatsFile, when set, enables the 1 Hz qdisc counter log.
	StatsFile string `yaml:"stats_file"`
	// MetricsAddr, when set, serves Prometheus metrics on that address.
	MetricsAddr string `yaml:"metrics_addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Controller ControllerConfig `yaml:"controller"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Controller: ControllerConfig{
			MinimumBandwidth: 5000,
			GrowthFactor:     1.5,
			PanicEntryPct:    70,
			PanicExitPct:     100,
			RecomputePeriod:  Duration(2 * time.Second),
		},
	}
}

// LoadFile reads a YAML configuration file over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, errors.KindNotFound, "cannot read config file %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, errors.KindValidation, "cannot parse config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the controller cannot run with.
func (c *Config) Validate() error {
	ctl := c.Controller
	if ctl.MinimumBandwidth == 0 {
		return errors.New(errors.KindValidation, "controller.minimum_bandwidth must be positive")
	}
	if ctl.GrowthFactor <= 1.0 {
		return errors.Errorf(errors.KindValidation,
			"controller.growth_factor must be greater than 1.0, got %g", ctl.GrowthFactor)
	}
	if ctl.PanicEntryPct <= 0 || ctl.PanicEntryPct > 100 {
		return errors.Errorf(errors.KindValidation,
			"controller.panic_entry_pct must be in (0, 100], got %d", ctl.PanicEntryPct)
	}
	if ctl.PanicExitPct <= ctl.PanicEntryPct {
		return errors.Errorf(errors.KindValidation,
			"controller.panic_exit_pct (%d) must be above panic_entry_pct (%d)",
			ctl.PanicExitPct, ctl.PanicEntryPct)
	}
	if ctl.RecomputePeriod <= 0 {
		return errors.New(errors.KindValidation, "controller.recompute_period must be positive")
	}
	return nil
}
