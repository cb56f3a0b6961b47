// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alban/tcmmd/internal/errors"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint64(5000), cfg.Controller.MinimumBandwidth)
	assert.Equal(t, 1.5, cfg.Controller.GrowthFactor)
	assert.Equal(t, 70, cfg.Controller.PanicEntryPct)
	assert.Equal(t, 100, cfg.Controller.PanicExitPct)
	assert.Equal(t, Duration(2*time.Second), cfg.Controller.RecomputePeriod)
	assert.Empty(t, cfg.Interface)
	assert.Empty(t, cfg.StatsFile)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcmmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
interface: eth1
stats_file: /tmp/stats.log
log_level: debug
controller:
  minimum_bandwidth: 10000
  growth_factor: 2.0
  panic_entry_pct: 60
  panic_exit_pct: 100
  recompute_period: 5s
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "eth1", cfg.Interface)
	assert.Equal(t, "/tmp/stats.log", cfg.StatsFile)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint64(10000), cfg.Controller.MinimumBandwidth)
	assert.Equal(t, 2.0, cfg.Controller.GrowthFactor)
	assert.Equal(t, 60, cfg.Controller.PanicEntryPct)
	assert.Equal(t, Duration(5*time.Second), cfg.Controller.RecomputePeriod)
}

func TestLoadFilePartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcmmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interface: eno1\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "eno1", cfg.Interface)
	assert.Equal(t, uint64(5000), cfg.Controller.MinimumBandwidth)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero minimum", func(c *Config) { c.Controller.MinimumBandwidth = 0 }},
		{"shrinking growth", func(c *Config) { c.Controller.GrowthFactor = 0.9 }},
		{"no growth", func(c *Config) { c.Controller.GrowthFactor = 1.0 }},
		{"entry above 100", func(c *Config) { c.Controller.PanicEntryPct = 120 }},
		{"exit below entry", func(c *Config) { c.Controller.PanicExitPct = 50 }},
		{"zero period", func(c *Config) { c.Controller.RecomputePeriod = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.GetKind(err))
		})
	}
}
