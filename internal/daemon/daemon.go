// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

// Package daemon runs the tcmmd event loop: it serializes RPC events,
// recompute ticks and stats sampling onto one goroutine that owns the policy
// controller and, through it, the kernel traffic-control state.
package daemon

import (
	"context"
	"time"

	"github.com/alban/tcmmd/internal/clock"
	"github.com/alban/tcmmd/internal/config"
	"github.com/alban/tcmmd/internal/logging"
	"github.com/alban/tcmmd/internal/metrics"
	"github.com/alban/tcmmd/internal/policy"
	"github.com/alban/tcmmd/internal/tc"
)

// Engine is what the daemon needs from the TC engine.
type Engine interface {
	policy.Engine
	Uninit()
	Stats() (tc.Stats, error)
}

// Daemon wires the controller, the engine and the stats sink together.
type Daemon struct {
	cfg    config.Config
	logger *logging.Logger
	engine Engine
	ctrl   *policy.Controller
	events chan policy.Event
	stats  *StatsSink
	clk    clock.Clock
}

// New builds a daemon. The stats sink is opened here so that an unwritable
// stats file fails startup before any kernel state is touched. metrics may
// be nil.
func New(cfg config.Config, logger *logging.Logger, engine Engine, m *metrics.Metrics, clk clock.Clock) (*Daemon, error) {
	d := &Daemon{
		cfg:    cfg,
		logger: logger.WithComponent("daemon"),
		engine: engine,
		events: make(chan policy.Event, 16),
		clk:    clk,
	}
	d.ctrl = policy.New(cfg.Controller, engine, clk, d.Submit, logger, m)

	if cfg.StatsFile != "" {
		sink, err := NewStatsSink(cfg.StatsFile)
		if err != nil {
			return nil, err
		}
		d.stats = sink
	}
	return d, nil
}

// Submit posts an event into the loop. It is safe to call from bus handler
// and timer goroutines.
func (d *Daemon) Submit(ev policy.Event) {
	d.events <- ev
}

// Run processes events until the context is cancelled, a kernel mutation
// fails or a stats sample cannot be taken. The engine teardown is the caller's responsibility (deferred before
// any install), so every return path leaves the kernel clean.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.closeStats()

	// The stats timer only exists when a stats file is configured.
	var statsC <-chan time.Time
	if d.stats != nil {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		statsC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down")
			return nil
		case ev := <-d.events:
			if err := d.ctrl.Handle(ev); err != nil {
				return err
			}
		case <-statsC:
			if err := d.sampleStats(); err != nil {
				return err
			}
		}
	}
}

func (d *Daemon) sampleStats() error {
	st, err := d.engine.Stats()
	if err != nil {
		// The engine's view of the kernel is no longer authoritative.
		return err
	}
	return d.stats.Write(d.clk.Now(), st, d.ctrl.BackgroundBandwidth(), d.ctrl.BufferPercent())
}

func (d *Daemon) closeStats() {
	if d.stats == nil {
		return
	}
	if err := d.stats.Close(); err != nil {
		d.logger.Warn("closing stats file", "error", err)
	}
}
