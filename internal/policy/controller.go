// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

// Package policy translates stream buffer telemetry into traffic-control
// changes. The controller is a pure state machine owned by the daemon's
// event loop; it probes for background bandwidth multiplicatively while the
// stream buffer is healthy and snaps back to the floor when it dips.
package policy

import (
	"math"
	"time"

	"github.com/alban/tcmmd/internal/clock"
	"github.com/alban/tcmmd/internal/config"
	"github.com/alban/tcmmd/internal/logging"
	"github.com/alban/tcmmd/internal/metrics"
	"github.com/alban/tcmmd/internal/tc"
)

// InfiniteBandwidth is the "unlimited" rate sentinel, in bytes/s.
const InfiniteBandwidth uint64 = 0xffffffff

// Engine is the subset of the TC engine the controller drives.
type Engine interface {
	AddRules(flow tc.Flow, streamRate, backgroundRate uint64) error
	DelRules() error
}

// Event is a request processed by the controller. Events originate from the
// RPC surface and from the recompute timer; the daemon loop serializes them.
type Event interface {
	isEvent()
}

// SetPolicy reports the streaming flow (client's point of view), its nominal
// bitrate and the current buffer fill in [0, 1].
type SetPolicy struct {
	Flow       tc.Flow
	Bitrate    uint64
	BufferFill float64
}

// SetFixedPolicy installs exact class rates; adaptation stops until the next
// SetPolicy or UnsetPolicy.
type SetFixedPolicy struct {
	Flow           tc.Flow
	StreamRate     uint64
	BackgroundRate uint64
}

// UnsetPolicy clears the active policy and returns the kernel to idle.
type UnsetPolicy struct{}

// Recompute is posted by the controller's own timer to grow the background
// rate. The generation guards against ticks from a cancelled timer that were
// already in flight.
type Recompute struct {
	gen uint64
}

func (SetPolicy) isEvent()      {}
func (SetFixedPolicy) isEvent() {}
func (UnsetPolicy) isEvent()    {}
func (Recompute) isEvent()      {}

// Controller holds the adaptive policy state.
type Controller struct {
	cfg     config.ControllerConfig
	engine  Engine
	clk     clock.Clock
	notify  func(Event)
	logger  *logging.Logger
	metrics *metrics.Metrics

	// The cached flow is the client's point of view; the engine gets the
	// swapped tuple because its rules match ingress packets.
	flow     tc.Flow
	haveFlow bool

	bitrate   uint64
	bufferPct int
	inPanic   bool
	bandwidth uint64

	timer    clock.Timer
	timerGen uint64
}

// New creates a controller. notify is called (possibly from a timer
// goroutine) to post a Recompute event back into the owning loop; metrics
// may be nil.
func New(cfg config.ControllerConfig, engine Engine, clk clock.Clock, notify func(Event), logger *logging.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		cfg:     cfg,
		engine:  engine,
		clk:     clk,
		notify:  notify,
		logger:  logger.WithComponent("policy"),
		metrics: m,
	}
}

// Handle processes one event to completion. A non-nil error means a kernel
// mutation failed and the daemon must exit through its teardown path.
func (c *Controller) Handle(ev Event) error {
	switch ev := ev.(type) {
	case SetPolicy:
		return c.handleSetPolicy(ev)
	case SetFixedPolicy:
		return c.handleSetFixedPolicy(ev)
	case UnsetPolicy:
		return c.handleUnsetPolicy()
	case Recompute:
		return c.handleRecompute(ev)
	default:
		return nil
	}
}

func (c *Controller) handleSetPolicy(ev SetPolicy) error {
	pct := int(math.Round(ev.BufferFill * 100))

	newPanic := false
	if !c.inPanic && pct < c.cfg.PanicEntryPct {
		newPanic = true
		c.inPanic = true
	} else if pct >= c.cfg.PanicExitPct {
		// The original left panic only on an exact 100; >= is sturdier
		// against floating-point jitter and covered by the same reports.
		c.inPanic = false
	}

	c.bufferPct = pct
	c.bitrate = ev.Bitrate

	flowChanged := !c.haveFlow || ev.Flow.SrcPort != c.flow.SrcPort

	if newPanic || flowChanged {
		c.stopTimer()
		c.bandwidth = c.cfg.MinimumBandwidth
		c.flow = ev.Flow
		c.haveFlow = true

		c.logger.Info("installing policy",
			"flow", ev.Flow.String(), "buffer_pct", pct, "panic", c.inPanic)
		if err := c.engine.AddRules(ev.Flow.Swapped(), InfiniteBandwidth, c.bandwidth); err != nil {
			return err
		}
	} else if c.timer == nil {
		c.armTimer()
	}

	c.syncMetrics()
	return nil
}

func (c *Controller) handleRecompute(ev Recompute) error {
	if c.timer == nil || ev.gen != c.timerGen {
		// Tick from a timer that was cancelled after firing.
		return nil
	}
	c.timer = nil

	if !c.haveFlow {
		return nil
	}

	c.logger.Debug("recompute",
		"buffer_pct", c.bufferPct, "panic", c.inPanic, "bandwidth", c.bandwidth)

	next := c.bandwidth
	if c.inPanic {
		next = c.cfg.MinimumBandwidth
	} else {
		grown := uint64(float64(c.bandwidth) * c.cfg.GrowthFactor)
		if grown <= InfiniteBandwidth {
			next = grown
		}
	}

	if next != c.bandwidth {
		c.bandwidth = next
		if err := c.engine.AddRules(c.flow.Swapped(), InfiniteBandwidth, next); err != nil {
			return err
		}
	}

	c.armTimer()
	c.syncMetrics()
	return nil
}

func (c *Controller) handleSetFixedPolicy(ev SetFixedPolicy) error {
	c.stopTimer()
	c.logger.Info("installing fixed policy",
		"flow", ev.Flow.String(), "stream_rate", ev.StreamRate, "background_rate", ev.BackgroundRate)
	return c.engine.AddRules(ev.Flow.Swapped(), ev.StreamRate, ev.BackgroundRate)
}

func (c *Controller) handleUnsetPolicy() error {
	c.stopTimer()
	c.flow = tc.Flow{}
	c.haveFlow = false
	c.inPanic = false
	c.bandwidth = 0
	c.logger.Info("policy unset")

	err := c.engine.DelRules()
	c.syncMetrics()
	return err
}

func (c *Controller) armTimer() {
	c.timerGen++
	gen := c.timerGen
	c.timer = c.clk.AfterFunc(time.Duration(c.cfg.RecomputePeriod), func() {
		c.notify(Recompute{gen: gen})
	})
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// Invalidate any tick already posted to the loop.
	c.timerGen++
}

func (c *Controller) syncMetrics() {
	if c.metrics == nil {
		return
	}
	c.metrics.BackgroundBandwidth.Set(float64(c.bandwidth))
	c.metrics.BufferPercent.Set(float64(c.bufferPct))
	if c.inPanic {
		c.metrics.InPanic.Set(1)
	} else {
		c.metrics.InPanic.Set(0)
	}
}

// BackgroundBandwidth returns the rate currently requested for the
// background class, for the stats sink.
func (c *Controller) BackgroundBandwidth() uint64 { return c.bandwidth }

// BufferPercent returns the last reported buffer fill percentage.
func (c *Controller) BufferPercent() int { return c.bufferPct }

// InPanic reports whether the buffer is currently considered unhealthy.
func (c *Controller) InPanic() bool { return c.inPanic }

// TimerArmed reports whether a recompute tick is scheduled.
func (c *Controller) TimerArmed() bool { return c.timer != nil }
