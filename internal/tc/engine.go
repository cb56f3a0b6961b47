// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

// Package tc owns the kernel traffic-control state. It places the kernel in
// one of two macro-states: Idle (no custom rules) or Shaping (ingress
// redirection to ifb0 plus the three-class dsmark/htb/sfq tree), and reads
// qdisc statistics back.
//
// Link discovery, ifb bring-up and statistics go through netlink; the
// dsmark/tcindex/u32 topology goes through /sbin/tc because the netlink
// bindings cannot express those objects.
package tc

import (
	"strings"

	"github.com/alban/tcmmd/internal/errors"
	"github.com/alban/tcmmd/internal/logging"
	"github.com/alban/tcmmd/internal/metrics"
)

const ifbDevice = "ifb0"

// LinkInfo describes a network link as seen by the engine.
type LinkInfo struct {
	Name  string
	Index int
	Ether bool
	Up    bool
}

// QdiscInfo is a sampled qdisc with its byte counter.
type QdiscInfo struct {
	Handle uint32
	Kind   string
	Bytes  uint64
}

// Stats are the byte counters of the shaping tree.
type Stats struct {
	RootBytes       uint64
	StreamBytes     uint64
	BackgroundBytes uint64
}

// netops abstracts the netlink operations the engine needs, so that the
// install/update/teardown logic can be exercised without a kernel.
type netops interface {
	Links() ([]LinkInfo, error)
	LinkByName(name string) (LinkInfo, error)
	SetLinkUp(name string) error
	QdiscStats(name string) ([]QdiscInfo, error)
}

// runner executes a single tc command line.
type runner interface {
	Run(cmdline string) error
}

// Engine drives the kernel packet scheduler on the ifb device and the
// ingress path of the hardware interface.
type Engine struct {
	logger  *logging.Logger
	ops     netops
	run     runner
	metrics *metrics.Metrics

	main LinkInfo
	ifb  LinkInfo

	// Last configured values. previousPort is -1 while no rules are
	// installed; it keys the in-place update path.
	previousPort           int
	previousStreamRate     uint64
	previousBackgroundRate uint64
}

// NewEngine creates an engine bound to the running kernel. The metrics may
// be nil.
func NewEngine(logger *logging.Logger, m *metrics.Metrics) *Engine {
	return newEngine(logger, newPlatformOps(), &execRunner{logger: logger}, m)
}

func newEngine(logger *logging.Logger, ops netops, run runner, m *metrics.Metrics) *Engine {
	return &Engine{
		logger:       logger.WithComponent("tc"),
		ops:          ops,
		run:          run,
		metrics:      m,
		previousPort: -1,
	}
}

// Init selects the hardware interface to police. With an empty hint it picks
// the unique Ethernet link whose name does not start with "ifb"; with a hint
// it uses the named link verbatim.
func (e *Engine) Init(ifaceHint string) error {
	if ifaceHint != "" {
		li, err := e.ops.LinkByName(ifaceHint)
		if err != nil {
			return errors.Wrapf(err, errors.KindNotFound, "network interface %s not found", ifaceHint)
		}
		e.main = li
		e.logger.Info("using interface", "iface", e.main.Name)
		return nil
	}

	links, err := e.ops.Links()
	if err != nil {
		return errors.Wrap(err, errors.KindKernel, "cannot list network interfaces")
	}

	var candidates []LinkInfo
	for _, li := range links {
		// We want a real hardware interface, not loopback and not the
		// ifb shadow device.
		if !li.Ether || strings.HasPrefix(li.Name, "ifb") {
			continue
		}
		candidates = append(candidates, li)
	}

	switch len(candidates) {
	case 0:
		return errors.New(errors.KindNotFound, "network interface not found")
	case 1:
		e.main = candidates[0]
		e.logger.Info("using interface", "iface", e.main.Name)
		return nil
	default:
		names := make([]string, len(candidates))
		for i, li := range candidates {
			names[i] = li.Name
		}
		return errors.Errorf(errors.KindConflict,
			"several network interfaces. Hint: use options such as -i %s or -i %s",
			names[0], names[1])
	}
}

// InitIfb locates the ifb device, brings it up if needed and installs the
// ingress redirection from the hardware interface to it.
func (e *Engine) InitIfb() error {
	li, err := e.ops.LinkByName(ifbDevice)
	if err != nil {
		return errors.Wrapf(err, errors.KindNotFound,
			"network interface %s unavailable. Hint: sudo modprobe ifb numifbs=1", ifbDevice)
	}
	if !li.Up {
		if err := e.ops.SetLinkUp(ifbDevice); err != nil {
			return errors.Wrapf(err, errors.KindKernel, "cannot set %s up", ifbDevice)
		}
	}
	e.ifb = li

	return e.setupRedirection()
}

// setupRedirection clears previous state and mirrors all ingress traffic on
// the hardware interface to the ifb device's egress path.
func (e *Engine) setupRedirection() error {
	if err := e.DelRules(); err != nil {
		return err
	}

	// The ingress qdisc may or may not exist; deletion failure is fine.
	e.runIgnoring(ingressDeleteCommand(e.main.Name))

	for _, cmd := range ingressSetupCommands(e.main.Name, e.ifb.Name) {
		if err := e.run.Run(cmd); err != nil {
			e.logger.Error("command failed", "cmd", cmd, "error", err)
			return errors.Wrapf(err, errors.KindKernel, "cannot install ingress redirection on %s", e.main.Name)
		}
	}
	return nil
}

// AddRules moves the kernel to the Shaping state for the given flow (remote
// sender's point of view). When only the rates changed for the same
// destination port, the classes are updated in place so counters and queued
// packets survive; otherwise the tree is torn down and reinstalled.
func (e *Engine) AddRules(flow Flow, streamRate, backgroundRate uint64) error {
	if e.ifb.Name == "" {
		return errors.New(errors.KindInternal, "engine not initialized")
	}

	if e.previousPort == int(flow.DstPort) {
		e.logger.Info("updating traffic control",
			"dport", flow.DstPort, "stream_rate", streamRate, "background_rate", backgroundRate)

		if e.previousStreamRate != streamRate {
			if err := e.runInstall(changeStreamCommand(e.ifb.Name, streamRate)); err != nil {
				return err
			}
		}
		if e.previousBackgroundRate != backgroundRate {
			if err := e.runInstall(changeBackgroundCommand(e.ifb.Name, backgroundRate)); err != nil {
				return err
			}
		}

		e.previousStreamRate = streamRate
		e.previousBackgroundRate = backgroundRate
		if e.metrics != nil {
			e.metrics.Updates.Inc()
		}
		return nil
	}

	if err := e.DelRules(); err != nil {
		return err
	}

	e.logger.Info("adding traffic control",
		"flow", flow.String(), "stream_rate", streamRate, "background_rate", backgroundRate)

	for _, cmd := range installCommands(e.ifb.Name, flow, streamRate, backgroundRate) {
		if err := e.runInstall(cmd); err != nil {
			return err
		}
	}

	e.previousPort = int(flow.DstPort)
	e.previousStreamRate = streamRate
	e.previousBackgroundRate = backgroundRate
	if e.metrics != nil {
		e.metrics.Installs.Inc()
	}
	return nil
}

// DelRules moves the kernel to the Idle state. It is idempotent: deleting
// already-absent qdiscs is not an error.
func (e *Engine) DelRules() error {
	if e.ifb.Name != "" {
		e.runIgnoring(rootDeleteCommand(e.ifb.Name))
		e.runIgnoring(ingressDeleteCommand(e.ifb.Name))
	}

	if e.previousPort != -1 && e.metrics != nil {
		e.metrics.Teardowns.Inc()
	}
	e.previousPort = -1
	e.previousStreamRate = 0
	e.previousBackgroundRate = 0
	return nil
}

// Uninit removes everything the engine installed, including the ingress
// qdisc on the hardware interface. It runs on every exit path and tolerates
// partial state.
func (e *Engine) Uninit() {
	if e.main.Name == "" || e.ifb.Name == "" {
		return
	}
	e.logger.Info("uninit")

	// Teardown must not fail; ignore refusals to delete.
	_ = e.DelRules()
	e.runIgnoring(ingressDeleteCommand(e.main.Name))
}

// Installed reports whether the shaping tree is currently present.
func (e *Engine) Installed() bool {
	return e.previousPort != -1
}

// Stats samples the byte counters of the current qdisc tree. Without rules
// installed, the default qdisc on 0:0 supplies the root counter.
func (e *Engine) Stats() (Stats, error) {
	var s Stats

	if e.ifb.Name == "" {
		return s, errors.New(errors.KindInternal, "engine not initialized")
	}

	qdiscs, err := e.ops.QdiscStats(e.ifb.Name)
	if err != nil {
		return s, errors.Wrap(err, errors.KindKernel, "cannot read qdisc statistics")
	}

	for _, q := range qdiscs {
		switch {
		case q.Handle == makeHandle(0, 0) || q.Handle == makeHandle(1, 0):
			s.RootBytes = q.Bytes
		case q.Handle == makeHandle(4, 0) && q.Kind == "sfq":
			s.StreamBytes = q.Bytes
		case q.Handle == makeHandle(5, 0) && q.Kind == "sfq":
			s.BackgroundBytes = q.Bytes
		}
	}

	if e.metrics != nil {
		e.metrics.QdiscBytes.WithLabelValues("root").Set(float64(s.RootBytes))
		e.metrics.QdiscBytes.WithLabelValues("stream").Set(float64(s.StreamBytes))
		e.metrics.QdiscBytes.WithLabelValues("background").Set(float64(s.BackgroundBytes))
	}
	return s, nil
}

// runInstall runs a mutation command; failure is a kernel error with the
// failing command attached.
func (e *Engine) runInstall(cmd string) error {
	if err := e.run.Run(cmd); err != nil {
		e.logger.Error("command failed", "cmd", cmd, "error", err)
		return errors.Wrapf(err, errors.KindKernel, "command failed: '%s'", cmd)
	}
	return nil
}

// runIgnoring runs a deletion command and absorbs failure: the object was
// likely already gone.
func (e *Engine) runIgnoring(cmd string) {
	if err := e.run.Run(cmd); err != nil {
		e.logger.Debug("delete ignored", "cmd", cmd, "error", err)
	}
}

// makeHandle builds a qdisc handle from its major and minor numbers.
func makeHandle(major, minor uint16) uint32 {
	return uint32(major)<<16 | uint32(minor)
}
