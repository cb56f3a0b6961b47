// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

// Package bus publishes the org.tcmmd RPC surface on the system message bus
// and watches the calling peer so that its disappearance tears the policy
// down implicitly.
package bus

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/alban/tcmmd/internal/errors"
	"github.com/alban/tcmmd/internal/logging"
	"github.com/alban/tcmmd/internal/metrics"
	"github.com/alban/tcmmd/internal/policy"
	"github.com/alban/tcmmd/internal/tc"
)

const (
	// WellKnownName is the bus name the daemon owns.
	WellKnownName = "org.tcmmd"
	// Path is the exported object path.
	Path dbus.ObjectPath = "/org/tcmmd/ManagedConnections"
	// Interface is the exported interface name.
	Interface = "org.tcmmd.ManagedConnections"

	// errInvalidArgument is the bus error returned on malformed input.
	errInvalidArgument = "org.tcmmd.Error.InvalidArgument"

	dbusService   = "org.freedesktop.DBus"
	dbusInterface = "org.freedesktop.DBus"
	ownerChanged  = "org.freedesktop.DBus.NameOwnerChanged"
)

// Service owns the bus connection, the exported object and the peer watch.
type Service struct {
	conn    *dbus.Conn
	submit  func(policy.Event)
	logger  *logging.Logger
	metrics *metrics.Metrics
	props   *prop.Properties

	mu      sync.Mutex
	watched string

	signals chan *dbus.Signal
}

// New connects to the system bus, exports the ManagedConnections object and
// claims the well-known name. submit posts controller events into the daemon
// loop; metrics may be nil.
func New(submit func(policy.Event), logger *logging.Logger, m *metrics.Metrics) (*Service, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "cannot connect to system bus")
	}

	s := &Service{
		conn:    conn,
		submit:  submit,
		logger:  logger.WithComponent("bus"),
		metrics: m,
		signals: make(chan *dbus.Signal, 16),
	}

	if err := s.export(); err != nil {
		conn.Close()
		return nil, err
	}

	reply, err := conn.RequestName(WellKnownName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, errors.KindUnavailable, "cannot request bus name")
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, errors.Errorf(errors.KindUnavailable,
			"bus name %s already owned (is another tcmmd running?)", WellKnownName)
	}

	conn.Signal(s.signals)
	go s.watchSignals()

	s.logger.Info("listening", "name", WellKnownName, "path", string(Path))
	return s, nil
}

func (s *Service) export() error {
	h := &handler{s: s}
	if err := s.conn.Export(h, Path, Interface); err != nil {
		return errors.Wrap(err, errors.KindInternal, "cannot export object")
	}

	var err error
	s.props, err = prop.Export(s.conn, Path, map[string]map[string]*prop.Prop{
		Interface: {
			"Bitrate": {
				Value:    uint32(0),
				Writable: true,
				Emit:     prop.EmitTrue,
			},
			"BufferFill": {
				Value:    float64(0),
				Writable: true,
				Emit:     prop.EmitTrue,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "cannot export properties")
	}

	node := &introspect.Node{
		Name: string(Path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: Interface,
				Methods: []introspect.Method{
					{
						Name: "SetPolicy",
						Args: []introspect.Arg{
							{Name: "src_ip", Type: "s", Direction: "in"},
							{Name: "src_port", Type: "u", Direction: "in"},
							{Name: "dest_ip", Type: "s", Direction: "in"},
							{Name: "dest_port", Type: "u", Direction: "in"},
							{Name: "bitrate", Type: "u", Direction: "in"},
							{Name: "buffer_fill", Type: "d", Direction: "in"},
						},
					},
					{
						Name: "SetFixedPolicy",
						Args: []introspect.Arg{
							{Name: "src_ip", Type: "s", Direction: "in"},
							{Name: "src_port", Type: "u", Direction: "in"},
							{Name: "dest_ip", Type: "s", Direction: "in"},
							{Name: "dest_port", Type: "u", Direction: "in"},
							{Name: "stream_rate", Type: "u", Direction: "in"},
							{Name: "background_rate", Type: "u", Direction: "in"},
						},
					},
					{Name: "UnsetPolicy"},
				},
				Properties: []introspect.Property{
					{Name: "Bitrate", Type: "u", Access: "readwrite"},
					{Name: "BufferFill", Type: "d", Access: "readwrite"},
				},
			},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), Path,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return errors.Wrap(err, errors.KindInternal, "cannot export introspection")
	}
	return nil
}

// Close releases the bus name and connection.
func (s *Service) Close() error {
	s.mu.Lock()
	watched := s.watched
	s.watched = ""
	s.mu.Unlock()
	if watched != "" {
		_ = s.conn.RemoveMatchSignal(ownerMatchOptions(watched)...)
	}
	return s.conn.Close()
}

func ownerMatchOptions(name string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(dbusService),
		dbus.WithMatchInterface(dbusInterface),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, name),
	}
}

// watchPeer subscribes to the unique name of the latest caller. Only one
// watch is kept; a call from a different peer supersedes the previous one.
func (s *Service) watchPeer(name string) {
	s.mu.Lock()
	prev := s.watched
	if prev == name {
		s.mu.Unlock()
		return
	}
	s.watched = name
	s.mu.Unlock()

	if prev != "" {
		_ = s.conn.RemoveMatchSignal(ownerMatchOptions(prev)...)
	}
	if err := s.conn.AddMatchSignal(ownerMatchOptions(name)...); err != nil {
		s.logger.Warn("cannot watch peer", "name", name, "error", err)
	}
}

// unwatchPeer drops the current watch, if any.
func (s *Service) unwatchPeer() {
	s.mu.Lock()
	prev := s.watched
	s.watched = ""
	s.mu.Unlock()

	if prev != "" {
		_ = s.conn.RemoveMatchSignal(ownerMatchOptions(prev)...)
	}
}

func (s *Service) watchSignals() {
	for sig := range s.signals {
		if vanished, name := peerVanished(sig, s.currentWatch()); vanished {
			s.unwatchPeer()
			s.logger.Info("peer vanished, unsetting policy", "name", name)
			s.submit(policy.UnsetPolicy{})
		}
	}
}

func (s *Service) currentWatch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watched
}

// peerVanished reports whether sig is a NameOwnerChanged for the watched
// name losing its owner.
func peerVanished(sig *dbus.Signal, watched string) (bool, string) {
	if watched == "" || sig.Name != ownerChanged || len(sig.Body) != 3 {
		return false, ""
	}
	name, _ := sig.Body[0].(string)
	newOwner, _ := sig.Body[2].(string)
	if name != watched || newOwner != "" {
		return false, ""
	}
	return true, name
}

// handler is the object exported at Path.
type handler struct {
	s *Service
}

func (h *handler) reject(err error) *dbus.Error {
	if h.s.metrics != nil {
		h.s.metrics.RejectedCalls.Inc()
	}
	h.s.logger.Warn("rejecting call", "error", err)
	return dbus.NewError(errInvalidArgument, []interface{}{err.Error()})
}

// SetPolicy installs or updates the adaptive policy for a streaming flow.
func (h *handler) SetPolicy(sender dbus.Sender, srcIP string, srcPort uint32, destIP string, destPort uint32, bitrate uint32, bufferFill float64) *dbus.Error {
	flow, err := parseFlow(srcIP, srcPort, destIP, destPort)
	if err != nil {
		return h.reject(err)
	}
	if bufferFill < 0 || bufferFill > 1 {
		return h.reject(errors.Errorf(errors.KindValidation,
			"buffer_fill out of range: %g", bufferFill))
	}

	h.s.logger.Info("SetPolicy",
		"src", srcIP, "src_port", srcPort, "dest", destIP, "dest_port", destPort,
		"bitrate", bitrate, "buffer_fill", bufferFill)

	h.s.watchPeer(string(sender))
	h.s.props.SetMust(Interface, "Bitrate", bitrate)
	h.s.props.SetMust(Interface, "BufferFill", bufferFill)

	h.s.submit(policy.SetPolicy{
		Flow:       flow,
		Bitrate:    uint64(bitrate),
		BufferFill: bufferFill,
	})
	return nil
}

// SetFixedPolicy installs exact class rates under manual control.
func (h *handler) SetFixedPolicy(sender dbus.Sender, srcIP string, srcPort uint32, destIP string, destPort uint32, streamRate uint32, backgroundRate uint32) *dbus.Error {
	flow, err := parseFlow(srcIP, srcPort, destIP, destPort)
	if err != nil {
		return h.reject(err)
	}

	h.s.logger.Info("SetFixedPolicy",
		"src", srcIP, "src_port", srcPort, "dest", destIP, "dest_port", destPort,
		"stream_rate", streamRate, "background_rate", backgroundRate)

	h.s.watchPeer(string(sender))

	h.s.submit(policy.SetFixedPolicy{
		Flow:           flow,
		StreamRate:     uint64(streamRate),
		BackgroundRate: uint64(backgroundRate),
	})
	return nil
}

// UnsetPolicy clears the active policy.
func (h *handler) UnsetPolicy() *dbus.Error {
	h.s.logger.Info("UnsetPolicy")
	h.s.unwatchPeer()
	h.s.submit(policy.UnsetPolicy{})
	return nil
}

// parseFlow validates and converts the wire arguments. Empty IPs and zero
// ports mean "any".
func parseFlow(srcIP string, srcPort uint32, destIP string, destPort uint32) (tc.Flow, error) {
	var f tc.Flow

	src, err := tc.ParseIPv4(srcIP)
	if err != nil {
		return f, err
	}
	dst, err := tc.ParseIPv4(destIP)
	if err != nil {
		return f, err
	}
	if srcPort > 0xffff {
		return f, errors.Errorf(errors.KindValidation, "src_port out of range: %d", srcPort)
	}
	if destPort > 0xffff {
		return f, errors.Errorf(errors.KindValidation, "dest_port out of range: %d", destPort)
	}

	f.SrcIP = src
	f.DstIP = dst
	f.SrcPort = uint16(srcPort)
	f.DstPort = uint16(destPort)
	return f, nil
}
