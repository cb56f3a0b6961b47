// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

package tc

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/alban/tcmmd/internal/errors"
)

// Flow identifies a TCP connection by its 4-tuple. IPs are 32-bit values in
// network byte order, ports are in host order. A zero field means "any" and
// disables matching on that field.
//
// The streaming client reports the tuple from its own point of view. The
// kernel rules are installed on the ingress path, so they see the tuple from
// the remote sender's point of view; Swapped converts between the two.
type Flow struct {
	SrcIP   uint32
	DstIP   uint32
	SrcPort uint16
	DstPort uint16
}

// Swapped returns the flow seen from the other endpoint.
func (f Flow) Swapped() Flow {
	return Flow{
		SrcIP:   f.DstIP,
		DstIP:   f.SrcIP,
		SrcPort: f.DstPort,
		DstPort: f.SrcPort,
	}
}

// String formats the flow as src -> dst for logs.
func (f Flow) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d",
		FormatIPv4(f.SrcIP), f.SrcPort, FormatIPv4(f.DstIP), f.DstPort)
}

// ParseIPv4 converts a dotted-quad string to a 32-bit network-order value.
// The empty string means "any" and parses to zero.
func ParseIPv4(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, errors.Errorf(errors.KindValidation, "invalid IPv4 address %q", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, errors.Errorf(errors.KindValidation, "not an IPv4 address: %q", s)
	}
	return binary.BigEndian.Uint32(ip4), nil
}

// FormatIPv4 renders a 32-bit network-order value as a dotted quad.
// Zero renders as "any".
func FormatIPv4(v uint32) string {
	if v == 0 {
		return "any"
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return net.IP(b[:]).String()
}
