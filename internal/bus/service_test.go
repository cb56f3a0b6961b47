// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

package bus

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alban/tcmmd/internal/errors"
	"github.com/alban/tcmmd/internal/tc"
)

func TestParseFlow(t *testing.T) {
	f, err := parseFlow("10.0.0.1", 54321, "1.2.3.4", 80)
	require.NoError(t, err)
	assert.Equal(t, tc.Flow{
		SrcIP:   0x0a000001,
		DstIP:   0x01020304,
		SrcPort: 54321,
		DstPort: 80,
	}, f)
}

func TestParseFlowWildcards(t *testing.T) {
	// Empty strings and zero ports mean "any".
	f, err := parseFlow("", 0, "", 0)
	require.NoError(t, err)
	assert.Equal(t, tc.Flow{}, f)
}

func TestParseFlowRejects(t *testing.T) {
	tests := []struct {
		name     string
		srcIP    string
		srcPort  uint32
		destIP   string
		destPort uint32
	}{
		{"bad src ip", "nonsense", 1, "1.2.3.4", 2},
		{"bad dest ip", "1.2.3.4", 1, "1.2.3.4.5", 2},
		{"ipv6 src", "fe80::1", 1, "1.2.3.4", 2},
		{"src port too big", "1.2.3.4", 70000, "1.2.3.4", 2},
		{"dest port too big", "1.2.3.4", 1, "1.2.3.4", 1 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlow(tt.srcIP, tt.srcPort, tt.destIP, tt.destPort)
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.GetKind(err))
		})
	}
}

func ownerChangedSignal(name, oldOwner, newOwner string) *dbus.Signal {
	return &dbus.Signal{
		Name: ownerChanged,
		Body: []interface{}{name, oldOwner, newOwner},
	}
}

func TestPeerVanished(t *testing.T) {
	watched := ":1.42"

	vanished, name := peerVanished(ownerChangedSignal(watched, watched, ""), watched)
	assert.True(t, vanished)
	assert.Equal(t, watched, name)

	// A new owner appearing is not a disappearance.
	vanished, _ = peerVanished(ownerChangedSignal(watched, "", watched), watched)
	assert.False(t, vanished)

	// Another name's owner change is irrelevant.
	vanished, _ = peerVanished(ownerChangedSignal(":1.99", ":1.99", ""), watched)
	assert.False(t, vanished)

	// Nothing watched: nothing to do.
	vanished, _ = peerVanished(ownerChangedSignal(watched, watched, ""), "")
	assert.False(t, vanished)

	// Unrelated signal.
	sig := &dbus.Signal{Name: "org.freedesktop.DBus.NameAcquired", Body: []interface{}{watched}}
	vanished, _ = peerVanished(sig, watched)
	assert.False(t, vanished)

	// Malformed body.
	sig = &dbus.Signal{Name: ownerChanged, Body: []interface{}{watched}}
	vanished, _ = peerVanished(sig, watched)
	assert.False(t, vanished)
}
