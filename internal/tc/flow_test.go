// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

package tc

import (
	"testing"
)

func TestParseIPv4(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"", 0, false},
		{"1.2.3.4", 0x01020304, false},
		{"10.0.0.1", 0x0a000001, false},
		{"255.255.255.255", 0xffffffff, false},
		{"not-an-ip", 0, true},
		{"1.2.3.4.5", 0, true},
		{"fe80::1", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseIPv4(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseIPv4(%q) expected error, got %#x", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseIPv4(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseIPv4(%q) = %#x; want %#x", tt.in, got, tt.want)
		}
	}
}

func TestFormatIPv4(t *testing.T) {
	if got := FormatIPv4(0x01020304); got != "1.2.3.4" {
		t.Errorf("FormatIPv4 = %q; want 1.2.3.4", got)
	}
	if got := FormatIPv4(0); got != "any" {
		t.Errorf("FormatIPv4(0) = %q; want any", got)
	}
}

func TestFlowSwapped(t *testing.T) {
	f := Flow{SrcIP: 1, DstIP: 2, SrcPort: 3, DstPort: 4}
	s := f.Swapped()
	if s.SrcIP != 2 || s.DstIP != 1 || s.SrcPort != 4 || s.DstPort != 3 {
		t.Errorf("Swapped() = %+v", s)
	}
	if s.Swapped() != f {
		t.Errorf("Swapped is not an involution")
	}
}
