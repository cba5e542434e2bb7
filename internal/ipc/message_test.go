// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package ipc

import (
	"net/netip"
	"testing"
)

func TestMessageRoundtrip(t *testing.T) {
	m := Message{
		CmdHash: 0xdeadbeefcafef00d,
		SrcIP:   netip.MustParseAddr("203.0.113.9"),
	}
	got, err := Deserialize(m.Serialize())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.CmdHash != m.CmdHash {
		t.Errorf("CmdHash: got %x want %x", got.CmdHash, m.CmdHash)
	}
	if got.SrcIP != m.SrcIP {
		t.Errorf("SrcIP: got %v want %v", got.SrcIP, m.SrcIP)
	}
}

func TestMessageRoundtripIPv6(t *testing.T) {
	m := Message{
		CmdHash: 1,
		SrcIP:   netip.MustParseAddr("2001:db8::beef"),
	}
	got, err := Deserialize(m.Serialize())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.SrcIP != m.SrcIP {
		t.Errorf("SrcIP: got %v want %v", got.SrcIP, m.SrcIP)
	}
}

func TestDeserializeRejectsMissingSourceIP(t *testing.T) {
	var data [MessageSize]byte
	if _, err := Deserialize(data); err == nil {
		t.Fatalf("expected error for all-zero source ip")
	}
}

func TestMessageSize(t *testing.T) {
	var m Message
	if len(m.Serialize()) != MessageSize {
		t.Fatalf("size mismatch")
	}
}
