// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package wire

import (
	"net/netip"
	"testing"
)

func TestClientDataRoundtrip(t *testing.T) {
	d := ClientData{
		CmdHash: 0x0102030405060708,
		Counter: CounterFromUint64(42),
		Strict:  true,
		SrcIP:   netip.MustParseAddr("203.0.113.5"),
		DstIP:   netip.MustParseAddr("2001:db8::1"),
	}

	got, err := DeserializeClientData(d.Serialize())
	if err != nil {
		t.Fatalf("DeserializeClientData: %v", err)
	}
	if got.CmdHash != d.CmdHash {
		t.Errorf("CmdHash: got %x want %x", got.CmdHash, d.CmdHash)
	}
	if got.Counter != d.Counter {
		t.Errorf("Counter: got %x want %x", got.Counter, d.Counter)
	}
	if got.Strict != d.Strict {
		t.Errorf("Strict: got %v want %v", got.Strict, d.Strict)
	}
	if got.SrcIP != d.SrcIP {
		t.Errorf("SrcIP: got %v want %v", got.SrcIP, d.SrcIP)
	}
	if got.DstIP != d.DstIP {
		t.Errorf("DstIP: got %v want %v", got.DstIP, d.DstIP)
	}
}

func TestClientDataIPv4RoundtripPreservesFamily(t *testing.T) {
	d := ClientData{
		DstIP: netip.MustParseAddr("198.51.100.9"),
	}
	got, err := DeserializeClientData(d.Serialize())
	if err != nil {
		t.Fatalf("DeserializeClientData: %v", err)
	}
	if !got.DstIP.Is4() {
		t.Fatalf("expected IPv4 address to roundtrip as Is4, got %v", got.DstIP)
	}
	if got.DstIP != d.DstIP {
		t.Errorf("DstIP: got %v want %v", got.DstIP, d.DstIP)
	}
}

func TestClientDataUnsetSrcIPRoundtripsInvalid(t *testing.T) {
	d := ClientData{
		DstIP: netip.MustParseAddr("203.0.113.1"),
	}
	got, err := DeserializeClientData(d.Serialize())
	if err != nil {
		t.Fatalf("DeserializeClientData: %v", err)
	}
	if got.SrcIP.IsValid() {
		t.Fatalf("expected unset SrcIP to stay invalid, got %v", got.SrcIP)
	}
}

func TestDeserializeClientDataAllZeroDstIPRoundtripsAsUnspecified(t *testing.T) {
	// An all-zero destination is not itself a framing error: it
	// deserialises to the unspecified address "::", which the
	// validator's destination whitelist then rejects as WrongHost
	// rather than DeserializeClientData rejecting it as Malformed.
	var d ClientData
	got, err := DeserializeClientData(d.Serialize())
	if err != nil {
		t.Fatalf("DeserializeClientData: %v", err)
	}
	if got.DstIP != netip.IPv6Unspecified() {
		t.Fatalf("expected all-zero destination to decode to the unspecified address, got %v", got.DstIP)
	}
}

func TestCounterLess(t *testing.T) {
	low := CounterFromUint64(1)
	high := CounterFromUint64(2)
	if !CounterLess(low, high) {
		t.Errorf("expected %x < %x", low, high)
	}
	if CounterLess(high, low) {
		t.Errorf("expected %x not < %x", high, low)
	}
	if CounterLess(low, low) {
		t.Errorf("expected counter not less than itself")
	}
}
