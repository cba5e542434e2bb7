// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

// Package wire implements the on-wire plaintext record and the 201-byte
// UDP packet framing around an envelope.Key's ciphertext block.
package wire

import (
	"encoding/binary"
	"net/netip"
)

// ClientDataSize is the fixed length, in bytes, of a ClientData record.
const ClientDataSize = 57

// ClientData is the 57-byte plaintext record exchanged between client
// and server: the hashed command, a monotonically increasing counter,
// the strict-mode flag, and the asserted source/destination addresses.
type ClientData struct {
	CmdHash uint64
	Counter [16]byte // 128-bit counter, big-endian
	Strict  bool
	// SrcIP is the address the client asserts it is sending from. The
	// zero value (not IsValid) means "no source IP asserted".
	SrcIP netip.Addr
	// DstIP is the address the client believes it is reaching.
	DstIP netip.Addr
}

// Serialize encodes the record into its fixed 57-byte wire form.
func (d ClientData) Serialize() [ClientDataSize]byte {
	var out [ClientDataSize]byte

	binary.BigEndian.PutUint64(out[0:8], d.CmdHash)
	copy(out[8:24], d.Counter[:])
	if d.Strict {
		out[24] = 1
	}
	copy(out[25:41], ipTo16(d.SrcIP))
	copy(out[41:57], ipTo16(d.DstIP))

	return out
}

// DeserializeClientData decodes a 57-byte wire record.
func DeserializeClientData(data [ClientDataSize]byte) (ClientData, error) {
	var d ClientData
	d.CmdHash = binary.BigEndian.Uint64(data[0:8])
	copy(d.Counter[:], data[8:24])
	d.Strict = data[24] != 0

	var srcRaw [16]byte
	copy(srcRaw[:], data[25:41])
	if srcRaw != ([16]byte{}) {
		d.SrcIP = ipFrom16(srcRaw)
	}

	var dstRaw [16]byte
	copy(dstRaw[:], data[41:57])
	d.DstIP = ipFrom16(dstRaw)

	return d, nil
}

// ipTo16 renders an address in IPv6 form, mapping IPv4 into
// ::ffff:0:0/96 as the spec requires. The invalid/zero address maps to
// all-zero bytes, which DeserializeClientData treats as "unset" in the
// source field and decodes to "::" in the destination field.
func ipTo16(a netip.Addr) []byte {
	if !a.IsValid() {
		return make([]byte, 16)
	}
	a16 := a.As16()
	return a16[:]
}

// ipFrom16 is the inverse of ipTo16: IPv4-mapped addresses are
// unwrapped back to 4-byte form so callers see the address family they
// sent, preserving the roundtrip symmetry the spec requires.
func ipFrom16(raw [16]byte) netip.Addr {
	addr := netip.AddrFrom16(raw)
	if addr.Is4In6() {
		return addr.Unmap()
	}
	return addr
}

// CounterFromUint64 packs a uint64 nanosecond timestamp (or any
// monotonically increasing source) into the 128-bit big-endian counter
// field, leaving the upper 64 bits zero.
func CounterFromUint64(v uint64) [16]byte {
	var c [16]byte
	binary.BigEndian.PutUint64(c[8:16], v)
	return c
}

// CounterLess reports whether a < b when both are interpreted as
// big-endian 128-bit unsigned integers.
func CounterLess(a, b [16]byte) bool {
	for i := 0; i < 16; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
