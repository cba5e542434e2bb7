// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

// Package ipc implements the fixed 24-byte message the validator sends
// to the commander over their shared Unix-domain socket.
package ipc

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// MessageSize is the fixed length, in bytes, of a commander message.
const MessageSize = 24

// Message is what the validator tells the commander once a packet has
// cleared every policy check: which command to run and whose address
// triggered it. It never carries the command string itself.
type Message struct {
	CmdHash uint64
	SrcIP   netip.Addr
}

// Serialize encodes the message as cmd_hash (8, big-endian) followed
// by the source IP in 16-byte IPv6 (or IPv4-mapped) form.
func (m Message) Serialize() [MessageSize]byte {
	var out [MessageSize]byte
	binary.BigEndian.PutUint64(out[0:8], m.CmdHash)

	if m.SrcIP.IsValid() {
		addr16 := m.SrcIP.As16()
		copy(out[8:24], addr16[:])
	}
	return out
}

// Deserialize decodes a 24-byte commander message.
func Deserialize(data [MessageSize]byte) (Message, error) {
	var m Message
	m.CmdHash = binary.BigEndian.Uint64(data[0:8])

	var raw [16]byte
	copy(raw[:], data[8:24])
	if raw == ([16]byte{}) {
		return m, fmt.Errorf("commander message missing source ip")
	}

	addr := netip.AddrFrom16(raw)
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	m.SrcIP = addr
	return m, nil
}
