// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package client

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// SystemClockSource is the ntp setting's sentinel meaning "use the
// local wall clock" instead of querying a server.
const SystemClockSource = "system"

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// CounterNanos returns the client's best-available monotonic
// nanosecond timestamp: either the local wall clock, or a value
// queried from an NTP server, so a client whose own clock lags behind
// what the server has already recorded does not get spuriously
// rejected as a replay.
func CounterNanos(source string) (uint64, error) {
	if source == "" || source == SystemClockSource {
		return uint64(time.Now().UnixNano()), nil
	}
	return queryNTP(source)
}

// queryNTP runs a minimal SNTP v4 client request/response exchange
// against addr (host:port, e.g. "pool.ntp.org:123").
func queryNTP(addr string) (uint64, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return 0, fmt.Errorf("dial ntp server %q: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return 0, fmt.Errorf("set ntp deadline: %w", err)
	}

	var req [48]byte
	req[0] = 0b00_011_011 // LI=0 (no warning), VN=3, Mode=3 (client)

	if _, err := conn.Write(req[:]); err != nil {
		return 0, fmt.Errorf("send ntp request to %q: %w", addr, err)
	}

	var resp [48]byte
	if _, err := conn.Read(resp[:]); err != nil {
		return 0, fmt.Errorf("read ntp response from %q: %w", addr, err)
	}

	// Bytes 40..48 hold the "transmit timestamp": 32-bit seconds since
	// the NTP epoch, followed by a 32-bit fraction of a second.
	seconds := binary.BigEndian.Uint32(resp[40:44])
	fraction := binary.BigEndian.Uint32(resp[44:48])

	unixSeconds := int64(seconds) - ntpEpochOffset
	if unixSeconds < 0 {
		return 0, fmt.Errorf("ntp server %q returned a timestamp before the Unix epoch", addr)
	}

	nanos := uint64(unixSeconds)*1_000_000_000 + fractionToNanos(fraction)
	return nanos, nil
}

// fractionToNanos converts a 32-bit NTP fixed-point fraction of a
// second into nanoseconds.
func fractionToNanos(fraction uint32) uint64 {
	return (uint64(fraction) * 1_000_000_000) >> 32
}
