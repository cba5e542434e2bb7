// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

// Package client implements the send path: compose a ClientData
// record, encrypt it, frame it, and fire a single UDP datagram. No
// waiting, no retrying: the protocol is fire-and-forget.
package client

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/haltpoint/knockd/internal/envelope"
	"github.com/haltpoint/knockd/internal/wire"
)

// AddressPreference controls which resolved address family a Sender
// picks when the destination host has both.
type AddressPreference int

const (
	// PreferIPv4 picks an IPv4 address if one resolved, else IPv6.
	PreferIPv4 AddressPreference = iota
	// PreferIPv6 picks an IPv6 address if one resolved, else IPv4.
	PreferIPv6
)

// Request describes one command trigger to send.
type Request struct {
	Command string
	Counter uint64
	Strict  bool
	SrcIP   netip.Addr // optional; invalid means "unasserted"
}

// Send resolves addr (host:port), builds and encrypts the ClientData
// record for cmd, frames it, and sends exactly one UDP datagram. It
// returns the resolved destination for logging purposes.
func Send(addr string, key envelope.Key, req Request, pref AddressPreference) (netip.AddrPort, error) {
	dst, err := resolveAddr(addr, pref)
	if err != nil {
		return netip.AddrPort{}, err
	}

	hash, err := envelope.HashCommand(req.Command)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("hash command %q: %w", req.Command, err)
	}

	cd := wire.ClientData{
		CmdHash: hash,
		Counter: wire.CounterFromUint64(req.Counter),
		Strict:  req.Strict,
		SrcIP:   req.SrcIP,
		DstIP:   dst.Addr(),
	}

	block, err := key.Encrypt(cd.Serialize())
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("encrypt client data: %w", err)
	}

	packet, err := wire.Encode(key.ID, block)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("frame packet: %w", err)
	}

	bindAddr := "0.0.0.0:0"
	if dst.Addr().Is6() && !dst.Addr().Is4In6() {
		bindAddr = "[::]:0"
	}

	conn, err := net.ListenPacket("udp", bindAddr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("bind local udp socket: %w", err)
	}
	defer conn.Close()

	udpDst := net.UDPAddrFromAddrPort(dst)
	if _, err := conn.WriteTo(packet[:], udpDst); err != nil {
		return netip.AddrPort{}, fmt.Errorf("send datagram to %v: %w", dst, err)
	}

	return dst, nil
}

// resolveAddr resolves host:port into every candidate address and
// picks one according to pref, falling back to whichever family is
// present when the preferred family has no candidates.
func resolveAddr(addr string, pref AddressPreference) (netip.AddrPort, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve host %q: %w", host, err)
	}

	var v4, v6 []netip.Addr
	for _, ip := range ips {
		a, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		a = a.Unmap()
		if a.Is4() {
			v4 = append(v4, a)
		} else {
			v6 = append(v6, a)
		}
	}

	var chosen netip.Addr
	switch {
	case pref == PreferIPv6 && len(v6) > 0:
		chosen = v6[0]
	case pref == PreferIPv4 && len(v4) > 0:
		chosen = v4[0]
	case len(v4) > 0:
		chosen = v4[0]
	case len(v6) > 0:
		chosen = v6[0]
	default:
		return netip.AddrPort{}, fmt.Errorf("no IPv4 or IPv6 address found for %q", host)
	}

	var portNum int
	if _, err := fmt.Sscanf(port, "%d", &portNum); err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid port %q: %w", port, err)
	}

	return netip.AddrPortFrom(chosen, uint16(portNum)), nil
}
