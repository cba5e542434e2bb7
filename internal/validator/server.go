// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

// Package validator implements the network-facing half of the system:
// the UDP receive loop, the per-packet validation state machine, and
// dispatch to the commander. It never executes commands itself.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/haltpoint/knockd/internal/blocklist"
	"github.com/haltpoint/knockd/internal/envelope"
	"github.com/haltpoint/knockd/internal/ipc"
	"github.com/haltpoint/knockd/internal/wire"
)

// Server is the per-packet validation state machine described by the
// component design: it owns the loaded key store, the destination
// whitelist, the replay blocklist, and a client to the commander.
type Server struct {
	Keys      envelope.Store
	Blocklist *blocklist.Store
	Commander CommanderClient
	Logger    *slog.Logger

	// dropLimiter bounds how often a single validator logs dropped
	// packets, so a flood of malformed traffic cannot be used to fill
	// disk or drown out real log lines.
	dropLimiter *rate.Limiter

	// dstMu guards dstIPs, which UpdateDestinations may swap out from
	// a config-reload goroutine while the receive loop is reading it.
	dstMu  sync.RWMutex
	dstIPs map[netip.Addr]struct{}
}

// New constructs a Server. dropLogsPerSecond bounds the sustained rate
// of drop-reason log lines; a burst of 2x that rate is tolerated.
func New(keys envelope.Store, dstIPs []netip.Addr, bl *blocklist.Store, commander CommanderClient, logger *slog.Logger, dropLogsPerSecond float64) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if dropLogsPerSecond <= 0 {
		dropLogsPerSecond = 5
	}

	s := &Server{
		Keys:        keys,
		Blocklist:   bl,
		Commander:   commander,
		Logger:      logger,
		dropLimiter: rate.NewLimiter(rate.Limit(dropLogsPerSecond), int(dropLogsPerSecond*2)),
	}
	s.UpdateDestinations(dstIPs)
	return s
}

// UpdateDestinations atomically replaces the destination whitelist.
// Safe to call concurrently with Serve, so a config-file watcher can
// reload the whitelist without disturbing in-flight validation.
func (s *Server) UpdateDestinations(dstIPs []netip.Addr) {
	dstSet := make(map[netip.Addr]struct{}, len(dstIPs))
	for _, a := range dstIPs {
		dstSet[a] = struct{}{}
	}
	s.dstMu.Lock()
	s.dstIPs = dstSet
	s.dstMu.Unlock()
}

// allowsDestination reports whether addr is in the current whitelist.
func (s *Server) allowsDestination(addr netip.Addr) bool {
	s.dstMu.RLock()
	defer s.dstMu.RUnlock()
	_, ok := s.dstIPs[addr]
	return ok
}

// Serve runs the receive loop against conn until ctx is cancelled. A
// single goroutine processes datagrams to completion one at a time, by
// design: no locking is needed around the blocklist or the counter
// check because nothing else touches them concurrently.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})

	g.Go(func() error {
		buf := make([]byte, 2*wire.PacketSize)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read udp: %w", err)
			}

			observed, ok := addrToNetip(addr)
			if !ok {
				s.logDrop(drop(Malformed, fmt.Errorf("unrecognised source address %v", addr)))
				continue
			}

			if err := s.handleDatagram(gctx, buf[:n], observed); err != nil {
				s.logDrop(err)
			}
		}
	})

	return g.Wait()
}

// handleDatagram runs one datagram through the eight-step validation
// pipeline. The first failing step returns immediately; nothing after
// it runs, and in particular the blocklist is never touched until
// dispatch has already been decided.
func (s *Server) handleDatagram(ctx context.Context, data []byte, observedSrc netip.Addr) error {
	if len(data) != wire.PacketSize {
		return drop(WrongSize, fmt.Errorf("got %d bytes, want %d", len(data), wire.PacketSize))
	}

	var packet [wire.PacketSize]byte
	copy(packet[:], data)

	keyID, block, err := wire.Decode(packet)
	if err != nil {
		return drop(Malformed, err)
	}

	key, ok := s.Keys[keyID]
	if !ok {
		return drop(UnknownKey, fmt.Errorf("key id %x", keyID))
	}

	plaintext, err := key.Decrypt(block)
	if err != nil {
		return drop(BadAuth, err)
	}

	cd, err := wire.DeserializeClientData(plaintext)
	if err != nil {
		return drop(Malformed, err)
	}

	if s.Blocklist.IsBlocked(keyID, cd.Counter) {
		return drop(Replay, fmt.Errorf("counter for key %x already seen", keyID))
	}

	if !s.allowsDestination(cd.DstIP) {
		return drop(WrongHost, fmt.Errorf("destination %v not in whitelist", cd.DstIP))
	}

	if cd.Strict && cd.SrcIP.IsValid() && !addrsEqual(cd.SrcIP, observedSrc) {
		return drop(WrongSource, fmt.Errorf("declared %v, observed %v", cd.SrcIP, observedSrc))
	}

	effectiveSrc := cd.SrcIP
	if !effectiveSrc.IsValid() {
		effectiveSrc = observedSrc
	}

	msg := ipc.Message{CmdHash: cd.CmdHash, SrcIP: effectiveSrc}
	if err := s.Commander.Send(ctx, msg); err != nil {
		// The accepted-packet decision has already been made; a
		// commander outage must not reopen the replay window, so the
		// counter is still recorded below.
		s.Logger.Error("commander dispatch failed", "key_id", fmt.Sprintf("%x", keyID), "err", err)
	} else {
		s.Logger.Info("dispatched command", "key_id", fmt.Sprintf("%x", keyID), "src_ip", effectiveSrc)
	}

	s.Blocklist.Record(keyID, cd.Counter)
	if err := s.Blocklist.Save(); err != nil {
		// Durability-before-ack is the goal, not an absolute guarantee:
		// a write failure here is logged and the process keeps running,
		// trading a possible single-counter replay after an unclean
		// restart for liveness now.
		s.Logger.Error("persist blocklist failed", "err", err)
	}

	return nil
}

func (s *Server) logDrop(err error) {
	if !s.dropLimiter.Allow() {
		return
	}
	var de *DropError
	if ok := asDropError(err, &de); ok {
		s.Logger.Warn("dropped packet", "reason", string(de.Kind), "detail", de.Cause)
		return
	}
	s.Logger.Warn("dropped packet", "detail", err)
}

func asDropError(err error, target **DropError) bool {
	de, ok := err.(*DropError)
	if !ok {
		return false
	}
	*target = de
	return true
}

// addrToNetip converts the net.Addr a PacketConn hands back into a
// netip.Addr, unmapping IPv4-in-IPv6 so it compares equal to addresses
// parsed straight out of ClientData.
func addrToNetip(addr net.Addr) (netip.Addr, bool) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, false
	}
	a, ok := netip.AddrFromSlice(udpAddr.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

// addrsEqual compares two addresses after normalising both to their
// unmapped form, so "::ffff:10.0.0.1" and "10.0.0.1" are equal.
func addrsEqual(a, b netip.Addr) bool {
	return a.Unmap() == b.Unmap()
}
