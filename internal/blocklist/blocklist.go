// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

// Package blocklist implements the validator's replay defence: a
// persistent, per-key monotonic counter that rejects any packet whose
// counter does not strictly exceed the last one it accepted.
package blocklist

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/sixafter/nanoid"

	"github.com/haltpoint/knockd/internal/envelope"
	"github.com/haltpoint/knockd/internal/wire"
)

// fileDocument is the on-disk TOML shape: key id (hex) -> decimal
// counter string. Counters are 128-bit and kept as strings since TOML
// (like most config formats) has no native 128-bit integer type.
type fileDocument map[string]string

// Store is the in-memory, mutex-guarded replay table. Despite the
// validator being single-threaded per the concurrency model, Store is
// safe for concurrent use so tests can inspect it without coordinating
// with the receive loop.
type Store struct {
	mu   sync.Mutex
	path string
	max  map[envelope.KeyID][16]byte
}

// Load reads the blocklist file at path. A missing file is not an
// error: it is treated as an empty store, matching the "tolerates
// missing file" contract.
func Load(path string) (*Store, error) {
	s := &Store{
		path: path,
		max:  make(map[envelope.KeyID][16]byte),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blocklist %q: %w", path, err)
	}

	var doc fileDocument
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse blocklist %q: %w", path, err)
	}

	for idHex, counterDec := range doc {
		id, err := decodeKeyIDHex(idHex)
		if err != nil {
			return nil, fmt.Errorf("blocklist %q: %w", path, err)
		}
		counter, err := decodeCounterDecimal(counterDec)
		if err != nil {
			return nil, fmt.Errorf("blocklist %q: key %s: %w", path, idHex, err)
		}
		s.max[id] = counter
	}

	return s, nil
}

// IsBlocked reports whether counter is a replay for keyID: true when
// counter is less than or equal to the highest counter already
// recorded for that key. An unseen key id is never blocked.
func (s *Store) IsBlocked(keyID envelope.KeyID, counter [16]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.max[keyID]
	if !ok {
		return false
	}
	return !wire.CounterLess(stored, counter)
}

// Record updates the stored maximum counter for keyID. Callers must
// have already confirmed !IsBlocked(keyID, counter); Record does not
// re-check.
func (s *Store) Record(keyID envelope.KeyID, counter [16]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max[keyID] = counter
}

// Save serialises the full table and writes it atomically: the new
// content lands in a sibling temp file, which is then renamed over the
// destination so a crash mid-write never leaves a truncated blocklist.
func (s *Store) Save() error {
	s.mu.Lock()
	doc := make(fileDocument, len(s.max))
	for id, counter := range s.max {
		doc[encodeKeyIDHex(id)] = encodeCounterDecimal(counter)
	}
	s.mu.Unlock()

	raw, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal blocklist: %w", err)
	}

	dir := filepath.Dir(s.path)
	suffix, err := nanoid.New()
	if err != nil {
		return fmt.Errorf("generate temp file suffix: %w", err)
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(s.path), suffix))

	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp blocklist %q: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp blocklist into place: %w", err)
	}
	return nil
}

func encodeKeyIDHex(id envelope.KeyID) string {
	return hex.EncodeToString(id[:])
}

func decodeKeyIDHex(s string) (envelope.KeyID, error) {
	var id envelope.KeyID
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != envelope.KeyIDSize {
		return id, fmt.Errorf("invalid key id %q", s)
	}
	copy(id[:], raw)
	return id, nil
}

func encodeCounterDecimal(c [16]byte) string {
	return new(big.Int).SetBytes(c[:]).String()
}

func decodeCounterDecimal(s string) ([16]byte, error) {
	var c [16]byte
	n := new(big.Int)
	if _, ok := n.SetString(s, 10); !ok {
		return c, fmt.Errorf("invalid counter %q", s)
	}
	if n.Sign() < 0 || n.BitLen() > 128 {
		return c, fmt.Errorf("counter %q out of range", s)
	}
	b := n.Bytes()
	copy(c[16-len(b):], b)
	return c, nil
}
