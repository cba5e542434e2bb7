// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package blocklist

import (
	"path/filepath"
	"testing"

	"github.com/haltpoint/knockd/internal/envelope"
	"github.com/haltpoint/knockd/internal/wire"
)

func testKeyID(b byte) envelope.KeyID {
	var id envelope.KeyID
	id[0] = b
	return id
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.IsBlocked(testKeyID(1), wire.CounterFromUint64(1)) {
		t.Fatalf("unseen key id reported as blocked")
	}
}

func TestRecordThenIsBlockedMonotonicity(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "blocklist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	id := testKeyID(1)

	s.Record(id, wire.CounterFromUint64(10))

	for _, c := range []uint64{0, 5, 10} {
		if !s.IsBlocked(id, wire.CounterFromUint64(c)) {
			t.Errorf("counter %d should be blocked after recording 10", c)
		}
	}
	for _, c := range []uint64{11, 20, 1000} {
		if s.IsBlocked(id, wire.CounterFromUint64(c)) {
			t.Errorf("counter %d should not be blocked after recording 10", c)
		}
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocklist.toml")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	id1, id2 := testKeyID(1), testKeyID(2)
	s.Record(id1, wire.CounterFromUint64(42))
	s.Record(id2, wire.CounterFromUint64(99))

	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.IsBlocked(id1, wire.CounterFromUint64(42)) {
		t.Errorf("id1 counter did not persist")
	}
	if reloaded.IsBlocked(id1, wire.CounterFromUint64(43)) {
		t.Errorf("id1 should still accept counter 43 after reload")
	}
	if !reloaded.IsBlocked(id2, wire.CounterFromUint64(99)) {
		t.Errorf("id2 counter did not persist")
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocklist.toml")
	s, _ := Load(path)
	s.Record(testKeyID(3), wire.CounterFromUint64(7))

	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := filepathGlobTmp(dir)
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("leftover temp files after Save: %v", entries)
	}
}

func filepathGlobTmp(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, ".*.tmp-*"))
}
