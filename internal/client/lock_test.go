// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package client

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireLockCreatesFileWithPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.lock")
	lock, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if _, err := strconv.Atoi(string(raw[:len(raw)-1])); err != nil {
		t.Errorf("lock file does not contain a pid: %q", raw)
	}
}

func TestAcquireLockFailsWhenAlreadyHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.lock")
	lock, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	if _, err := AcquireLock(path); err == nil {
		t.Fatalf("expected second AcquireLock to fail while the first is held")
	}
}

func TestAcquireLockCleansStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.lock")
	if err := os.WriteFile(path, []byte("999999999\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	lock, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}
}

func TestReleaseRemovesLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.lock")
	lock, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected lock file to be removed")
	}
}
