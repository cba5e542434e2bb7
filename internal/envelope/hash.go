// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package envelope

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// CommandHashSize is the length, in bytes, of a hashed command name.
const CommandHashSize = 8

// HashCommand returns the big-endian uint64 BLAKE2b-8byte digest of a
// command name. Command names never travel on the wire in the clear;
// only this digest does.
func HashCommand(name string) (uint64, error) {
	h, err := blake2b.New(CommandHashSize, nil)
	if err != nil {
		return 0, fmt.Errorf("new blake2b hasher: %w", err)
	}
	if _, err := h.Write([]byte(name)); err != nil {
		return 0, fmt.Errorf("hash command name: %w", err)
	}
	return binary.BigEndian.Uint64(h.Sum(nil)), nil
}
