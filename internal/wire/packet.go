// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package wire

import (
	"crypto/rand"
	"fmt"

	"github.com/haltpoint/knockd/internal/envelope"
)

// suffixSize is the number of bytes after the sentinel: key id plus
// ciphertext.
const suffixSize = envelope.KeyIDSize + envelope.CiphertextSize

// PacketSize is the fixed length, in bytes, of a wire packet: 201, a
// single MTU-safe chunk. Anything of a different size is dropped
// before any crypto operation runs.
const PacketSize = 201

// paddingSize is the length of the random non-zero prefix Encode
// produces ahead of the sentinel byte.
const paddingSize = PacketSize - suffixSize - 1

// Encode builds a 201-byte wire packet: the ciphertext block occupies
// the last 85 bytes, the key id the 8 bytes before it, a single 0x00
// sentinel byte precedes that, and every byte before the sentinel is
// fresh random padding drawn from 1..=255 so the sentinel is the first
// zero byte a scanning decoder encounters.
func Encode(keyID envelope.KeyID, block [envelope.CiphertextSize]byte) ([PacketSize]byte, error) {
	var out [PacketSize]byte

	ciphertextStart := PacketSize - envelope.CiphertextSize
	keyIDStart := ciphertextStart - envelope.KeyIDSize
	sentinel := keyIDStart - 1

	copy(out[ciphertextStart:], block[:])
	copy(out[keyIDStart:ciphertextStart], keyID[:])
	out[sentinel] = 0x00

	if sentinel > 0 {
		if err := fillNonZero(out[:sentinel]); err != nil {
			return out, err
		}
	}

	return out, nil
}

// Decode scans a 201-byte packet for the first 0x00 byte and splits the
// remainder into the key id and ciphertext block. It fails if no
// sentinel is found or if anything other than exactly
// KeyIDSize+CiphertextSize bytes follow it.
func Decode(packet [PacketSize]byte) (envelope.KeyID, [envelope.CiphertextSize]byte, error) {
	var keyID envelope.KeyID
	var block [envelope.CiphertextSize]byte

	sentinel := -1
	for i, b := range packet {
		if b == 0x00 {
			sentinel = i
			break
		}
	}
	if sentinel == -1 {
		return keyID, block, fmt.Errorf("malformed packet: no sentinel byte found")
	}

	remaining := packet[sentinel+1:]
	if len(remaining) != suffixSize {
		return keyID, block, fmt.Errorf(
			"malformed packet: expected %d bytes after sentinel, got %d", suffixSize, len(remaining))
	}

	copy(keyID[:], remaining[:envelope.KeyIDSize])
	copy(block[:], remaining[envelope.KeyIDSize:])
	return keyID, block, nil
}

// fillNonZero fills buf with random bytes, each strictly in 1..=255, so
// none of them is mistaken for the sentinel.
func fillNonZero(buf []byte) error {
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate packet padding: %w", err)
	}
	for i, b := range buf {
		if b == 0 {
			buf[i] = 1
		}
	}
	return nil
}
