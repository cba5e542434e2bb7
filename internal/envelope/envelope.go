// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

// Package envelope implements the authenticated-encryption layer for a
// single shared key: key generation, the base64 external key form, and
// AES-256-GCM encryption/decryption of the fixed-size plaintext record.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeyIDSize is the length, in bytes, of a key's non-secret identifier.
	KeyIDSize = 8
	// SecretSize is the length, in bytes, of a key's AES-256 secret.
	SecretSize = 32
	// externalSize is the length of the id||secret external key form.
	externalSize = KeyIDSize + SecretSize

	ivSize  = 12
	tagSize = 16

	saltSize              = 16
	keyDerivationRounds   = 100_000
	keyDerivationHashSize = 32
)

// PlaintextSize is the length, in bytes, of the record encrypt/decrypt
// operate on (internal/wire.ClientDataSize).
const PlaintextSize = 57

// CiphertextSize is the length, in bytes, of an encrypted block: the
// 12-byte IV, the 16-byte AEAD tag, and the 57-byte ciphertext.
const CiphertextSize = ivSize + tagSize + PlaintextSize

// KeyID identifies which Key a packet was encrypted under. It is not
// secret and travels on the wire.
type KeyID [KeyIDSize]byte

// Key is a shared AES-256-GCM key plus its non-secret id.
type Key struct {
	ID     KeyID
	Secret [SecretSize]byte
}

// Generate creates a fresh random key: a random 32-byte seed and 16-byte
// salt are stretched through PBKDF2-HMAC-SHA256 for 100,000 rounds to
// produce the AES secret, and a random 8-byte id is attached.
func Generate() (Key, error) {
	var seed [SecretSize]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return Key{}, fmt.Errorf("generate secret seed: %w", err)
	}

	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return Key{}, fmt.Errorf("generate salt: %w", err)
	}

	derived := pbkdf2.Key(seed[:], salt[:], keyDerivationRounds, keyDerivationHashSize, sha256.New)

	var k Key
	if _, err := rand.Read(k.ID[:]); err != nil {
		return Key{}, fmt.Errorf("generate key id: %w", err)
	}
	copy(k.Secret[:], derived)
	return k, nil
}

// String returns the external base64 form: base64(id || secret).
func (k Key) String() string {
	buf := make([]byte, 0, externalSize)
	buf = append(buf, k.ID[:]...)
	buf = append(buf, k.Secret[:]...)
	return base64.StdEncoding.EncodeToString(buf)
}

// MarshalText implements encoding.TextMarshaler with the external form.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler with the external form.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := FromBase64(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// FromBase64 parses the external key form produced by Key.String,
// rejecting anything that does not decode to exactly 40 bytes.
func FromBase64(s string) (Key, error) {
	s = strings.TrimSpace(s)
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("decode base64 key: %w", err)
	}
	if len(raw) != externalSize {
		return Key{}, fmt.Errorf("key must decode to %d bytes, got %d", externalSize, len(raw))
	}

	var k Key
	copy(k.ID[:], raw[:KeyIDSize])
	copy(k.Secret[:], raw[KeyIDSize:])
	return k, nil
}

// Encrypt authenticates and encrypts a 57-byte plaintext record,
// returning the 85-byte block IV||TAG||CT. A fresh random IV is drawn
// on every call, so identical plaintexts never produce identical blocks.
func (k Key) Encrypt(plaintext [PlaintextSize]byte) ([CiphertextSize]byte, error) {
	var out [CiphertextSize]byte

	block, err := aes.NewCipher(k.Secret[:])
	if err != nil {
		return out, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return out, fmt.Errorf("new gcm: %w", err)
	}

	iv := out[:ivSize]
	if _, err := rand.Read(iv); err != nil {
		return out, fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext[:], nil)
	if len(sealed) != PlaintextSize+tagSize {
		return out, fmt.Errorf("unexpected sealed length %d", len(sealed))
	}

	// crypto/cipher appends the tag after the ciphertext; the wire
	// layout wants IV || TAG || CT, so split and reorder.
	ciphertext := sealed[:PlaintextSize]
	tag := sealed[PlaintextSize:]
	copy(out[ivSize:ivSize+tagSize], tag)
	copy(out[ivSize+tagSize:], ciphertext)

	return out, nil
}

// Decrypt authenticates and decrypts an 85-byte block, returning the
// 57-byte plaintext. Any tag mismatch (wrong key, corruption, forgery)
// is reported as an error; callers must treat every Decrypt error the
// same way (drop the packet).
func (k Key) Decrypt(block [CiphertextSize]byte) ([PlaintextSize]byte, error) {
	var out [PlaintextSize]byte

	iv := block[:ivSize]
	tag := block[ivSize : ivSize+tagSize]
	ciphertext := block[ivSize+tagSize:]

	c, err := aes.NewCipher(k.Secret[:])
	if err != nil {
		return out, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(c, ivSize)
	if err != nil {
		return out, fmt.Errorf("new gcm: %w", err)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return out, fmt.Errorf("authenticate/decrypt: %w", err)
	}
	if len(plain) != PlaintextSize {
		return out, fmt.Errorf("unexpected plaintext length %d", len(plain))
	}
	copy(out[:], plain)
	return out, nil
}
