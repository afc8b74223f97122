// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package actor

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// Metadata is the decrypted key→value map carried in an `x-armour` header
// (spec §4.5/§6).
type Metadata map[string]string

// sealer seals and opens x-armour values with a 256-bit AEAD key that is
// immutable for the lifetime of the actor (spec §5 "Shared resources").
type sealer struct {
	aead cipher.AEAD
}

func newSealer(key [chacha20poly1305.KeySize]byte) (*sealer, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("actor: building AEAD: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// nonce builds the 12-byte nonce format of spec §6: ASCII "armo" followed by
// the low 8 bytes of a nanosecond timestamp.
func nonce(now time.Time) [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	copy(n[:4], "armo")
	binary.BigEndian.PutUint64(n[4:], uint64(now.UnixNano()))
	return n
}

// Seal encrypts md as the outbound x-armour header value: base64(ciphertext)
// ";" base64(nonce) (spec §6).
func (s *sealer) Seal(md Metadata) (string, error) {
	plain, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("actor: marshaling metadata: %w", err)
	}
	n := nonce(time.Now())
	ct := s.aead.Seal(nil, n[:], plain, nil)
	return base64.StdEncoding.EncodeToString(ct) + ";" + base64.StdEncoding.EncodeToString(n[:]), nil
}

// Open decrypts an inbound x-armour header value. An empty or malformed
// header yields an empty Metadata rather than an error: identity resolution
// and metadata extraction never fail the request (spec §4.5).
func (s *sealer) Open(header string) Metadata {
	if header == "" {
		return Metadata{}
	}
	parts := strings.SplitN(header, ";", 2)
	if len(parts) != 2 {
		return Metadata{}
	}
	ct, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return Metadata{}
	}
	n, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(n) != chacha20poly1305.NonceSize {
		return Metadata{}
	}
	plain, err := s.aead.Open(nil, n, ct, nil)
	if err != nil {
		return Metadata{}
	}
	var md Metadata
	if err := json.Unmarshal(plain, &md); err != nil {
		return Metadata{}
	}
	return md
}

// randomKey generates a fresh 32-byte metadata key (used when the host does
// not supply one at boot).
func randomKey() ([chacha20poly1305.KeySize]byte, error) {
	var key [chacha20poly1305.KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("actor: generating metadata key: %w", err)
	}
	return key, nil
}
