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

import "testing"

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := randomKey()
	if err != nil {
		t.Fatalf("randomKey: %v", err)
	}
	s, err := newSealer(key)
	if err != nil {
		t.Fatalf("newSealer: %v", err)
	}
	md := Metadata{"tenant": "acme", "trace": "abc123"}
	header, err := s.Seal(md)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got := s.Open(header)
	if len(got) != len(md) {
		t.Fatalf("got %v, want %v", got, md)
	}
	for k, v := range md {
		if got[k] != v {
			t.Fatalf("key %q: got %q, want %q", k, got[k], v)
		}
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key, err := randomKey()
	if err != nil {
		t.Fatalf("randomKey: %v", err)
	}
	s, err := newSealer(key)
	if err != nil {
		t.Fatalf("newSealer: %v", err)
	}
	header, err := s.Seal(Metadata{"a": "b"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	// flip the first base64 character of the ciphertext part (before ";")
	b := []byte(header)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	tampered := string(b)
	got := s.Open(tampered)
	if len(got) != 0 {
		t.Fatalf("tampered header decrypted to %v, want empty", got)
	}
}

func TestOpenEmptyHeaderYieldsEmptyMetadata(t *testing.T) {
	key, err := randomKey()
	if err != nil {
		t.Fatalf("randomKey: %v", err)
	}
	s, err := newSealer(key)
	if err != nil {
		t.Fatalf("newSealer: %v", err)
	}
	got := s.Open("")
	if len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}

func TestSealUsesFreshNoncePerCall(t *testing.T) {
	key, err := randomKey()
	if err != nil {
		t.Fatalf("randomKey: %v", err)
	}
	s, err := newSealer(key)
	if err != nil {
		t.Fatalf("newSealer: %v", err)
	}
	md := Metadata{"a": "b"}
	h1, _ := s.Seal(md)
	h2, _ := s.Seal(md)
	if h1 == h2 {
		t.Fatal("two seals of identical metadata produced identical headers")
	}
}
