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

// Package connseq mints the monotonically increasing counters a policy
// actor attaches to outgoing Connection values (spec §3.2) and the frame
// counters the TCP proxy uses to gate its backpressure window (spec §5.2).
// Both are padded atomic counters in the shape of the teacher's striped
// accumulator (pkg/vsa): here a single counter suffices, since minting a
// connection number or counting frames is a pure increment-and-read rather
// than the consume/refund/commit dance VSA exists for, but the false-sharing
// guard is worth keeping since every HTTP and TCP connection on a proxy
// calls through the same counter.
package connseq

import "sync/atomic"

// cache line size varies; over-pad to avoid false sharing with neighboring
// fields when a Minter is embedded in a larger struct.
const padSize = 128 - 8

// Minter hands out a strictly increasing sequence of int64 values, wrapping
// via plain two's-complement overflow once it exhausts int64 (spec §9 open
// question: Connection.number wraparound behavior).
type Minter struct {
	n   atomic.Int64
	_   [padSize]byte
}

// Next returns the next value in the sequence, starting at 1 for a
// zero-valued Minter (0 is reserved to mean "no connection number assigned
// yet" on a zero-valued Connection).
func (m *Minter) Next() int64 {
	return m.n.Add(1)
}

// Peek returns the most recently minted value without advancing the
// sequence, or 0 if Next has never been called.
func (m *Minter) Peek() int64 {
	return m.n.Load()
}

// FrameCounter tracks bytes (or frames) passed through a spliced TCP
// connection within the current backpressure window (spec §5.2). The TCP
// proxy closes a half-connection whose count goes over 100,000 frames
// within one 500ms window.
type FrameCounter struct {
	frames atomic.Int64
	_      [padSize]byte
}

// Add records n frames and returns the new total for the current window.
func (f *FrameCounter) Add(n int64) int64 {
	return f.frames.Add(n)
}

// Reset zeroes the counter at the start of a new backpressure window.
func (f *FrameCounter) Reset() {
	f.frames.Store(0)
}

// Count returns the current window's frame total.
func (f *FrameCounter) Count() int64 {
	return f.frames.Load()
}
