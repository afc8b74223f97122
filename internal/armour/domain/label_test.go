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

package domain

import "testing"

func TestPatternMatchesLiteral(t *testing.T) {
	pat, err := ParseLabel("svc::a")
	if err != nil {
		t.Fatal(err)
	}
	lbl, err := ParseLabel("svc::a")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := NewPattern(pat).Matches(lbl); !ok {
		t.Fatalf("expected literal match")
	}
}

func TestPatternWildcardAndCapture(t *testing.T) {
	pat, _ := ParseLabel("svc::<name>::**")
	lbl, _ := ParseLabel("svc::frontend::v1::canary")
	caps, ok := NewPattern(pat).Matches(lbl)
	if !ok {
		t.Fatalf("expected match")
	}
	if got := caps["name"]; len(got) != 1 || got[0] != "frontend" {
		t.Fatalf("capture = %v", got)
	}
}

func TestPatternRejectsMismatch(t *testing.T) {
	pat, _ := ParseLabel("svc::a")
	lbl, _ := ParseLabel("svc::b")
	if _, ok := NewPattern(pat).Matches(lbl); ok {
		t.Fatalf("expected no match")
	}
}

// TestMatchMonotone is invariant 6 from spec §8: if pat.Matches(l) captures
// sigma, then pat.Substitute(sigma).Matches(l) succeeds with sigma extended
// identically.
func TestMatchMonotone(t *testing.T) {
	pat, _ := ParseLabel("svc::<name>::<<rest>>")
	lbl, _ := ParseLabel("svc::frontend::v1::canary")
	caps, ok := NewPattern(pat).Matches(lbl)
	if !ok {
		t.Fatalf("expected match")
	}
	reconstructed := NewPattern(pat).Substitute(caps)
	if reconstructed.String() != lbl.String() {
		t.Fatalf("substitute(match) = %q, want %q", reconstructed, lbl)
	}
	caps2, ok := NewPattern(pat).Matches(reconstructed)
	if !ok {
		t.Fatalf("expected reconstructed label to match pattern again")
	}
	if caps2["name"][0] != caps["name"][0] {
		t.Fatalf("capture not preserved: %v vs %v", caps2, caps)
	}
}

func TestInvalidLabelNode(t *testing.T) {
	if _, err := ParseLabel("svc::!!bad"); err == nil {
		t.Fatalf("expected error for invalid node")
	}
}
