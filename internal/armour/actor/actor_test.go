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
	"context"
	"testing"

	"armour/internal/armour/lang/parser"
	"armour/internal/armour/lang/program"
	"armour/internal/armour/lang/types"
)

func compile(t *testing.T, src, entry string) *program.Policy {
	t.Helper()
	prog, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	checked, err := types.Check(prog)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	p := program.New(prog, checked, []string{entry}, 0)
	return &program.Policy{Program: p, FnPolicy: map[string]program.FnPolicy{
		entry: {Action: program.ActionArgs, Args: 0},
	}}
}

func TestGetPolicyMintsIncreasingConnectionNumbers(t *testing.T) {
	a, err := New(nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	policy := compile(t, `fn allow_tcp_connection() -> bool { true }`, "allow_tcp_connection")
	if err := a.SetPolicy(context.Background(), "tcp", policy); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}
	s1, err := a.GetPolicy("tcp", "client.example", "server.example")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	s2, err := a.GetPolicy("tcp", "client.example", "server.example")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if s2.Connection.Number <= s1.Connection.Number {
		t.Fatalf("connection numbers not increasing: %d then %d", s1.Connection.Number, s2.Connection.Number)
	}
}

func TestGetPolicyUnknownProtocol(t *testing.T) {
	a, err := New(nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.GetPolicy("tcp", "a", "b"); err == nil {
		t.Fatal("expected an error for an unconfigured protocol")
	}
}

func TestEvaluateRunsInstalledPolicy(t *testing.T) {
	a, err := New(nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	policy := compile(t, `fn allow_tcp_connection() -> bool { true }`, "allow_tcp_connection")
	if err := a.SetPolicy(context.Background(), "tcp", policy); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}
	snap, err := a.GetPolicy("tcp", "a", "b")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	v, err := a.Evaluate(context.Background(), snap, "allow_tcp_connection", nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v != true {
		t.Fatalf("got %v, want true", v)
	}
}

func TestSetPolicyEmitsUpdatedPolicyEvent(t *testing.T) {
	a, err := New(nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := a.Subscribe()
	policy := compile(t, `fn allow_tcp_connection() -> bool { true }`, "allow_tcp_connection")
	if err := a.SetPolicy(context.Background(), "tcp", policy); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Protocol != "tcp" {
			t.Fatalf("got protocol %q, want tcp", ev.Protocol)
		}
	default:
		t.Fatal("expected an UpdatedPolicy event")
	}
}

func TestLabelAddUriIsVisibleToResolver(t *testing.T) {
	a, err := New(nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Label(LabelOp{Kind: AddURI, Host: "svc.internal", Label: "team::payments"}); err != nil {
		t.Fatalf("Label: %v", err)
	}
	id := a.res.ResolveHost("svc.internal")
	if !id.HasLabel("team::payments") {
		t.Fatalf("resolved ID missing expected label: %+v", id)
	}
}

func TestLabelClearInvalidatesCache(t *testing.T) {
	a, err := New(nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Label(LabelOp{Kind: AddURI, Host: "svc.internal", Label: "team::payments"}); err != nil {
		t.Fatalf("Label: %v", err)
	}
	_ = a.res.ResolveHost("svc.internal") // populate cache
	if err := a.Label(LabelOp{Kind: Clear}); err != nil {
		t.Fatalf("Label: %v", err)
	}
	id := a.res.ResolveHost("svc.internal")
	if id.HasLabel("team::payments") {
		t.Fatal("expected label table to be cleared")
	}
}
