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

package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"armour/internal/armour/actor"
	"armour/internal/armour/lang/parser"
	"armour/internal/armour/lang/program"
	"armour/internal/armour/lang/types"
)

func installPolicy(t *testing.T, a *actor.Actor, src string, fnPolicies map[string]program.FnPolicy) {
	t.Helper()
	prog, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var entries []string
	for name := range fnPolicies {
		entries = append(entries, name)
	}
	checked, err := types.Check(prog)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	p := program.New(prog, checked, entries, 0)
	policy := &program.Policy{Program: p, FnPolicy: fnPolicies}
	if err := a.SetPolicy(context.Background(), "http", policy); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}
}

func TestDenyAllHTTP(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should never be reached")
	}))
	defer upstream.Close()

	a, err := actor.New(nil, nil, nil)
	if err != nil {
		t.Fatalf("actor.New: %v", err)
	}
	installPolicy(t, a, `fn allow_rest_request() -> bool { false }`, map[string]program.FnPolicy{
		"allow_rest_request": {Action: program.ActionArgs, Args: 0},
	})

	px := New(a, "http", "", nil)
	server := httptest.NewServer(px)
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/anything", nil)
	req.Header.Set("X-Forwarded-Host", upstream.Listener.Addr().String())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", resp.StatusCode)
	}
}

func TestPathAllowList(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	a, err := actor.New(nil, nil, nil)
	if err != nil {
		t.Fatalf("actor.New: %v", err)
	}
	installPolicy(t, a, `fn allow_rest_request(req: HttpRequest) -> bool { req.path() == "/ok" }`,
		map[string]program.FnPolicy{"allow_rest_request": {Action: program.ActionArgs, Args: 1}})

	px := New(a, "http", "", nil)
	server := httptest.NewServer(px)
	defer server.Close()

	for path, want := range map[string]int{"/ok": http.StatusOK, "/nope": http.StatusUnauthorized} {
		req, _ := http.NewRequest(http.MethodGet, server.URL+path, nil)
		req.Header.Set("X-Forwarded-Host", upstream.Listener.Addr().String())
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Do(%s): %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("path %s: got %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestPayloadSizeCap(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	a, err := actor.New(nil, nil, nil)
	if err != nil {
		t.Fatalf("actor.New: %v", err)
	}
	installPolicy(t, a, `fn allow_rest_request(req: HttpRequest, body: data) -> bool { body.len() <= 16 }`,
		map[string]program.FnPolicy{"allow_rest_request": {Action: program.ActionArgs, Args: 2}})

	px := New(a, "http", "", nil)
	server := httptest.NewServer(px)
	defer server.Close()

	small := bytesOf(16)
	big := bytesOf(17)
	for body, want := range map[string]int{small: http.StatusOK, big: http.StatusUnauthorized} {
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/x", strings.NewReader(body))
		req.Header.Set("X-Forwarded-Host", upstream.Listener.Addr().String())
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("len %d: got %d, want %d", len(body), resp.StatusCode, want)
		}
	}
}

func bytesOf(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
