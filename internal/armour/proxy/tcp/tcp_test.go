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

package tcp

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"armour/internal/armour/actor"
	"armour/internal/armour/lang/parser"
	"armour/internal/armour/lang/program"
	"armour/internal/armour/lang/types"
)

func installTCPPolicy(t *testing.T, a *actor.Actor, src, entry string, fp program.FnPolicy) {
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
	policy := &program.Policy{Program: p, FnPolicy: map[string]program.FnPolicy{entry: fp}}
	if err := a.SetPolicy(context.Background(), "tcp", policy); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}
}

func withFakeDestination(t *testing.T, dest string) {
	t.Helper()
	prev := OriginalDestination
	OriginalDestination = func(conn net.Conn) (string, error) { return dest, nil }
	t.Cleanup(func() { OriginalDestination = prev })
}

func TestTCPConnectionAllowedSplicesData(t *testing.T) {
	upstreamLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer upstreamLis.Close()
	echoed := make(chan string, 1)
	go func() {
		c, err := upstreamLis.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 5)
		io.ReadFull(c, buf)
		echoed <- string(buf)
	}()

	withFakeDestination(t, upstreamLis.Addr().String())

	a, err := actor.New(nil, nil, nil)
	if err != nil {
		t.Fatalf("actor.New: %v", err)
	}
	installTCPPolicy(t, a, `fn allow_tcp_connection() -> bool { true }`, "allow_tcp_connection",
		program.FnPolicy{Action: program.ActionArgs, Args: 0})

	proxyLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer proxyLis.Close()

	px := New(a, "tcp", "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go px.Serve(ctx, proxyLis)

	client, err := net.Dial("tcp", proxyLis.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case got := <-echoed:
		if got != "hello" {
			t.Fatalf("got %q, want hello", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never received spliced data")
	}
}

func TestTCPConnectionDeniedClosesWithoutDialing(t *testing.T) {
	withFakeDestination(t, "127.0.0.1:1")

	a, err := actor.New(nil, nil, nil)
	if err != nil {
		t.Fatalf("actor.New: %v", err)
	}
	installTCPPolicy(t, a, `fn allow_tcp_connection() -> bool { false }`, "allow_tcp_connection",
		program.FnPolicy{Action: program.ActionArgs, Args: 0})

	proxyLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer proxyLis.Close()

	px := New(a, "tcp", "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go px.Serve(ctx, proxyLis)

	client, err := net.Dial("tcp", proxyLis.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	buf := make([]byte, 1)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Read(buf); err == nil {
		t.Fatal("expected the denied connection to be closed")
	}
}

func TestCopyGatedCopiesEverythingBelowBackpressureLimit(t *testing.T) {
	p := &Proxy{}
	src := bytes.NewReader(bytes.Repeat([]byte{1}, 10))
	var dst bytes.Buffer
	n := p.copyGated(&dst, src, "sent")
	if n != 10 {
		t.Fatalf("got %d bytes copied, want 10", n)
	}
}
