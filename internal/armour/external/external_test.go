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

package external

import (
	"context"
	"fmt"
	"net"
	"testing"

	"google.golang.org/grpc"

	"armour/internal/armour/lang/interp"
)

type echoOracle struct{}

func (echoOracle) Call(ctx context.Context, method string, args []Value) (Value, error) {
	if method == "boom" {
		return Value{}, fmt.Errorf("oracle: deliberate failure")
	}
	if len(args) == 0 {
		return Value{Tag: TagUnit}, nil
	}
	return args[0], nil
}

func startOracle(t *testing.T) (addr string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := grpc.NewServer()
	RegisterOracle(s, echoOracle{})
	go s.Serve(lis)
	return lis.Addr().String(), s.Stop
}

func TestRoundTripScalarValues(t *testing.T) {
	addr, stop := startOracle(t)
	defer stop()
	c := NewClient(map[string]string{"oracle": addr}, 0)
	defer c.Close()

	cases := []interp.Value{int64(42), "hello", true, 3.5, []byte("data")}
	for _, in := range cases {
		out, err := c.Call(context.Background(), "oracle", "echo", []interp.Value{in})
		if err != nil {
			t.Fatalf("Call(%v): %v", in, err)
		}
		if fmt.Sprintf("%v", out) != fmt.Sprintf("%v", in) {
			t.Fatalf("got %v (%T), want %v (%T)", out, out, in, in)
		}
	}
}

func TestRoundTripComposite(t *testing.T) {
	addr, stop := startOracle(t)
	defer stop()
	c := NewClient(map[string]string{"oracle": addr}, 0)
	defer c.Close()

	in := interp.List{int64(1), interp.Tuple{int64(2), "x"}}
	out, err := c.Call(context.Background(), "oracle", "echo", []interp.Value{in})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	list, ok := out.(interp.List)
	if !ok || len(list) != 2 {
		t.Fatalf("got %#v, want a 2-element List", out)
	}
}

func TestCallSurfacesOracleError(t *testing.T) {
	addr, stop := startOracle(t)
	defer stop()
	c := NewClient(map[string]string{"oracle": addr}, 0)
	defer c.Close()

	if _, err := c.Call(context.Background(), "oracle", "boom", nil); err == nil {
		t.Fatal("expected an error")
	}
}

func TestCallUnknownSocketFails(t *testing.T) {
	c := NewClient(map[string]string{}, 0)
	defer c.Close()
	if _, err := c.Call(context.Background(), "missing", "m", nil); err == nil {
		t.Fatal("expected an error for an unconfigured socket")
	}
}
