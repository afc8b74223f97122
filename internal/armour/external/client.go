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
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"armour/internal/armour/lang/interp"
	"armour/internal/armour/telemetry"
)

// serviceMethod is the single RPC every external socket exposes (spec
// §4.7/§6: `call(name, args) -> result`).
const serviceMethod = "/armour.external.Oracle/Call"

// Client dials one gRPC socket per distinct `external name "socket" { ... }`
// declaration. Call receives the external name and the method already split
// by the interpreter (see interp.splitExternal), and one *grpc.ClientConn is
// cached per external name.
type Client struct {
	mu      sync.Mutex
	conns   map[string]*grpc.ClientConn
	sockets map[string]string // external name -> dial target
	timeout time.Duration
}

// NewClient returns a Client that dials sockets (external name -> "host:port")
// lazily on first use, with a default per-call timeout applied when ctx
// carries no deadline of its own (spec §4.7: default 3s).
func NewClient(sockets map[string]string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		conns:   map[string]*grpc.ClientConn{},
		sockets: sockets,
		timeout: timeout,
	}
}

func (c *Client) connFor(external string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[external]; ok {
		return cc, nil
	}
	target, ok := c.sockets[external]
	if !ok {
		return nil, fmt.Errorf("external: no socket configured for %q", external)
	}
	cc, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("external: dialing %q: %w", external, err)
	}
	c.conns[external] = cc
	return cc, nil
}

// Call implements interp.External: it resolves external to a gRPC
// connection, serializes args to wire Values, invokes the Oracle.Call RPC,
// and deserializes the result — a failure at any stage becomes an
// interpreter error, per spec §4.7.
func (c *Client) Call(ctx context.Context, external, method string, args []interp.Value) (interp.Value, error) {
	cc, err := c.connFor(external)
	if err != nil {
		return nil, err
	}
	wireArgs, err := toWireSlice(args)
	if err != nil {
		return nil, err
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req := &CallRequest{Method: method, Args: wireArgs}
	resp := &CallResponse{}
	if err := cc.Invoke(ctx, serviceMethod, req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		telemetry.ExternalCallErrorsTotal.Inc()
		return nil, fmt.Errorf("external: calling %s::%s: %w", external, method, err)
	}
	if resp.Err != "" {
		return nil, fmt.Errorf("external: %s::%s: %s", external, method, resp.Err)
	}
	return FromWire(resp.Result)
}

// Close tears down every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for name, cc := range c.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("external: closing %q: %w", name, err)
		}
	}
	return firstErr
}
