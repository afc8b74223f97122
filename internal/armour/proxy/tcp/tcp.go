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

// Package tcp implements the TCP proxy runtime of spec §4.6: connect,
// evaluate allow_tcp_connection, splice both halves with a frame-count
// backpressure window, and evaluate on_tcp_disconnect for accounting.
package tcp

import (
	"context"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"armour/internal/armour/actor"
	"armour/internal/armour/connseq"
	"armour/internal/armour/lang/interp"
	"armour/internal/armour/lang/program"
	"armour/internal/armour/telemetry"
)

// backpressure window (spec §5.2): more than this many frames within this
// duration on one half-connection closes it.
const (
	backpressureFrames = 100_000
	backpressureWindow = 500 * time.Millisecond
)

// OriginalDestination returns the connection's pre-NAT destination via
// SO_ORIGINAL_DST. It is platform-specific; see original_dest_linux.go /
// original_dest_other.go.
var OriginalDestination func(conn net.Conn) (string, error) = originalDestination

// Proxy accepts TCP connections, classifies them through an actor, and
// splices allowed ones to their original destination.
type Proxy struct {
	Actor    *actor.Actor
	Protocol string
	SelfAddr string
	Dial     func(ctx context.Context, network, addr string) (net.Conn, error)
	Log      *zap.Logger
}

// New builds a Proxy with net.Dialer.DialContext as the default dialer.
func New(a *actor.Actor, protocol, selfAddr string, log *zap.Logger) *Proxy {
	if log == nil {
		log = zap.NewNop()
	}
	var d net.Dialer
	return &Proxy{
		Actor:    a,
		Protocol: protocol,
		SelfAddr: selfAddr,
		Dial:     d.DialContext,
		Log:      log,
	}
}

// Serve accepts connections on lis until ctx is cancelled or Accept fails.
func (p *Proxy) Serve(ctx context.Context, lis net.Listener) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go p.handle(ctx, conn)
	}
}

func (p *Proxy) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	dest, err := OriginalDestination(conn)
	if err != nil {
		telemetry.TCPConnectionsTotal.WithLabelValues("error").Inc()
		p.Log.Warn("original destination unavailable", zap.Error(err))
		return
	}
	if p.SelfAddr != "" && dest == p.SelfAddr {
		telemetry.TCPConnectionsTotal.WithLabelValues("self-loop").Inc()
		return
	}

	snap, err := p.Actor.GetPolicy(p.Protocol, conn.RemoteAddr().String(), dest)
	if err != nil {
		telemetry.TCPConnectionsTotal.WithLabelValues("error").Inc()
		p.Log.Warn("no policy installed", zap.String("protocol", p.Protocol), zap.Error(err))
		return
	}

	allowed, err := p.evaluateConnect(ctx, snap)
	if err != nil || !allowed {
		telemetry.TCPConnectionsTotal.WithLabelValues("deny").Inc()
		return
	}
	telemetry.TCPConnectionsTotal.WithLabelValues("allow").Inc()

	upstream, err := p.Dial(ctx, "tcp", dest)
	if err != nil {
		p.Log.Warn("dial upstream failed", zap.String("dest", dest), zap.Error(err))
		return
	}
	defer upstream.Close()

	sent, recv := p.splice(conn, upstream)
	p.evaluateDisconnect(ctx, snap, sent, recv)
}

func (p *Proxy) evaluateConnect(ctx context.Context, snap actor.Snapshot) (bool, error) {
	fp, ok := snap.Policy.FnPolicy["allow_tcp_connection"]
	if !ok || fp.Action == program.ActionDeny {
		return false, nil
	}
	if fp.Action == program.ActionAllow {
		return true, nil
	}
	var args []interp.Value
	if fp.Args >= 1 {
		args = []interp.Value{snap.Connection}
	}
	start := time.Now()
	v, err := p.Actor.Evaluate(ctx, snap, "allow_tcp_connection", args)
	telemetry.PolicyEvalDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return false, err
	}
	allowed, _ := v.(bool)
	return allowed, nil
}

func (p *Proxy) evaluateDisconnect(ctx context.Context, snap actor.Snapshot, sent, recv int64) {
	fp, ok := snap.Policy.FnPolicy["on_tcp_disconnect"]
	if !ok {
		return
	}
	var args []interp.Value
	switch fp.Args {
	case 1:
		args = []interp.Value{snap.Connection}
	case 3:
		args = []interp.Value{snap.Connection, sent, recv}
	}
	if _, err := p.Actor.Evaluate(ctx, snap, "on_tcp_disconnect", args); err != nil {
		p.Log.Warn("on_tcp_disconnect failed", zap.Error(err))
	}
}

// splice copies bytes bidirectionally between client and upstream,
// counting frames per half-connection and closing a half once it exceeds
// the backpressure window (spec §5.2).
func (p *Proxy) splice(client, upstream net.Conn) (sent, recv int64) {
	done := make(chan struct{}, 2)
	var sentN, recvN int64
	go func() {
		sentN = p.copyGated(upstream, client, "sent")
		upstream.Close()
		done <- struct{}{}
	}()
	go func() {
		recvN = p.copyGated(client, upstream, "recv")
		client.Close()
		done <- struct{}{}
	}()
	<-done
	<-done
	return sentN, recvN
}

func (p *Proxy) copyGated(dst io.Writer, src io.Reader, direction string) int64 {
	fc := &connseq.FrameCounter{}
	windowStart := time.Now()
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if time.Since(windowStart) > backpressureWindow {
				fc.Reset()
				windowStart = time.Now()
			}
			if fc.Add(1) > backpressureFrames {
				telemetry.TCPBackpressureClosesTotal.Inc()
				return total
			}
			written, werr := dst.Write(buf[:n])
			total += int64(written)
			telemetry.TCPBytesTotal.WithLabelValues(direction).Add(float64(written))
			if werr != nil {
				return total
			}
		}
		if err != nil {
			return total
		}
	}
}
