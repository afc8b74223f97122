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

// armour-proxy runs the per-process policy actor plus its HTTP and TCP
// proxy listeners (spec §4.5/§4.6), taking its UDS control connection to
// the host process that spawned it.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"armour/internal/armour/actor"
	"armour/internal/armour/hostproto"
	"armour/internal/armour/lang/program"
	armourhttp "armour/internal/armour/proxy/http"
	armourtcp "armour/internal/armour/proxy/tcp"
	"armour/internal/armour/telemetry"
)

func main() {
	uds := flag.String("uds", "", "path to the Unix domain socket connecting back to the host process")
	httpAddr := flag.String("http_addr", "", "if non-empty, start the HTTP proxy listener here")
	tcpAddr := flag.String("tcp_addr", "", "if non-empty, start the TCP proxy listener here")
	redisAddr := flag.String("redis_addr", "", "if non-empty, cache compiled policies in this Redis instance")
	metricsAddr := flag.String("metrics_addr", "", "if non-empty, expose Prometheus /metrics here")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "zap: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	var store actor.ProgramStore
	if *redisAddr != "" {
		store = actor.NewGoRedisStore(*redisAddr)
	}

	a, err := actor.New(nil, store, log)
	if err != nil {
		log.Fatal("actor.New", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *metricsAddr != "" {
		m := telemetry.NewServer(*metricsAddr)
		go func() {
			if err := m.Start(); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	var httpServer *http.Server
	if *httpAddr != "" {
		px := armourhttp.New(a, "http", *httpAddr, log)
		httpServer = &http.Server{Addr: *httpAddr, Handler: px}
		go func() {
			log.Info("http proxy listening", zap.String("addr", *httpAddr))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http proxy stopped", zap.Error(err))
			}
		}()
	}

	if *tcpAddr != "" {
		lis, err := net.Listen("tcp", *tcpAddr)
		if err != nil {
			log.Fatal("tcp listen", zap.Error(err))
		}
		tp := armourtcp.New(a, "tcp", *tcpAddr, log)
		go func() {
			log.Info("tcp proxy listening", zap.String("addr", *tcpAddr))
			if err := tp.Serve(ctx, lis); err != nil {
				log.Error("tcp proxy stopped", zap.Error(err))
			}
		}()
	}

	if *uds != "" {
		go serveHostConn(ctx, *uds, a, log)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	cancel()
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
}

// serveHostConn dials the host's control socket and services Request
// messages until ctx is cancelled or the connection drops (spec §6).
func serveHostConn(ctx context.Context, path string, a *actor.Actor, log *zap.Logger) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		log.Error("dial host socket", zap.String("path", path), zap.Error(err))
		return
	}
	defer conn.Close()

	if err := hostproto.WriteMessage(conn, hostproto.Response{Kind: hostproto.RespConnect, PID: os.Getpid()}); err != nil {
		log.Error("send connect", zap.Error(err))
		return
	}

	events := a.Subscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				hash := fmt.Sprintf("%x", ev.Hash)
				_ = hostproto.WriteMessage(conn, hostproto.Response{Kind: hostproto.RespUpdatedPolicy, Protocol: ev.Protocol, Hash: hash})
			}
		}
	}()

	for {
		var req hostproto.Request
		if err := hostproto.ReadMessage(conn, &req); err != nil {
			log.Info("host connection closed", zap.Error(err))
			return
		}
		handleRequest(ctx, conn, a, req, log)
	}
}

// deserializePolicy rebuilds a *program.Policy from its wire form without
// re-running the type checker: SetPolicy on the control plane already
// checked it once, and the serialized Program carries its own compiled
// ast.FuncDecl bodies (spec §3.3).
func deserializePolicy(sp hostproto.SerializedPolicy) (*program.Policy, error) {
	prog, err := program.Deserialize(sp.Encoded)
	if err != nil {
		return nil, fmt.Errorf("deserialize program for %q: %w", sp.Protocol, err)
	}
	fnPolicy := map[string]program.FnPolicy{}
	for name, fp := range sp.FnPolicy {
		fnPolicy[name] = program.FnPolicy{Action: program.FnAction(fp.Action), Args: fp.Args}
	}
	return &program.Policy{Program: prog, FnPolicy: fnPolicy}, nil
}

func handleRequest(ctx context.Context, conn net.Conn, a *actor.Actor, req hostproto.Request, log *zap.Logger) {
	switch req.Kind {
	case hostproto.ReqLabel:
		if err := a.Label(req.Label); err != nil {
			_ = hostproto.WriteMessage(conn, hostproto.Response{Kind: hostproto.RespRequestFailed, Reason: err.Error()})
			return
		}
		_ = hostproto.WriteMessage(conn, hostproto.Response{Kind: hostproto.RespStarted})
	case hostproto.ReqStatus:
		status := a.StatusReport()
		hashes := map[string]string{}
		for proto, h := range status.Hashes {
			hashes[proto] = fmt.Sprintf("%x", h)
		}
		_ = hostproto.WriteMessage(conn, hostproto.Response{
			Kind: hostproto.RespStatus,
			Status: hostproto.StatusReport{
				HostLabels: status.HostLabels,
				IPLabels:   status.IPLabels,
				Hashes:     hashes,
			},
		})
	case hostproto.ReqSetPolicy:
		for _, sp := range req.Policies {
			policy, err := deserializePolicy(sp)
			if err != nil {
				_ = hostproto.WriteMessage(conn, hostproto.Response{Kind: hostproto.RespRequestFailed, Reason: err.Error()})
				return
			}
			if err := a.SetPolicy(ctx, sp.Protocol, policy); err != nil {
				_ = hostproto.WriteMessage(conn, hostproto.Response{Kind: hostproto.RespRequestFailed, Reason: err.Error()})
				return
			}
		}
		_ = hostproto.WriteMessage(conn, hostproto.Response{Kind: hostproto.RespStarted})
	case hostproto.ReqShutdown:
		_ = hostproto.WriteMessage(conn, hostproto.Response{Kind: hostproto.RespShuttingDown})
	default:
		_ = hostproto.WriteMessage(conn, hostproto.Response{Kind: hostproto.RespRequestFailed, Reason: "unsupported request kind"})
	}
}
