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

// armour-host is the per-machine control process: it accepts UDS
// connections from armour-proxy processes (spec §6 Host<->Proxy), fronts
// them with a control-plane HTTP/JSON API, and pushes compiled policies
// down to every connected proxy on update.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"armour/internal/armour/controlplane"
	"armour/internal/armour/hostproto"
	"armour/internal/armour/lang/parser"
	"armour/internal/armour/lang/program"
	"armour/internal/armour/lang/types"
)

func main() {
	udsPath := flag.String("uds", "/tmp/armour-host.sock", "Unix domain socket to accept proxy connections on")
	controlAddr := flag.String("control_addr", ":8090", "control-plane HTTP listen address")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "zap: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	_ = os.Remove(*udsPath)
	lis, err := net.Listen("unix", *udsPath)
	if err != nil {
		log.Fatal("listen uds", zap.Error(err))
	}
	defer lis.Close()

	fleet := newFleet(log)
	go fleet.accept(lis)

	cp := controlplane.NewServer(fleet, log)
	go func() {
		if err := cp.ListenAndServe(*controlAddr); err != nil {
			log.Error("control plane stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")
}

// fleet is the in-memory HostRegistry backing this host's control plane:
// onboarded masters/services are bookkeeping only (no multi-host fanout in
// this single-process demo), while policy updates are compiled here and
// pushed to every proxy currently connected over the UDS.
type fleet struct {
	mu       sync.Mutex
	masters  map[string]string
	services map[string]string
	policies map[string]string // "service/protocol" -> source
	proxies  []net.Conn
	log      *zap.Logger
}

func newFleet(log *zap.Logger) *fleet {
	return &fleet{
		masters:  map[string]string{},
		services: map[string]string{},
		policies: map[string]string{},
		log:      log,
	}
}

func (f *fleet) accept(lis net.Listener) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		go f.serveProxy(conn)
	}
}

func (f *fleet) serveProxy(conn net.Conn) {
	defer conn.Close()
	var connect hostproto.Response
	if err := hostproto.ReadMessage(conn, &connect); err != nil {
		f.log.Warn("proxy handshake failed", zap.Error(err))
		return
	}
	f.mu.Lock()
	f.proxies = append(f.proxies, conn)
	f.mu.Unlock()
	f.log.Info("proxy connected", zap.Int("pid", connect.PID))

	for {
		var resp hostproto.Response
		if err := hostproto.ReadMessage(conn, &resp); err != nil {
			f.removeProxy(conn)
			return
		}
		f.log.Info("proxy event", zap.Uint8("kind", uint8(resp.Kind)))
	}
}

func (f *fleet) removeProxy(conn net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.proxies {
		if c == conn {
			f.proxies = append(f.proxies[:i], f.proxies[i+1:]...)
			return
		}
	}
}

func (f *fleet) OnboardMaster(id, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.masters[id] = addr
	return nil
}

func (f *fleet) DropMaster(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.masters[id]; !ok {
		return fmt.Errorf("no such master %q", id)
	}
	delete(f.masters, id)
	return nil
}

func (f *fleet) OnboardService(masterID, serviceID, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[masterID+"/"+serviceID] = addr
	return nil
}

func (f *fleet) DropService(masterID, serviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.services, masterID+"/"+serviceID)
	return nil
}

// UpdatePolicy compiles source and pushes it to every connected proxy as a
// ReqSetPolicy (spec §6).
func (f *fleet) UpdatePolicy(serviceID, protocol, source string) error {
	serialized, fnPolicy, err := compile(protocol, source)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.policies[serviceID+"/"+protocol] = source
	proxies := append([]net.Conn{}, f.proxies...)
	f.mu.Unlock()

	req := hostproto.Request{
		Kind: hostproto.ReqSetPolicy,
		Policies: []hostproto.SerializedPolicy{{
			Protocol: protocol,
			Encoded:  serialized,
			FnPolicy: fnPolicy,
		}},
	}
	for _, conn := range proxies {
		if err := hostproto.WriteMessage(conn, req); err != nil {
			f.log.Warn("push policy to proxy failed", zap.Error(err))
		}
	}
	return nil
}

func (f *fleet) QueryPolicy(serviceID, protocol string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.policies[serviceID+"/"+protocol]
	return v, ok
}

func (f *fleet) DropPolicy(serviceID, protocol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.policies, serviceID+"/"+protocol)
	return nil
}

func (f *fleet) DropAllPolicies(serviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := serviceID + "/"
	for k := range f.policies {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(f.policies, k)
		}
	}
	return nil
}

// entryPointsByProtocol names each protocol's required gating hooks (spec
// §4.6), so the host can classify them into FnPolicy without guessing.
var entryPointsByProtocol = map[string][]string{
	"http": {"allow_rest_request", "allow_rest_response"},
	"tcp":  {"allow_tcp_connection", "on_tcp_disconnect"},
}

func compile(protocol, source string) (string, map[string]hostproto.SerializedFnPolicy, error) {
	prog, err := parser.Parse(source)
	if err != nil {
		return "", nil, fmt.Errorf("parse: %w", err)
	}
	checked, err := types.Check(prog)
	if err != nil {
		return "", nil, fmt.Errorf("check: %w", err)
	}
	entries := entryPointsByProtocol[protocol]
	compiled := program.New(prog, checked, entries, 0)

	fnPolicy := map[string]hostproto.SerializedFnPolicy{}
	for _, name := range entries {
		if _, ok := compiled.Code[name]; !ok {
			continue
		}
		arity := len(compiled.Headers[name].Params)
		fnPolicy[name] = hostproto.SerializedFnPolicy{Action: int(program.ActionArgs), Args: arity}
	}
	encoded, err := compiled.Serialize()
	if err != nil {
		return "", nil, fmt.Errorf("serialize: %w", err)
	}
	return encoded, fnPolicy, nil
}
