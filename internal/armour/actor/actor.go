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
	"fmt"
	"sync"

	"go.uber.org/zap"

	"armour/internal/armour/connseq"
	"armour/internal/armour/domain"
	"armour/internal/armour/lang/interp"
	"armour/internal/armour/lang/program"
	"armour/internal/armour/telemetry"
)

// LabelOp is one of the five label mutations of spec §4.5.
type LabelOp struct {
	Kind  LabelOpKind
	Host  string // set for AddUri/RemoveUri
	IP    string // set for AddIp/RemoveIp
	Label string // label pattern text; ignored for Clear
}

// LabelOpKind distinguishes the five Label operations.
type LabelOpKind int

const (
	AddIP LabelOpKind = iota
	AddURI
	RemoveIP
	RemoveURI
	Clear
)

// Snapshot is the unit of atomic dispatch returned by GetPolicy: a compiled
// program paired with the Connection minted for it (spec §4.5).
type Snapshot struct {
	Policy     *program.Policy
	Connection domain.Connection
}

// Status reports the actor's current label set, installed policy hashes,
// and per-protocol status (spec §4.5).
type Status struct {
	HostLabels map[string][]string
	IPLabels   map[string][]string
	Hashes     map[string][32]byte
}

// Actor is the per-proxy-process policy actor (spec §4.5). Its exported
// methods are the only way to touch its state; spec §5 models it as a
// single-threaded mailbox, but since Go does not give us a free actor
// runtime the way the spec's async runtime does, state mutation here is
// instead guarded by a mutex over the installed policies and the label
// tables; the identity cache has its own lock and the connection minter is
// atomic. Evaluation itself
// (interp.Eval) never touches the mutex: it runs against an immutable
// *program.Policy snapshot taken at the start of GetPolicy, exactly
// matching spec §5's "each evaluation captures an immutable snapshot...
// before suspending."
type Actor struct {
	mu       sync.RWMutex
	policies map[string]*program.Policy // protocol -> policy

	hosts *labelTable
	ips   *labelTable
	cache *identityCache
	res   *Resolver

	seal  *sealer
	minter connseq.Minter

	external interp.External
	events   *EventBus
	store    ProgramStore
	log      *zap.Logger
}

// New constructs an Actor with a fresh random metadata key. external may be
// nil (external-call sites then fail with a RuntimeError); store may be nil
// (the program cache is then a no-op).
func New(external interp.External, store ProgramStore, log *zap.Logger) (*Actor, error) {
	key, err := randomKey()
	if err != nil {
		return nil, err
	}
	seal, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	hosts := newLabelTable()
	ips := newLabelTable()
	cache := newIdentityCache()
	return &Actor{
		policies: map[string]*program.Policy{},
		hosts:    hosts,
		ips:      ips,
		cache:    cache,
		res:      newResolver(hosts, ips, cache),
		seal:     seal,
		external: external,
		events:   NewEventBus(),
		store:    store,
		log:      log,
	}, nil
}

// Subscribe returns a channel of UpdatedPolicy events (spec §6).
func (a *Actor) Subscribe() <-chan UpdatedPolicy { return a.events.Subscribe() }

// GetPolicy returns the Snapshot for one request/connection between two
// resolved hosts: a reference to the currently installed policy for
// protocol, and a freshly minted Connection (spec §4.5).
func (a *Actor) GetPolicy(protocol, fromHost, toHost string) (Snapshot, error) {
	a.mu.RLock()
	policy, ok := a.policies[protocol]
	res := a.res
	a.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("actor: no policy installed for protocol %q", protocol)
	}
	from := res.ResolveHost(fromHost)
	to := res.ResolveHost(toHost)
	conn := domain.Connection{From: from, To: to, Number: a.minter.Next()}
	return Snapshot{Policy: policy, Connection: conn}, nil
}

// Evaluate runs fn against snap's program with args, already evaluated
// runtime values in declaration order (spec §4.5 Evaluate). The caller is
// responsible for building HttpRequest/HttpResponse/Connection argument
// values and for sealing/opening x-armour via Seal/Open.
func (a *Actor) Evaluate(ctx context.Context, snap Snapshot, fn string, args []interp.Value) (interp.Value, error) {
	ip := interp.New(snap.Policy.Program, a.external)
	v, err := ip.CallEntryPoint(ctx, fn, args)
	if err != nil {
		return nil, fmt.Errorf("actor: evaluating %q: %w", fn, err)
	}
	return v, nil
}

// Seal encrypts egress metadata into an x-armour header value.
func (a *Actor) Seal(md Metadata) (string, error) { return a.seal.Seal(md) }

// Open decrypts an inbound x-armour header into ingress metadata.
func (a *Actor) Open(header string) Metadata { return a.seal.Open(header) }

// SetPolicy installs a new compiled policy for protocol, recomputes its
// BLAKE3 digest, best-effort caches the serialized form, and emits
// UpdatedPolicy to every subscriber (spec §4.5).
func (a *Actor) SetPolicy(ctx context.Context, protocol string, policy *program.Policy) error {
	hash, err := policy.Program.Hash()
	if err != nil {
		return fmt.Errorf("actor: hashing program: %w", err)
	}
	encoded, err := policy.Program.Serialize()
	if err != nil {
		return fmt.Errorf("actor: serializing program: %w", err)
	}
	a.mu.Lock()
	a.policies[protocol] = policy
	a.mu.Unlock()
	telemetry.PolicyInstallsTotal.WithLabelValues(protocol).Inc()

	cacheSerializedProgram(ctx, a.store, hash, encoded)
	a.events.Publish(UpdatedPolicy{Protocol: protocol, Hash: hash})
	a.log.Info("installed policy", zap.String("protocol", protocol), zap.String("hash", fmt.Sprintf("%x", hash)))
	return nil
}

// Label applies op, invalidating the identity cache wholesale on any
// mutation (spec §4.5; DESIGN.md open question 3).
func (a *Actor) Label(op LabelOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch op.Kind {
	case Clear:
		a.hosts = newLabelTable()
		a.ips = newLabelTable()
	case AddURI:
		lbl, err := domain.ParseLabel(op.Label)
		if err != nil {
			return fmt.Errorf("actor: AddUri: %w", err)
		}
		a.hosts.add(op.Host, lbl)
	case RemoveURI:
		lbl, err := domain.ParseLabel(op.Label)
		if err != nil {
			return fmt.Errorf("actor: RemoveUri: %w", err)
		}
		a.hosts.remove(op.Host, lbl)
	case AddIP:
		lbl, err := domain.ParseLabel(op.Label)
		if err != nil {
			return fmt.Errorf("actor: AddIp: %w", err)
		}
		a.ips.add(op.IP, lbl)
	case RemoveIP:
		lbl, err := domain.ParseLabel(op.Label)
		if err != nil {
			return fmt.Errorf("actor: RemoveIp: %w", err)
		}
		a.ips.remove(op.IP, lbl)
	}
	a.cache.invalidate()
	a.res = newResolver(a.hosts, a.ips, a.cache)
	return nil
}

// StatusReport builds a Status snapshot (spec §4.5 Status).
func (a *Actor) StatusReport() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	hashes := map[string][32]byte{}
	for proto, p := range a.policies {
		if h, err := p.Program.Hash(); err == nil {
			hashes[proto] = h
		}
	}
	hostLabels := map[string][]string{}
	a.hosts.mu.RLock()
	for host, ls := range a.hosts.labels {
		hostLabels[host] = labelStringsOf(ls)
	}
	a.hosts.mu.RUnlock()
	ipLabels := map[string][]string{}
	a.ips.mu.RLock()
	for ip, ls := range a.ips.labels {
		ipLabels[ip] = labelStringsOf(ls)
	}
	a.ips.mu.RUnlock()
	return Status{HostLabels: hostLabels, IPLabels: ipLabels, Hashes: hashes}
}

func labelStringsOf(ls []domain.Label) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.String()
	}
	return out
}
