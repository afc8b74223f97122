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

// Package actor implements the policy actor (spec §4.5): the per-proxy
// owner of compiled policy snapshots, the identity cache, the metadata
// AEAD, and the connection counter.
package actor

import (
	"net"
	"sync"

	"armour/internal/armour/domain"
)

// labelTable is a host/ip keyed set-of-labels table (spec §4.5 "label
// tables"), guarded by a single mutex: mutations are rare (only on Label
// ops) and reads are cheap snapshots, so the teacher's sync.Map-per-hot-key
// approach (core.Store) is overkill here — a plain map behind a RWMutex
// matches the actual read/write ratio.
type labelTable struct {
	mu     sync.RWMutex
	labels map[string][]domain.Label
}

func newLabelTable() *labelTable {
	return &labelTable{labels: map[string][]domain.Label{}}
}

func (t *labelTable) add(key string, l domain.Label) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.labels[key] = append(t.labels[key], l)
}

func (t *labelTable) remove(key string, l domain.Label) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ls := t.labels[key]
	out := ls[:0]
	for _, existing := range ls {
		if existing.String() != l.String() {
			out = append(out, existing)
		}
	}
	t.labels[key] = out
}

func (t *labelTable) clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.labels, key)
}

func (t *labelTable) get(key string) []domain.Label {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.Label{}, t.labels[key]...)
}

// identityCache memoizes resolved domain.ID values by host and by IP,
// invalidated wholesale on any label mutation (spec §4.5, DESIGN.md open
// question 3), the same full-sweep-over-incremental tradeoff the teacher's
// core.Worker eviction loop makes.
type identityCache struct {
	mu    sync.RWMutex
	byHost map[string]domain.ID
	byIP   map[string]domain.ID
}

func newIdentityCache() *identityCache {
	return &identityCache{byHost: map[string]domain.ID{}, byIP: map[string]domain.ID{}}
}

func (c *identityCache) getHost(host string) (domain.ID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byHost[host]
	return id, ok
}

func (c *identityCache) putHost(host string, id domain.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byHost[host] = id
}

func (c *identityCache) getIP(ip string) (domain.ID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byIP[ip]
	return id, ok
}

func (c *identityCache) putIP(ip string, id domain.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byIP[ip] = id
}

// invalidate drops every cached ID (spec §4.5: "invalidated on any label
// mutation").
func (c *identityCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byHost = map[string]domain.ID{}
	c.byIP = map[string]domain.ID{}
}

// Resolver resolves a host or socket address to an ID, consulting the label
// tables and falling back to DNS/reverse-DNS (spec §4.5 "Identity
// resolution"). Resolution never fails: absent information yields an ID
// with empty sets.
type Resolver struct {
	hosts *labelTable
	ips   *labelTable
	cache *identityCache

	// lookupHost and lookupAddr are seams for tests; they default to the
	// net package's resolvers.
	lookupHost func(string) ([]string, error)
	lookupAddr func(string) ([]string, error)
}

func newResolver(hosts, ips *labelTable, cache *identityCache) *Resolver {
	return &Resolver{
		hosts:      hosts,
		ips:        ips,
		cache:      cache,
		lookupHost: net.LookupHost,
		lookupAddr: net.LookupAddr,
	}
}

// ResolveHost resolves a URI's host field to an ID (spec §4.5).
func (r *Resolver) ResolveHost(host string) domain.ID {
	if id, ok := r.cache.getHost(host); ok {
		return id
	}
	id := domain.NewID().WithHost(host)
	if labels := r.hosts.get(host); len(labels) > 0 {
		id = id.WithLabels(labels...)
	} else if ips, err := r.lookupHost(host); err == nil {
		for _, ip := range ips {
			id = id.WithIP(ip)
			if labels := r.ips.get(ip); len(labels) > 0 {
				id = id.WithLabels(labels...)
			}
		}
	}
	r.cache.putHost(host, id)
	return id
}

// ResolveAddr resolves a socket address's IP to an ID via reverse DNS plus
// both label tables (spec §4.5).
func (r *Resolver) ResolveAddr(ip string) domain.ID {
	if id, ok := r.cache.getIP(ip); ok {
		return id
	}
	id := domain.NewID().WithIP(ip)
	if labels := r.ips.get(ip); len(labels) > 0 {
		id = id.WithLabels(labels...)
	}
	if names, err := r.lookupAddr(ip); err == nil {
		for _, name := range names {
			id = id.WithHost(name)
			if labels := r.hosts.get(name); len(labels) > 0 {
				id = id.WithLabels(labels...)
			}
		}
	}
	r.cache.putIP(ip, id)
	return id
}
