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

package domain

import "sort"

// ID is an identity record: unordered sets of hostnames, IPv4 addresses
// and labels, plus an optional port (0 means "no port").
type ID struct {
	Hosts  map[string]struct{}
	IPs    map[string]struct{}
	Labels []Label
	Port   int
}

// NewID returns an empty identity.
func NewID() ID {
	return ID{Hosts: map[string]struct{}{}, IPs: map[string]struct{}{}}
}

// WithHost returns a copy of id with host added to its host set.
func (id ID) WithHost(host string) ID {
	id = id.clone()
	id.Hosts[host] = struct{}{}
	return id
}

// WithIP returns a copy of id with ip added to its IP set.
func (id ID) WithIP(ip string) ID {
	id = id.clone()
	id.IPs[ip] = struct{}{}
	return id
}

// WithLabels returns a copy of id with labels merged into its label set.
func (id ID) WithLabels(labels ...Label) ID {
	id = id.clone()
	id.Labels = append(id.Labels, labels...)
	return id
}

// WithPort returns a copy of id with its port set.
func (id ID) WithPort(port int) ID {
	id = id.clone()
	id.Port = port
	return id
}

func (id ID) clone() ID {
	out := ID{
		Hosts:  make(map[string]struct{}, len(id.Hosts)),
		IPs:    make(map[string]struct{}, len(id.IPs)),
		Labels: append([]Label{}, id.Labels...),
		Port:   id.Port,
	}
	for h := range id.Hosts {
		out.Hosts[h] = struct{}{}
	}
	for ip := range id.IPs {
		out.IPs[ip] = struct{}{}
	}
	return out
}

// HasLabel reports whether any of id's labels matches the given pattern
// string (parsed as a Label pattern).
func (id ID) HasLabel(pattern string) bool {
	pat, err := ParseLabel(pattern)
	if err != nil {
		return false
	}
	p := NewPattern(pat)
	for _, l := range id.Labels {
		if _, ok := p.Matches(l); ok {
			return true
		}
	}
	return false
}

// Equal reports whether id and other have the same host set, IP set, label
// set and port (spec §3.2: "Two IDs are equal iff all three sets and the
// port coincide").
func (id ID) Equal(other ID) bool {
	if id.Port != other.Port {
		return false
	}
	if !sameSet(id.Hosts, other.Hosts) || !sameSet(id.IPs, other.IPs) {
		return false
	}
	if len(id.Labels) != len(other.Labels) {
		return false
	}
	a := labelStrings(id.Labels)
	b := labelStrings(other.Labels)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func labelStrings(ls []Label) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.String()
	}
	return out
}

// Connection is the triple (from, to, number). number is minted by the
// policy actor and is monotonically increasing within its lifetime.
type Connection struct {
	From   ID
	To     ID
	Number int64
}
