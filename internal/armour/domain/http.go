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

// Headers is a multimap from case-sensitive header name to an ordered list
// of raw byte-string values.
type Headers map[string][][]byte

// Set appends a new value without clearing existing ones (spec §3.2).
func (h Headers) Set(name string, value []byte) {
	h[name] = append(h[name], value)
}

// Unique returns the header's single value. The second return is false
// unless there is exactly one value for name.
func (h Headers) Unique(name string) ([]byte, bool) {
	vs, ok := h[name]
	if !ok || len(vs) != 1 {
		return nil, false
	}
	return vs[0], true
}

// All returns every value recorded for name, in insertion order.
func (h Headers) All(name string) [][]byte {
	return h[name]
}

// HttpRequest is a synthesized request value: method/version/path/query
// plus a header multimap, carrying the Connection it arrived on.
type HttpRequest struct {
	Connection Connection
	Method     string
	Version    string
	Path       string
	Query      string
	Headers    Headers
}

func (r HttpRequest) PathValue() string  { return r.Path }
func (r HttpRequest) MethodValue() string { return r.Method }

// HttpResponse is a synthesized response value: version/status/reason plus
// a header multimap, carrying the Connection it answers on.
type HttpResponse struct {
	Connection Connection
	Version    string
	Status     int
	Reason     string
	Headers    Headers
}

// Payload is bytes plus the associated Connection, used by the two-argument
// form of allow_rest_request / allow_rest_response.
type Payload struct {
	Connection Connection
	Body       []byte
}
