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

// Package http implements the HTTP proxy runtime of spec §4.6: the
// RECEIVED -> REQ-POLICY -> FORWARD -> RESP-POLICY -> RETURN state
// machine, evaluated through an actor.Actor.
package http

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"armour/internal/armour/actor"
	"armour/internal/armour/domain"
	"armour/internal/armour/lang/interp"
	"armour/internal/armour/lang/program"
	"armour/internal/armour/telemetry"
)

// hopByHop are stripped on RETURN (spec §4.6 step 5).
var hopByHop = []string{"connection", "content-length", "content-encoding", "x-armour"}

// Proxy is an http.Handler implementing the REQ-POLICY/FORWARD/RESP-POLICY
// state machine against one policy actor.
type Proxy struct {
	Actor      *actor.Actor
	Protocol   string // "http", matches the key passed to actor.SetPolicy
	Transport  http.RoundTripper
	Timeout    time.Duration
	SelfHost   string // this proxy's own host:port, to detect self-loops
	Log        *zap.Logger
}

// New builds a Proxy with sane defaults (3s timeout, http.DefaultTransport).
func New(a *actor.Actor, protocol, selfHost string, log *zap.Logger) *Proxy {
	if log == nil {
		log = zap.NewNop()
	}
	return &Proxy{
		Actor:     a,
		Protocol:  protocol,
		Transport: http.DefaultTransport,
		Timeout:   3 * time.Second,
		SelfHost:  selfHost,
		Log:       log,
	}
}

func forwardingURI(r *http.Request) string {
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		scheme := r.Header.Get("X-Forwarded-Proto")
		if scheme == "" {
			scheme = "http"
		}
		return scheme + "://" + h + r.URL.RequestURI()
	}
	return r.URL.String()
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), p.Timeout)
	defer cancel()

	// RECEIVED
	uri := forwardingURI(r)
	target, err := resolveURI(uri, r)
	if err != nil {
		http.Error(w, "bad request", http.StatusInternalServerError)
		return
	}
	if p.SelfHost != "" && target.Host == p.SelfHost {
		http.Error(w, "self-loop detected", http.StatusInternalServerError)
		return
	}

	snap, err := p.Actor.GetPolicy(p.Protocol, r.RemoteAddr, target.Host)
	if err != nil {
		telemetry.ResponsesTotal.WithLabelValues("5xx").Inc()
		http.Error(w, "no policy installed", http.StatusInternalServerError)
		return
	}

	ingressMeta := p.Actor.Open(r.Header.Get("x-armour"))

	// RECEIVED: buffer the body once so FORWARD can mirror it to upstream
	// regardless of which FnPolicy.Action the request hook takes (spec §4.6
	// FORWARD must always carry the client's body through).
	body, err := io.ReadAll(r.Body)
	if err != nil {
		telemetry.ResponsesTotal.WithLabelValues("5xx").Inc()
		http.Error(w, "request body read error", http.StatusInternalServerError)
		return
	}

	// REQ-POLICY
	allowed, egress, err := p.evaluateRequest(ctx, snap, r, ingressMeta, body)
	if err != nil {
		telemetry.ResponsesTotal.WithLabelValues("5xx").Inc()
		http.Error(w, "policy evaluation failed", http.StatusInternalServerError)
		return
	}
	if !allowed {
		telemetry.RequestsTotal.WithLabelValues("deny").Inc()
		http.Error(w, "request denied", http.StatusUnauthorized)
		return
	}
	telemetry.RequestsTotal.WithLabelValues("allow").Inc()

	// FORWARD
	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		http.Error(w, "bad upstream request", http.StatusInternalServerError)
		return
	}
	upstreamReq.Header = r.Header.Clone()
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		upstreamReq.Host = h
	}
	upstreamReq.Header.Set("X-Forwarded-For", peerHost(r.RemoteAddr))
	if len(egress) > 0 {
		sealed, err := p.Actor.Seal(egress)
		if err == nil {
			upstreamReq.Header.Set("x-armour", sealed)
		}
	} else {
		upstreamReq.Header.Del("x-armour")
	}

	resp, err := p.Transport.RoundTrip(upstreamReq)
	if err != nil {
		telemetry.ResponsesTotal.WithLabelValues("5xx").Inc()
		http.Error(w, "upstream error", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.ResponsesTotal.WithLabelValues("5xx").Inc()
		http.Error(w, "upstream read error", http.StatusInternalServerError)
		return
	}

	// RESP-POLICY
	respIngress := p.Actor.Open(resp.Header.Get("x-armour"))
	allowed, respEgress, err := p.evaluateResponse(ctx, snap, resp, respBody, respIngress)
	if err != nil {
		telemetry.ResponsesTotal.WithLabelValues("5xx").Inc()
		http.Error(w, "policy evaluation failed", http.StatusInternalServerError)
		return
	}
	if !allowed {
		telemetry.ResponsesTotal.WithLabelValues("4xx").Inc()
		http.Error(w, "response denied", http.StatusUnauthorized)
		return
	}

	// RETURN
	for k, vs := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if len(respEgress) > 0 {
		if sealed, err := p.Actor.Seal(respEgress); err == nil {
			w.Header().Set("x-armour", sealed)
		}
	}
	telemetry.ResponsesTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

// evaluateRequest runs allow_rest_request. ingress is carried through for a
// future metadata-aware builtin; the language as parsed today has no
// grammar for a policy body to read or write flow metadata, so egress is
// always nil (see DESIGN.md). body was already buffered in RECEIVED so it
// can be forwarded to upstream regardless of fp.Args.
func (p *Proxy) evaluateRequest(ctx context.Context, snap actor.Snapshot, r *http.Request, ingress actor.Metadata, body []byte) (bool, actor.Metadata, error) {
	fp, ok := snap.Policy.FnPolicy["allow_rest_request"]
	if !ok || fp.Action == program.ActionDeny {
		return false, nil, nil
	}
	if fp.Action == program.ActionAllow {
		return true, nil, nil
	}
	req := toHttpRequest(r, snap.Connection)
	var args []interp.Value
	switch fp.Args {
	case 0:
		args = nil
	case 1:
		args = []interp.Value{req}
	case 2:
		args = []interp.Value{req, body}
	}
	start := time.Now()
	v, err := p.Actor.Evaluate(ctx, snap, "allow_rest_request", args)
	telemetry.PolicyEvalDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return false, nil, err
	}
	allowed, _ := v.(bool)
	return allowed, nil, nil
}

func (p *Proxy) evaluateResponse(ctx context.Context, snap actor.Snapshot, resp *http.Response, body []byte, ingress actor.Metadata) (bool, actor.Metadata, error) {
	fp, ok := snap.Policy.FnPolicy["allow_rest_response"]
	if !ok || fp.Action == program.ActionAllow {
		// a policy without allow_rest_response lets every response through
		return true, nil, nil
	}
	if fp.Action == program.ActionDeny {
		return false, nil, nil
	}
	respVal := toHttpResponse(resp, snap.Connection)
	var args []interp.Value
	switch fp.Args {
	case 0:
		args = nil
	case 1:
		args = []interp.Value{respVal}
	case 2:
		args = []interp.Value{respVal, body}
	}
	start := time.Now()
	v, err := p.Actor.Evaluate(ctx, snap, "allow_rest_response", args)
	telemetry.PolicyEvalDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return false, nil, err
	}
	allowed, _ := v.(bool)
	return allowed, nil, nil
}

func toHttpRequest(r *http.Request, conn domain.Connection) domain.HttpRequest {
	return domain.HttpRequest{
		Connection: conn,
		Method:     r.Method,
		Version:    r.Proto,
		Path:       r.URL.Path,
		Query:      r.URL.RawQuery,
		Headers:    headersOf(r.Header),
	}
}

func toHttpResponse(resp *http.Response, conn domain.Connection) domain.HttpResponse {
	reason := resp.Status
	if i := strings.IndexByte(reason, ' '); i >= 0 {
		reason = reason[i+1:]
	}
	return domain.HttpResponse{
		Connection: conn,
		Version:    resp.Proto,
		Status:     resp.StatusCode,
		Reason:     reason,
		Headers:    headersOf(resp.Header),
	}
}

func headersOf(h http.Header) domain.Headers {
	out := domain.Headers{}
	for k, vs := range h {
		for _, v := range vs {
			out.Set(k, []byte(v))
		}
	}
	return out
}

func isHopByHop(name string) bool {
	lower := strings.ToLower(name)
	for _, h := range hopByHop {
		if lower == h {
			return true
		}
	}
	return false
}

func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func resolveURI(uri string, r *http.Request) (*url.URL, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	return u, nil
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
