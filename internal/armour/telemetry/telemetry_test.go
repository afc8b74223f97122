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

package telemetry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestsTotalIncrementsByDecision(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("allow"))
	RequestsTotal.WithLabelValues("allow").Inc()
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues("allow"))
	if after != before+1 {
		t.Fatalf("got %v, want %v", after, before+1)
	}
}

func TestServerStartsAndStopsCleanly(t *testing.T) {
	srv := NewServer("127.0.0.1:0")
	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	time.Sleep(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestPolicyEvalDurationIsAHistogram(t *testing.T) {
	PolicyEvalDuration.Observe(0.01)
	if _, err := http.NewRequest(http.MethodGet, "/metrics", nil); err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
}
