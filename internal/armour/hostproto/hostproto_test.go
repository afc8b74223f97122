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

package hostproto

import (
	"bytes"
	"testing"

	"armour/internal/armour/actor"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{
		Kind:  ReqLabel,
		Label: actor.LabelOp{Kind: actor.AddURI, Host: "svc.internal", Label: "team::payments"},
	}
	if err := WriteMessage(&buf, req); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	var got Request
	if err := ReadMessage(&buf, &got); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Kind != ReqLabel || got.Label.Host != "svc.internal" {
		t.Fatalf("got %+v, want a round-tripped ReqLabel", got)
	}
}

func TestResponseRoundTripStatus(t *testing.T) {
	var buf bytes.Buffer
	resp := Response{
		Kind: RespStatus,
		Status: StatusReport{
			HostLabels: map[string][]string{"svc.internal": {"team::payments"}},
			Hashes:     map[string]string{"http": "deadbeef"},
		},
	}
	if err := WriteMessage(&buf, resp); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	var got Response
	if err := ReadMessage(&buf, &got); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Kind != RespStatus || got.Status.Hashes["http"] != "deadbeef" {
		t.Fatalf("got %+v, want a round-tripped RespStatus", got)
	}
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // length prefix larger than maxFrameLen
	var got Request
	if err := ReadMessage(&buf, &got); err == nil {
		t.Fatal("expected an oversized-frame error")
	}
}

func TestMultipleMessagesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, Request{Kind: ReqStatus}); err != nil {
		t.Fatalf("WriteMessage 1: %v", err)
	}
	if err := WriteMessage(&buf, Request{Kind: ReqShutdown}); err != nil {
		t.Fatalf("WriteMessage 2: %v", err)
	}
	var first, second Request
	if err := ReadMessage(&buf, &first); err != nil {
		t.Fatalf("ReadMessage 1: %v", err)
	}
	if err := ReadMessage(&buf, &second); err != nil {
		t.Fatalf("ReadMessage 2: %v", err)
	}
	if first.Kind != ReqStatus || second.Kind != ReqShutdown {
		t.Fatalf("got %v then %v, want ReqStatus then ReqShutdown", first.Kind, second.Kind)
	}
}
