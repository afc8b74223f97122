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

// Package hostproto implements the Host<->Proxy wire protocol of spec §6:
// length-prefixed, gob-serialized messages over a Unix domain socket (gob
// stands in for bincode here, matching program.Program's own serialization
// choice).
package hostproto

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"armour/internal/armour/actor"
)

// maxFrameLen guards against a corrupt or hostile length prefix trying to
// make the reader allocate an unbounded buffer.
const maxFrameLen = 64 << 20

// RequestKind distinguishes the eight Host->Proxy message shapes (spec §6).
type RequestKind uint8

const (
	ReqLabel RequestKind = iota
	ReqTimeout
	ReqStatus
	ReqStop
	ReqStartHTTP
	ReqStartTCP
	ReqSetPolicy
	ReqShutdown
)

// HTTPConfig configures StartHttp(cfg) (bind address and self-loop guard).
type HTTPConfig struct {
	Addr     string
	SelfHost string
}

// SerializedPolicy is one protocol's policy in its wire-transmissible
// (gob+gzip+base64, per program.Program.Serialize) form, paired with its
// FnPolicy classifications so the proxy can rebuild a *program.Policy
// without re-type-checking.
type SerializedPolicy struct {
	Protocol string
	Encoded  string
	FnPolicy map[string]SerializedFnPolicy
}

// SerializedFnPolicy mirrors program.FnPolicy across the wire.
type SerializedFnPolicy struct {
	Action int
	Args   int
}

// Request is a flat, tagged Host->Proxy message (spec §6 Request kinds).
type Request struct {
	Kind RequestKind

	Label    actor.LabelOp      // ReqLabel
	Secs     int64              // ReqTimeout
	Protocol string             // ReqStop
	HTTP     HTTPConfig         // ReqStartHTTP
	Port     int                // ReqStartTCP
	Policies []SerializedPolicy // ReqSetPolicy
}

// ResponseKind distinguishes the seven Proxy->Host message shapes.
type ResponseKind uint8

const (
	RespConnect ResponseKind = iota
	RespStarted
	RespStopped
	RespUpdatedPolicy
	RespRequestFailed
	RespShuttingDown
	RespStatus
)

// StatusReport mirrors actor.Status across the wire.
type StatusReport struct {
	HostLabels map[string][]string
	IPLabels   map[string][]string
	Hashes     map[string]string // hex-encoded BLAKE3 digests
}

// Response is a flat, tagged Proxy->Host message (spec §6 Response kinds).
type Response struct {
	Kind ResponseKind

	PID      int          // RespConnect
	Label    string       // RespConnect
	HTTPHash string       // RespConnect
	TCPHash  string       // RespConnect
	Protocol string       // RespUpdatedPolicy
	Hash     string       // RespUpdatedPolicy
	Reason   string       // RespRequestFailed
	Status   StatusReport // RespStatus
}

// WriteMessage writes a length-prefixed gob frame: a big-endian uint32
// byte count followed by the gob encoding of v.
func WriteMessage(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("hostproto: encode: %w", err)
	}
	body := buf.Bytes()
	if len(body) > maxFrameLen {
		return fmt.Errorf("hostproto: frame too large: %d bytes", len(body))
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("hostproto: write length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("hostproto: write body: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed gob frame into v (a pointer).
func ReadMessage(r io.Reader, v any) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return err // EOF on a clean close is expected, propagate verbatim
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameLen {
		return fmt.Errorf("hostproto: frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("hostproto: read body: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		return fmt.Errorf("hostproto: decode: %w", err)
	}
	return nil
}
