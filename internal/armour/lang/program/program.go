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

// Package program implements the compiled policy bundle of spec §3.3: code,
// external endpoint table, per-function type headers, and a timeout,
// serialized as gob+gzip+base64 and identified by a BLAKE3 digest.
package program

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"armour/internal/armour/lang/ast"
	"armour/internal/armour/lang/types"
)

func init() {
	// gob needs every concrete type that can appear behind the ast.Expr
	// interface registered before it can encode a FuncDecl.Body.
	gob.Register(&ast.BoolLit{})
	gob.Register(&ast.IntLit{})
	gob.Register(&ast.FloatLit{})
	gob.Register(&ast.StringLit{})
	gob.Register(&ast.DataLit{})
	gob.Register(&ast.LabelLit{})
	gob.Register(&ast.UnitLit{})
	gob.Register(&ast.Var{})
	gob.Register(&ast.PrefixOp{})
	gob.Register(&ast.InfixOp{})
	gob.Register(&ast.If{})
	gob.Register(&ast.IfLetSome{})
	gob.Register(&ast.IfMatches{})
	gob.Register(&ast.Let{})
	gob.Register(&ast.Block{})
	gob.Register(&ast.ListLit{})
	gob.Register(&ast.TupleLit{})
	gob.Register(&ast.Call{})
	gob.Register(&ast.Iter{})
	gob.Register(&ast.Return{})
}

// External is one compiled `external name "socket" { ... }` endpoint.
type External struct {
	Socket  string
	Methods map[string]types.Signature
}

// Program is the compiled, serializable policy bundle.
type Program struct {
	Code      map[string]*ast.FuncDecl
	Externals map[string]External
	Headers   map[string]types.Signature
	Timeout   time.Duration
}

// New builds a Program from a checked ast.Program, keeping only the
// functions reachable from entryPoints (spec §4.3 pruning).
func New(prog *ast.Program, checked *types.Checked, entryPoints []string, timeout time.Duration) *Program {
	reachable := types.Prune(prog, checked.Graph, entryPoints)
	code := map[string]*ast.FuncDecl{}
	headers := map[string]types.Signature{}
	for _, fn := range prog.Funcs {
		if !reachable[fn.Name] {
			continue
		}
		code[fn.Name] = fn
		headers[fn.Name] = checked.Headers[fn.Name]
	}
	externals := map[string]External{}
	for _, ext := range prog.Externals {
		methods := map[string]types.Signature{}
		for _, m := range ext.Methods {
			methods[m.Name] = checked.Externals[ext.Name+"::"+m.Name]
		}
		externals[ext.Name] = External{Socket: ext.Socket, Methods: methods}
	}
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &Program{Code: code, Externals: externals, Headers: headers, Timeout: timeout}
}

// RequireEntryPoints returns an install error if any name in required is
// missing from the compiled program (spec §3.2 invariant, §7 install
// errors).
func (p *Program) RequireEntryPoints(required []string) error {
	for _, name := range required {
		if _, ok := p.Code[name]; !ok {
			return fmt.Errorf("program: missing required entry point %q", name)
		}
	}
	return nil
}

// codeEntry/headerEntry/externalEntry give Code/Headers/Externals a
// canonical, name-sorted sequence form for serialization: gob encodes maps
// in Go's randomized iteration order, so encoding the maps directly would
// make Serialize (and therefore Hash) nondeterministic across calls and
// across processes (spec §8 invariant 7, §3.3's content-addressed digest).
type codeEntry struct {
	Name string
	Decl *ast.FuncDecl
}

type headerEntry struct {
	Name string
	Sig  types.Signature
}

type externalEntry struct {
	Name    string
	Socket  string
	Methods []headerEntry
}

// gobEnvelope is the concrete shape serialized by gob: every map field is
// flattened into a slice sorted by key first.
type gobEnvelope struct {
	Code      []codeEntry
	Externals []externalEntry
	Headers   []headerEntry
	Timeout   time.Duration
}

func sortedHeaders(m map[string]types.Signature) []headerEntry {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]headerEntry, 0, len(names))
	for _, name := range names {
		out = append(out, headerEntry{Name: name, Sig: m[name]})
	}
	return out
}

func headersFromSorted(entries []headerEntry) map[string]types.Signature {
	out := make(map[string]types.Signature, len(entries))
	for _, e := range entries {
		out[e.Name] = e.Sig
	}
	return out
}

func toEnvelope(p *Program) gobEnvelope {
	names := make([]string, 0, len(p.Code))
	for name := range p.Code {
		names = append(names, name)
	}
	sort.Strings(names)
	code := make([]codeEntry, 0, len(names))
	for _, name := range names {
		code = append(code, codeEntry{Name: name, Decl: p.Code[name]})
	}

	extNames := make([]string, 0, len(p.Externals))
	for name := range p.Externals {
		extNames = append(extNames, name)
	}
	sort.Strings(extNames)
	externals := make([]externalEntry, 0, len(extNames))
	for _, name := range extNames {
		ext := p.Externals[name]
		externals = append(externals, externalEntry{Name: name, Socket: ext.Socket, Methods: sortedHeaders(ext.Methods)})
	}

	return gobEnvelope{
		Code:      code,
		Externals: externals,
		Headers:   sortedHeaders(p.Headers),
		Timeout:   p.Timeout,
	}
}

func fromEnvelope(env gobEnvelope) *Program {
	code := make(map[string]*ast.FuncDecl, len(env.Code))
	for _, e := range env.Code {
		code[e.Name] = e.Decl
	}
	externals := make(map[string]External, len(env.Externals))
	for _, e := range env.Externals {
		externals[e.Name] = External{Socket: e.Socket, Methods: headersFromSorted(e.Methods)}
	}
	return &Program{Code: code, Externals: externals, Headers: headersFromSorted(env.Headers), Timeout: env.Timeout}
}

// Serialize encodes the program as gob, gzips it, and base64-encodes the
// result — the concrete "bincode + gzip + base64" pipeline named in spec
// §3.3/§6 (see DESIGN.md for why gob stands in for bincode). The envelope
// is canonicalized (map fields sorted by key) first so the output is
// byte-for-byte stable across calls.
func (p *Program) Serialize() (string, error) {
	var raw bytes.Buffer
	enc := gob.NewEncoder(&raw)
	if err := enc.Encode(toEnvelope(p)); err != nil {
		return "", fmt.Errorf("program: gob encode: %w", err)
	}
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	if _, err := w.Write(raw.Bytes()); err != nil {
		return "", fmt.Errorf("program: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("program: gzip close: %w", err)
	}
	return base64.StdEncoding.EncodeToString(gz.Bytes()), nil
}

// Deserialize reverses Serialize.
func Deserialize(encoded string) (*Program, error) {
	gz, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("program: base64 decode: %w", err)
	}
	r, err := gzip.NewReader(bytes.NewReader(gz))
	if err != nil {
		return nil, fmt.Errorf("program: gzip reader: %w", err)
	}
	defer r.Close()
	var env gobEnvelope
	dec := gob.NewDecoder(r)
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("program: gob decode: %w", err)
	}
	return fromEnvelope(env), nil
}

// Hash returns the BLAKE3 digest of the program's serialized form (spec
// §3.3). Two programs with byte-identical serializations hash identically,
// which is what spec §8 invariant 7 requires of a round trip.
func (p *Program) Hash() ([32]byte, error) {
	encoded, err := p.Serialize()
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256([]byte(encoded)), nil
}

// FnAction classifies how a protocol's gating entry point is evaluated
// (spec §3.2).
type FnAction int

const (
	ActionAllow FnAction = iota
	ActionDeny
	ActionArgs // evaluate with FnPolicy.Args args
)

// FnPolicy is one entry point's classification.
type FnPolicy struct {
	Action FnAction
	Args   int
}

// Policy bundles a compiled Program with its per-protocol FnPolicy map
// (spec §3.2).
type Policy struct {
	Program  *Program
	FnPolicy map[string]FnPolicy
}
