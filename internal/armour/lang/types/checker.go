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

package types

import (
	"fmt"
	"strings"

	"armour/internal/armour/lang/ast"
	"armour/internal/armour/lang/token"
)

// TypeError is a checker error: a signature mismatch or un-unifiable pair,
// reported with both sides and a location (spec §7).
type TypeError struct {
	Loc  token.Loc
	Msg  string
}

func (e *TypeError) Error() string { return fmt.Sprintf("type error at %s: %s", e.Loc, e.Msg) }

// CallGraphError is a static error from the call-graph pass: a cycle
// (names the offending function) or a call to an unknown function.
type CallGraphError struct {
	Msg string
}

func (e *CallGraphError) Error() string { return "call graph error: " + e.Msg }

// Edge is one call-graph edge: Caller calls Callee at Loc.
type Edge struct {
	Caller, Callee string
	Loc            token.Loc
}

// Checked is the result of a successful Check: per-function resolved
// signatures and the full call graph (including external-call and
// built-in edges are NOT included — only user-function edges count
// toward the DAG requirement of spec §8 invariant 1).
type Checked struct {
	Headers  map[string]Signature
	Externals map[string]Signature // "ext::method" -> signature
	Graph    []Edge
	Order    []string // topological order, callees before callers
}

// Check type-checks every function in prog, builds the call graph, and
// topologically sorts it. A cycle is a fatal CallGraphError naming one of
// the functions in the cycle.
func Check(prog *ast.Program) (*Checked, error) {
	headers := map[string]Signature{}
	for _, fn := range prog.Funcs {
		sig, err := signatureOf(fn)
		if err != nil {
			return nil, err
		}
		headers[fn.Name] = sig
	}
	externals := map[string]Signature{}
	for _, ext := range prog.Externals {
		for _, m := range ext.Methods {
			sig, err := externalSignature(m)
			if err != nil {
				return nil, err
			}
			externals[ext.Name+"::"+m.Name] = sig
		}
	}

	c := &checker{headers: headers, externals: externals}
	for _, fn := range prog.Funcs {
		env := paramEnv(fn)
		c.caller = fn.Name
		got, err := c.infer(fn.Body, env)
		if err != nil {
			return nil, err
		}
		want := headers[fn.Name].Ret
		if _, ok := Unify(got, want); !ok {
			return nil, &TypeError{Loc: fn.At, Msg: fmt.Sprintf("function %q: body type %s does not unify with declared return type %s", fn.Name, got, want)}
		}
	}

	order, err := topoSort(prog, c.graph)
	if err != nil {
		return nil, err
	}

	return &Checked{Headers: headers, Externals: externals, Graph: c.graph, Order: order}, nil
}

// Prune drops functions unreachable from entryPoints, returning the names
// that survive (spec §4.3: "Unreachable functions ... are pruned").
func Prune(prog *ast.Program, graph []Edge, entryPoints []string) map[string]bool {
	adj := map[string][]string{}
	for _, e := range graph {
		adj[e.Caller] = append(adj[e.Caller], e.Callee)
	}
	reachable := map[string]bool{}
	var visit func(string)
	visit = func(name string) {
		if reachable[name] {
			return
		}
		reachable[name] = true
		for _, callee := range adj[name] {
			visit(callee)
		}
	}
	for _, ep := range entryPoints {
		visit(ep)
	}
	return reachable
}

func paramEnv(fn *ast.FuncDecl) []Type {
	env := make([]Type, len(fn.Params))
	// parser pushes params innermost-last: last param is index 0.
	n := len(fn.Params)
	for i, p := range fn.Params {
		t, err := ParseTypeSyntax(p.Type)
		if err != nil {
			t = Flat(Never)
		}
		env[n-1-i] = t
	}
	return env
}

func signatureOf(fn *ast.FuncDecl) (Signature, error) {
	var params []Type
	for _, p := range fn.Params {
		t, err := ParseTypeSyntax(p.Type)
		if err != nil {
			return Signature{}, &TypeError{Loc: fn.At, Msg: err.Error()}
		}
		params = append(params, t)
	}
	ret, err := ParseTypeSyntax(fn.RetType)
	if err != nil {
		return Signature{}, &TypeError{Loc: fn.At, Msg: err.Error()}
	}
	return Signature{Params: params, Ret: ret}, nil
}

func externalSignature(m ast.ExternalMethod) (Signature, error) {
	var params []Type
	for _, raw := range m.Params {
		t, err := ParseTypeSyntax(raw)
		if err != nil {
			return Signature{}, err
		}
		params = append(params, t)
	}
	ret, err := ParseTypeSyntax(m.RetType)
	if err != nil {
		return Signature{}, err
	}
	return Signature{Params: params, Ret: ret}, nil
}

// ParseTypeSyntax resolves the parser's raw type-syntax strings ("i64",
// "List<str>", "Option<i64>") into a Type.
func ParseTypeSyntax(s string) (Type, error) {
	switch s {
	case "bool":
		return Flat(Bool), nil
	case "i64":
		return Flat(I64), nil
	case "f64":
		return Flat(F64), nil
	case "str":
		return Flat(Str), nil
	case "data":
		return Flat(Data), nil
	case "regex":
		return Flat(RegexT), nil
	case "Label":
		return Flat(LabelT), nil
	case "IpAddr":
		return Flat(IPAddr), nil
	case "ID":
		return Flat(IDT), nil
	case "Connection":
		return Flat(ConnectionT), nil
	case "HttpRequest":
		return Flat(HttpRequestT), nil
	case "HttpResponse":
		return Flat(HttpResponseT), nil
	case "unit", "":
		return Flat(Unit), nil
	case "!":
		return Flat(Never), nil
	}
	if strings.HasPrefix(s, "List<") && strings.HasSuffix(s, ">") {
		inner := s[len("List<") : len(s)-1]
		t, err := ParseTypeSyntax(inner)
		if err != nil {
			return Type{}, err
		}
		return List(t), nil
	}
	if strings.HasPrefix(s, "Option<") && strings.HasSuffix(s, ">") {
		inner := s[len("Option<") : len(s)-1]
		t, err := ParseTypeSyntax(inner)
		if err != nil {
			return Type{}, err
		}
		return Option(t), nil
	}
	if strings.HasPrefix(s, "Tuple<") && strings.HasSuffix(s, ">") {
		parts := splitTop(s[len("Tuple<") : len(s)-1])
		var elems []Type
		for _, p := range parts {
			t, err := ParseTypeSyntax(p)
			if err != nil {
				return Type{}, err
			}
			elems = append(elems, t)
		}
		return Tuple(elems...), nil
	}
	return Type{}, fmt.Errorf("unknown type syntax %q", s)
}

func splitTop(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

type checker struct {
	headers   map[string]Signature
	externals map[string]Signature
	caller    string
	graph     []Edge
}

// infer computes the type of e under env (a De Bruijn-indexed type
// environment, index 0 innermost), recording call-graph edges for every
// user-function call site.
func (c *checker) infer(e ast.Expr, env []Type) (Type, error) {
	switch n := e.(type) {
	case *ast.BoolLit:
		return Flat(Bool), nil
	case *ast.IntLit:
		return Flat(I64), nil
	case *ast.FloatLit:
		return Flat(F64), nil
	case *ast.StringLit:
		return Flat(Str), nil
	case *ast.DataLit:
		return Flat(Data), nil
	case *ast.LabelLit:
		return Flat(LabelT), nil
	case *ast.UnitLit:
		return Flat(Unit), nil
	case *ast.Var:
		if n.Index < 0 || n.Index >= len(env) {
			return Type{}, &TypeError{Loc: n.Loc(), Msg: fmt.Sprintf("free variable %q (not bound)", n.Name)}
		}
		return env[n.Index], nil
	case *ast.PrefixOp:
		t, err := c.infer(n.Operand, env)
		if err != nil {
			return Type{}, err
		}
		switch n.Op {
		case "!":
			return Flat(Bool), checkUnify(n.Loc(), t, Flat(Bool))
		case "-":
			return t, nil
		}
		return Type{}, &TypeError{Loc: n.Loc(), Msg: "unknown prefix operator " + n.Op}
	case *ast.InfixOp:
		lt, err := c.infer(n.Left, env)
		if err != nil {
			return Type{}, err
		}
		rt, err := c.infer(n.Right, env)
		if err != nil {
			return Type{}, err
		}
		return inferInfix(n, lt, rt)
	case *ast.If:
		ct, err := c.infer(n.Cond, env)
		if err != nil {
			return Type{}, err
		}
		if err := checkUnify(n.Loc(), ct, Flat(Bool)); err != nil {
			return Type{}, err
		}
		tt, err := c.infer(n.Then, env)
		if err != nil {
			return Type{}, err
		}
		if n.Else == nil {
			return Unify2(n.Loc(), tt, Flat(Unit))
		}
		et, err := c.infer(n.Else, env)
		if err != nil {
			return Type{}, err
		}
		return Unify2(n.Loc(), tt, et)
	case *ast.IfLetSome:
		st, err := c.infer(n.Scrutinee, env)
		if err != nil {
			return Type{}, err
		}
		var elem Type = Flat(Never)
		if st.Kind == TupleT && len(st.Elems) == 1 {
			elem = st.Elems[0]
		}
		tt, err := c.infer(n.Then, append([]Type{elem}, env...))
		if err != nil {
			return Type{}, err
		}
		if n.Else == nil {
			return tt, nil
		}
		et, err := c.infer(n.Else, env)
		if err != nil {
			return Type{}, err
		}
		return Unify2(n.Loc(), tt, et)
	case *ast.IfMatches:
		st, err := c.infer(n.Scrutinee, env)
		if err != nil {
			return Type{}, err
		}
		if st.Kind == LabelT {
			n.Kind = ast.MatchLabel
		}
		captureEnv := env
		for range n.Captures {
			ct := Flat(Str)
			captureEnv = append([]Type{ct}, captureEnv...)
		}
		// captures are prepended last-to-first, so the *first* capture
		// declared is index 0; rebuild to match parser scope order.
		captureEnv = env
		for i := len(n.Captures) - 1; i >= 0; i-- {
			ct := Flat(Str)
			if n.Captures[i].Type == ast.CaptureInt {
				ct = Flat(I64)
			} else if n.Captures[i].Type == ast.CaptureBase64 {
				ct = Flat(Data)
			}
			captureEnv = append([]Type{ct}, captureEnv...)
		}
		tt, err := c.infer(n.Then, captureEnv)
		if err != nil {
			return Type{}, err
		}
		if n.Else == nil {
			return tt, nil
		}
		et, err := c.infer(n.Else, env)
		if err != nil {
			return Type{}, err
		}
		return Unify2(n.Loc(), tt, et)
	case *ast.Let:
		vt, err := c.infer(n.Value, env)
		if err != nil {
			return Type{}, err
		}
		if len(n.Names) > 1 {
			// one binder per tuple element, last element at index 0 (the
			// interpreter's evalLet order).
			if vt.Kind != TupleT || len(vt.Elems) != len(n.Names) {
				return Type{}, &TypeError{Loc: n.Loc(), Msg: fmt.Sprintf("let-tuple: pattern has %d names, value has type %s", len(n.Names), vt)}
			}
			bodyEnv := env
			for _, et := range vt.Elems {
				bodyEnv = append([]Type{et}, bodyEnv...)
			}
			return c.infer(n.Body, bodyEnv)
		}
		return c.infer(n.Body, append([]Type{vt}, env...))
	case *ast.Block:
		var last Type = Flat(Unit)
		for _, ex := range n.Exprs {
			t, err := c.infer(ex, env)
			if err != nil {
				return Type{}, err
			}
			last = t
		}
		return last, nil
	case *ast.ListLit:
		elem := Flat(Never)
		for _, ex := range n.Elems {
			t, err := c.infer(ex, env)
			if err != nil {
				return Type{}, err
			}
			u, ok := Unify(elem, t)
			if !ok {
				return Type{}, &TypeError{Loc: n.Loc(), Msg: fmt.Sprintf("list element type mismatch: %s vs %s", elem, t)}
			}
			elem = u
		}
		return List(elem), nil
	case *ast.TupleLit:
		var elems []Type
		for _, ex := range n.Elems {
			t, err := c.infer(ex, env)
			if err != nil {
				return Type{}, err
			}
			elems = append(elems, t)
		}
		return Tuple(elems...), nil
	case *ast.Call:
		return c.inferCall(n, env)
	case *ast.Iter:
		return c.inferIter(n, env)
	case *ast.Return:
		_, err := c.infer(n.Value, env)
		if err != nil {
			return Type{}, err
		}
		return Flat(Never), nil
	}
	return Type{}, &TypeError{Loc: e.Loc(), Msg: fmt.Sprintf("unhandled expression node %T", e)}
}

func Unify2(loc token.Loc, a, b Type) (Type, error) {
	u, ok := Unify(a, b)
	if !ok {
		return Type{}, &TypeError{Loc: loc, Msg: fmt.Sprintf("cannot unify %s with %s", a, b)}
	}
	return u, nil
}

func checkUnify(loc token.Loc, a, b Type) error {
	_, err := Unify2(loc, a, b)
	return err
}

func inferInfix(n *ast.InfixOp, lt, rt Type) (Type, error) {
	switch n.Op {
	case "==", "!=":
		if _, ok := Unify(lt, rt); !ok {
			return Type{}, &TypeError{Loc: n.Loc(), Msg: fmt.Sprintf("cannot compare %s with %s", lt, rt)}
		}
		return Flat(Bool), nil
	case "<", "<=", ">", ">=":
		return Flat(Bool), checkNumeric(n.Loc(), lt, rt)
	case "&&", "||":
		if err := checkUnify(n.Loc(), lt, Flat(Bool)); err != nil {
			return Type{}, err
		}
		return Flat(Bool), checkUnify(n.Loc(), rt, Flat(Bool))
	case "++":
		if lt.Kind == Str {
			return Flat(Str), checkUnify(n.Loc(), rt, Flat(Str))
		}
		if lt.Kind == ListT {
			return lt, checkUnify(n.Loc(), rt, lt)
		}
		return Type{}, &TypeError{Loc: n.Loc(), Msg: "++ requires str or List operands"}
	case "+", "-", "*", "/", "%":
		return Unify2(n.Loc(), lt, rt)
	}
	return Type{}, &TypeError{Loc: n.Loc(), Msg: "unknown infix operator " + n.Op}
}

func checkNumeric(loc token.Loc, lt, rt Type) error {
	if lt.Kind != I64 && lt.Kind != F64 {
		return &TypeError{Loc: loc, Msg: fmt.Sprintf("expected numeric type, got %s", lt)}
	}
	return checkUnify(loc, lt, rt)
}

func (c *checker) inferCall(n *ast.Call, env []Type) (Type, error) {
	var argTypes []Type
	for _, a := range n.Args {
		t, err := c.infer(a, env)
		if err != nil {
			return Type{}, err
		}
		argTypes = append(argTypes, t)
	}
	if sig, ok := c.headers[n.Name]; ok {
		c.graph = append(c.graph, Edge{Caller: c.caller, Callee: n.Name, Loc: n.Loc()})
		if err := checkArgs(n.Loc(), n.Name, sig.Params, argTypes); err != nil {
			return Type{}, err
		}
		return sig.Ret, nil
	}
	if sig, ok := c.externals[n.Name]; ok {
		if err := checkArgs(n.Loc(), n.Name, sig.Params, argTypes); err != nil {
			return Type{}, err
		}
		return sig.Ret, nil
	}
	if sig, ok := Builtins[n.Name]; ok {
		if err := checkArgs(n.Loc(), n.Name, sig.Params, argTypes); err != nil {
			return Type{}, err
		}
		return sig.Ret, nil
	}
	// method-style call x.f(...): resolve against "Typ::f" by the
	// receiver's type and record the qualified name for the interpreter.
	if len(argTypes) > 0 {
		qualified := argTypes[0].String() + "::" + n.Name
		if sig, ok := Builtins[qualified]; ok {
			if err := checkArgs(n.Loc(), qualified, sig.Params, argTypes); err != nil {
				return Type{}, err
			}
			n.Name = qualified
			return sig.Ret, nil
		}
	}
	return Type{}, &CallGraphError{Msg: fmt.Sprintf("unknown function %q (called from %q at %s)", n.Name, c.caller, n.Loc())}
}

func checkArgs(loc token.Loc, name string, want, got []Type) error {
	if len(want) != len(got) {
		return &TypeError{Loc: loc, Msg: fmt.Sprintf("%s: expected %d args, got %d", name, len(want), len(got))}
	}
	for i := range want {
		if _, ok := Unify(want[i], got[i]); !ok {
			return &TypeError{Loc: loc, Msg: fmt.Sprintf("%s: arg %d has type %s, want %s", name, i, got[i], want[i])}
		}
	}
	return nil
}

func (c *checker) inferIter(n *ast.Iter, env []Type) (Type, error) {
	lt, err := c.infer(n.List, env)
	if err != nil {
		return Type{}, err
	}
	elem := Flat(Never)
	if lt.Kind == ListT {
		elem = *lt.Elem
	}
	switch n.Kind {
	case ast.IterFold:
		initT, err := c.infer(n.Init, env)
		if err != nil {
			return Type{}, err
		}
		// parser scope order for `fold acc = init, x in xs`: acc is pushed
		// last and so sits at index 0 (innermost), x at index 1.
		bodyEnv := append([]Type{initT, elem}, env...)
		bt, err := c.infer(n.Body, bodyEnv)
		if err != nil {
			return Type{}, err
		}
		return Unify2(n.Loc(), bt, initT)
	default:
		bodyEnv := append([]Type{elem}, env...)
		bt, err := c.infer(n.Body, bodyEnv)
		if err != nil {
			return Type{}, err
		}
		switch n.Kind {
		case ast.IterAll, ast.IterAny:
			return Flat(Bool), checkUnify(n.Loc(), bt, Flat(Bool))
		case ast.IterMap:
			return List(bt), nil
		case ast.IterFilter:
			return lt, checkUnify(n.Loc(), bt, Flat(Bool))
		case ast.IterFilterMap:
			if bt.Kind != TupleT || len(bt.Elems) > 1 {
				return Type{}, &TypeError{Loc: n.Loc(), Msg: "filter_map body must produce an Option"}
			}
			if len(bt.Elems) == 1 {
				return List(bt.Elems[0]), nil
			}
			return List(Flat(Never)), nil
		case ast.IterForeach:
			return Flat(Unit), nil
		}
	}
	return Type{}, &TypeError{Loc: n.Loc(), Msg: "unknown iterator form"}
}

// topoSort returns the user functions in callee-before-caller order. A
// cycle is reported as a CallGraphError naming one function in the cycle
// (spec §4.3, §8 invariant 1).
func topoSort(prog *ast.Program, graph []Edge) ([]string, error) {
	adj := map[string][]string{}
	for _, fn := range prog.Funcs {
		adj[fn.Name] = nil
	}
	for _, e := range graph {
		adj[e.Caller] = append(adj[e.Caller], e.Callee)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var order []string
	var visit func(string) error
	visit = func(name string) error {
		if _, isUser := adj[name]; !isUser {
			return nil // builtin/external target, not part of the user call graph
		}
		switch color[name] {
		case black:
			return nil
		case gray:
			return &CallGraphError{Msg: fmt.Sprintf("function %q might not terminate (recursion cycle)", name)}
		}
		color[name] = gray
		for _, callee := range adj[name] {
			if err := visit(callee); err != nil {
				return err
			}
		}
		color[name] = black
		order = append(order, name)
		return nil
	}
	for _, fn := range prog.Funcs {
		if err := visit(fn.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
