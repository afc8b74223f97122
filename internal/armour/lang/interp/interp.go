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

// Package interp is a tree-walking evaluator over the compiled policy
// program (spec §4.4): deterministic given inputs and the program,
// side-effect-free except through external RPC and the per-flow metadata
// channel, with suspension only at call boundaries that reach an external.
package interp

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"armour/internal/armour/domain"
	"armour/internal/armour/lang/ast"
	"armour/internal/armour/lang/program"
)

// RuntimeError is a string-tagged evaluation error (spec §4.4/§7): wrong
// operand type, division/remainder/pow by a bad operand, a free variable
// that escaped type-checking, or an external-call failure.
type RuntimeError struct {
	Tag string
	Msg string
}

func (e *RuntimeError) Error() string { return fmt.Sprintf("runtime error [%s]: %s", e.Tag, e.Msg) }

func rtErr(tag, format string, a ...any) error {
	return &RuntimeError{Tag: tag, Msg: fmt.Sprintf(format, a...)}
}

// External is the oracle RPC client used for `external::method` calls
// (spec §4.7); implemented concretely by package external over gRPC.
type External interface {
	Call(ctx context.Context, external, method string, args []Value) (Value, error)
}

// Interp evaluates expressions against one compiled Program snapshot.
// Holding a *program.Program across suspension points is this module's
// copy-on-write snapshot discipline (spec §9): SetPolicy swaps the actor's
// pointer, never mutates the struct an in-flight Interp already holds.
type Interp struct {
	Program  *program.Program
	External External
}

// New returns an Interp bound to prog.
func New(prog *program.Program, ext External) *Interp {
	return &Interp{Program: prog, External: ext}
}

// CallEntryPoint invokes a top-level entry point by name with args supplied
// in source/declaration order (first declared parameter first); the
// resulting ReturnVal, if any, is stripped exactly once here, at the
// function boundary (spec §4.4).
func (ip *Interp) CallEntryPoint(ctx context.Context, name string, args []Value) (Value, error) {
	fn, ok := ip.Program.Code[name]
	if !ok {
		return nil, rtErr("unknown-function", "no entry point %q in program", name)
	}
	if len(args) != len(fn.Params) {
		return nil, rtErr("arity", "%s: expected %d args, got %d", name, len(fn.Params), len(args))
	}
	env := reverseArgs(args)
	v, err := ip.eval(ctx, fn.Body, env)
	if err != nil {
		return nil, err
	}
	return StripReturn(v), nil
}

func reverseArgs(args []Value) []Value {
	env := make([]Value, len(args))
	for i, a := range args {
		env[len(args)-1-i] = a
	}
	return env
}

// eval is the core evaluation rule. env is De Bruijn indexed, index 0
// innermost. Every composite rule below checks its sub-results for a
// ReturnVal and, if found, returns it immediately without further work —
// this is the propagation table of spec §4.4/§8 invariant 4.
func (ip *Interp) eval(ctx context.Context, e ast.Expr, env []Value) (Value, error) {
	switch n := e.(type) {
	case *ast.BoolLit:
		return n.Value, nil
	case *ast.IntLit:
		return n.Value, nil
	case *ast.FloatLit:
		return n.Value, nil
	case *ast.StringLit:
		return n.Value, nil
	case *ast.DataLit:
		return []byte(n.Value), nil
	case *ast.LabelLit:
		lbl, err := domain.ParseLabel(n.Value)
		if err != nil {
			return nil, rtErr("bad-label", "%v", err)
		}
		return lbl, nil
	case *ast.UnitLit:
		return Unit, nil

	case *ast.Var:
		if n.Index < 0 || n.Index >= len(env) {
			return nil, rtErr("free-variable", "unbound variable %q (compiler bug: should be caught statically)", n.Name)
		}
		return env[n.Index], nil

	case *ast.PrefixOp:
		return ip.evalPrefix(ctx, n, env)
	case *ast.InfixOp:
		return ip.evalInfix(ctx, n, env)
	case *ast.If:
		return ip.evalIf(ctx, n, env)
	case *ast.IfLetSome:
		return ip.evalIfLetSome(ctx, n, env)
	case *ast.IfMatches:
		return ip.evalIfMatches(ctx, n, env)
	case *ast.Let:
		return ip.evalLet(ctx, n, env)
	case *ast.Block:
		return ip.evalBlock(ctx, n, env)
	case *ast.ListLit:
		return ip.evalList(ctx, n, env)
	case *ast.TupleLit:
		return ip.evalTuple(ctx, n, env)
	case *ast.Call:
		return ip.evalCall(ctx, n, env)
	case *ast.Iter:
		return ip.evalIter(ctx, n, env)
	case *ast.Return:
		v, err := ip.eval(ctx, n.Value, env)
		if err != nil {
			return nil, err
		}
		if r, ok := isReturn(v); ok {
			return r, nil
		}
		return ReturnVal{V: v}, nil
	}
	return nil, rtErr("unhandled-node", "%T", e)
}

func (ip *Interp) evalPrefix(ctx context.Context, n *ast.PrefixOp, env []Value) (Value, error) {
	v, err := ip.eval(ctx, n.Operand, env)
	if err != nil {
		return nil, err
	}
	if r, ok := isReturn(v); ok {
		return r, nil
	}
	switch n.Op {
	case "!":
		b, err := asBool(v)
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		return !b, nil
	case "-":
		switch x := v.(type) {
		case int64:
			return -x, nil
		case float64:
			return -x, nil
		}
		return nil, rtErr("bad-operand", "unary - on %T", v)
	}
	return nil, rtErr("bad-operand", "unknown prefix operator %q", n.Op)
}

func (ip *Interp) evalInfix(ctx context.Context, n *ast.InfixOp, env []Value) (Value, error) {
	// && and || short-circuit (spec §4.4).
	if n.Op == "&&" || n.Op == "||" {
		l, err := ip.eval(ctx, n.Left, env)
		if err != nil {
			return nil, err
		}
		if r, ok := isReturn(l); ok {
			return r, nil
		}
		lb, err := asBool(l)
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		if n.Op == "&&" && !lb {
			return false, nil
		}
		if n.Op == "||" && lb {
			return true, nil
		}
		r, err := ip.eval(ctx, n.Right, env)
		if err != nil {
			return nil, err
		}
		if rv, ok := isReturn(r); ok {
			return rv, nil
		}
		return asBool(r)
	}

	l, err := ip.eval(ctx, n.Left, env)
	if err != nil {
		return nil, err
	}
	if r, ok := isReturn(l); ok {
		return r, nil
	}
	r, err := ip.eval(ctx, n.Right, env)
	if err != nil {
		return nil, err
	}
	if rv, ok := isReturn(r); ok {
		return rv, nil
	}
	return evalInfixOp(n.Op, l, r)
}

func evalInfixOp(op string, l, r Value) (Value, error) {
	switch op {
	case "==":
		return valuesEqual(l, r), nil
	case "!=":
		return !valuesEqual(l, r), nil
	case "++":
		if ls, ok := l.(string); ok {
			rs, err := asStr(r)
			if err != nil {
				return nil, rtErr("bad-operand", "++ rhs: %v", err)
			}
			return ls + rs, nil
		}
		if ll, ok := l.(List); ok {
			rl, err := asList(r)
			if err != nil {
				return nil, rtErr("bad-operand", "++ rhs: %v", err)
			}
			return append(append(List{}, ll...), rl...), nil
		}
		return nil, rtErr("bad-operand", "++ on %T", l)
	}
	switch lv := l.(type) {
	case int64:
		rv, err := asInt(r)
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		return intOp(op, lv, rv)
	case float64:
		rv, err := asFloat(r)
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		return floatOp(op, lv, rv)
	}
	return nil, rtErr("bad-operand", "operator %q on %T", op, l)
}

func intOp(op string, l, r int64) (Value, error) {
	switch op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return nil, rtErr("div-by-zero", "i64 division by zero")
		}
		return l / r, nil
	case "%":
		if r == 0 {
			return nil, rtErr("div-by-zero", "i64 remainder by zero")
		}
		return l % r, nil
	case "<":
		return l < r, nil
	case "<=":
		return l <= r, nil
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	}
	return nil, rtErr("bad-operand", "unknown i64 operator %q", op)
}

func floatOp(op string, l, r float64) (Value, error) {
	switch op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		return l / r, nil
	case "<":
		return l < r, nil
	case "<=":
		return l <= r, nil
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	}
	return nil, rtErr("bad-operand", "unknown f64 operator %q", op)
}

func (ip *Interp) evalIf(ctx context.Context, n *ast.If, env []Value) (Value, error) {
	c, err := ip.eval(ctx, n.Cond, env)
	if err != nil {
		return nil, err
	}
	if r, ok := isReturn(c); ok {
		return r, nil
	}
	cb, err := asBool(c)
	if err != nil {
		return nil, rtErr("bad-operand", "if condition: %v", err)
	}
	if cb {
		return ip.eval(ctx, n.Then, env)
	}
	if n.Else == nil {
		return Unit, nil
	}
	return ip.eval(ctx, n.Else, env)
}

func (ip *Interp) evalIfLetSome(ctx context.Context, n *ast.IfLetSome, env []Value) (Value, error) {
	s, err := ip.eval(ctx, n.Scrutinee, env)
	if err != nil {
		return nil, err
	}
	if r, ok := isReturn(s); ok {
		return r, nil
	}
	t, err := asTuple(s)
	if err != nil {
		return nil, rtErr("bad-operand", "if let Some: %v", err)
	}
	if len(t) == 1 {
		return ip.eval(ctx, n.Then, append([]Value{t[0]}, env...))
	}
	if n.Else == nil {
		return Unit, nil
	}
	return ip.eval(ctx, n.Else, env)
}

func (ip *Interp) evalIfMatches(ctx context.Context, n *ast.IfMatches, env []Value) (Value, error) {
	s, err := ip.eval(ctx, n.Scrutinee, env)
	if err != nil {
		return nil, err
	}
	if r, ok := isReturn(s); ok {
		return r, nil
	}

	var capVals []Value
	var matched bool
	switch n.Kind {
	case ast.MatchLabel:
		lbl, ok := s.(domain.Label)
		if !ok {
			return nil, rtErr("bad-operand", "matches against a label pattern requires a Label value, got %T", s)
		}
		pat, err := domain.ParseLabel(n.Pattern)
		if err != nil {
			return nil, rtErr("bad-pattern", "%v", err)
		}
		caps, ok := domain.NewPattern(pat).Matches(lbl)
		if ok {
			matched = true
			for _, c := range n.Captures {
				vs := caps[c.Name]
				if len(vs) == 0 {
					capVals = append(capVals, "")
					continue
				}
				capVals = append(capVals, strings.Join(vs, "::"))
			}
		}
	default:
		str, ok := s.(string)
		if !ok {
			return nil, rtErr("bad-operand", "matches against a regex pattern requires a str value, got %T", s)
		}
		re, err := regexp.Compile(n.Pattern)
		if err != nil {
			return nil, rtErr("bad-pattern", "%v", err)
		}
		m := re.FindStringSubmatch(str)
		if m != nil {
			matched = true
			names := re.SubexpNames()
			for _, c := range n.Captures {
				raw := ""
				for i, nm := range names {
					if nm == c.Name && i < len(m) {
						raw = m[i]
					}
				}
				v, err := coerceCapture(c, raw)
				if err != nil {
					return nil, err
				}
				capVals = append(capVals, v)
			}
		}
	}
	if !matched {
		if n.Else == nil {
			return Unit, nil
		}
		return ip.eval(ctx, n.Else, env)
	}
	return ip.eval(ctx, n.Then, append(capVals, env...))
}

func coerceCapture(c ast.Capture, raw string) (Value, error) {
	switch c.Type {
	case ast.CaptureInt:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, rtErr("bad-capture", "capture %q is not i64: %v", c.Name, err)
		}
		return i, nil
	case ast.CaptureBase64:
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, rtErr("bad-capture", "capture %q is not base64: %v", c.Name, err)
		}
		return b, nil
	default:
		return raw, nil
	}
}

func (ip *Interp) evalLet(ctx context.Context, n *ast.Let, env []Value) (Value, error) {
	v, err := ip.eval(ctx, n.Value, env)
	if err != nil {
		return nil, err
	}
	if r, ok := isReturn(v); ok {
		return r, nil
	}
	if len(n.Names) > 1 {
		t, err := asTuple(v)
		if err != nil {
			return nil, rtErr("bad-operand", "let-tuple destructure: %v", err)
		}
		if len(t) != len(n.Names) {
			return nil, rtErr("bad-operand", "let-tuple arity mismatch: pattern has %d names, value has %d elements", len(n.Names), len(t))
		}
		newEnv := make([]Value, 0, len(t)+len(env))
		for i := len(t) - 1; i >= 0; i-- {
			newEnv = append(newEnv, t[i])
		}
		newEnv = append(newEnv, env...)
		return ip.eval(ctx, n.Body, newEnv)
	}
	return ip.eval(ctx, n.Body, append([]Value{v}, env...))
}

func (ip *Interp) evalBlock(ctx context.Context, n *ast.Block, env []Value) (Value, error) {
	var last Value = Unit
	for _, e := range n.Exprs {
		v, err := ip.eval(ctx, e, env)
		if err != nil {
			return nil, err
		}
		if r, ok := isReturn(v); ok {
			return r, nil
		}
		last = v
	}
	return last, nil
}

func (ip *Interp) evalList(ctx context.Context, n *ast.ListLit, env []Value) (Value, error) {
	out := make(List, 0, len(n.Elems))
	for _, e := range n.Elems {
		v, err := ip.eval(ctx, e, env)
		if err != nil {
			return nil, err
		}
		if r, ok := isReturn(v); ok {
			return r, nil
		}
		out = append(out, v)
	}
	return out, nil
}

func (ip *Interp) evalTuple(ctx context.Context, n *ast.TupleLit, env []Value) (Value, error) {
	out := make(Tuple, 0, len(n.Elems))
	for _, e := range n.Elems {
		v, err := ip.eval(ctx, e, env)
		if err != nil {
			return nil, err
		}
		if r, ok := isReturn(v); ok {
			return r, nil
		}
		out = append(out, v)
	}
	return out, nil
}

// evalCall resolves n.Name against, in order, the program's own functions,
// its externals table (`ext::method`), and the built-in table — the same
// precedence the checker used to type it (spec §4.3).
func (ip *Interp) evalCall(ctx context.Context, n *ast.Call, env []Value) (Value, error) {
	args := make([]Value, 0, len(n.Args))
	for _, a := range n.Args {
		v, err := ip.eval(ctx, a, env)
		if err != nil {
			return nil, err
		}
		if r, ok := isReturn(v); ok {
			return r, nil
		}
		args = append(args, v)
	}

	if fn, ok := ip.Program.Code[n.Name]; ok {
		if len(args) != len(fn.Params) {
			return nil, rtErr("arity", "%s: expected %d args, got %d", n.Name, len(fn.Params), len(args))
		}
		v, err := ip.eval(ctx, fn.Body, reverseArgs(args))
		if err != nil {
			return nil, err
		}
		return StripReturn(v), nil
	}

	if extName, method, ok := splitExternal(n.Name); ok {
		if ext, ok := ip.Program.Externals[extName]; ok {
			if _, ok := ext.Methods[method]; ok {
				if ip.External == nil {
					return nil, rtErr("external-unavailable", "%s: no external client configured", n.Name)
				}
				v, err := ip.External.Call(ctx, extName, method, args)
				if err != nil {
					return nil, rtErr("external-call", "%s: %v", n.Name, err)
				}
				return v, nil
			}
		}
	}

	return callBuiltin(n.Name, args)
}

func splitExternal(name string) (ext, method string, ok bool) {
	i := strings.Index(name, "::")
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+2:], true
}

func (ip *Interp) evalIter(ctx context.Context, n *ast.Iter, env []Value) (Value, error) {
	lv, err := ip.eval(ctx, n.List, env)
	if err != nil {
		return nil, err
	}
	if r, ok := isReturn(lv); ok {
		return r, nil
	}
	list, err := asList(lv)
	if err != nil {
		return nil, rtErr("bad-operand", "iterator source: %v", err)
	}

	switch n.Kind {
	case ast.IterFold:
		acc, err := ip.eval(ctx, n.Init, env)
		if err != nil {
			return nil, err
		}
		if r, ok := isReturn(acc); ok {
			return r, nil
		}
		for _, elem := range list {
			bodyEnv := append([]Value{acc, elem}, env...)
			v, err := ip.eval(ctx, n.Body, bodyEnv)
			if err != nil {
				return nil, err
			}
			if r, ok := isReturn(v); ok {
				return r, nil
			}
			acc = v
		}
		return acc, nil

	case ast.IterAll:
		for _, elem := range list {
			v, err := ip.eval(ctx, n.Body, append([]Value{elem}, env...))
			if err != nil {
				return nil, err
			}
			if r, ok := isReturn(v); ok {
				return r, nil
			}
			b, err := asBool(v)
			if err != nil {
				return nil, rtErr("bad-operand", "all: %v", err)
			}
			if !b {
				return false, nil
			}
		}
		return true, nil

	case ast.IterAny:
		for _, elem := range list {
			v, err := ip.eval(ctx, n.Body, append([]Value{elem}, env...))
			if err != nil {
				return nil, err
			}
			if r, ok := isReturn(v); ok {
				return r, nil
			}
			b, err := asBool(v)
			if err != nil {
				return nil, rtErr("bad-operand", "any: %v", err)
			}
			if b {
				return true, nil
			}
		}
		return false, nil

	case ast.IterFilter:
		out := make(List, 0, len(list))
		for _, elem := range list {
			v, err := ip.eval(ctx, n.Body, append([]Value{elem}, env...))
			if err != nil {
				return nil, err
			}
			if r, ok := isReturn(v); ok {
				return r, nil
			}
			b, err := asBool(v)
			if err != nil {
				return nil, rtErr("bad-operand", "filter: %v", err)
			}
			if b {
				out = append(out, elem)
			}
		}
		return out, nil

	case ast.IterFilterMap:
		out := make(List, 0, len(list))
		for _, elem := range list {
			v, err := ip.eval(ctx, n.Body, append([]Value{elem}, env...))
			if err != nil {
				return nil, err
			}
			if r, ok := isReturn(v); ok {
				return r, nil
			}
			t, err := asTuple(v)
			if err != nil {
				return nil, rtErr("bad-operand", "filter_map: %v", err)
			}
			if len(t) == 1 {
				out = append(out, t[0])
			}
		}
		return out, nil

	case ast.IterMap:
		out := make(List, 0, len(list))
		for _, elem := range list {
			v, err := ip.eval(ctx, n.Body, append([]Value{elem}, env...))
			if err != nil {
				return nil, err
			}
			if r, ok := isReturn(v); ok {
				return r, nil
			}
			out = append(out, v)
		}
		return out, nil

	case ast.IterForeach:
		for _, elem := range list {
			v, err := ip.eval(ctx, n.Body, append([]Value{elem}, env...))
			if err != nil {
				return nil, err
			}
			if r, ok := isReturn(v); ok {
				return r, nil
			}
		}
		return Unit, nil
	}
	return nil, rtErr("unhandled-node", "unknown iterator kind %d", n.Kind)
}
