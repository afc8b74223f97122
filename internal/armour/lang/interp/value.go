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

package interp

import (
	"fmt"

	"armour/internal/armour/domain"
)

// Value is a runtime value. Its dynamic type is one of: bool, int64,
// float64, string, []byte, domain.Label, domain.ID, domain.Connection,
// domain.HttpRequest, domain.HttpResponse, List, or Tuple.
type Value any

// List is the runtime representation of `List<T>`.
type List []Value

// Tuple is the runtime representation of `Tuple<...>`; an empty Tuple is
// `unit`, and a one-element Tuple is `Some(x)` (spec §3.1).
type Tuple []Value

// Unit is the canonical `()` value.
var Unit = Tuple{}

// Some wraps v as `Some(v)`.
func Some(v Value) Tuple { return Tuple{v} }

// None is the canonical empty-option value.
var None = Tuple{}

// ReturnVal wraps a value produced by `return e`. It must propagate up
// through every composite evaluation rule, unevaluated, until the
// enclosing function-body stripper consumes it exactly once (spec §4.4,
// §8 invariant 4).
type ReturnVal struct{ V Value }

func isReturn(v Value) (ReturnVal, bool) {
	r, ok := v.(ReturnVal)
	return r, ok
}

// StripReturn unwraps a ReturnVal at a function boundary.
func StripReturn(v Value) Value {
	if r, ok := v.(ReturnVal); ok {
		return r.V
	}
	return v
}

func asBool(v Value) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("interp: expected bool, got %T", v)
	}
	return b, nil
}

func asInt(v Value) (int64, error) {
	i, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("interp: expected i64, got %T", v)
	}
	return i, nil
}

func asFloat(v Value) (float64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("interp: expected f64, got %T", v)
	}
	return f, nil
}

func asStr(v Value) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("interp: expected str, got %T", v)
	}
	return s, nil
}

func asData(v Value) ([]byte, error) {
	d, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("interp: expected data, got %T", v)
	}
	return d, nil
}

func asLabel(v Value) (domain.Label, error) {
	l, ok := v.(domain.Label)
	if !ok {
		return domain.Label{}, fmt.Errorf("interp: expected Label, got %T", v)
	}
	return l, nil
}

func asList(v Value) (List, error) {
	l, ok := v.(List)
	if !ok {
		return nil, fmt.Errorf("interp: expected List, got %T", v)
	}
	return l, nil
}

func asTuple(v Value) (Tuple, error) {
	t, ok := v.(Tuple)
	if !ok {
		return nil, fmt.Errorf("interp: expected Tuple, got %T", v)
	}
	return t, nil
}

func valuesEqual(a, b Value) bool {
	switch av := a.(type) {
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Tuple:
		bv, ok := b.(Tuple)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case []byte:
		bv, ok := b.([]byte)
		return ok && string(av) == string(bv)
	case domain.Label:
		bv, ok := b.(domain.Label)
		return ok && labelNodesEqual(av, bv)
	case domain.ID:
		bv, ok := b.(domain.ID)
		return ok && av.Equal(bv)
	case domain.Connection:
		bv, ok := b.(domain.Connection)
		return ok && av.Number == bv.Number && av.From.Equal(bv.From) && av.To.Equal(bv.To)
	case domain.HttpRequest:
		bv, ok := b.(domain.HttpRequest)
		return ok && av.Connection.From.Equal(bv.Connection.From) && av.Connection.To.Equal(bv.Connection.To) &&
			av.Connection.Number == bv.Connection.Number && av.Method == bv.Method && av.Version == bv.Version &&
			av.Path == bv.Path && av.Query == bv.Query && headersEqual(av.Headers, bv.Headers)
	case domain.HttpResponse:
		bv, ok := b.(domain.HttpResponse)
		return ok && av.Connection.From.Equal(bv.Connection.From) && av.Connection.To.Equal(bv.Connection.To) &&
			av.Connection.Number == bv.Connection.Number && av.Version == bv.Version &&
			av.Status == bv.Status && av.Reason == bv.Reason && headersEqual(av.Headers, bv.Headers)
	default:
		return a == b
	}
}

func labelNodesEqual(a, b domain.Label) bool {
	if len(a.Nodes) != len(b.Nodes) {
		return false
	}
	for i := range a.Nodes {
		if a.Nodes[i] != b.Nodes[i] {
			return false
		}
	}
	return true
}

func headersEqual(a, b domain.Headers) bool {
	if len(a) != len(b) {
		return false
	}
	for name, av := range a {
		bv, ok := b[name]
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if string(av[i]) != string(bv[i]) {
				return false
			}
		}
	}
	return true
}
