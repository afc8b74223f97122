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

// Package types implements the closed flat/composite type algebra of the
// policy language (spec §3.1) and its unification rule.
package types

import "fmt"

// Kind enumerates the flat type tags plus the two composite constructors.
type Kind int

const (
	Bool Kind = iota
	I64
	F64
	Str
	Data
	RegexT
	LabelT
	IPAddr
	IDT
	ConnectionT
	HttpRequestT
	HttpResponseT
	Unit
	Never // "!" — unifies with anything
	ListT
	TupleT
)

// Type is a flat type or a composite built from Elem (List<T>) / Elems
// (Tuple<T1,...,Tn>, where an empty Elems is unit and a one-element Elems
// is Option<T>).
type Type struct {
	Kind  Kind
	Elem  *Type   // List element type
	Elems []Type  // Tuple element types
}

func Flat(k Kind) Type { return Type{Kind: k} }

func List(elem Type) Type { return Type{Kind: ListT, Elem: &elem} }

func Tuple(elems ...Type) Type { return Type{Kind: TupleT, Elems: elems} }

// Option is sugar for a one-element Tuple (spec §3.1).
func Option(elem Type) Type { return Tuple(elem) }

func (t Type) String() string {
	switch t.Kind {
	case Bool:
		return "bool"
	case I64:
		return "i64"
	case F64:
		return "f64"
	case Str:
		return "str"
	case Data:
		return "data"
	case RegexT:
		return "regex"
	case LabelT:
		return "Label"
	case IPAddr:
		return "IpAddr"
	case IDT:
		return "ID"
	case ConnectionT:
		return "Connection"
	case HttpRequestT:
		return "HttpRequest"
	case HttpResponseT:
		return "HttpResponse"
	case Unit:
		return "unit"
	case Never:
		return "!"
	case ListT:
		return fmt.Sprintf("List<%s>", t.Elem)
	case TupleT:
		if len(t.Elems) == 1 {
			return fmt.Sprintf("Option<%s>", t.Elems[0])
		}
		s := "Tuple<"
		for i, e := range t.Elems {
			if i > 0 {
				s += ","
			}
			s += e.String()
		}
		return s + ">"
	}
	return "?"
}

// IsOptionUnknown reports whether t is `Option<?>`, the placeholder used
// for `None` before its element type is known from context.
func IsOptionUnknown(t Type) bool {
	return t.Kind == TupleT && len(t.Elems) == 1 && t.Elems[0].Kind == Never
}

// Unify performs first-order unification: `!` absorbs on either side, and
// Option<?> unifies with any Option<T> (spec §3.1).
func Unify(a, b Type) (Type, bool) {
	if a.Kind == Never {
		return b, true
	}
	if b.Kind == Never {
		return a, true
	}
	if IsOptionUnknown(a) && b.Kind == TupleT && len(b.Elems) == 1 {
		return b, true
	}
	if IsOptionUnknown(b) && a.Kind == TupleT && len(a.Elems) == 1 {
		return a, true
	}
	if a.Kind != b.Kind {
		return Type{}, false
	}
	switch a.Kind {
	case ListT:
		elem, ok := Unify(*a.Elem, *b.Elem)
		if !ok {
			return Type{}, false
		}
		return List(elem), true
	case TupleT:
		if len(a.Elems) != len(b.Elems) {
			return Type{}, false
		}
		out := make([]Type, len(a.Elems))
		for i := range a.Elems {
			u, ok := Unify(a.Elems[i], b.Elems[i])
			if !ok {
				return Type{}, false
			}
			out[i] = u
		}
		return Tuple(out...), true
	default:
		return a, true
	}
}

// Equal reports whether two types unify (ignores the unified witness).
func Equal(a, b Type) bool {
	_, ok := Unify(a, b)
	return ok
}
