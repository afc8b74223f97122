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

// Package external implements the proxy-to-oracle external-call subsystem
// of spec §4.7: a gRPC transport carrying a closed tagged-union Value type
// (bool, int64, float64, text, data, unit, tuple, list), substituting gRPC
// for the original's Cap'n Proto (see DESIGN.md for the substitution
// rationale — Cap'n Proto has no maintained Go client; gRPC is the pack's
// own RPC choice, e.g. luxfi-consensus's networking/grpc package).
package external

import (
	"fmt"

	"armour/internal/armour/lang/interp"
)

// Tag identifies which arm of the tagged union a Value occupies.
type Tag uint8

const (
	TagBool Tag = iota
	TagInt64
	TagFloat64
	TagText
	TagData
	TagUnit
	TagTuple
	TagList
)

// Value is the wire representation of an interp.Value, gob-encodable. Only
// one of the fields is meaningful, selected by Tag — this mirrors the
// Cap'n Proto union the spec describes (§4.7, §6) as a flat, tagged struct
// since gob has no union/oneof primitive.
type Value struct {
	Tag    Tag
	Bool   bool
	Int64  int64
	Float  float64
	Text   string
	Data   []byte
	Tuple  []Value
	List   []Value
}

// CallRequest is the RPC payload for one external call (spec §4.7: `call {
// name, args }`).
type CallRequest struct {
	Method string
	Args   []Value
}

// CallResponse carries the oracle's result, or a transport/protocol error
// rendered as a string (since gob cannot carry an arbitrary error type
// across the wire).
type CallResponse struct {
	Result Value
	Err    string
}

// ToWire converts an interp.Value into its wire Value, recursively for
// composite literals (spec §4.7: "composite literals are recursively
// (de)serialized").
func ToWire(v interp.Value) (Value, error) {
	switch x := v.(type) {
	case bool:
		return Value{Tag: TagBool, Bool: x}, nil
	case int64:
		return Value{Tag: TagInt64, Int64: x}, nil
	case float64:
		return Value{Tag: TagFloat64, Float: x}, nil
	case string:
		return Value{Tag: TagText, Text: x}, nil
	case []byte:
		return Value{Tag: TagData, Data: x}, nil
	case interp.Tuple:
		if len(x) == 0 {
			return Value{Tag: TagUnit}, nil
		}
		out := make([]Value, len(x))
		for i, e := range x {
			w, err := ToWire(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = w
		}
		return Value{Tag: TagTuple, Tuple: out}, nil
	case interp.List:
		out := make([]Value, len(x))
		for i, e := range x {
			w, err := ToWire(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = w
		}
		return Value{Tag: TagList, List: out}, nil
	default:
		return Value{}, fmt.Errorf("external: value of type %T has no wire representation", v)
	}
}

// FromWire is ToWire's inverse.
func FromWire(w Value) (interp.Value, error) {
	switch w.Tag {
	case TagBool:
		return w.Bool, nil
	case TagInt64:
		return w.Int64, nil
	case TagFloat64:
		return w.Float, nil
	case TagText:
		return w.Text, nil
	case TagData:
		return w.Data, nil
	case TagUnit:
		return interp.Unit, nil
	case TagTuple:
		out := make(interp.Tuple, len(w.Tuple))
		for i, e := range w.Tuple {
			v, err := FromWire(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case TagList:
		out := make(interp.List, len(w.List))
		for i, e := range w.List {
			v, err := FromWire(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("external: unknown wire tag %d", w.Tag)
	}
}

func toWireSlice(args []interp.Value) ([]Value, error) {
	out := make([]Value, len(args))
	for i, a := range args {
		w, err := ToWire(a)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}
