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

// Signature is a function's parameter and return types.
type Signature struct {
	Params []Type
	Ret    Type
}

// Builtins is the fixed table of built-in operations on the protocol
// domain values (spec §4.3). Method-style calls `x.f(y)` are rewritten by
// the parser to `f(x, y)`, and the checker resolves `f` against this table
// keyed by the qualified name `Typ::method` when `f` is not a user
// function.
var Builtins = map[string]Signature{
	// HttpRequest
	"HttpRequest::method":       {Params: []Type{Flat(HttpRequestT)}, Ret: Flat(Str)},
	"HttpRequest::version":      {Params: []Type{Flat(HttpRequestT)}, Ret: Flat(Str)},
	"HttpRequest::path":         {Params: []Type{Flat(HttpRequestT)}, Ret: Flat(Str)},
	"HttpRequest::query":        {Params: []Type{Flat(HttpRequestT)}, Ret: Flat(Str)},
	"HttpRequest::connection":   {Params: []Type{Flat(HttpRequestT)}, Ret: Flat(ConnectionT)},
	"HttpRequest::header":       {Params: []Type{Flat(HttpRequestT), Flat(Str)}, Ret: List(Flat(Data))},
	"HttpRequest::unique_header": {Params: []Type{Flat(HttpRequestT), Flat(Str)}, Ret: Option(Flat(Data))},
	"HttpRequest::set_header":   {Params: []Type{Flat(HttpRequestT), Flat(Str), Flat(Data)}, Ret: Flat(HttpRequestT)},

	// HttpResponse
	"HttpResponse::version":      {Params: []Type{Flat(HttpResponseT)}, Ret: Flat(Str)},
	"HttpResponse::status":       {Params: []Type{Flat(HttpResponseT)}, Ret: Flat(I64)},
	"HttpResponse::reason":       {Params: []Type{Flat(HttpResponseT)}, Ret: Flat(Str)},
	"HttpResponse::connection":   {Params: []Type{Flat(HttpResponseT)}, Ret: Flat(ConnectionT)},
	"HttpResponse::header":       {Params: []Type{Flat(HttpResponseT), Flat(Str)}, Ret: List(Flat(Data))},
	"HttpResponse::unique_header": {Params: []Type{Flat(HttpResponseT), Flat(Str)}, Ret: Option(Flat(Data))},
	"HttpResponse::set_header":   {Params: []Type{Flat(HttpResponseT), Flat(Str), Flat(Data)}, Ret: Flat(HttpResponseT)},

	// Connection / ID
	"Connection::from":   {Params: []Type{Flat(ConnectionT)}, Ret: Flat(IDT)},
	"Connection::to":     {Params: []Type{Flat(ConnectionT)}, Ret: Flat(IDT)},
	"Connection::number": {Params: []Type{Flat(ConnectionT)}, Ret: Flat(I64)},
	"ID::has_label":      {Params: []Type{Flat(IDT), Flat(Str)}, Ret: Flat(Bool)},
	"ID::port":           {Params: []Type{Flat(IDT)}, Ret: Flat(I64)},

	// i64 / f64
	"i64::abs":  {Params: []Type{Flat(I64)}, Ret: Flat(I64)},
	"i64::pow":  {Params: []Type{Flat(I64), Flat(I64)}, Ret: Flat(I64)},
	"i64::to_f64": {Params: []Type{Flat(I64)}, Ret: Flat(F64)},
	"f64::abs":  {Params: []Type{Flat(F64)}, Ret: Flat(F64)},

	// str / data
	"str::len":     {Params: []Type{Flat(Str)}, Ret: Flat(I64)},
	"str::to_data": {Params: []Type{Flat(Str)}, Ret: Flat(Data)},
	"data::len":    {Params: []Type{Flat(Data)}, Ret: Flat(I64)},

	// free functions
	"Regex::new": {Params: []Type{Flat(Str)}, Ret: Flat(RegexT)},
}

// IsBuiltin reports whether name is a registered built-in (as opposed to a
// user-defined function or an `external::method` call, which is resolved
// separately against the module's externals table).
func IsBuiltin(name string) bool {
	_, ok := Builtins[name]
	return ok
}
