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
	"regexp"

	"armour/internal/armour/domain"
)

// callBuiltin evaluates one of the fixed built-ins from types.Builtins
// (spec §4.3). Arguments arrive already evaluated, left-to-right, and
// already checked to be return-free by the caller.
func callBuiltin(name string, args []Value) (Value, error) {
	switch name {
	case "HttpRequest::method":
		r, err := asHttpRequest(args[0])
		if err != nil {
			return nil, err
		}
		return r.Method, nil
	case "HttpRequest::version":
		r, err := asHttpRequest(args[0])
		if err != nil {
			return nil, err
		}
		return r.Version, nil
	case "HttpRequest::path":
		r, err := asHttpRequest(args[0])
		if err != nil {
			return nil, err
		}
		return r.Path, nil
	case "HttpRequest::query":
		r, err := asHttpRequest(args[0])
		if err != nil {
			return nil, err
		}
		return r.Query, nil
	case "HttpRequest::connection":
		r, err := asHttpRequest(args[0])
		if err != nil {
			return nil, err
		}
		return r.Connection, nil
	case "HttpRequest::header":
		r, err := asHttpRequest(args[0])
		if err != nil {
			return nil, err
		}
		name, err := asStr(args[1])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		return dataList(r.Headers.All(name)), nil
	case "HttpRequest::unique_header":
		r, err := asHttpRequest(args[0])
		if err != nil {
			return nil, err
		}
		name, err := asStr(args[1])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		v, ok := r.Headers.Unique(name)
		if !ok {
			return None, nil
		}
		return Some(append([]byte{}, v...)), nil
	case "HttpRequest::set_header":
		r, err := asHttpRequest(args[0])
		if err != nil {
			return nil, err
		}
		hname, err := asStr(args[1])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		hval, err := asData(args[2])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		out := r
		out.Headers = cloneHeaders(r.Headers)
		out.Headers.Set(hname, hval)
		return out, nil

	case "HttpResponse::version":
		r, err := asHttpResponse(args[0])
		if err != nil {
			return nil, err
		}
		return r.Version, nil
	case "HttpResponse::status":
		r, err := asHttpResponse(args[0])
		if err != nil {
			return nil, err
		}
		return int64(r.Status), nil
	case "HttpResponse::reason":
		r, err := asHttpResponse(args[0])
		if err != nil {
			return nil, err
		}
		return r.Reason, nil
	case "HttpResponse::connection":
		r, err := asHttpResponse(args[0])
		if err != nil {
			return nil, err
		}
		return r.Connection, nil
	case "HttpResponse::header":
		r, err := asHttpResponse(args[0])
		if err != nil {
			return nil, err
		}
		name, err := asStr(args[1])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		return dataList(r.Headers.All(name)), nil
	case "HttpResponse::unique_header":
		r, err := asHttpResponse(args[0])
		if err != nil {
			return nil, err
		}
		name, err := asStr(args[1])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		v, ok := r.Headers.Unique(name)
		if !ok {
			return None, nil
		}
		return Some(append([]byte{}, v...)), nil
	case "HttpResponse::set_header":
		r, err := asHttpResponse(args[0])
		if err != nil {
			return nil, err
		}
		hname, err := asStr(args[1])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		hval, err := asData(args[2])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		out := r
		out.Headers = cloneHeaders(r.Headers)
		out.Headers.Set(hname, hval)
		return out, nil

	case "Connection::from":
		c, err := asConnection(args[0])
		if err != nil {
			return nil, err
		}
		return c.From, nil
	case "Connection::to":
		c, err := asConnection(args[0])
		if err != nil {
			return nil, err
		}
		return c.To, nil
	case "Connection::number":
		c, err := asConnection(args[0])
		if err != nil {
			return nil, err
		}
		return c.Number, nil
	case "ID::has_label":
		id, err := asID(args[0])
		if err != nil {
			return nil, err
		}
		pat, err := asStr(args[1])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		return id.HasLabel(pat), nil
	case "ID::port":
		id, err := asID(args[0])
		if err != nil {
			return nil, err
		}
		return int64(id.Port), nil

	case "i64::abs":
		i, err := asInt(args[0])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		if i < 0 {
			return -i, nil
		}
		return i, nil
	case "i64::pow":
		base, err := asInt(args[0])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		exp, err := asInt(args[1])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		if exp < 0 {
			return nil, rtErr("bad-operand", "i64::pow: negative exponent %d", exp)
		}
		var result int64 = 1
		for i := int64(0); i < exp; i++ {
			result *= base
		}
		return result, nil
	case "i64::to_f64":
		i, err := asInt(args[0])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		return float64(i), nil
	case "f64::abs":
		f, err := asFloat(args[0])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		if f < 0 {
			return -f, nil
		}
		return f, nil

	case "str::len":
		s, err := asStr(args[0])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		return int64(len(s)), nil
	case "str::to_data":
		s, err := asStr(args[0])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		return []byte(s), nil
	case "data::len":
		d, err := asData(args[0])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		return int64(len(d)), nil

	case "Regex::new":
		s, err := asStr(args[0])
		if err != nil {
			return nil, rtErr("bad-operand", "%v", err)
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, rtErr("bad-pattern", "Regex::new: %v", err)
		}
		return re, nil
	}
	return nil, rtErr("unknown-function", "unregistered built-in %q", name)
}

func dataList(vs [][]byte) List {
	out := make(List, len(vs))
	for i, v := range vs {
		out[i] = append([]byte{}, v...)
	}
	return out
}

func cloneHeaders(h domain.Headers) domain.Headers {
	out := make(domain.Headers, len(h))
	for k, vs := range h {
		cp := make([][]byte, len(vs))
		copy(cp, vs)
		out[k] = cp
	}
	return out
}

func asHttpRequest(v Value) (domain.HttpRequest, error) {
	r, ok := v.(domain.HttpRequest)
	if !ok {
		return domain.HttpRequest{}, rtErr("bad-operand", "expected HttpRequest, got %T", v)
	}
	return r, nil
}

func asHttpResponse(v Value) (domain.HttpResponse, error) {
	r, ok := v.(domain.HttpResponse)
	if !ok {
		return domain.HttpResponse{}, rtErr("bad-operand", "expected HttpResponse, got %T", v)
	}
	return r, nil
}

func asConnection(v Value) (domain.Connection, error) {
	c, ok := v.(domain.Connection)
	if !ok {
		return domain.Connection{}, rtErr("bad-operand", "expected Connection, got %T", v)
	}
	return c, nil
}

func asID(v Value) (domain.ID, error) {
	id, ok := v.(domain.ID)
	if !ok {
		return domain.ID{}, rtErr("bad-operand", "expected ID, got %T", v)
	}
	return id, nil
}
