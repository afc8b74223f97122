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

package external

import (
	"context"

	"google.golang.org/grpc"
)

// Oracle is the interface an external-call endpoint implements: one
// method, dispatched by name, matching the single `call(name, args)`
// RPC of spec §4.7. Used both by RegisterOracle (for serving real oracles
// in tests or standalone processes) and by callers wiring a fake oracle
// for policy tests.
type Oracle interface {
	Call(ctx context.Context, method string, args []Value) (Value, error)
}

// serviceDesc is the hand-rolled equivalent of a protoc-gen-go-grpc
// ServiceDesc: there is no .proto to compile against since the wire types
// are plain gob-encodable structs, so the method table is built directly.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "armour.external.Oracle",
	HandlerType: (*Oracle)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "armour/external.proto",
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(CallRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return invokeOracle(srv.(Oracle), ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return invokeOracle(srv.(Oracle), ctx, req.(*CallRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func invokeOracle(o Oracle, ctx context.Context, req *CallRequest) (*CallResponse, error) {
	result, err := o.Call(ctx, req.Method, req.Args)
	if err != nil {
		return &CallResponse{Err: err.Error()}, nil
	}
	return &CallResponse{Result: result}, nil
}

// RegisterOracle registers o on s as the Oracle service. The server
// resolves the gob codec from the client's negotiated content-subtype
// automatically, since gobCodec registers itself in this package's init.
func RegisterOracle(s *grpc.Server, o Oracle) {
	s.RegisterService(&serviceDesc, o)
}
