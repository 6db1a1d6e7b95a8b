package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "trustgate.v1.TrustGate"

// RPC method names.
const (
	MethodEvaluate        = "Evaluate"
	MethodUpdateTrust     = "UpdateTrust"
	MethodRecordWitness   = "RecordWitness"
	MethodAppendAudit     = "AppendAudit"
	MethodCheckRateLimit  = "CheckRateLimit"
	MethodPolicyHash      = "PolicyHash"
	MethodDecide          = "Decide"
	MethodTransitiveTrust = "TransitiveTrust"
)

// TrustGateServer is the service implemented by Server. Every request and
// response is a google.protobuf.Struct carrying the boundary JSON.
type TrustGateServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateTrust(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordWitness(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AppendAudit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckRateLimit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PolicyHash(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TransitiveTrust(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(TrustGateServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc describes the TrustGate service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrustGateServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodEvaluate, TrustGateServer.Evaluate),
		unaryMethod(MethodUpdateTrust, TrustGateServer.UpdateTrust),
		unaryMethod(MethodRecordWitness, TrustGateServer.RecordWitness),
		unaryMethod(MethodAppendAudit, TrustGateServer.AppendAudit),
		unaryMethod(MethodCheckRateLimit, TrustGateServer.CheckRateLimit),
		unaryMethod(MethodPolicyHash, TrustGateServer.PolicyHash),
		unaryMethod(MethodDecide, TrustGateServer.Decide),
		unaryMethod(MethodTransitiveTrust, TrustGateServer.TransitiveTrust),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trustgate/v1/trustgate.proto",
}

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TrustGateServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TrustGateServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Client calls the TrustGate service with typed request and response values.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req encoded as a Struct and decodes the reply
// into resp (which may be nil).
func (c *Client) Call(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := toStruct(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	if err := fromStruct(out, resp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return structpb.NewStruct(payload)
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
