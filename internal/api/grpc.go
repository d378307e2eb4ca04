package api

import (
	"FlowSentry/internal/model"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// FlowQueryServiceName is the fully qualified gRPC service name.
const FlowQueryServiceName = "flowsentry.v1.FlowQuery"

// FlowQueryServer is the server API of the FlowQuery service. Flows travel
// as google.protobuf.Struct using the JSON field names of ConnectionState.
type FlowQueryServer interface {
	Latest(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Snapshot(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Get(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Count(context.Context, *emptypb.Empty) (*wrapperspb.UInt64Value, error)
	ResetCount(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// RegisterFlowQueryServer registers srv on s.
func RegisterFlowQueryServer(s grpc.ServiceRegistrar, srv FlowQueryServer) {
	s.RegisterService(&FlowQueryServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](newReq func() *Req, call func(FlowQueryServer, context.Context, *Req) (Resp, error), method string) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(FlowQueryServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + FlowQueryServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(FlowQueryServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }

// FlowQueryServiceDesc describes the FlowQuery service for grpc.Server.
var FlowQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: FlowQueryServiceName,
	HandlerType: (*FlowQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(newEmpty, FlowQueryServer.Latest, "Latest"),
		unaryHandler(newEmpty, FlowQueryServer.Snapshot, "Snapshot"),
		unaryHandler(func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, FlowQueryServer.Get, "Get"),
		unaryHandler(newEmpty, FlowQueryServer.Count, "Count"),
		unaryHandler(newEmpty, FlowQueryServer.ResetCount, "ResetCount"),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flowsentry/v1/flow_query.proto",
}

// flowQueryService implements FlowQueryServer over a Facade.
type flowQueryService struct {
	facade *Facade
}

// NewFlowQueryService creates the gRPC service for facade.
func NewFlowQueryService(facade *Facade) FlowQueryServer {
	return &flowQueryService{facade: facade}
}

// StateToStruct converts a flow to its protobuf Struct form.
func StateToStruct(s model.ConnectionState) (*structpb.Struct, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// StructToState converts a protobuf Struct back to a flow.
func StructToState(st *structpb.Struct) (model.ConnectionState, error) {
	var s model.ConnectionState
	data, err := json.Marshal(st.AsMap())
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(data, &s)
	return s, err
}

func (s *flowQueryService) Latest(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	state, ok := s.facade.Latest()
	if !ok {
		return nil, status.Error(codes.NotFound, "no latest connection")
	}
	st, err := StateToStruct(state)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode flow: %v", err)
	}
	return st, nil
}

func (s *flowQueryService) Snapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	flows, err := s.facade.Snapshot(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "failed to snapshot flows: %v", err)
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].Key < flows[j].Key })

	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(flows))}
	for _, f := range flows {
		st, err := StateToStruct(f)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "failed to encode flow %s: %v", f.Key, err)
		}
		list.Values = append(list.Values, structpb.NewStructValue(st))
	}
	return list, nil
}

func (s *flowQueryService) Get(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	state, err := s.facade.Get(ctx, req.GetValue())
	if errors.Is(err, model.ErrFlowNotFound) {
		return nil, status.Errorf(codes.NotFound, "flow %s not found", req.GetValue())
	}
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "failed to get flow: %v", err)
	}
	return StateToStruct(state)
}

func (s *flowQueryService) Count(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.UInt64Value, error) {
	return wrapperspb.UInt64(s.facade.Count()), nil
}

func (s *flowQueryService) ResetCount(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.facade.ResetCount()
	return &emptypb.Empty{}, nil
}

// FlowQueryClient calls a remote FlowQuery service.
type FlowQueryClient struct {
	cc grpc.ClientConnInterface
}

// NewFlowQueryClient creates a client on cc.
func NewFlowQueryClient(cc grpc.ClientConnInterface) *FlowQueryClient {
	return &FlowQueryClient{cc: cc}
}

func (c *FlowQueryClient) invoke(ctx context.Context, method string, in, out any) error {
	return c.cc.Invoke(ctx, "/"+FlowQueryServiceName+"/"+method, in, out)
}

// Latest returns the most recently tracked flow.
func (c *FlowQueryClient) Latest(ctx context.Context) (model.ConnectionState, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "Latest", &emptypb.Empty{}, out); err != nil {
		return model.ConnectionState{}, err
	}
	return StructToState(out)
}

// Snapshot returns every tracked flow.
func (c *FlowQueryClient) Snapshot(ctx context.Context) ([]model.ConnectionState, error) {
	out := new(structpb.ListValue)
	if err := c.invoke(ctx, "Snapshot", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	flows := make([]model.ConnectionState, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		st := v.GetStructValue()
		if st == nil {
			return nil, fmt.Errorf("unexpected snapshot entry %v", v)
		}
		f, err := StructToState(st)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, nil
}

// Get returns one flow by canonical key.
func (c *FlowQueryClient) Get(ctx context.Context, key string) (model.ConnectionState, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "Get", wrapperspb.String(key), out); err != nil {
		return model.ConnectionState{}, err
	}
	return StructToState(out)
}

// Count returns the processed datagram counter.
func (c *FlowQueryClient) Count(ctx context.Context) (uint64, error) {
	out := new(wrapperspb.UInt64Value)
	if err := c.invoke(ctx, "Count", &emptypb.Empty{}, out); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// ResetCount zeroes the processed datagram counter.
func (c *FlowQueryClient) ResetCount(ctx context.Context) error {
	return c.invoke(ctx, "ResetCount", &emptypb.Empty{}, &emptypb.Empty{})
}
