package server

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/vavoomc/vm"
)

// Diagnostics service names. The service uses well-known protobuf types
// only, so it needs no generated code.
const (
	DiagnosticsServiceName = "vavoomc.v1.Diagnostics"

	GetStatsProcedure       = "/vavoomc.v1.Diagnostics/GetStats"
	CollectGarbageProcedure = "/vavoomc.v1.Diagnostics/CollectGarbage"
	ListClassesProcedure    = "/vavoomc.v1.Diagnostics/ListClasses"
)

// DiagnosticsServer is the server API for the Diagnostics service.
type DiagnosticsServer interface {
	GetStats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	CollectGarbage(context.Context, *wrapperspb.BoolValue) (*structpb.Struct, error)
	ListClasses(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// DiagnosticsService reports collector and class table state.
type DiagnosticsService struct {
	worker *Worker
}

// NewDiagnosticsService creates a DiagnosticsService.
func NewDiagnosticsService(worker *Worker) *DiagnosticsService {
	return &DiagnosticsService{worker: worker}
}

// GetStats returns the collector statistics.
func (d *DiagnosticsService) GetStats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	v, err := d.worker.Do(func(rt *vm.Runtime) (any, error) {
		return rt.Stats(), nil
	})
	if err != nil {
		return nil, err
	}
	return statsStruct(v.(vm.GCStats))
}

// CollectGarbage runs a collection and returns the resulting statistics.
// The request value is destroyDelayed.
func (d *DiagnosticsService) CollectGarbage(ctx context.Context, req *wrapperspb.BoolValue) (*structpb.Struct, error) {
	destroyDelayed := req.GetValue()
	v, err := d.worker.Do(func(rt *vm.Runtime) (any, error) {
		return rt.CollectGarbage(destroyDelayed), nil
	})
	if err != nil {
		return nil, err
	}
	return statsStruct(v.(vm.GCStats))
}

// ListClasses describes every finalized class, parents first.
func (d *DiagnosticsService) ListClasses(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	v, err := d.worker.Do(func(rt *vm.Runtime) (any, error) {
		var classes []any
		for _, c := range rt.Classes.All() {
			parent := ""
			if c.Parent != nil {
				parent = c.Parent.Name
			}
			classes = append(classes, map[string]any{
				"name":                 c.Name,
				"parent":               parent,
				"fields":               c.NumFields(),
				"size":                 c.Size(),
				"vtable":               c.VTable().Len(),
				"abstract":             c.IsAbstract(),
				"instanceCount":        c.InstanceCount,
				"instanceCountWithSub": c.InstanceCountWithSub,
			})
		}
		return classes, nil
	})
	if err != nil {
		return nil, err
	}
	classes, _ := v.([]any)
	return structpb.NewStruct(map[string]any{"classes": classes})
}

func statsStruct(s vm.GCStats) (*structpb.Struct, error) {
	var last string
	if !s.LastCollectTime.IsZero() {
		last = s.LastCollectTime.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(map[string]any{
		"alive":                 s.Alive,
		"markedDead":            s.MarkedDead,
		"lastCollected":         s.LastCollected,
		"lastMarked":            s.LastMarked,
		"poolSize":              s.PoolSize,
		"poolAllocated":         s.PoolAllocated,
		"firstFree":             s.FirstFree,
		"lastCollectDurationMs": float64(s.LastCollectDuration.Microseconds()) / 1000,
		"lastCollectTime":       last,
		"collections":           s.Collections,
	})
}

// ---------------------------------------------------------------------------
// Connect handlers
// ---------------------------------------------------------------------------

// NewDiagnosticsHandler returns the Connect (HTTP/JSON and gRPC-over-HTTP)
// handlers for svc, keyed by procedure path.
func NewDiagnosticsHandler(svc DiagnosticsServer, opts ...connect.HandlerOption) map[string]*connect.Handler {
	return map[string]*connect.Handler{
		GetStatsProcedure: connect.NewUnaryHandler(GetStatsProcedure,
			func(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
				out, err := svc.GetStats(ctx, req.Msg)
				if err != nil {
					return nil, connect.NewError(connect.CodeInternal, err)
				}
				return connect.NewResponse(out), nil
			}, opts...),
		CollectGarbageProcedure: connect.NewUnaryHandler(CollectGarbageProcedure,
			func(ctx context.Context, req *connect.Request[wrapperspb.BoolValue]) (*connect.Response[structpb.Struct], error) {
				out, err := svc.CollectGarbage(ctx, req.Msg)
				if err != nil {
					return nil, connect.NewError(connect.CodeInternal, err)
				}
				return connect.NewResponse(out), nil
			}, opts...),
		ListClassesProcedure: connect.NewUnaryHandler(ListClassesProcedure,
			func(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
				out, err := svc.ListClasses(ctx, req.Msg)
				if err != nil {
					return nil, connect.NewError(connect.CodeInternal, err)
				}
				return connect.NewResponse(out), nil
			}, opts...),
	}
}

// ---------------------------------------------------------------------------
// gRPC service
// ---------------------------------------------------------------------------

// RegisterDiagnosticsServer registers svc on a gRPC server.
func RegisterDiagnosticsServer(s grpc.ServiceRegistrar, svc DiagnosticsServer) {
	s.RegisterService(&diagnosticsServiceDesc, svc)
}

var diagnosticsServiceDesc = grpc.ServiceDesc{
	ServiceName: DiagnosticsServiceName,
	HandlerType: (*DiagnosticsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStats", Handler: getStatsHandler},
		{MethodName: "CollectGarbage", Handler: collectGarbageHandler},
		{MethodName: "ListClasses", Handler: listClassesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vavoomc/v1/diagnostics.proto",
}

func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}

func getStatsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		out, err := srv.(DiagnosticsServer).GetStats(ctx, req.(*emptypb.Empty))
		return out, grpcError(err)
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: GetStatsProcedure}, call)
}

func collectGarbageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BoolValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		out, err := srv.(DiagnosticsServer).CollectGarbage(ctx, req.(*wrapperspb.BoolValue))
		return out, grpcError(err)
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: CollectGarbageProcedure}, call)
}

func listClassesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		out, err := srv.(DiagnosticsServer).ListClasses(ctx, req.(*emptypb.Empty))
		return out, grpcError(err)
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: ListClassesProcedure}, call)
}
