package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Test infrastructure
// ---------------------------------------------------------------------------

func newTestRuntime(t *testing.T) *vm.Runtime {
	t.Helper()
	rt, err := vm.New()
	if err != nil {
		t.Fatal(err)
	}
	err = rt.Load(vm.ClassSpec{Name: "Node", Fields: []vm.FieldSpec{
		{Name: "next", Type: vm.RefType("Node")},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return rt
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	srv := New(newTestRuntime(t), opts...)
	t.Cleanup(srv.Stop)
	return srv
}

// spawnNodes creates n nodes on the runtime goroutine and roots the
// first rooted ones.
func spawnNodes(t *testing.T, srv *Server, n, rooted int) {
	t.Helper()
	_, err := srv.Worker().Do(func(rt *vm.Runtime) (any, error) {
		for i := 0; i < n; i++ {
			obj, err := rt.SpawnByName("Node")
			if err != nil {
				return nil, err
			}
			if i < rooted {
				rt.AddRoot(obj)
			}
		}
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func number(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

func TestWorkerRecoversPanics(t *testing.T) {
	w := NewWorker(newTestRuntime(t))
	defer w.Stop()

	_, err := w.Do(func(*vm.Runtime) (any, error) { panic("native blew up") })
	if err == nil || !strings.Contains(err.Error(), "native blew up") {
		t.Fatalf("Do error = %v, want the panic message", err)
	}

	v, err := w.Do(func(rt *vm.Runtime) (any, error) { return rt.Depth(), nil })
	if err != nil {
		t.Fatalf("Do after panic: %v", err)
	}
	if v.(int) != 0 {
		t.Errorf("Depth() = %v, want 0", v)
	}
}

func TestWorkerStopped(t *testing.T) {
	w := NewWorker(newTestRuntime(t))
	w.Stop()
	w.Stop()
	if _, err := w.Do(func(*vm.Runtime) (any, error) { return nil, nil }); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("Do after Stop error = %v, want ErrWorkerStopped", err)
	}
}

func TestPeriodicCollector(t *testing.T) {
	srv := newTestServer(t, WithCollectInterval(5*time.Millisecond, false))
	spawnNodes(t, srv, 3, 1)

	deadline := time.Now().Add(5 * time.Second)
	for {
		v, err := srv.Worker().Do(func(rt *vm.Runtime) (any, error) { return rt.Stats(), nil })
		if err != nil {
			t.Fatal(err)
		}
		stats := v.(vm.GCStats)
		if stats.Collections > 0 && stats.Alive == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no periodic collection: %+v", stats)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

func TestConnectDiagnostics(t *testing.T) {
	srv := newTestServer(t)
	spawnNodes(t, srv, 5, 2)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	ctx := context.Background()

	stats := connect.NewClient[emptypb.Empty, structpb.Struct](http.DefaultClient, ts.URL+GetStatsProcedure)
	res, err := stats.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if got := number(res.Msg, "alive"); got != 5 {
		t.Errorf("alive = %v, want 5", got)
	}

	collect := connect.NewClient[wrapperspb.BoolValue, structpb.Struct](http.DefaultClient, ts.URL+CollectGarbageProcedure,
		connect.WithProtoJSON())
	res, err = collect.CallUnary(ctx, connect.NewRequest(wrapperspb.Bool(true)))
	if err != nil {
		t.Fatalf("CollectGarbage: %v", err)
	}
	if got := number(res.Msg, "lastCollected"); got != 3 {
		t.Errorf("lastCollected = %v, want 3", got)
	}
	if got := number(res.Msg, "collections"); got != 1 {
		t.Errorf("collections = %v, want 1", got)
	}
	if res.Msg.GetFields()["lastCollectTime"].GetStringValue() == "" {
		t.Error("lastCollectTime empty after a collection")
	}

	classes := connect.NewClient[emptypb.Empty, structpb.Struct](http.DefaultClient, ts.URL+ListClassesProcedure)
	res, err = classes.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		t.Fatalf("ListClasses: %v", err)
	}
	var node *structpb.Struct
	for _, v := range res.Msg.GetFields()["classes"].GetListValue().GetValues() {
		if c := v.GetStructValue(); c.GetFields()["name"].GetStringValue() == "Node" {
			node = c
		}
	}
	if node == nil {
		t.Fatal("ListClasses does not include Node")
	}
	if node.GetFields()["parent"].GetStringValue() != vm.ObjectClassName {
		t.Errorf("Node parent = %q", node.GetFields()["parent"].GetStringValue())
	}
	if got := number(node, "instanceCount"); got != 2 {
		t.Errorf("Node instanceCount = %v, want 2", got)
	}
}

func TestConnectAfterStop(t *testing.T) {
	srv := New(newTestRuntime(t))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	srv.Stop()

	client := connect.NewClient[emptypb.Empty, structpb.Struct](http.DefaultClient, ts.URL+GetStatsProcedure)
	_, err := client.CallUnary(context.Background(), connect.NewRequest(&emptypb.Empty{}))
	if connect.CodeOf(err) != connect.CodeInternal {
		t.Errorf("GetStats after Stop code = %v, want internal", connect.CodeOf(err))
	}
}

// ---------------------------------------------------------------------------
// gRPC
// ---------------------------------------------------------------------------

func TestGRPCDiagnostics(t *testing.T) {
	srv := newTestServer(t)
	spawnNodes(t, srv, 4, 4)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.ServeGRPC(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, CollectGarbageProcedure, wrapperspb.Bool(false), out); err != nil {
		t.Fatalf("CollectGarbage: %v", err)
	}
	if got := number(out, "lastMarked"); got != 4 {
		t.Errorf("lastMarked = %v, want 4", got)
	}

	out = new(structpb.Struct)
	if err := conn.Invoke(ctx, GetStatsProcedure, &emptypb.Empty{}, out); err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if got := number(out, "alive"); got != 4 {
		t.Errorf("alive = %v, want 4", got)
	}
}
