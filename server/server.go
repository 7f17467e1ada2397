// Package server exposes a running runtime's diagnostics over Connect
// (HTTP/JSON) and gRPC.
package server

import (
	"net"
	"net/http"
	"time"

	"github.com/tliron/commonlog"
	"google.golang.org/grpc"

	"github.com/chazu/vavoomc/vm"
)

var log = commonlog.GetLogger("vavoomc.server")

// Server wraps a runtime. Connect handlers are served over HTTP; the same
// service is also registered on a gRPC server for binary clients.
type Server struct {
	worker      *Worker
	diagnostics *DiagnosticsService
	mux         *http.ServeMux
	grpc        *grpc.Server

	stopCollector func()
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	collectInterval time.Duration
	destroyDelayed  bool
	grpcOpts        []grpc.ServerOption
}

// WithCollectInterval makes the server collect garbage periodically.
func WithCollectInterval(interval time.Duration, destroyDelayed bool) Option {
	return func(c *serverConfig) {
		c.collectInterval = interval
		c.destroyDelayed = destroyDelayed
	}
}

// WithGRPCOptions passes options to the gRPC server.
func WithGRPCOptions(opts ...grpc.ServerOption) Option {
	return func(c *serverConfig) { c.grpcOpts = append(c.grpcOpts, opts...) }
}

// New creates a Server wrapping rt. From here on rt must only be touched
// through Worker.
func New(rt *vm.Runtime, opts ...Option) *Server {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewWorker(rt)
	s := &Server{
		worker:      worker,
		diagnostics: NewDiagnosticsService(worker),
		mux:         http.NewServeMux(),
		grpc:        grpc.NewServer(cfg.grpcOpts...),
	}

	for path, h := range NewDiagnosticsHandler(s.diagnostics) {
		s.mux.Handle(path, h)
	}
	RegisterDiagnosticsServer(s.grpc, s.diagnostics)

	if cfg.collectInterval > 0 {
		s.stopCollector = worker.StartCollector(cfg.collectInterval, cfg.destroyDelayed)
	}
	return s
}

// Worker returns the runtime worker.
func (s *Server) Worker() *Worker { return s.worker }

// Handler returns the Connect HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// GRPC returns the gRPC server.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// ListenAndServe serves Connect on addr ("host:port" or ":port").
func (s *Server) ListenAndServe(addr string) error {
	log.Noticef("diagnostics listening on %s", addr)
	log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, GetStatsProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// ServeGRPC serves gRPC on lis until Stop.
func (s *Server) ServeGRPC(lis net.Listener) error {
	log.Noticef("gRPC diagnostics listening on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// Stop shuts down the gRPC server and the worker.
func (s *Server) Stop() {
	if s.stopCollector != nil {
		s.stopCollector()
	}
	s.grpc.Stop()
	s.worker.Stop()
}
