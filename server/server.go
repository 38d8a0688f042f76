// Package server exposes one memory store over Connect RPC. Messages are
// CBOR encoded, and Prometheus metrics are served on /metrics.
package server

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tliron/commonlog"

	"github.com/chazu/stackmem/mem"
	"github.com/chazu/stackmem/trace"
	"github.com/chazu/stackmem/tracedb"
)

// ServiceName is the fully qualified name of the memory service.
const ServiceName = "stackmem.v1.MemoryService"

// Procedure paths of the memory service.
const (
	AllocateProcedure        = "/" + ServiceName + "/Allocate"
	DeallocateProcedure      = "/" + ServiceName + "/Deallocate"
	ReadProcedure            = "/" + ServiceName + "/Read"
	FillProcedure            = "/" + ServiceName + "/Fill"
	CopyProcedure            = "/" + ServiceName + "/Copy"
	AddRefProcedure          = "/" + ServiceName + "/AddRef"
	CopyRefProcedure         = "/" + ServiceName + "/CopyRef"
	RemoveRefProcedure       = "/" + ServiceName + "/RemoveRef"
	RemoveRefBelowProcedure  = "/" + ServiceName + "/RemoveRefBelow"
	RemoveRefRunPtrProcedure = "/" + ServiceName + "/RemoveRefRunPtr"
	CheckProcedure           = "/" + ServiceName + "/Check"
	SnapshotProcedure        = "/" + ServiceName + "/Snapshot"
	ReplayProcedure          = "/" + ServiceName + "/Replay"
)

// Server serves a memory store.
type Server struct {
	worker   *Worker
	service  *MemoryService
	registry *prometheus.Registry
	mux      *http.ServeMux
	http     *http.Server
	log      commonlog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	traces          *tracedb.DB
	checkInvariants bool
}

// WithTraceDB records every Replay call as a run in db.
func WithTraceDB(db *tracedb.DB) ServerOption {
	return func(c *serverConfig) { c.traces = db }
}

// WithInvariantChecks verifies the store's reverse index after every
// replayed operation.
func WithInvariantChecks(on bool) ServerOption {
	return func(c *serverConfig) { c.checkInvariants = on }
}

// New creates a Server wrapping the given store. From here on the store
// must only be touched through the server.
func New(m *mem.Memory, opts ...ServerOption) *Server {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	metrics := newServerMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.register(registry); err != nil {
		// fresh registry; only a duplicate metric name can fail here
		panic(err)
	}

	worker := NewWorker(m)
	replayer := trace.NewReplayer(trace.WithMemory(m), trace.WithInvariantChecks(cfg.checkInvariants))
	svc := NewMemoryService(worker, replayer, cfg.traces, metrics)

	s := &Server{
		worker:   worker,
		service:  svc,
		registry: registry,
		mux:      http.NewServeMux(),
		log:      commonlog.GetLogger("stackmem.server"),
	}

	codec := connect.WithCodec(newCBORCodec())
	s.mux.Handle(AllocateProcedure, connect.NewUnaryHandler(AllocateProcedure, svc.Allocate, codec))
	s.mux.Handle(DeallocateProcedure, connect.NewUnaryHandler(DeallocateProcedure, svc.Deallocate, codec))
	s.mux.Handle(ReadProcedure, connect.NewUnaryHandler(ReadProcedure, svc.Read, codec))
	s.mux.Handle(FillProcedure, connect.NewUnaryHandler(FillProcedure, svc.Fill, codec))
	s.mux.Handle(CopyProcedure, connect.NewUnaryHandler(CopyProcedure, svc.Copy, codec))
	s.mux.Handle(AddRefProcedure, connect.NewUnaryHandler(AddRefProcedure, svc.AddRef, codec))
	s.mux.Handle(CopyRefProcedure, connect.NewUnaryHandler(CopyRefProcedure, svc.CopyRef, codec))
	s.mux.Handle(RemoveRefProcedure, connect.NewUnaryHandler(RemoveRefProcedure, svc.RemoveRef, codec))
	s.mux.Handle(RemoveRefBelowProcedure, connect.NewUnaryHandler(RemoveRefBelowProcedure, svc.RemoveRefBelow, codec))
	s.mux.Handle(RemoveRefRunPtrProcedure, connect.NewUnaryHandler(RemoveRefRunPtrProcedure, svc.RemoveRefRunPtr, codec))
	s.mux.Handle(CheckProcedure, connect.NewUnaryHandler(CheckProcedure, svc.Check, codec))
	s.mux.Handle(SnapshotProcedure, connect.NewUnaryHandler(SnapshotProcedure, svc.Snapshot, codec))
	s.mux.Handle(ReplayProcedure, connect.NewUnaryHandler(ReplayProcedure, svc.Replay, codec))

	s.mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return s
}

// Handler returns the HTTP handler serving every procedure and /metrics.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Service returns the memory service, for callers that want to skip HTTP.
func (s *Server) Service() *MemoryService {
	return s.service
}

// Registry returns the registry holding the server's metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
// It returns nil once Stop has been called.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.mux}
	s.log.Noticef("stackmem server listening on %s", addr)
	s.log.Infof("  Connect (CBOR): http://%s%s", addr, AllocateProcedure)
	s.log.Infof("  metrics:        http://%s/metrics", addr)
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.worker.Stop()
	return err
}
