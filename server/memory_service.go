package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/stackmem/mem"
	"github.com/chazu/stackmem/trace"
	"github.com/chazu/stackmem/tracedb"
)

// MemoryService implements the stackmem.v1.MemoryService Connect handlers.
type MemoryService struct {
	worker   *Worker
	replayer *trace.Replayer
	traces   *tracedb.DB
	metrics  *serverMetrics
	log      commonlog.Logger
}

// NewMemoryService creates a MemoryService. The replayer must drive the same
// store as the worker; traces may be nil.
func NewMemoryService(worker *Worker, replayer *trace.Replayer, traces *tracedb.DB, metrics *serverMetrics) *MemoryService {
	return &MemoryService{
		worker:   worker,
		replayer: replayer,
		traces:   traces,
		metrics:  metrics,
		log:      commonlog.GetLogger("stackmem.server"),
	}
}

// do runs fn on the worker and counts the operation.
func (s *MemoryService) do(op string, fn func(*mem.Memory) any) (any, error) {
	s.metrics.operations.WithLabelValues(op).Inc()
	v, err := s.worker.Do(fn)
	if err != nil {
		s.log.Infof("%s: %v", op, err)
		return nil, connectError(err)
	}
	return v, nil
}

// connectError maps store and replay errors to Connect codes.
func connectError(err error) error {
	var (
		perr  *mem.PreconditionError
		parse *trace.ParseError
	)
	switch {
	case errors.As(err, &perr):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.As(err, &parse):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, tracedb.ErrRunNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// ---------------------------------------------------------------------------
// Allocation and byte access
// ---------------------------------------------------------------------------

// Allocate creates an allocation with one run per requested size.
func (s *MemoryService) Allocate(
	ctx context.Context,
	req *connect.Request[AllocateRequest],
) (*connect.Response[AllocateResponse], error) {
	for _, n := range req.Msg.Sizes {
		if n < 0 {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("negative run size %d", n))
		}
	}
	v, err := s.do("allocate", func(m *mem.Memory) any {
		id, runs := m.Allocate(req.Msg.Sizes...)
		return &AllocateResponse{Alloc: id, Runs: runs}
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(v.(*AllocateResponse)), nil
}

// Deallocate marks an allocation dead.
func (s *MemoryService) Deallocate(
	ctx context.Context,
	req *connect.Request[DeallocateRequest],
) (*connect.Response[Empty], error) {
	_, err := s.do("deallocate", func(m *mem.Memory) any {
		m.Deallocate(req.Msg.Alloc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&Empty{}), nil
}

// Read returns a copy of the addressed bytes.
func (s *MemoryService) Read(
	ctx context.Context,
	req *connect.Request[ReadRequest],
) (*connect.Response[ReadResponse], error) {
	v, err := s.do("read", func(m *mem.Memory) any {
		return &ReadResponse{Bytes: append([]mem.AbstractByte(nil), m.Read(req.Msg.Ptr)...)}
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(v.(*ReadResponse)), nil
}

// Fill sets every addressed byte to one state.
func (s *MemoryService) Fill(
	ctx context.Context,
	req *connect.Request[FillRequest],
) (*connect.Response[Empty], error) {
	if req.Msg.Value != mem.Uninit && req.Msg.Value != mem.Init {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown byte state %d", req.Msg.Value))
	}
	_, err := s.do("fill", func(m *mem.Memory) any {
		m.Fill(req.Msg.Ptr, req.Msg.Value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&Empty{}), nil
}

// Copy copies byte states between two equally sized ranges.
func (s *MemoryService) Copy(
	ctx context.Context,
	req *connect.Request[CopyRequest],
) (*connect.Response[Empty], error) {
	_, err := s.do("copy", func(m *mem.Memory) any {
		m.Copy(req.Msg.Dst, req.Msg.Src)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&Empty{}), nil
}

// ---------------------------------------------------------------------------
// Borrow mutation
// ---------------------------------------------------------------------------

func validKind(k mem.BorrowKind) error {
	switch k {
	case mem.Raw, mem.Shared, mem.Exclusive:
		return nil
	}
	return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown borrow kind %d", k))
}

// AddRef pushes a borrow over the addressed bytes.
func (s *MemoryService) AddRef(
	ctx context.Context,
	req *connect.Request[AddRefRequest],
) (*connect.Response[Empty], error) {
	if err := validKind(req.Msg.Kind); err != nil {
		return nil, err
	}
	_, err := s.do("add_ref", func(m *mem.Memory) any {
		m.AddRef(req.Msg.Ptr, req.Msg.Kind, req.Msg.Edge)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&Empty{}), nil
}

// CopyRef pushes a new edge over everything an existing edge covers.
func (s *MemoryService) CopyRef(
	ctx context.Context,
	req *connect.Request[CopyRefRequest],
) (*connect.Response[Empty], error) {
	if err := validKind(req.Msg.Kind); err != nil {
		return nil, err
	}
	_, err := s.do("copy_ref", func(m *mem.Memory) any {
		m.CopyRef(req.Msg.New, req.Msg.Old, req.Msg.Kind)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&Empty{}), nil
}

// RemoveRef removes an edge everywhere.
func (s *MemoryService) RemoveRef(
	ctx context.Context,
	req *connect.Request[RemoveRefRequest],
) (*connect.Response[Empty], error) {
	_, err := s.do("remove_ref", func(m *mem.Memory) any {
		m.RemoveRef(req.Msg.Edge)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&Empty{}), nil
}

// RemoveRefBelow invalidates an edge and every younger borrow on a range.
func (s *MemoryService) RemoveRefBelow(
	ctx context.Context,
	req *connect.Request[RemoveRefBelowRequest],
) (*connect.Response[RemoveRefBelowResponse], error) {
	v, err := s.do("remove_ref_below", func(m *mem.Memory) any {
		return &RemoveRefBelowResponse{Gone: m.RemoveRefBelow(req.Msg.Edge, req.Msg.Ptr)}
	})
	if err != nil {
		return nil, err
	}
	resp := v.(*RemoveRefBelowResponse)
	s.metrics.invalidatedEdges.Add(float64(len(resp.Gone)))
	return connect.NewResponse(resp), nil
}

// RemoveRefRunPtr removes an edge from one range.
func (s *MemoryService) RemoveRefRunPtr(
	ctx context.Context,
	req *connect.Request[RemoveRefRunPtrRequest],
) (*connect.Response[RemoveRefRunPtrResponse], error) {
	v, err := s.do("remove_ref_run_ptr", func(m *mem.Memory) any {
		return &RemoveRefRunPtrResponse{Dead: m.RemoveRefRunPtr(req.Msg.Edge, req.Msg.Ptr)}
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(v.(*RemoveRefRunPtrResponse)), nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Check answers the stack queries for one range and edge.
func (s *MemoryService) Check(
	ctx context.Context,
	req *connect.Request[CheckRequest],
) (*connect.Response[CheckResponse], error) {
	p, edge := req.Msg.Ptr, req.Msg.Edge
	v, err := s.do("check", func(m *mem.Memory) any {
		resp := &CheckResponse{
			BelowShared: m.BorrowsBelowFirstShared(p),
			CanRead:     m.CanReadThrough(p, edge),
			CanWrite:    m.CanWriteThrough(p, edge),
		}
		resp.FirstShared, resp.HasShared = m.FirstShared(p)
		return resp
	})
	if err != nil {
		return nil, err
	}
	resp := v.(*CheckResponse)
	if !resp.CanRead {
		s.metrics.denied("read")
	}
	if !resp.CanWrite {
		s.metrics.denied("write")
	}
	return connect.NewResponse(resp), nil
}

// Snapshot returns the CBOR encoding of the whole store.
func (s *MemoryService) Snapshot(
	ctx context.Context,
	req *connect.Request[SnapshotRequest],
) (*connect.Response[SnapshotResponse], error) {
	v, err := s.do("snapshot", func(m *mem.Memory) any {
		return m.Snapshot()
	})
	if err != nil {
		return nil, err
	}
	data, err := mem.MarshalSnapshot(v.(*mem.Snapshot))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&SnapshotResponse{Data: data}), nil
}

// ---------------------------------------------------------------------------
// Replay
// ---------------------------------------------------------------------------

// Replay runs a trace script against the served store. A script that stops
// early is not an RPC failure: the response carries the events that ran and
// the reason it stopped.
func (s *MemoryService) Replay(
	ctx context.Context,
	req *connect.Request[ReplayRequest],
) (*connect.Response[ReplayResponse], error) {
	name := req.Msg.Name
	if name == "" {
		name = "rpc"
	}
	script, err := trace.ParseString(name, req.Msg.Script)
	if err != nil {
		return nil, connectError(err)
	}

	var run *tracedb.Run
	if s.traces != nil {
		if run, err = s.traces.BeginRun(ctx, name); err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
	}

	var replayErr error
	v, err := s.do("replay", func(*mem.Memory) any {
		if run != nil {
			s.replayer.SetRecorder(run)
			defer s.replayer.SetRecorder(nil)
		}
		var res *trace.Result
		res, replayErr = s.replayer.Replay(ctx, script)
		return res
	})
	if err != nil {
		return nil, err
	}
	if run != nil {
		if err := run.Finish(replayErr); err != nil {
			s.log.Errorf("%v", err)
		}
	}

	res := v.(*trace.Result)
	resp := &ReplayResponse{Events: res.Events, Denied: res.Denied}
	if replayErr != nil {
		resp.Error = replayErr.Error()
	}
	if run != nil {
		resp.RunID = run.ID
	}
	for _, ev := range res.Events {
		if !ev.Denied {
			continue
		}
		if strings.HasPrefix(ev.Op, "canwrite") {
			s.metrics.denied("write")
		} else {
			s.metrics.denied("read")
		}
	}
	return connect.NewResponse(resp), nil
}
