package server

import (
	"context"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/stackmem/mem"
)

// newTestServer creates a server around a fresh store and stops it when the
// test ends.
func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	s := New(mem.New(), opts...)
	t.Cleanup(func() { s.Stop(bg()) })
	return s
}

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}

// requireCode fails unless err is a Connect error with the given code.
func requireCode(t *testing.T, err error, code connect.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", code)
	}
	if got := connect.CodeOf(err); got != code {
		t.Fatalf("error code = %v, want %v (%v)", got, code, err)
	}
}

// allocate makes a single-run allocation and returns the run pointer.
func allocate(t *testing.T, svc *MemoryService, size int) mem.RunPointer {
	t.Helper()
	resp, err := svc.Allocate(bg(), connectReq(&AllocateRequest{Sizes: []int{size}}))
	if err != nil {
		t.Fatalf("Allocate returned error: %v", err)
	}
	if len(resp.Msg.Runs) != 1 {
		t.Fatalf("Allocate returned %d runs, want 1", len(resp.Msg.Runs))
	}
	return resp.Msg.Runs[0]
}

func addRef(t *testing.T, svc *MemoryService, p mem.RunPointer, kind mem.BorrowKind, edge mem.Edge) {
	t.Helper()
	if _, err := svc.AddRef(bg(), connectReq(&AddRefRequest{Ptr: p, Kind: kind, Edge: edge})); err != nil {
		t.Fatalf("AddRef returned error: %v", err)
	}
}
