package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/stackmem/mem"
)

// startHTTP serves s over a real HTTP listener.
func startHTTP(t *testing.T, s *Server) (*Client, string) {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.Client(), ts.URL), ts.URL
}

func TestEndToEnd_BorrowLifecycle(t *testing.T) {
	c, _ := startHTTP(t, newTestServer(t))
	ctx := bg()

	alloc, err := c.Allocate(ctx, &AllocateRequest{Sizes: []int{8}})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	p := alloc.Runs[0]

	if err := c.AddRef(ctx, &AddRefRequest{Ptr: p, Kind: mem.Exclusive, Edge: 1}); err != nil {
		t.Fatalf("AddRef: %v", err)
	}
	if err := c.AddRef(ctx, &AddRefRequest{Ptr: p.Sub(0, 4), Kind: mem.Shared, Edge: 2}); err != nil {
		t.Fatalf("AddRef: %v", err)
	}

	check, err := c.Check(ctx, &CheckRequest{Ptr: p.Sub(4, 4), Edge: 2})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if check.HasShared || check.CanRead {
		t.Errorf("bytes 4..8 = %+v, want no shared borrow and edge 2 unreadable", check)
	}

	gone, err := c.RemoveRefBelow(ctx, &RemoveRefBelowRequest{Edge: 1, Ptr: p.Sub(0, 4)})
	if err != nil {
		t.Fatalf("RemoveRefBelow: %v", err)
	}
	if !slices.Equal(gone.Gone, []mem.Edge{2}) {
		t.Errorf("gone = %v, want [2]", gone.Gone)
	}

	if err := c.Fill(ctx, &FillRequest{Ptr: p, Value: mem.Init}); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if err := c.Copy(ctx, &CopyRequest{Dst: p.Sub(0, 2), Src: p.Sub(6, 2)}); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	read, err := c.Read(ctx, &ReadRequest{Ptr: p.Sub(0, 1)})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !slices.Equal(read.Bytes, []mem.AbstractByte{mem.Init}) {
		t.Errorf("read = %v", read.Bytes)
	}

	if err := c.CopyRef(ctx, &CopyRefRequest{New: 3, Old: 1, Kind: mem.Raw}); err != nil {
		t.Fatalf("CopyRef: %v", err)
	}
	dead, err := c.RemoveRefRunPtr(ctx, &RemoveRefRunPtrRequest{Edge: 3, Ptr: p.Sub(4, 4)})
	if err != nil {
		t.Fatalf("RemoveRefRunPtr: %v", err)
	}
	if !dead.Dead {
		t.Error("edge 3 only covered bytes 4..8")
	}
	if err := c.RemoveRef(ctx, &RemoveRefRequest{Edge: 1}); err != nil {
		t.Fatalf("RemoveRef: %v", err)
	}

	snap, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	restored, err := mem.UnmarshalSnapshot(snap.Data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}
	if len(restored.Pointers) != 0 {
		t.Errorf("pointers = %v, want none", restored.Pointers)
	}

	if err := c.Deallocate(ctx, &DeallocateRequest{Alloc: p.Alloc}); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
	_, err = c.Read(ctx, &ReadRequest{Ptr: p})
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("read after free = %v, want failed precondition", err)
	}
}

func TestEndToEnd_ReplayAndMetrics(t *testing.T) {
	c, url := startHTTP(t, newTestServer(t))
	ctx := bg()

	resp, err := c.Replay(ctx, &ReplayRequest{
		Name:   "b.smt",
		Script: "alloc x 8\nref e1 excl x\nref e2 shared x\ncanwrite e1 x -> false",
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if resp.Error != "" || resp.Denied != 1 {
		t.Fatalf("replay = %+v", resp)
	}
	if last := resp.Events[len(resp.Events)-1]; last.Output != "false" || !last.Denied {
		t.Errorf("last event = %+v", last)
	}

	httpResp, err := http.Get(url + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer httpResp.Body.Close()
	body, _ := io.ReadAll(httpResp.Body)
	for _, want := range []string{
		`stackmem_operations_total{op="replay"} 1`,
		`stackmem_denied_accesses_total{access="write"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q:\n%s", want, body)
		}
	}
}
