package server

import (
	"github.com/chazu/stackmem/mem"
	"github.com/chazu/stackmem/trace"
)

// Empty is the response of procedures that only mutate the store.
type Empty struct{}

type AllocateRequest struct {
	Sizes []int `cbor:"1,keyasint"`
}

type AllocateResponse struct {
	Alloc mem.AllocID      `cbor:"1,keyasint"`
	Runs  []mem.RunPointer `cbor:"2,keyasint"`
}

type DeallocateRequest struct {
	Alloc mem.AllocID `cbor:"1,keyasint"`
}

type ReadRequest struct {
	Ptr mem.RunPointer `cbor:"1,keyasint"`
}

type ReadResponse struct {
	Bytes []mem.AbstractByte `cbor:"1,keyasint"`
}

type FillRequest struct {
	Ptr   mem.RunPointer   `cbor:"1,keyasint"`
	Value mem.AbstractByte `cbor:"2,keyasint"`
}

type CopyRequest struct {
	Dst mem.RunPointer `cbor:"1,keyasint"`
	Src mem.RunPointer `cbor:"2,keyasint"`
}

type AddRefRequest struct {
	Ptr  mem.RunPointer `cbor:"1,keyasint"`
	Kind mem.BorrowKind `cbor:"2,keyasint"`
	Edge mem.Edge       `cbor:"3,keyasint"`
}

type CopyRefRequest struct {
	New  mem.Edge       `cbor:"1,keyasint"`
	Old  mem.Edge       `cbor:"2,keyasint"`
	Kind mem.BorrowKind `cbor:"3,keyasint"`
}

type RemoveRefRequest struct {
	Edge mem.Edge `cbor:"1,keyasint"`
}

// RemoveRefBelowRequest invalidates Edge and everything pushed after it on
// the bytes of Ptr.
type RemoveRefBelowRequest struct {
	Edge mem.Edge       `cbor:"1,keyasint"`
	Ptr  mem.RunPointer `cbor:"2,keyasint"`
}

type RemoveRefBelowResponse struct {
	// Gone lists the invalidated edges left with no coverage.
	Gone []mem.Edge `cbor:"1,keyasint"`
}

type RemoveRefRunPtrRequest struct {
	Edge mem.Edge       `cbor:"1,keyasint"`
	Ptr  mem.RunPointer `cbor:"2,keyasint"`
}

type RemoveRefRunPtrResponse struct {
	Dead bool `cbor:"1,keyasint"`
}

// CheckRequest asks every stack query about Ptr at once. Edge is the edge
// whose read and write permissions are checked.
type CheckRequest struct {
	Ptr  mem.RunPointer `cbor:"1,keyasint"`
	Edge mem.Edge       `cbor:"2,keyasint"`
}

type CheckResponse struct {
	FirstShared mem.Edge   `cbor:"1,keyasint"`
	HasShared   bool       `cbor:"2,keyasint"`
	BelowShared []mem.Edge `cbor:"3,keyasint"`
	CanRead     bool       `cbor:"4,keyasint"`
	CanWrite    bool       `cbor:"5,keyasint"`
}

type SnapshotRequest struct{}

type SnapshotResponse struct {
	// Data is the CBOR encoding produced by mem.MarshalSnapshot.
	Data []byte `cbor:"1,keyasint"`
}

// ReplayRequest runs a script against the served store. Names bound by
// earlier Replay calls stay bound.
type ReplayRequest struct {
	Name   string `cbor:"1,keyasint"`
	Script string `cbor:"2,keyasint"`
}

type ReplayResponse struct {
	Events []trace.Event `cbor:"1,keyasint"`
	Denied int           `cbor:"2,keyasint"`
	// Error is set when the replay stopped early on a failed expectation or
	// a broken precondition. Events holds what ran before.
	Error string `cbor:"3,keyasint"`
	RunID string `cbor:"4,keyasint,omitempty"`
}
