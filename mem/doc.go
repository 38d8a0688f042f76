// Package mem implements the memory model used to execute and validate
// programs under a stacked-borrows aliasing discipline.
//
// This package contains:
//   - Per-byte initialization state
//   - Interval-keyed borrow stacks for each padding-free run of memory
//   - Allocations built run-by-run through an AllocationBuilder
//   - Dense allocation and run handles, and the RunPointer that addresses a
//     byte range inside one run
//   - The Memory store, which owns every allocation plus a reverse index from
//     each edge to the ranges it currently covers
//
// Memory is a sequential state machine. It performs no locking; embedders
// that share a store between goroutines must serialize every call.
package mem
