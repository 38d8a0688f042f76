package mem

import (
	"iter"
	"maps"
	"slices"
)

// Run is a contiguous, padding-free region of memory: its bytes and the
// borrow stack of every byte. The size of a run is fixed at creation.
type Run struct {
	bytes  []AbstractByte
	stacks *borrowMap
}

// NewRun creates a run of size uninitialized bytes with empty borrow stacks.
func NewRun(size int) *Run {
	if size < 0 {
		fatalf("new run", "negative size %d", size)
	}
	return &Run{
		bytes:  make([]AbstractByte, size),
		stacks: newBorrowMap(size),
	}
}

// Size returns the number of bytes in the run.
func (r *Run) Size() int {
	return len(r.bytes)
}

// Bytes returns the run's byte states. The slice aliases the run.
func (r *Run) Bytes() []AbstractByte {
	return r.bytes
}

func (r *Run) checkRange(op string, offset, n int) {
	if offset < 0 || n < 0 || offset+n > len(r.bytes) {
		fatalf(op, "range [%d..%d] out of bounds of run of size %d", offset, offset+n, len(r.bytes))
	}
}

// ---------------------------------------------------------------------------
// Stack mutation
// ---------------------------------------------------------------------------

// AddBorrow pushes {kind, edge} on top of the stack of every byte in
// [offset, offset+n). An edge may appear at most once in any byte's stack.
func (r *Run) AddBorrow(offset, n int, kind BorrowKind, edge Edge) {
	r.checkRange("add borrow", offset, n)
	b := Borrow{Kind: kind, Edge: edge}
	r.stacks.mutate(offset, n, func(rg Range, stack []Borrow) []Borrow {
		if indexOfEdge(stack, edge) >= 0 {
			fatalf("add borrow", "edge %d already on the stack at %v", edge, rg)
		}
		return append(stack, b)
	})
}

// RemoveBorrow deletes edge from the stack of every byte in
// [offset, offset+n), wherever it sits. Bytes without edge are untouched.
func (r *Run) RemoveBorrow(offset, n int, edge Edge) {
	r.checkRange("remove borrow", offset, n)
	r.stacks.mutate(offset, n, func(_ Range, stack []Borrow) []Borrow {
		if i := indexOfEdge(stack, edge); i >= 0 {
			return slices.Delete(stack, i, i+1)
		}
		return stack
	})
}

// Invalidated records which bytes each edge was removed from.
type Invalidated map[Edge][]Range

// Edges returns the invalidated edges in ascending order.
func (inv Invalidated) Edges() []Edge {
	return slices.Sorted(maps.Keys(inv))
}

func (inv Invalidated) add(edge Edge, rg Range) {
	ranges := inv[edge]
	if n := len(ranges); n > 0 && ranges[n-1].End == rg.Start {
		ranges[n-1].End = rg.End
		return
	}
	inv[edge] = append(ranges, rg)
}

// InvalidateAtOrAbove truncates the stack of every byte in [offset, offset+n)
// that contains edge, dropping edge and every borrow pushed after it. Bytes
// whose stack lacks edge are untouched. The result maps each dropped edge to
// the bytes it was dropped from.
func (r *Run) InvalidateAtOrAbove(offset, n int, edge Edge) Invalidated {
	r.checkRange("invalidate", offset, n)
	inv := Invalidated{}
	r.stacks.mutate(offset, n, func(rg Range, stack []Borrow) []Borrow {
		i := indexOfEdge(stack, edge)
		if i < 0 {
			return stack
		}
		for _, b := range stack[i:] {
			inv.add(b.Edge, rg)
		}
		return stack[:i]
	})
	return inv
}

// ---------------------------------------------------------------------------
// Stack queries
// ---------------------------------------------------------------------------

// BorrowsAtOrAbove collects, over every covered interval holding edge, edge
// itself and all borrows pushed after it.
func (r *Run) BorrowsAtOrAbove(offset, n int, edge Edge) []Edge {
	r.checkRange("borrows at or above", offset, n)
	set := map[Edge]struct{}{}
	r.stacks.each(offset, n, func(_ Range, stack []Borrow) bool {
		if i := indexOfEdge(stack, edge); i >= 0 {
			addEdges(set, stack[i:])
		}
		return true
	})
	return sortedEdges(set)
}

// FirstShared returns the oldest Shared borrow of the first interval in
// [offset, offset+n). Callers pass ranges with a uniform stack.
func (r *Run) FirstShared(offset, n int) (Edge, bool) {
	r.checkRange("first shared", offset, n)
	var (
		edge  Edge
		found bool
	)
	r.stacks.each(offset, n, func(_ Range, stack []Borrow) bool {
		if i := indexOfFirstShared(stack); i >= 0 {
			edge, found = stack[i].Edge, true
		}
		return false
	})
	return edge, found
}

// BorrowsBelowFirstShared collects the borrows older than the first Shared
// borrow of each covered interval. Intervals without a Shared borrow add
// nothing.
func (r *Run) BorrowsBelowFirstShared(offset, n int) []Edge {
	r.checkRange("borrows below first shared", offset, n)
	set := map[Edge]struct{}{}
	r.stacks.each(offset, n, func(_ Range, stack []Borrow) bool {
		if i := indexOfFirstShared(stack); i >= 0 {
			addEdges(set, stack[:i])
		}
		return true
	})
	return sortedEdges(set)
}

// BorrowsAboveFirstShared collects the first Shared borrow of each covered
// interval and every borrow pushed after it.
func (r *Run) BorrowsAboveFirstShared(offset, n int) []Edge {
	r.checkRange("borrows above first shared", offset, n)
	set := map[Edge]struct{}{}
	r.stacks.each(offset, n, func(_ Range, stack []Borrow) bool {
		if i := indexOfFirstShared(stack); i >= 0 {
			addEdges(set, stack[i:])
		}
		return true
	})
	return sortedEdges(set)
}

// CanReadThrough reports whether edge is on the stack of every byte in
// [offset, offset+n).
func (r *Run) CanReadThrough(offset, n int, edge Edge) bool {
	r.checkRange("can read through", offset, n)
	ok := true
	r.stacks.each(offset, n, func(_ Range, stack []Borrow) bool {
		ok = indexOfEdge(stack, edge) >= 0
		return ok
	})
	return ok
}

// CanWriteThrough reports whether, for every byte in [offset, offset+n), edge
// sits at or above that byte's first Shared borrow. A byte with no Shared
// borrow admits no write.
func (r *Run) CanWriteThrough(offset, n int, edge Edge) bool {
	r.checkRange("can write through", offset, n)
	ok := true
	r.stacks.each(offset, n, func(_ Range, stack []Borrow) bool {
		fs := indexOfFirstShared(stack)
		ok = fs >= 0 && indexOfEdge(stack[fs:], edge) >= 0
		return ok
	})
	return ok
}

// StackAt returns a copy of the borrow stack of byte offset.
func (r *Run) StackAt(offset int) []Borrow {
	r.checkRange("stack at", offset, 1)
	return slices.Clone(r.stacks.stackAt(offset))
}

// Stacks yields the coalesced intervals overlapping [offset, offset+n) with
// their stacks, clipped to the query. The yielded slices must not be
// modified or retained.
func (r *Run) Stacks(offset, n int) iter.Seq2[Range, []Borrow] {
	r.checkRange("stacks", offset, n)
	return func(yield func(Range, []Borrow) bool) {
		r.stacks.each(offset, n, yield)
	}
}

// Intervals returns the number of coalesced stack intervals in the run.
func (r *Run) Intervals() int {
	return r.stacks.entries()
}

func (r *Run) clone() *Run {
	return &Run{
		bytes:  slices.Clone(r.bytes),
		stacks: r.stacks.clone(),
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func indexOfEdge(stack []Borrow, edge Edge) int {
	return slices.IndexFunc(stack, func(b Borrow) bool { return b.Edge == edge })
}

func indexOfFirstShared(stack []Borrow) int {
	return slices.IndexFunc(stack, func(b Borrow) bool { return b.Kind == Shared })
}

func addEdges(set map[Edge]struct{}, borrows []Borrow) {
	for _, b := range borrows {
		set[b.Edge] = struct{}{}
	}
}

func sortedEdges(set map[Edge]struct{}) []Edge {
	return slices.Sorted(maps.Keys(set))
}
