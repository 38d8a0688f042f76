package mem

import (
	"maps"
	"slices"

	"github.com/tliron/commonlog"
)

// DefaultPointerSize is the simulated width, in bytes, of pointers,
// references, isize and usize.
const DefaultPointerSize = 8

// Memory owns every allocation and the reverse index from each edge to the
// ranges whose borrow stacks currently hold it.
//
// The reverse index is derived state: an edge is on the stack of a byte if
// and only if one of the pointers recorded for that edge covers the byte.
// Every mutating method restores that property before returning.
type Memory struct {
	allocations []*Allocation

	// an edge may cover several runs, e.g. a reference to a padded tuple
	pointers map[Edge][]RunPointer

	ptrSize int
	log     commonlog.Logger
}

// Option configures a Memory.
type Option func(*Memory)

// WithPointerSize sets the simulated pointer width in bytes.
func WithPointerSize(n int) Option {
	return func(m *Memory) { m.ptrSize = n }
}

// New creates an empty store.
func New(opts ...Option) *Memory {
	m := &Memory{
		pointers: make(map[Edge][]RunPointer),
		ptrSize:  DefaultPointerSize,
		log:      commonlog.GetLogger("stackmem.mem"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ptrSize <= 0 {
		fatalf("new", "pointer size must be positive, got %d", m.ptrSize)
	}
	return m
}

// PointerSize returns the simulated pointer width in bytes.
func (m *Memory) PointerSize() int {
	return m.ptrSize
}

// ---------------------------------------------------------------------------
// Allocation lifecycle
// ---------------------------------------------------------------------------

// AllocateWithBuilder runs build against a fresh builder and stores the
// resulting allocation. Pointers returned by the builder are valid for the
// returned id.
func (m *Memory) AllocateWithBuilder(build func(b *AllocationBuilder)) AllocID {
	b := &AllocationBuilder{allocID: AllocID(len(m.allocations))}
	build(b)
	m.allocations = append(m.allocations, b.build())
	m.log.Debugf("allocated a%d with %d runs", b.allocID, len(b.runs))
	return b.allocID
}

// Allocate is AllocateWithBuilder for a known list of run sizes.
func (m *Memory) Allocate(sizes ...int) (AllocID, []RunPointer) {
	ptrs := make([]RunPointer, 0, len(sizes))
	id := m.AllocateWithBuilder(func(b *AllocationBuilder) {
		for _, size := range sizes {
			ptrs = append(ptrs, b.NewRun(size))
		}
	})
	return id, ptrs
}

// Deallocate marks the allocation dead. Its bytes and stacks are kept but
// can no longer be read or written.
func (m *Memory) Deallocate(id AllocID) {
	m.allocation("deallocate", id).live = false
	m.log.Debugf("deallocated a%d", id)
}

// IsLive reports whether the allocation has not been deallocated.
func (m *Memory) IsLive(id AllocID) bool {
	return m.allocation("is live", id).live
}

// Allocations returns the number of allocations ever made.
func (m *Memory) Allocations() int {
	return len(m.allocations)
}

// RunsAndSizes returns a pointer to each whole run of the allocation.
func (m *Memory) RunsAndSizes(id AllocID) []RunPointer {
	a := m.allocation("runs", id)
	out := make([]RunPointer, len(a.runs))
	for i, r := range a.runs {
		out[i] = RunPointer{Alloc: id, RunAndOffset: RunAndOffset{Run: RunID(i)}, Size: r.Size()}
	}
	return out
}

func (m *Memory) allocation(op string, id AllocID) *Allocation {
	if int(id) >= len(m.allocations) {
		fatalf(op, "unknown allocation a%d", id)
	}
	return m.allocations[id]
}

// run resolves p to its run, checking that p's range is inside it.
func (m *Memory) run(op string, p RunPointer) *Run {
	a := m.allocation(op, p.Alloc)
	if int(p.Run) >= len(a.runs) {
		fatalf(op, "unknown run %d in a%d", p.Run, p.Alloc)
	}
	r := a.runs[p.Run]
	r.checkRange(op, p.Offset, p.Size)
	return r
}

// liveRun is run for byte access, which requires a live allocation.
func (m *Memory) liveRun(op string, p RunPointer) *Run {
	r := m.run(op, p)
	if !m.allocations[p.Alloc].live {
		fatalf(op, "can't access dead bytes at %v", p)
	}
	return r
}

// ---------------------------------------------------------------------------
// Byte access
// ---------------------------------------------------------------------------

// Read returns the bytes addressed by p. The slice aliases the run.
func (m *Memory) Read(p RunPointer) []AbstractByte {
	r := m.liveRun("read", p)
	return r.bytes[p.Offset : p.Offset+p.Size]
}

// Write stores data at p. len(data) must equal p.Size.
func (m *Memory) Write(p RunPointer, data []AbstractByte) {
	r := m.liveRun("write", p)
	if len(data) != p.Size {
		fatalf("write", "writing %d bytes through pointer of size %d", len(data), p.Size)
	}
	copy(r.bytes[p.Offset:p.Offset+p.Size], data)
}

// Fill sets every byte addressed by p to v.
func (m *Memory) Fill(p RunPointer, v AbstractByte) {
	r := m.liveRun("fill", p)
	b := r.bytes[p.Offset : p.Offset+p.Size]
	for i := range b {
		b[i] = v
	}
}

// Copy copies byte contents from src to dst. Borrow stacks are not copied:
// both ranges keep the stacks they had.
func (m *Memory) Copy(dst, src RunPointer) {
	if dst.Size != src.Size {
		fatalf("copy", "size mismatch: dst %d, src %d", dst.Size, src.Size)
	}
	from := m.liveRun("copy", src)
	to := m.liveRun("copy", dst)
	copy(to.bytes[dst.Offset:dst.Offset+dst.Size], from.bytes[src.Offset:src.Offset+src.Size])
}

// ---------------------------------------------------------------------------
// Borrow mutation
// ---------------------------------------------------------------------------

// AddRef pushes {kind, edge} on every byte of p and records p under edge.
func (m *Memory) AddRef(p RunPointer, kind BorrowKind, edge Edge) {
	r := m.run("add ref", p)
	if p.Size == 0 {
		return
	}
	r.AddBorrow(p.Offset, p.Size, kind, edge)
	m.pointers[edge] = append(m.pointers[edge], p)
	m.log.Debugf("add ref %s%d at %v", kind, edge, p)
}

// CopyRef pushes {kind, newEdge} over every range oldEdge currently covers,
// and records those ranges under newEdge. It is used for a reference derived
// from, and spanning the same memory as, an existing one. Copying from an
// edge with no coverage does nothing.
func (m *Memory) CopyRef(newEdge, oldEdge Edge, kind BorrowKind) {
	if newEdge == oldEdge {
		fatalf("copy ref", "edge %d copied onto itself", newEdge)
	}
	ptrs := m.pointers[oldEdge]
	if len(ptrs) == 0 {
		m.log.Debugf("copy ref %d from uncovered edge %d", newEdge, oldEdge)
		return
	}
	for _, p := range ptrs {
		m.run("copy ref", p).AddBorrow(p.Offset, p.Size, kind, newEdge)
	}
	m.pointers[newEdge] = append(m.pointers[newEdge], ptrs...)
	m.log.Debugf("copy ref %s%d from %d over %d ranges", kind, newEdge, oldEdge, len(ptrs))
}

// RemoveRef removes edge from every byte it covers and forgets it.
func (m *Memory) RemoveRef(edge Edge) {
	ptrs, ok := m.pointers[edge]
	if !ok {
		return
	}
	delete(m.pointers, edge)
	for _, p := range ptrs {
		m.run("remove ref", p).RemoveBorrow(p.Offset, p.Size, edge)
	}
	m.log.Debugf("removed ref %d from %d ranges", edge, len(ptrs))
}

// RemoveRefBelow invalidates edge, and every borrow pushed after it, on the
// bytes of p. It returns, in ascending order, the invalidated edges that no
// longer cover any byte anywhere.
func (m *Memory) RemoveRefBelow(edge Edge, p RunPointer) []Edge {
	r := m.run("remove ref below", p)
	inv := r.InvalidateAtOrAbove(p.Offset, p.Size, edge)

	var gone []Edge
	for _, e := range inv.Edges() {
		for _, rg := range inv[e] {
			m.derange(e, FromRange(rg, p.Alloc, p.Run))
		}
		if _, ok := m.pointers[e]; !ok {
			gone = append(gone, e)
		}
	}
	if len(inv) > 0 {
		m.log.Debugf("invalidated %v at %v from %d; %v fully gone", inv.Edges(), p, edge, gone)
	}
	return gone
}

// RemoveRefRunPtr removes edge from the bytes of p only. It reports whether
// edge now covers no byte anywhere.
func (m *Memory) RemoveRefRunPtr(edge Edge, p RunPointer) bool {
	r := m.run("remove ref run ptr", p)
	if p.Size > 0 {
		r.RemoveBorrow(p.Offset, p.Size, edge)
		m.derange(edge, p)
	}
	_, ok := m.pointers[edge]
	return !ok
}

// derange removes the bytes of removed from the ranges recorded for edge,
// splitting a recorded range that removed cuts through.
func (m *Memory) derange(edge Edge, removed RunPointer) {
	stored, ok := m.pointers[edge]
	if !ok || removed.Size == 0 {
		return
	}
	updated := make([]RunPointer, 0, len(stored)+1)
	for _, p := range stored {
		if !p.Overlaps(removed) {
			updated = append(updated, p)
			continue
		}
		left, hasLeft, right, hasRight := p.Range().Subtract(removed.Range())
		if hasLeft {
			updated = append(updated, FromRange(left, p.Alloc, p.Run))
		}
		if hasRight {
			updated = append(updated, FromRange(right, p.Alloc, p.Run))
		}
	}
	if len(updated) == 0 {
		delete(m.pointers, edge)
		return
	}
	m.pointers[edge] = updated
}

// ---------------------------------------------------------------------------
// Stack queries
// ---------------------------------------------------------------------------

// FirstShared returns the oldest Shared borrow on the first interval of p.
func (m *Memory) FirstShared(p RunPointer) (Edge, bool) {
	return m.run("first shared", p).FirstShared(p.Offset, p.Size)
}

// BorrowsBelowFirstShared returns the edges older than the first Shared
// borrow, over every interval of p.
func (m *Memory) BorrowsBelowFirstShared(p RunPointer) []Edge {
	return m.run("borrows below first shared", p).BorrowsBelowFirstShared(p.Offset, p.Size)
}

// BorrowsAboveFirstShared returns the first Shared borrow and every edge
// pushed after it, over every interval of p.
func (m *Memory) BorrowsAboveFirstShared(p RunPointer) []Edge {
	return m.run("borrows above first shared", p).BorrowsAboveFirstShared(p.Offset, p.Size)
}

// BorrowsAtOrAbove returns edge and everything pushed after it, over every
// interval of p that holds edge.
func (m *Memory) BorrowsAtOrAbove(p RunPointer, edge Edge) []Edge {
	return m.run("borrows at or above", p).BorrowsAtOrAbove(p.Offset, p.Size, edge)
}

// CanReadThrough reports whether edge is still on the stack of every byte of p.
func (m *Memory) CanReadThrough(p RunPointer, edge Edge) bool {
	return m.run("can read through", p).CanReadThrough(p.Offset, p.Size, edge)
}

// CanWriteThrough reports whether edge sits at or above the first Shared
// borrow of every byte of p.
func (m *Memory) CanWriteThrough(p RunPointer, edge Edge) bool {
	return m.run("can write through", p).CanWriteThrough(p.Offset, p.Size, edge)
}

// StackAt returns a copy of the borrow stack of the first byte of p.
func (m *Memory) StackAt(p RunPointer) []Borrow {
	a := m.allocation("stack at", p.Alloc)
	if int(p.Run) >= len(a.runs) {
		fatalf("stack at", "unknown run %d in a%d", p.Run, p.Alloc)
	}
	return a.runs[p.Run].StackAt(p.Offset)
}

// ---------------------------------------------------------------------------
// Reverse index inspection
// ---------------------------------------------------------------------------

// PointersOf returns the ranges edge currently covers.
func (m *Memory) PointersOf(edge Edge) []RunPointer {
	return slices.Clone(m.pointers[edge])
}

// Covered reports whether edge is on any byte's stack.
func (m *Memory) Covered(edge Edge) bool {
	_, ok := m.pointers[edge]
	return ok
}

// Edges returns every edge with coverage, ascending.
func (m *Memory) Edges() []Edge {
	return slices.Sorted(maps.Keys(m.pointers))
}

// Clone returns an independent deep copy of the store.
func (m *Memory) Clone() *Memory {
	out := &Memory{
		allocations: make([]*Allocation, len(m.allocations)),
		pointers:    make(map[Edge][]RunPointer, len(m.pointers)),
		ptrSize:     m.ptrSize,
		log:         m.log,
	}
	for i, a := range m.allocations {
		out.allocations[i] = a.clone()
	}
	for e, ptrs := range m.pointers {
		out.pointers[e] = slices.Clone(ptrs)
	}
	return out
}
