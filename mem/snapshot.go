package mem

import (
	"fmt"
	"slices"
)

// Snapshot is a self-contained copy of a store's state, suitable for
// serialization with MarshalSnapshot.
type Snapshot struct {
	PointerSize int                   `cbor:"1,keyasint"`
	Allocations []AllocationSnapshot  `cbor:"2,keyasint"`
	Pointers    map[Edge][]RunPointer `cbor:"3,keyasint"`
}

// AllocationSnapshot is the state of one allocation.
type AllocationSnapshot struct {
	Live bool          `cbor:"1,keyasint"`
	Runs []RunSnapshot `cbor:"2,keyasint"`
}

// RunSnapshot is the state of one run: its bytes and its coalesced stack
// intervals in ascending order.
type RunSnapshot struct {
	Bytes  []AbstractByte  `cbor:"1,keyasint"`
	Stacks []StackInterval `cbor:"2,keyasint"`
}

// StackInterval is a range of bytes sharing one borrow stack.
type StackInterval struct {
	Range   Range    `cbor:"1,keyasint"`
	Borrows []Borrow `cbor:"2,keyasint"`
}

// Snapshot captures the current state of the store.
func (m *Memory) Snapshot() *Snapshot {
	s := &Snapshot{
		PointerSize: m.ptrSize,
		Allocations: make([]AllocationSnapshot, len(m.allocations)),
		Pointers:    make(map[Edge][]RunPointer, len(m.pointers)),
	}
	for i, a := range m.allocations {
		as := AllocationSnapshot{Live: a.live, Runs: make([]RunSnapshot, len(a.runs))}
		for j, r := range a.runs {
			rs := RunSnapshot{Bytes: slices.Clone(r.bytes)}
			r.stacks.each(0, r.Size(), func(rg Range, stack []Borrow) bool {
				rs.Stacks = append(rs.Stacks, StackInterval{Range: rg, Borrows: slices.Clone(stack)})
				return true
			})
			as.Runs[j] = rs
		}
		s.Allocations[i] = as
	}
	for e, ptrs := range m.pointers {
		s.Pointers[e] = slices.Clone(ptrs)
	}
	return s
}

// Restore rebuilds a store from a snapshot. The snapshot is validated: stack
// intervals must tile each run and agree with the recorded pointers.
func Restore(s *Snapshot) (*Memory, error) {
	if s.PointerSize <= 0 {
		return nil, fmt.Errorf("mem: restore: invalid pointer size %d", s.PointerSize)
	}
	m := New(WithPointerSize(s.PointerSize))
	for i, as := range s.Allocations {
		a := &Allocation{live: as.Live, runs: make([]*Run, len(as.Runs))}
		for j, rs := range as.Runs {
			r, err := restoreRun(rs)
			if err != nil {
				return nil, fmt.Errorf("mem: restore: a%d.%d: %w", i, j, err)
			}
			a.runs[j] = r
		}
		m.allocations = append(m.allocations, a)
	}
	for e, ptrs := range s.Pointers {
		if len(ptrs) == 0 {
			continue
		}
		for _, p := range ptrs {
			if err := m.validPointer(p); err != nil {
				return nil, fmt.Errorf("mem: restore: edge %d: %w", e, err)
			}
		}
		m.pointers[e] = slices.Clone(ptrs)
	}
	if err := m.CheckConsistency(); err != nil {
		return nil, fmt.Errorf("mem: restore: %w", err)
	}
	return m, nil
}

func restoreRun(rs RunSnapshot) (*Run, error) {
	r := &Run{bytes: slices.Clone(rs.Bytes), stacks: newBorrowMap(0)}
	if r.bytes == nil {
		r.bytes = []AbstractByte{}
	}
	r.stacks.size = len(r.bytes)
	next := 0
	for _, si := range rs.Stacks {
		if si.Range.Start != next || si.Range.Empty() {
			return nil, fmt.Errorf("stack interval %v does not continue at %d", si.Range, next)
		}
		r.stacks.tree.ReplaceOrInsert(&stackEntry{
			start: si.Range.Start,
			end:   si.Range.End,
			stack: slices.Clone(si.Borrows),
		})
		next = si.Range.End
	}
	if next != len(r.bytes) {
		return nil, fmt.Errorf("stack intervals cover %d of %d bytes", next, len(r.bytes))
	}
	r.stacks.coalesce(0, len(r.bytes))
	return r, nil
}

func (m *Memory) validPointer(p RunPointer) error {
	if int(p.Alloc) >= len(m.allocations) {
		return fmt.Errorf("pointer %v: unknown allocation", p)
	}
	a := m.allocations[p.Alloc]
	if int(p.Run) >= len(a.runs) {
		return fmt.Errorf("pointer %v: unknown run", p)
	}
	if p.Offset < 0 || p.Size <= 0 || p.Offset+p.Size > a.runs[p.Run].Size() {
		return fmt.Errorf("pointer %v: out of bounds", p)
	}
	return nil
}
