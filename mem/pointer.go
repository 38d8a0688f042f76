package mem

import "fmt"

// AllocID is a dense handle into the store's allocation table. Ids are
// assigned in order and never reused.
type AllocID uint32

// RunID is a dense handle into one allocation's list of runs.
type RunID uint32

// ---------------------------------------------------------------------------
// Range: half-open byte interval inside one run
// ---------------------------------------------------------------------------

// Range is the half-open byte interval [Start, End).
type Range struct {
	Start int `cbor:"1,keyasint"`
	End   int `cbor:"2,keyasint"`
}

// Len returns the number of bytes in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Empty reports whether the range holds no bytes.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Contains reports whether byte offset i lies inside the range.
func (r Range) Contains(i int) bool {
	return r.Start <= i && i < r.End
}

// Overlaps uses inclusive endpoints, so ranges that merely touch count as
// overlapping. Subtracting a touching range leaves the receiver unchanged.
func (r Range) Overlaps(other Range) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// Intersect returns the common bytes of r and other, which may be empty.
func (r Range) Intersect(other Range) Range {
	out := Range{Start: max(r.Start, other.Start), End: min(r.End, other.End)}
	if out.End < out.Start {
		out.End = out.Start
	}
	return out
}

// Subtract removes other from r and returns the remainders to the left and
// right of it; hasLeft and hasRight are false when that side is empty.
// The ranges must overlap.
func (r Range) Subtract(other Range) (left Range, hasLeft bool, right Range, hasRight bool) {
	if !r.Overlaps(other) {
		fatalf("subtract", "range %v does not overlap %v", r, other)
	}
	if r.Start < other.Start {
		left, hasLeft = Range{Start: r.Start, End: other.Start}, true
	}
	if other.End < r.End {
		right, hasRight = Range{Start: other.End, End: r.End}, true
	}
	return left, hasLeft, right, hasRight
}

func (r Range) String() string {
	return fmt.Sprintf("[%d..%d]", r.Start, r.End)
}

// ---------------------------------------------------------------------------
// RunAndOffset / RunPointer
// ---------------------------------------------------------------------------

// RunAndOffset names a byte position inside a run. Its field keys continue
// RunPointer's numbering because RunPointer embeds it.
type RunAndOffset struct {
	Run    RunID `cbor:"2,keyasint"`
	Offset int   `cbor:"3,keyasint"`
}

// SameRun reports whether both positions are in the same run.
func (ro RunAndOffset) SameRun(other RunAndOffset) bool {
	return ro.Run == other.Run
}

// Add returns the position displaced by delta bytes within the same run.
func (ro RunAndOffset) Add(delta int) RunAndOffset {
	return RunAndOffset{Run: ro.Run, Offset: ro.Offset + delta}
}

// RunPointer is a fully resolved byte range: an allocation, a run inside it,
// an offset and a length. It is a plain value and carries no ownership.
type RunPointer struct {
	Alloc AllocID `cbor:"1,keyasint"`
	RunAndOffset
	Size int `cbor:"4,keyasint"`
}

// FromRange builds the pointer addressing r inside the given run.
func FromRange(r Range, alloc AllocID, run RunID) RunPointer {
	return RunPointer{
		Alloc:        alloc,
		RunAndOffset: RunAndOffset{Run: run, Offset: r.Start},
		Size:         r.Len(),
	}
}

// Range returns the addressed bytes as offsets into the run.
func (p RunPointer) Range() Range {
	return Range{Start: p.Offset, End: p.Offset + p.Size}
}

// Sub returns the pointer to size bytes starting offset bytes into p.
func (p RunPointer) Sub(offset, size int) RunPointer {
	return RunPointer{Alloc: p.Alloc, RunAndOffset: p.RunAndOffset.Add(offset), Size: size}
}

// Overlaps reports whether both pointers address the same run and their
// ranges overlap. It is symmetric.
func (p RunPointer) Overlaps(other RunPointer) bool {
	if p.Alloc != other.Alloc {
		return false
	}
	if !p.SameRun(other.RunAndOffset) {
		return false
	}
	return p.Range().Overlaps(other.Range())
}

func (p RunPointer) String() string {
	return fmt.Sprintf("a%d.%d%v", p.Alloc, p.Run, p.Range())
}
