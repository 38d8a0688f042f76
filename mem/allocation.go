package mem

// Allocation is an ordered list of runs plus a liveness flag. A value whose
// type has padding spans several runs; they are addressed by position only
// and are not contiguous with each other.
type Allocation struct {
	runs []*Run
	live bool
}

// Live reports whether the allocation has not been deallocated.
func (a *Allocation) Live() bool {
	return a.live
}

// Runs returns the number of runs in the allocation.
func (a *Allocation) Runs() int {
	return len(a.runs)
}

// Run returns the run with the given id.
func (a *Allocation) Run(id RunID) *Run {
	if int(id) >= len(a.runs) {
		fatalf("run", "run %d out of range (allocation has %d runs)", id, len(a.runs))
	}
	return a.runs[id]
}

func (a *Allocation) clone() *Allocation {
	out := &Allocation{runs: make([]*Run, len(a.runs)), live: a.live}
	for i, r := range a.runs {
		out.runs[i] = r.clone()
	}
	return out
}

// AllocationBuilder collects the runs of one allocation. It is only valid
// inside the callback passed to Memory.AllocateWithBuilder; the layout it
// produces is frozen once the callback returns.
type AllocationBuilder struct {
	allocID AllocID
	runs    []*Run
	done    bool
}

// NewRun appends an uninitialized run of size bytes and returns a pointer to
// the whole of it.
func (b *AllocationBuilder) NewRun(size int) RunPointer {
	if b.done {
		fatalf("new run", "allocation %d is already built", b.allocID)
	}
	id := RunID(len(b.runs))
	b.runs = append(b.runs, NewRun(size))
	return RunPointer{
		Alloc:        b.allocID,
		RunAndOffset: RunAndOffset{Run: id},
		Size:         size,
	}
}

// AllocID returns the id the allocation will be stored under.
func (b *AllocationBuilder) AllocID() AllocID {
	return b.allocID
}

func (b *AllocationBuilder) build() *Allocation {
	b.done = true
	return &Allocation{runs: b.runs, live: true}
}
