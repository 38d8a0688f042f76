package mem

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// newSingleRun allocates one run of size bytes and returns a pointer to it.
func newSingleRun(t *testing.T, m *Memory, size int) RunPointer {
	t.Helper()
	_, ptrs := m.Allocate(size)
	require.Len(t, ptrs, 1)
	return ptrs[0]
}

func TestAllocateWithBuilder(t *testing.T) {
	m := New()
	var first, second RunPointer
	id := m.AllocateWithBuilder(func(b *AllocationBuilder) {
		require.Equal(t, AllocID(0), b.AllocID())
		first = b.NewRun(4)
		second = b.NewRun(2)
	})
	require.Equal(t, AllocID(0), id)
	require.Equal(t, RunPointer{Alloc: 0, RunAndOffset: RunAndOffset{Run: 0}, Size: 4}, first)
	require.Equal(t, RunPointer{Alloc: 0, RunAndOffset: RunAndOffset{Run: 1}, Size: 2}, second)
	require.Equal(t, []RunPointer{first, second}, m.RunsAndSizes(id))
	require.True(t, m.IsLive(id))

	next, _ := m.Allocate(1)
	require.Equal(t, AllocID(1), next, "ids are dense and assigned in order")
	require.Equal(t, 2, m.Allocations())
}

func TestBuilderUnusableAfterBuild(t *testing.T) {
	m := New()
	var kept *AllocationBuilder
	m.AllocateWithBuilder(func(b *AllocationBuilder) { kept = b })
	requirePrecondition(t, "new run", func() { kept.NewRun(1) })
}

func TestLivenessGating(t *testing.T) {
	m := New()
	p := newSingleRun(t, m, 4)
	q := newSingleRun(t, m, 4)

	m.Fill(p, Init)
	m.Write(p.Sub(0, 2), []AbstractByte{Uninit, Init})
	require.Equal(t, []AbstractByte{Uninit, Init, Init, Init}, m.Read(p))
	m.Copy(q, p)

	m.Deallocate(p.Alloc)
	require.False(t, m.IsLive(p.Alloc))
	m.Deallocate(p.Alloc)
	require.False(t, m.IsLive(p.Alloc), "liveness never comes back")

	requirePrecondition(t, "read", func() { m.Read(p) })
	requirePrecondition(t, "write", func() { m.Write(p, make([]AbstractByte, 4)) })
	requirePrecondition(t, "fill", func() { m.Fill(p, Uninit) })
	requirePrecondition(t, "copy", func() { m.Copy(q, p) })
	requirePrecondition(t, "copy", func() { m.Copy(p, q) })

	require.Equal(t, []AbstractByte{Uninit, Init, Init, Init}, m.Read(q))
}

func TestByteAccessPreconditions(t *testing.T) {
	m := New()
	p := newSingleRun(t, m, 4)

	requirePrecondition(t, "read", func() { m.Read(p.Sub(2, 4)) })
	requirePrecondition(t, "read", func() { m.Read(RunPointer{Alloc: 7, Size: 1}) })
	requirePrecondition(t, "read", func() { m.Read(RunPointer{Alloc: p.Alloc, RunAndOffset: RunAndOffset{Run: 1}, Size: 1}) })
	requirePrecondition(t, "write", func() { m.Write(p, []AbstractByte{Init}) })
	requirePrecondition(t, "copy", func() { m.Copy(p.Sub(0, 2), p.Sub(0, 3)) })
}

func TestCopyLeavesStacksAlone(t *testing.T) {
	m := New()
	src := newSingleRun(t, m, 4)
	dst := newSingleRun(t, m, 4)
	m.AddRef(src, Shared, 1)
	m.AddRef(dst.Sub(1, 2), Exclusive, 2)
	m.Write(src, []AbstractByte{Init, Uninit, Init, Uninit})

	before := m.Snapshot()
	want := append([]AbstractByte(nil), m.Read(src)...)

	m.Copy(dst, src)

	require.Equal(t, want, m.Read(dst))
	after := m.Snapshot()
	for i := range before.Allocations {
		for j := range before.Allocations[i].Runs {
			if diff := cmp.Diff(before.Allocations[i].Runs[j].Stacks, after.Allocations[i].Runs[j].Stacks); diff != "" {
				t.Fatalf("stacks of a%d.%d changed (-before +after):\n%s", i, j, diff)
			}
		}
	}
}

func TestCopyWithinRunOverlapping(t *testing.T) {
	m := New()
	p := newSingleRun(t, m, 6)
	m.Write(p.Sub(0, 3), []AbstractByte{Init, Uninit, Init})
	m.Copy(p.Sub(2, 3), p.Sub(0, 3))
	require.Equal(t, []AbstractByte{Init, Uninit, Init, Uninit, Init, Uninit}, m.Read(p))
}

func TestAddThenRemoveRestoresStacks(t *testing.T) {
	m := New()
	_, ptrs := m.Allocate(8, 3)
	m.AddRef(ptrs[0], Exclusive, 1)
	m.AddRef(ptrs[0].Sub(2, 4), Shared, 2)
	m.AddRef(ptrs[1], Raw, 3)
	before := m.Snapshot()

	for _, p := range []RunPointer{ptrs[0], ptrs[0].Sub(1, 5), ptrs[0].Sub(7, 1), ptrs[1].Sub(1, 1)} {
		for _, kind := range []BorrowKind{Raw, Shared, Exclusive} {
			m.AddRef(p, kind, 10)
			require.True(t, m.CanReadThrough(p, 10))
			m.RemoveRef(10)
			if diff := cmp.Diff(before, m.Snapshot()); diff != "" {
				t.Fatalf("add/remove %s at %v changed state (-before +after):\n%s", kind, p, diff)
			}
		}
	}
}

func TestAddRefAppendsToIndex(t *testing.T) {
	m := New()
	_, ptrs := m.Allocate(4, 4)
	m.AddRef(ptrs[0], Shared, 1)
	m.AddRef(ptrs[1], Shared, 1)
	require.Equal(t, ptrs, m.PointersOf(1))

	m.AddRef(ptrs[0].Sub(0, 0), Raw, 2)
	require.False(t, m.Covered(2), "zero-length refs are not recorded")
	require.NoError(t, m.CheckConsistency())
}

func TestScenarioFirstSharedOnHalf(t *testing.T) {
	m := New()
	p := newSingleRun(t, m, 8)
	m.AddRef(p, Exclusive, 1)
	m.AddRef(p.Sub(0, 4), Shared, 2)

	e, ok := m.FirstShared(p)
	require.True(t, ok)
	require.Equal(t, Edge(2), e)

	e, ok = m.FirstShared(p.Sub(0, 4))
	require.True(t, ok)
	require.Equal(t, Edge(2), e)

	_, ok = m.FirstShared(p.Sub(4, 4))
	require.False(t, ok)

	require.Equal(t, []Edge{1}, m.BorrowsBelowFirstShared(p))
	require.Empty(t, m.BorrowsBelowFirstShared(p.Sub(4, 4)))
}

func TestScenarioWriteBlockedBelowShared(t *testing.T) {
	m := New()
	p := newSingleRun(t, m, 8)
	m.AddRef(p, Exclusive, 1)
	m.AddRef(p, Shared, 2)

	require.False(t, m.CanWriteThrough(p, 1))
	require.True(t, m.CanWriteThrough(p, 2))
	require.True(t, m.CanReadThrough(p, 1))
	require.True(t, m.CanReadThrough(p, 2))
	require.Equal(t, []Edge{2}, m.BorrowsAboveFirstShared(p))
	require.Equal(t, []Edge{1, 2}, m.BorrowsAtOrAbove(p, 1))
}

func TestScenarioRemoveRefBelowKillsDerived(t *testing.T) {
	m := New()
	p := newSingleRun(t, m, 8)
	m.AddRef(p, Exclusive, 1)
	m.AddRef(p, Shared, 2)

	gone := m.RemoveRefBelow(1, p)
	require.Equal(t, []Edge{1, 2}, gone)
	require.Empty(t, m.StackAt(p))
	require.Empty(t, m.Edges())
	require.NoError(t, m.CheckConsistency())
}

func TestRemoveRefBelowPartialRange(t *testing.T) {
	m := New()
	p := newSingleRun(t, m, 8)
	m.AddRef(p, Exclusive, 1)
	m.AddRef(p.Sub(0, 4), Shared, 2)
	m.AddRef(p.Sub(4, 4), Raw, 3)

	gone := m.RemoveRefBelow(1, p.Sub(2, 4))
	require.Empty(t, gone, "every edge keeps coverage outside [2,6)")

	require.Equal(t, []RunPointer{p.Sub(0, 2), p.Sub(6, 2)}, m.PointersOf(1))
	require.Equal(t, []RunPointer{p.Sub(0, 2)}, m.PointersOf(2))
	require.Equal(t, []RunPointer{p.Sub(6, 2)}, m.PointersOf(3))
	require.Equal(t, []Edge{1, 2}, edgesOn(m.StackAt(p.Sub(1, 1))))
	require.Empty(t, m.StackAt(p.Sub(3, 1)))
	require.NoError(t, m.CheckConsistency())
}

func TestRemoveRefBelowOnlyDerangesInvalidatedBytes(t *testing.T) {
	m := New()
	p := newSingleRun(t, m, 8)
	m.AddRef(p.Sub(0, 4), Exclusive, 1)
	m.AddRef(p, Shared, 2)

	// Edge 2 sits above edge 1 only on [0,4); on [4,8) edge 1 is absent and
	// edge 2 survives.
	gone := m.RemoveRefBelow(1, p)
	require.Equal(t, []Edge{1}, gone)
	require.Equal(t, []RunPointer{p.Sub(4, 4)}, m.PointersOf(2))
	require.Equal(t, []Edge{2}, edgesOn(m.StackAt(p.Sub(5, 1))))
	require.NoError(t, m.CheckConsistency())
}

func TestRemoveRefBelowAcrossRuns(t *testing.T) {
	m := New()
	_, ptrs := m.Allocate(4, 4)
	m.AddRef(ptrs[0], Exclusive, 1)
	m.AddRef(ptrs[1], Exclusive, 1)
	m.CopyRef(2, 1, Shared)

	gone := m.RemoveRefBelow(1, ptrs[0])
	require.Empty(t, gone, "both edges still cover the second run")
	require.Equal(t, []RunPointer{ptrs[1]}, m.PointersOf(1))
	require.Equal(t, []RunPointer{ptrs[1]}, m.PointersOf(2))

	gone = m.RemoveRefBelow(1, ptrs[1])
	require.Equal(t, []Edge{1, 2}, gone)
	require.NoError(t, m.CheckConsistency())
}

func TestRemoveRefRunPtrSplitsMiddle(t *testing.T) {
	m := New()
	p := newSingleRun(t, m, 10)
	m.AddRef(p, Shared, 1)

	require.False(t, m.RemoveRefRunPtr(1, p.Sub(3, 4)))
	require.Equal(t, []RunPointer{p.Sub(0, 3), p.Sub(7, 3)}, m.PointersOf(1))
	require.False(t, m.CanReadThrough(p, 1))
	require.True(t, m.CanReadThrough(p.Sub(7, 3), 1))

	require.False(t, m.RemoveRefRunPtr(1, p.Sub(0, 3)))
	require.True(t, m.RemoveRefRunPtr(1, p.Sub(5, 5)))
	require.False(t, m.Covered(1))
	require.Equal(t, 1, m.allocations[p.Alloc].runs[p.Run].Intervals())
	require.NoError(t, m.CheckConsistency())
}

func TestRemoveRefRunPtrUntouchedRange(t *testing.T) {
	m := New()
	p := newSingleRun(t, m, 8)
	m.AddRef(p.Sub(0, 2), Raw, 1)

	require.False(t, m.RemoveRefRunPtr(1, p.Sub(4, 2)))
	require.Equal(t, []RunPointer{p.Sub(0, 2)}, m.PointersOf(1))
	require.True(t, m.RemoveRefRunPtr(9, p), "an unknown edge has no coverage")
}

func TestCopyRef(t *testing.T) {
	m := New()
	_, ptrs := m.Allocate(4, 2)
	m.AddRef(ptrs[0], Exclusive, 1)
	m.AddRef(ptrs[1], Exclusive, 1)

	m.CopyRef(2, 1, Shared)
	require.Equal(t, m.PointersOf(1), m.PointersOf(2))
	require.Equal(t, []Borrow{{Exclusive, 1}, {Shared, 2}}, m.StackAt(ptrs[1]))

	m.CopyRef(3, 42, Raw)
	require.False(t, m.Covered(3), "copying an uncovered edge does nothing")

	requirePrecondition(t, "copy ref", func() { m.CopyRef(1, 1, Raw) })
	requirePrecondition(t, "add borrow", func() { m.CopyRef(2, 1, Raw) })
}

func TestRemoveRefUnknownEdgeIsNoop(t *testing.T) {
	m := New()
	p := newSingleRun(t, m, 2)
	m.AddRef(p, Raw, 1)
	m.RemoveRef(2)
	require.Equal(t, []Edge{1}, m.Edges())
}

func TestBorrowOpsOnDeadAllocation(t *testing.T) {
	m := New()
	p := newSingleRun(t, m, 4)
	m.AddRef(p, Exclusive, 1)
	m.Deallocate(p.Alloc)

	m.RemoveRef(1)
	require.False(t, m.Covered(1))
	require.Empty(t, m.StackAt(p))
}

func TestCloneIsIndependent(t *testing.T) {
	m := New(WithPointerSize(4))
	p := newSingleRun(t, m, 4)
	m.AddRef(p, Exclusive, 1)

	c := m.Clone()
	c.AddRef(p, Shared, 2)
	c.Fill(p, Init)
	c.Deallocate(p.Alloc)

	require.True(t, m.IsLive(p.Alloc))
	require.Equal(t, []Edge{1}, m.Edges())
	require.Equal(t, []Edge{1}, edgesOn(m.StackAt(p)))
	require.Equal(t, Uninit, m.Read(p)[0])
	require.Equal(t, 4, c.PointerSize())
}

// TestReverseIndexConsistencyRandomized drives the store with a random mix of
// borrow operations and checks the reverse index after each one.
func TestReverseIndexConsistencyRandomized(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		m := New()
		var runs []RunPointer
		for _, sizes := range [][]int{{8, 5}, {6}, {3, 3, 3}} {
			_, ptrs := m.Allocate(sizes...)
			runs = append(runs, ptrs...)
		}
		randomRange := func() RunPointer {
			run := runs[rng.Intn(len(runs))]
			start := rng.Intn(run.Size)
			return run.Sub(start, 1+rng.Intn(run.Size-start))
		}
		randomEdge := func() (Edge, bool) {
			edges := m.Edges()
			if len(edges) == 0 {
				return 0, false
			}
			return edges[rng.Intn(len(edges))], true
		}
		kinds := []BorrowKind{Raw, Shared, Exclusive}
		next := Edge(1)

		for step := 0; step < 300; step++ {
			switch op := rng.Intn(6); op {
			case 0, 1:
				m.AddRef(randomRange(), kinds[rng.Intn(3)], next)
				next++
			case 2:
				if old, ok := randomEdge(); ok {
					m.CopyRef(next, old, kinds[rng.Intn(3)])
					next++
				}
			case 3:
				if e, ok := randomEdge(); ok {
					m.RemoveRef(e)
					require.False(t, m.Covered(e))
				}
			case 4:
				if e, ok := randomEdge(); ok {
					ptrs := m.PointersOf(e)
					p := ptrs[rng.Intn(len(ptrs))]
					for _, g := range m.RemoveRefBelow(e, p) {
						require.False(t, m.Covered(g))
					}
				}
			case 5:
				if e, ok := randomEdge(); ok {
					gone := m.RemoveRefRunPtr(e, randomRange())
					require.Equal(t, !m.Covered(e), gone)
				}
			}
			require.NoErrorf(t, m.CheckConsistency(), "seed %d step %d", seed, step)
		}
	}
}
