package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// requireTiles checks that the entries of bm cover [0, size) without gaps or
// overlaps and that no two neighbours hold equal stacks.
func requireTiles(t *testing.T, bm *borrowMap) {
	t.Helper()
	next := 0
	var prev *stackEntry
	bm.tree.Ascend(func(e *stackEntry) bool {
		require.Equal(t, next, e.start, "gap or overlap before entry")
		require.Less(t, e.start, e.end, "empty entry")
		if prev != nil {
			require.NotEqual(t, prev.stack, e.stack, "uncoalesced neighbours at %d", e.start)
		}
		next, prev = e.end, e
		return true
	})
	require.Equal(t, bm.size, next)
}

func TestBorrowMapStartsAsOneInterval(t *testing.T) {
	bm := newBorrowMap(16)
	require.Equal(t, 1, bm.entries())
	requireTiles(t, bm)

	empty := newBorrowMap(0)
	require.Equal(t, 0, empty.entries())
	require.Nil(t, empty.entryAt(0))
}

func TestBorrowMapMutateSplitsAndMerges(t *testing.T) {
	bm := newBorrowMap(10)
	push := func(e Edge) func(Range, []Borrow) []Borrow {
		return func(_ Range, s []Borrow) []Borrow { return append(s, Borrow{Kind: Raw, Edge: e}) }
	}
	pop := func(_ Range, s []Borrow) []Borrow { return s[:len(s)-1] }

	bm.mutate(3, 4, push(1))
	require.Equal(t, 3, bm.entries())
	requireTiles(t, bm)

	bm.mutate(0, 3, push(1))
	require.Equal(t, 2, bm.entries(), "[0,7) shares a stack and merges")
	requireTiles(t, bm)

	bm.mutate(7, 3, push(1))
	require.Equal(t, 1, bm.entries())
	requireTiles(t, bm)

	bm.mutate(4, 2, pop)
	require.Equal(t, 3, bm.entries())
	requireTiles(t, bm)
	require.Empty(t, bm.stackAt(5))
	require.Len(t, bm.stackAt(6), 1)
}

func TestBorrowMapSplitCopiesStack(t *testing.T) {
	bm := newBorrowMap(4)
	bm.mutate(0, 4, func(_ Range, s []Borrow) []Borrow { return append(s, Borrow{Edge: 1}) })
	bm.mutate(2, 2, func(_ Range, s []Borrow) []Borrow { return append(s, Borrow{Edge: 2}) })
	bm.mutate(0, 2, func(_ Range, s []Borrow) []Borrow { s[0].Edge = 9; return s })

	require.Equal(t, []Edge{9}, edgesOn(bm.stackAt(0)))
	require.Equal(t, []Edge{1, 2}, edgesOn(bm.stackAt(3)))
}

func TestBorrowMapEachClipsToQuery(t *testing.T) {
	bm := newBorrowMap(12)
	bm.mutate(4, 4, func(_ Range, s []Borrow) []Borrow { return append(s, Borrow{Edge: 7}) })

	var got []Range
	bm.each(2, 8, func(r Range, _ []Borrow) bool {
		got = append(got, r)
		return true
	})
	require.Equal(t, []Range{{2, 4}, {4, 8}, {8, 10}}, got)

	got = nil
	bm.each(5, 0, func(r Range, _ []Borrow) bool {
		got = append(got, r)
		return true
	})
	require.Empty(t, got)
}
