package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// requirePrecondition runs fn and fails unless it panics with a
// *PreconditionError raised by op.
func requirePrecondition(t *testing.T, op string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		perr, ok := r.(*PreconditionError)
		require.Truef(t, ok, "expected *PreconditionError panic, got %#v", r)
		require.Equal(t, op, perr.Op, perr.Error())
	}()
	fn()
}

// edgesOn returns the edges of a borrow stack, oldest first.
func edgesOn(stack []Borrow) []Edge {
	out := make([]Edge, len(stack))
	for i, b := range stack {
		out[i] = b.Edge
	}
	return out
}
