package mem

import "fmt"

// PreconditionError is the panic value raised when a caller breaks one of
// the store's preconditions: touching a dead allocation, addressing bytes
// outside a run, copying between ranges of different lengths, or deriving an
// edge from itself. These are driver bugs; the store's state is not
// guaranteed to be meaningful afterwards.
type PreconditionError struct {
	Op  string
	Msg string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("mem: %s: %s", e.Op, e.Msg)
}

func fatalf(op, format string, args ...any) {
	panic(&PreconditionError{Op: op, Msg: fmt.Sprintf(format, args...)})
}
