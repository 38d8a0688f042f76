package trace

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/stackmem/mem"
	"github.com/chazu/stackmem/ty"
)

// Event is the outcome of one replayed operation.
type Event struct {
	Seq    int
	Line   int
	Op     string
	Output string
	// Denied is set when a canread/canwrite check fails: the modeled program
	// performed an access the aliasing rules forbid.
	Denied bool
}

// Recorder receives every event of a replay, in order.
type Recorder interface {
	Record(ev Event) error
}

// Result summarizes a replay.
type Result struct {
	Script string
	Events []Event
	Denied int
}

// ExpectationError reports a query whose output differs from its "-> ..."
// expectation.
type ExpectationError struct {
	Script string
	Line   int
	Op     string
	Want   string
	Got    string
}

func (e *ExpectationError) Error() string {
	return fmt.Sprintf("trace: %s:%d: %s: expected %q, got %q", e.Script, e.Line, e.Op, e.Want, e.Got)
}

// FatalError reports an operation that broke one of the store's
// preconditions. The replay stops at that line.
type FatalError struct {
	Script string
	Line   int
	Op     string
	Err    *mem.PreconditionError
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("trace: %s:%d: %s: %v", e.Script, e.Line, e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Replayer applies scripts to a memory store. Allocation and edge names are
// bound on first use and persist across scripts replayed by the same
// Replayer.
type Replayer struct {
	mem             *mem.Memory
	recorder        Recorder
	checkInvariants bool
	log             commonlog.Logger

	allocs    map[string]mem.AllocID
	edges     map[string]mem.Edge
	edgeNames []string
	seq       int
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithMemory replays against m instead of a fresh store.
func WithMemory(m *mem.Memory) Option {
	return func(r *Replayer) { r.mem = m }
}

// WithRecorder sends every event to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Replayer) { r.recorder = rec }
}

// WithInvariantChecks verifies the store's reverse index after every
// operation. This scans all memory and is meant for debugging.
func WithInvariantChecks(on bool) Option {
	return func(r *Replayer) { r.checkInvariants = on }
}

// NewReplayer creates a Replayer. Without WithMemory it owns a fresh store
// with the default pointer width.
func NewReplayer(opts ...Option) *Replayer {
	r := &Replayer{
		allocs: make(map[string]mem.AllocID),
		edges:  make(map[string]mem.Edge),
		log:    commonlog.GetLogger("stackmem.trace"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.mem == nil {
		r.mem = mem.New()
	}
	return r
}

// SetRecorder replaces the recorder used by later replays. A nil rec stops
// recording.
func (r *Replayer) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// Memory returns the store being driven.
func (r *Replayer) Memory() *mem.Memory {
	return r.mem
}

// Edge returns the edge bound to name, binding a fresh one if needed. Edges
// are numbered in order of first use, so their order matches the script.
func (r *Replayer) Edge(name string) mem.Edge {
	if e, ok := r.edges[name]; ok {
		return e
	}
	e := mem.Edge(len(r.edgeNames) + 1)
	r.edges[name] = e
	r.edgeNames = append(r.edgeNames, name)
	return e
}

// EdgeName returns the script name of e.
func (r *Replayer) EdgeName(e mem.Edge) string {
	if i := int(e) - 1; i >= 0 && i < len(r.edgeNames) {
		return r.edgeNames[i]
	}
	return "#" + strconv.Itoa(int(e))
}

// Alloc returns the allocation bound to name.
func (r *Replayer) Alloc(name string) (mem.AllocID, bool) {
	id, ok := r.allocs[name]
	return id, ok
}

// Replay runs every operation of s in order. It stops at the first failed
// expectation, precondition violation, or cancellation of ctx.
func (r *Replayer) Replay(ctx context.Context, s *Script) (*Result, error) {
	res := &Result{Script: s.Name}
	for _, op := range s.Ops {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, denied, err := r.apply(op)
		if err != nil {
			var perr *mem.PreconditionError
			if errors.As(err, &perr) {
				err = &FatalError{Script: s.Name, Line: op.Line, Op: op.Text, Err: perr}
			} else {
				err = fmt.Errorf("trace: %s:%d: %w", s.Name, op.Line, err)
			}
			r.log.Errorf("%v", err)
			return res, err
		}

		r.seq++
		ev := Event{Seq: r.seq, Line: op.Line, Op: op.Text, Output: out, Denied: denied}
		res.Events = append(res.Events, ev)
		if denied {
			res.Denied++
			r.log.Infof("%s:%d: denied: %s", s.Name, op.Line, op.Text)
		} else {
			r.log.Debugf("%s:%d: %s -> %s", s.Name, op.Line, op.Text, out)
		}
		if r.recorder != nil {
			if err := r.recorder.Record(ev); err != nil {
				return res, fmt.Errorf("trace: recording %s:%d: %w", s.Name, op.Line, err)
			}
		}

		if op.HasExpect && op.Expect != out {
			return res, &ExpectationError{Script: s.Name, Line: op.Line, Op: op.Text, Want: op.Expect, Got: out}
		}
		if r.checkInvariants {
			if err := r.mem.CheckConsistency(); err != nil {
				return res, fmt.Errorf("trace: %s:%d: %w", s.Name, op.Line, err)
			}
		}
	}
	return res, nil
}

// apply performs one operation, converting a precondition panic into an
// error.
func (r *Replayer) apply(op Op) (out string, denied bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			perr, ok := rec.(*mem.PreconditionError)
			if !ok {
				panic(rec)
			}
			err = perr
		}
	}()

	m := r.mem
	switch op.Kind {
	case OpAlloc:
		if id, ok := r.allocs[op.Name]; ok && m.IsLive(id) {
			return "", false, fmt.Errorf("allocation %q is still live", op.Name)
		}
		sizes := op.Sizes
		if op.Type != nil {
			sizes = ty.Runs(op.Type, m.PointerSize())
		}
		id, _ := m.Allocate(sizes...)
		r.allocs[op.Name] = id
		return "", false, nil

	case OpFree:
		id, err := r.lookupAlloc(op.Name)
		if err != nil {
			return "", false, err
		}
		m.Deallocate(id)
		return "", false, nil

	case OpLive:
		id, err := r.lookupAlloc(op.Name)
		if err != nil {
			return "", false, err
		}
		return strconv.FormatBool(m.IsLive(id)), false, nil

	case OpSize:
		if n, ok := m.TySize(op.Type); ok {
			return strconv.Itoa(n), false, nil
		}
		return "none", false, nil

	case OpCopyRef:
		m.CopyRef(r.Edge(op.Edge), r.Edge(op.Source), op.Borrow)
		return "", false, nil
	}

	if op.Kind == OpUnref && op.Ptr == nil {
		m.RemoveRef(r.Edge(op.Edge))
		return "dead", false, nil
	}

	p, err := r.resolve(*op.Ptr)
	if err != nil {
		return "", false, err
	}
	switch op.Kind {
	case OpWrite:
		m.Fill(p, mem.Init)
	case OpUninit:
		m.Fill(p, mem.Uninit)
	case OpCopy:
		src, err := r.resolve(*op.Src)
		if err != nil {
			return "", false, err
		}
		m.Copy(p, src)
	case OpRead:
		return formatBytes(m.Read(p)), false, nil
	case OpRef:
		m.AddRef(p, op.Borrow, r.Edge(op.Edge))
	case OpUnref:
		if m.RemoveRefRunPtr(r.Edge(op.Edge), p) {
			return "dead", false, nil
		}
		return "covered", false, nil
	case OpKill:
		return r.formatEdges(m.RemoveRefBelow(r.Edge(op.Edge), p)), false, nil
	case OpShared:
		if e, ok := m.FirstShared(p); ok {
			return r.EdgeName(e), false, nil
		}
		return "none", false, nil
	case OpBelowShared:
		return r.formatEdges(m.BorrowsBelowFirstShared(p)), false, nil
	case OpCanRead:
		ok := m.CanReadThrough(p, r.Edge(op.Edge))
		return strconv.FormatBool(ok), !ok, nil
	case OpCanWrite:
		ok := m.CanWriteThrough(p, r.Edge(op.Edge))
		return strconv.FormatBool(ok), !ok, nil
	}
	return "", false, nil
}

func (r *Replayer) lookupAlloc(name string) (mem.AllocID, error) {
	id, ok := r.allocs[name]
	if !ok {
		return 0, fmt.Errorf("unknown allocation %q", name)
	}
	return id, nil
}

// resolve turns a script pointer into a RunPointer. Range bounds are left to
// the store to check.
func (r *Replayer) resolve(p PtrExpr) (mem.RunPointer, error) {
	id, err := r.lookupAlloc(p.Alloc)
	if err != nil {
		return mem.RunPointer{}, err
	}
	if p.Whole {
		runs := r.mem.RunsAndSizes(id)
		if p.Run >= len(runs) {
			return mem.RunPointer{}, fmt.Errorf("%s has %d runs", p.Alloc, len(runs))
		}
		return runs[p.Run], nil
	}
	return mem.FromRange(p.Range, id, mem.RunID(p.Run)), nil
}

func (r *Replayer) formatEdges(edges []mem.Edge) string {
	if len(edges) == 0 {
		return "none"
	}
	names := make([]string, len(edges))
	for i, e := range edges {
		names[i] = r.EdgeName(e)
	}
	return strings.Join(names, " ")
}

func formatBytes(bs []mem.AbstractByte) string {
	if len(bs) == 0 {
		return "none"
	}
	parts := make([]string, len(bs))
	for i, b := range bs {
		parts[i] = b.String()
	}
	return strings.Join(parts, " ")
}
