// Package trace drives a memory store from scripts of memory operations.
//
// A script is line oriented. Each line is one store call; '#' starts a
// comment. Query lines may end in "-> EXPECTED", which turns them into
// assertions checked during replay:
//
//	alloc x 8                  # one run of 8 bytes
//	alloc p : (u8, u32)        # runs from a type layout
//	ref e1 excl x.0            # push an exclusive borrow over all of run 0
//	ref e2 shared x[0..4]      # shared borrow over bytes 0..4 of run 0
//	canwrite e1 x -> false
//	kill e1 x -> e1 e2
package trace

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/chazu/stackmem/mem"
	"github.com/chazu/stackmem/ty"
)

// OpKind identifies a script operation.
type OpKind int

const (
	OpAlloc OpKind = iota
	OpFree
	OpWrite
	OpUninit
	OpCopy
	OpRead
	OpRef
	OpCopyRef
	OpUnref
	OpKill
	OpShared
	OpBelowShared
	OpCanRead
	OpCanWrite
	OpSize
	OpLive
)

var opNames = map[string]OpKind{
	"alloc":        OpAlloc,
	"free":         OpFree,
	"write":        OpWrite,
	"uninit":       OpUninit,
	"copy":         OpCopy,
	"read":         OpRead,
	"ref":          OpRef,
	"copyref":      OpCopyRef,
	"unref":        OpUnref,
	"kill":         OpKill,
	"shared":       OpShared,
	"below-shared": OpBelowShared,
	"canread":      OpCanRead,
	"canwrite":     OpCanWrite,
	"size":         OpSize,
	"live":         OpLive,
}

func (k OpKind) String() string {
	for name, kind := range opNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// queries are the operations that produce output worth asserting on.
var queries = map[OpKind]bool{
	OpRead: true, OpUnref: true, OpKill: true, OpShared: true, OpBelowShared: true,
	OpCanRead: true, OpCanWrite: true, OpSize: true, OpLive: true,
}

// PtrExpr is a pointer as written in a script: ALLOC, ALLOC.RUN,
// ALLOC[START..END] or ALLOC.RUN[START..END]. Without a range it addresses
// the whole run.
type PtrExpr struct {
	Alloc string
	Run   int
	Range mem.Range
	Whole bool
}

func (p PtrExpr) String() string {
	if p.Whole {
		return fmt.Sprintf("%s.%d", p.Alloc, p.Run)
	}
	return fmt.Sprintf("%s.%d[%d..%d]", p.Alloc, p.Run, p.Range.Start, p.Range.End)
}

var ptrPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(?:\.(\d+))?(?:\[(\d+)\.\.(\d+)\])?$`)

// ParsePtr parses the pointer syntax used in scripts.
func ParsePtr(s string) (PtrExpr, error) {
	m := ptrPattern.FindStringSubmatch(s)
	if m == nil {
		return PtrExpr{}, fmt.Errorf("malformed pointer %q", s)
	}
	p := PtrExpr{Alloc: m[1], Whole: m[3] == ""}
	if m[2] != "" {
		p.Run, _ = strconv.Atoi(m[2])
	}
	if !p.Whole {
		start, _ := strconv.Atoi(m[3])
		end, _ := strconv.Atoi(m[4])
		if end < start {
			return PtrExpr{}, fmt.Errorf("pointer %q ends before it starts", s)
		}
		p.Range = mem.Range{Start: start, End: end}
	}
	return p, nil
}

// Op is one parsed script line.
type Op struct {
	Line int
	Kind OpKind
	Text string

	Name   string // allocation name
	Sizes  []int
	Type   *ty.Ty
	Edge   string
	Source string // copyref: the edge copied from
	Borrow mem.BorrowKind
	Ptr    *PtrExpr
	Src    *PtrExpr // copy: the source pointer

	Expect    string
	HasExpect bool
}

// Script is a parsed sequence of operations.
type Script struct {
	Name string
	Ops  []Op
}

// ParseError reports a malformed script line.
type ParseError struct {
	Script string
	Line   int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("trace: %s:%d: %s", e.Script, e.Line, e.Msg)
}

// ParseString parses a script held in memory.
func ParseString(name, src string) (*Script, error) {
	return Parse(name, strings.NewReader(src))
}

// Parse reads a script.
func Parse(name string, r io.Reader) (*Script, error) {
	s := &Script{Name: name}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		op, err := parseLine(text)
		if err != nil {
			return nil, &ParseError{Script: name, Line: lineNo, Msg: err.Error()}
		}
		op.Line = lineNo
		op.Text = text
		s.Ops = append(s.Ops, op)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("trace: reading %s: %w", name, err)
	}
	return s, nil
}

func parseLine(text string) (Op, error) {
	var op Op
	left := text
	if i := strings.Index(text, "->"); i >= 0 {
		left = strings.TrimSpace(text[:i])
		op.Expect = normalize(text[i+2:])
		op.HasExpect = true
	}
	fields := strings.Fields(left)
	if len(fields) == 0 {
		return op, fmt.Errorf("expectation without an operation")
	}
	kind, ok := opNames[fields[0]]
	if !ok {
		return op, fmt.Errorf("unknown operation %q", fields[0])
	}
	op.Kind = kind
	if op.HasExpect && !queries[kind] {
		return op, fmt.Errorf("%s produces no output to expect", fields[0])
	}
	args := fields[1:]

	var err error
	switch kind {
	case OpAlloc:
		err = parseAlloc(&op, left, args)
	case OpFree, OpLive:
		err = wantArgs(args, 1)
		if err == nil {
			op.Name = args[0]
		}
	case OpWrite, OpUninit, OpRead, OpShared, OpBelowShared:
		if err = wantArgs(args, 1); err == nil {
			op.Ptr, err = parsePtrArg(args[0])
		}
	case OpCopy:
		if err = wantArgs(args, 2); err == nil {
			if op.Ptr, err = parsePtrArg(args[0]); err == nil {
				op.Src, err = parsePtrArg(args[1])
			}
		}
	case OpRef:
		if err = wantArgs(args, 3); err == nil {
			op.Edge = args[0]
			if op.Borrow, err = mem.ParseBorrowKind(args[1]); err == nil {
				op.Ptr, err = parsePtrArg(args[2])
			}
		}
	case OpCopyRef:
		if err = wantArgs(args, 3); err == nil {
			op.Edge, op.Source = args[0], args[1]
			op.Borrow, err = mem.ParseBorrowKind(args[2])
		}
	case OpUnref:
		if len(args) != 1 && len(args) != 2 {
			return op, fmt.Errorf("unref takes an edge and an optional pointer")
		}
		op.Edge = args[0]
		if len(args) == 2 {
			op.Ptr, err = parsePtrArg(args[1])
		}
	case OpKill, OpCanRead, OpCanWrite:
		if err = wantArgs(args, 2); err == nil {
			op.Edge = args[0]
			op.Ptr, err = parsePtrArg(args[1])
		}
	case OpSize:
		typeText := strings.TrimSpace(strings.TrimPrefix(left, fields[0]))
		op.Type, err = ty.Parse(typeText)
	}
	return op, err
}

func parseAlloc(op *Op, left string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("alloc needs a name")
	}
	op.Name = args[0]
	if len(args) >= 2 && args[1] == ":" {
		// the type may contain spaces; take everything after the colon
		typeText := left[strings.Index(left, ":")+1:]
		t, err := ty.Parse(strings.TrimSpace(typeText))
		if err != nil {
			return err
		}
		op.Type = t
		return nil
	}
	for _, a := range args[1:] {
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 {
			return fmt.Errorf("bad run size %q", a)
		}
		op.Sizes = append(op.Sizes, n)
	}
	return nil
}

func parsePtrArg(s string) (*PtrExpr, error) {
	p, err := ParsePtr(s)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func wantArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return nil
}

// normalize collapses whitespace so expectations compare by tokens.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
