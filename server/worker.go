package server

import (
	"fmt"

	"github.com/chazu/stackmem/mem"
)

// memRequest represents a unit of work to be executed on the store goroutine.
type memRequest struct {
	fn   func(*mem.Memory) any
	done chan memResult
}

// memResult holds the return value from a store operation.
type memResult struct {
	value any
	err   error
}

// Worker serializes all store access through a single goroutine.
// The memory store is not safe for concurrent use; all Connect handlers
// must go through the worker.
type Worker struct {
	mem      *mem.Memory
	requests chan memRequest
	quit     chan struct{}
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(m *mem.Memory) *Worker {
	w := &Worker{
		mem:      m,
		requests: make(chan memRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the store, recovering from panics. A broken
// precondition comes back as the *mem.PreconditionError itself.
func (w *Worker) execute(fn func(*mem.Memory) any) memResult {
	var result memResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				switch r := r.(type) {
				case *mem.PreconditionError:
					result.err = r
				case error:
					result.err = fmt.Errorf("server: panic: %w", r)
				default:
					result.err = fmt.Errorf("server: panic: %v", r)
				}
			}
		}()
		result.value = fn(w.mem)
	}()
	return result
}

// Do submits a function for execution on the store goroutine and blocks
// until it completes. Returns the result and any error (including panics).
func (w *Worker) Do(fn func(*mem.Memory) any) (any, error) {
	req := memRequest{
		fn:   fn,
		done: make(chan memResult, 1),
	}
	w.requests <- req
	result := <-req.done
	return result.value, result.err
}

// Stop shuts down the worker goroutine.
func (w *Worker) Stop() {
	close(w.quit)
}
