package lamportid

import (
	"context"
	"sync"
)

type opKind int

const (
	opCurrent opKind = iota
	opIssue
	opSeed
)

type request struct {
	op    opKind
	start int64
	reply chan response
}

type response struct {
	value   int64
	created bool
	err     error
}

// MemoryAllocator owns the counter in a single goroutine. Callers reach it
// over a channel, so no two requests ever observe the counter concurrently.
type MemoryAllocator struct {
	reqs      chan request
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	opts      options
}

// NewMemory starts the owning goroutine. The counter is unseeded until Seed.
func NewMemory(opts ...Option) *MemoryAllocator {
	a := &MemoryAllocator{
		reqs:    make(chan request),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		opts:    buildOptions(opts),
	}
	go a.run()
	return a
}

func (a *MemoryAllocator) run() {
	defer close(a.stopped)
	var (
		value       int64
		initialized bool
	)
	for {
		select {
		case <-a.done:
			return
		case req := <-a.reqs:
			var resp response
			switch req.op {
			case opCurrent:
				if !initialized {
					resp.err = ErrNotInitialized
				} else {
					resp.value = value
				}
			case opIssue:
				if !initialized {
					resp.err = ErrNotInitialized
				} else {
					resp.value = value
					value++
				}
			case opSeed:
				if !initialized {
					value = req.start
					initialized = true
					resp.created = true
				}
			}
			req.reply <- resp
		}
	}
}

func (a *MemoryAllocator) do(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)
	select {
	case a.reqs <- req:
	case <-a.done:
		return response{}, ErrClosed
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	// The owner always replies once it accepted the request.
	resp := <-req.reply
	return resp, resp.err
}

func (a *MemoryAllocator) Current(ctx context.Context) (int64, error) {
	resp, err := a.do(ctx, request{op: opCurrent})
	if err != nil {
		return 0, err
	}
	return resp.value, nil
}

func (a *MemoryAllocator) IssueAndIncrement(ctx context.Context) (int64, error) {
	resp, err := a.do(ctx, request{op: opIssue})
	if err != nil {
		return 0, err
	}
	a.opts.metrics.IncIssued()
	return resp.value, nil
}

func (a *MemoryAllocator) Seed(ctx context.Context, start int64) (bool, error) {
	if start < 0 {
		return false, ErrInvalidSeed
	}
	resp, err := a.do(ctx, request{op: opSeed, start: start})
	if err != nil {
		return false, err
	}
	return resp.created, nil
}

// Close stops the owner goroutine. Requests waiting to be accepted fail with
// ErrClosed.
func (a *MemoryAllocator) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
	})
	<-a.stopped
}
