package worker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Runner executes one task's work synchronously given its descriptor,
// returning the terminal result. It is the seam where an external
// collaborator (LLM sub-session transport) plugs in; the in-process pool
// itself knows nothing about prompts or providers.
type Runner func(ctx context.Context, descriptor Descriptor) (Result, error)

// InProcessPool is a reference Worker Pool that runs each launched task
// on its own goroutine, supervised by a per-launch errgroup the same way
// the teacher's parallel workflow agent fans sub-agents out and collects
// results — adapted from a blocking iterator into a launch/poll/cancel
// surface so it can serve the Stage Scheduler's cooperative dispatch
// loop. The pool itself puts no limit on how many tasks run at once.
type InProcessPool struct {
	run Runner

	mu      sync.Mutex
	tasks   map[Handle]*inflight
	counter int
}

type inflight struct {
	cancel context.CancelFunc
	done   chan struct{}
	result Result
	err    error
	status HandleStatus
}

// NewInProcessPool creates a pool that executes every launched task via
// run.
func NewInProcessPool(run Runner) *InProcessPool {
	return &InProcessPool{run: run, tasks: map[Handle]*inflight{}}
}

func (p *InProcessPool) Launch(descriptor Descriptor) (Handle, error) {
	p.mu.Lock()
	p.counter++
	handle := Handle(fmt.Sprintf("h%d", p.counter))
	ctx, cancel := context.WithCancel(context.Background())
	inf := &inflight{cancel: cancel, done: make(chan struct{}), status: HandleRunning}
	p.tasks[handle] = inf
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(inf.done)
		result, err := p.run(gctx, descriptor)

		p.mu.Lock()
		defer p.mu.Unlock()
		inf.result = result
		if err != nil {
			inf.err = err
			inf.status = HandleError
			return err
		}
		inf.status = result.Status
		return nil
	})

	return handle, nil
}

func (p *InProcessPool) Poll(handle Handle) (PollResult, error) {
	p.mu.Lock()
	inf, ok := p.tasks[handle]
	p.mu.Unlock()
	if !ok {
		return PollResult{}, fmt.Errorf("unknown handle %q", handle)
	}

	select {
	case <-inf.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		if inf.err != nil && inf.status != HandleCancelled {
			return PollResult{Status: HandleError, Error: inf.err}, nil
		}
		res := inf.result
		return PollResult{Status: inf.status, Result: &res}, nil
	default:
		return PollResult{Status: HandleRunning}, nil
	}
}

func (p *InProcessPool) Cancel(handle Handle) error {
	p.mu.Lock()
	inf, ok := p.tasks[handle]
	if ok {
		inf.status = HandleCancelled
	}
	p.mu.Unlock()
	if !ok {
		return nil // idempotent: cancelling an unknown/already-gone handle is a no-op
	}
	inf.cancel()
	return nil
}

// Tick is a no-op placeholder honoring the Pool contract: the in-process
// pool has no real resource to release beyond the cancel func, and
// finished handles stay in the pool's map.
func (p *InProcessPool) Tick(_ TickConfig) {}
