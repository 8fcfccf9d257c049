package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Submit after Close has been called.
var ErrPoolClosed = errors.New("synthesis pool closed")

// Job is one isolated unit of work. It receives the pool's context, not the
// submitter's, so an abandoned request does not cancel it.
type Job func(ctx context.Context) error

type task struct {
	job  Job
	done chan error
}

// Pool runs jobs on a fixed number of workers. Each job has a single terminal
// result delivered on the channel returned by Submit.
type Pool struct {
	tasks   chan task
	timeout time.Duration
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines. queue is the number of jobs that may wait
// for a free worker; timeout bounds each job (zero means no bound).
func NewPool(workers, queue int, timeout time.Duration, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:   make(chan task, queue),
		timeout: timeout,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues job. ctx only bounds the wait for a queue slot. The returned
// channel receives exactly one value and is buffered, so nobody has to read it.
func (p *Pool) Submit(ctx context.Context, job Job) (<-chan error, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	t := task{job: job, done: make(chan error, 1)}
	select {
	case p.tasks <- t:
		return t.done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued and running jobs to finish.
// If ctx expires first, running jobs are cancelled and ctx.Err is returned
// once they have returned.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-drained
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		t.done <- p.run(t.job)
	}
}

func (p *Pool) run(job Job) (err error) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("synthesis job panicked", slog.Any("panic", r))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}
