package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// DefaultWorkers is the worker count of a pool created with size <= 0.
const DefaultWorkers = 4

// Pool errors.
var (
	ErrPoolClosed = errors.New("worker pool closed")
	ErrPoolBusy   = errors.New("worker pool busy")
)

type task struct {
	fn   func()
	done chan struct{}
}

// WorkerPool runs submitted functions on a fixed set of goroutines fed by a
// bounded queue.
type WorkerPool struct {
	logger *slog.Logger
	tasks  chan task
	// quit is closed by Close to release submitters blocked on a full queue.
	quit    chan struct{}
	wg      sync.WaitGroup
	senders sync.WaitGroup
	mu      sync.Mutex
	size    int
	closed  bool
}

// NewWorkerPool starts size workers sharing a queue of queueLen pending
// tasks. size <= 0 selects DefaultWorkers; queueLen < 0 is treated as 0.
func NewWorkerPool(size, queueLen int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = DefaultWorkers
	}

	if queueLen < 0 {
		queueLen = 0
	}

	if logger == nil {
		logger = slog.Default()
	}

	p := &WorkerPool{logger: logger, tasks: make(chan task, queueLen), quit: make(chan struct{}), size: size}

	p.wg.Add(size)

	for id := range size {
		go p.worker(id)
	}

	return p
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int {
	return p.size
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for t := range p.tasks {
		p.run(id, t)
	}

	p.logger.Debug("worker stopped", "worker", id)
}

func (p *WorkerPool) run(id int, t task) {
	defer close(t.done)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "worker", id, "panic", r)
		}
	}()

	t.fn()
}

// Submit queues fn and returns a channel closed once fn has finished. It
// blocks while the queue is full and gives up with ErrPoolBusy when ctx is
// done first, or with ErrPoolClosed when the pool is closed meanwhile.
func (p *WorkerPool) Submit(ctx context.Context, fn func()) (<-chan struct{}, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return nil, ErrPoolClosed
	}

	p.senders.Add(1)
	p.mu.Unlock()

	defer p.senders.Done()

	t := task{fn: fn, done: make(chan struct{})}

	select {
	case p.tasks <- t:
		return t.done, nil
	case <-p.quit:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrPoolBusy, ctx.Err())
	}
}

// Close stops accepting work, lets the workers drain the queue and waits
// for them to exit. It is safe to call more than once.
func (p *WorkerPool) Close() {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return
	}

	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	p.senders.Wait()
	close(p.tasks)

	p.wg.Wait()
}

// Middleware serves every request on a pool worker. A request that cannot
// be queued before its context ends, or arrives after Close, gets 503.
func (p *WorkerPool) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		done, err := p.Submit(hr.Context(), func() { next.ServeHTTP(rw, hr) })
		if err != nil {
			p.logger.WarnContext(hr.Context(), "request rejected", "path", hr.URL.Path, "error", err)
			http.Error(rw, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)

			return
		}

		<-done
	})
}
