package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"appraisal-backend/internal/domain/events"
	"appraisal-backend/internal/infrastructure/observability"
)

const (
	defaultWorkers        = 8
	defaultHandlerTimeout = 30 * time.Second
)

// invocation is a single handler call queued for execution by the pool.
type invocation struct {
	handler events.Handler
	event   events.Event
}

// workerPool executes handler invocations on a fixed set of workers.
// Each invocation runs under its own deadline; a handler that ignores
// its context is abandoned when the deadline passes so a stuck handler
// can never wedge a worker indefinitely.
type workerPool struct {
	tasks   chan invocation
	workers int
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool

	logger  *zap.Logger
	metrics *observability.Collector
}

func newWorkerPool(workers, queueSize int, timeout time.Duration, logger *zap.Logger, metrics *observability.Collector) *workerPool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &workerPool{
		tasks:   make(chan invocation, queueSize),
		workers: workers,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
	}
}

// Start launches the workers. Calling Start on a running pool is a no-op.
func (p *workerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.running = true
}

// Submit queues an invocation for execution. It blocks while the queue is
// full so a burst of events applies backpressure to the dispatch loops
// instead of spawning unbounded goroutines. It returns an error once the
// pool is shutting down.
func (p *workerPool) Submit(inv invocation) error {
	p.mu.RLock()
	if !p.running {
		p.mu.RUnlock()
		return fmt.Errorf("worker pool is not running")
	}
	// Hold the read lock through the send so Stop cannot close the queue
	// between the running check and the send.
	defer p.mu.RUnlock()

	select {
	case p.tasks <- inv:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Stop shuts the pool down and waits for the workers to exit. Invocations
// still sitting in the queue are discarded.
func (p *workerPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *workerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case inv, ok := <-p.tasks:
			if !ok {
				return
			}
			p.invoke(inv)
		}
	}
}

// invoke runs a single handler with panic isolation and a hard deadline.
// The handler runs on its own goroutine; if it has not returned when the
// deadline passes, the worker records a timeout and moves on, leaving the
// handler goroutine to finish (or leak) on its own.
func (p *workerPool) invoke(inv invocation) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	name := inv.handler.Name()
	start := time.Now()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		done <- inv.handler.Handle(ctx, inv.event)
	}()

	select {
	case err := <-done:
		duration := time.Since(start)
		p.metrics.RecordHandlerDuration(name, duration)
		if err != nil {
			p.metrics.RecordHandlerFailure(name, "error")
			p.logger.Error("event handler failed",
				zap.String("handler", name),
				zap.String("eventType", string(inv.event.Type)),
				zap.String("eventID", inv.event.ID),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
			return
		}
		p.logger.Debug("event handler completed",
			zap.String("handler", name),
			zap.String("eventType", string(inv.event.Type)),
			zap.Duration("duration", duration),
		)

	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			p.metrics.RecordHandlerFailure(name, "timeout")
			p.logger.Warn("event handler abandoned after timeout",
				zap.String("handler", name),
				zap.String("eventType", string(inv.event.Type)),
				zap.String("eventID", inv.event.ID),
				zap.Duration("timeout", p.timeout),
			)
			return
		}
		// Pool shutdown while the handler was still running.
		p.metrics.RecordHandlerFailure(name, "canceled")
		p.logger.Warn("event handler abandoned during shutdown",
			zap.String("handler", name),
			zap.String("eventType", string(inv.event.Type)),
		)
	}
}
