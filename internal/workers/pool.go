// Package workers provides the bounded pool that runs envelope fan-out off
// the relay receive loop, so one burst of bus traffic cannot spawn unbounded
// goroutines or stall the subscriber.
package workers

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is one unit of fan-out work.
type Task func()

// Pool is a fixed set of worker goroutines, each pulling from its own
// bounded queue. Submit routes by key, so tasks sharing a key run on the
// same worker in submission order; tasks with different keys run in
// parallel. When a queue is full, Submit drops the task and counts it
// instead of blocking the caller; the dropped envelope is still recoverable
// through history retrieval.
type Pool struct {
	queues       []chan Task
	ctx          context.Context
	wg           sync.WaitGroup
	droppedTasks int64
	logger       zerolog.Logger
}

// NewPool sizes one queue per worker; queueSize is the total capacity
// spread across them.
func NewPool(workerCount, queueSize int, logger zerolog.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	perWorker := queueSize / workerCount
	if perWorker < 1 {
		perWorker = 1
	}

	queues := make([]chan Task, workerCount)
	for i := range queues {
		queues[i] = make(chan Task, perWorker)
	}

	return &Pool{
		queues: queues,
		logger: logger.With().Str("component", "workers").Logger(),
	}
}

// Start launches the workers. Must be called before Submit.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for _, queue := range p.queues {
		p.wg.Add(1)
		go p.worker(queue)
	}
}

func (p *Pool) worker(queue chan Task) {
	defer p.wg.Done()

	for {
		select {
		case task := <-queue:
			if task == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						p.logger.Error().
							Interface("panic_value", r).
							Str("stack_trace", string(debug.Stack())).
							Msg("Worker panic recovered")
					}
				}()
				task()
			}()
		case <-p.ctx.Done():
			return
		}
	}
}

// Submit enqueues a task on the worker owning the key, dropping it when
// that worker's queue is full.
func (p *Pool) Submit(key int64, task Task) {
	queue := p.queues[int(uint64(key)%uint64(len(p.queues)))]
	select {
	case queue <- task:
	default:
		atomic.AddInt64(&p.droppedTasks, 1)
	}
}

// Stop waits for the workers to exit. Call after cancelling the context
// passed to Start.
func (p *Pool) Stop() {
	p.wg.Wait()
}

func (p *Pool) DroppedTasks() int64 {
	return atomic.LoadInt64(&p.droppedTasks)
}

func (p *Pool) QueueDepth() int {
	depth := 0
	for _, queue := range p.queues {
		depth += len(queue)
	}
	return depth
}
