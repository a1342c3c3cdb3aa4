package worker

import (
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// Job is one unit of work. ID is echoed back on the matching Result.
type Job[T any] struct {
	ID      int
	Payload T
}

// Result carries the processor output for one job. A panic inside the
// processor is reported as Err for that job only.
type Result[R any] struct {
	ID             int
	Value          R
	Err            error
	ProcessingTime time.Duration
}

// ProcessorFunc defines the work done for each payload
type ProcessorFunc[T, R any] func(payload T) (R, error)

// Options holds configuration for creating a new worker pool
type Options[T, R any] struct {
	Workers   int
	Processor ProcessorFunc[T, R]
	// Quiet suppresses the start/stop log lines, used for short-lived pools.
	Quiet bool
}

// Pool runs a fixed number of workers over a buffered job queue.
type Pool[T, R any] struct {
	jobs      chan Job[T]
	results   chan Result[R]
	workers   int
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	processor ProcessorFunc[T, R]
	quiet     bool
}

// New creates and starts a pool. Workers defaults to 5.
func New[T, R any](opts Options[T, R]) *Pool[T, R] {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}

	// do not block queueing new jobs, and results even if the workers are already busy jobs/results * 2
	pool := &Pool[T, R]{
		jobs:      make(chan Job[T], opts.Workers*2),
		results:   make(chan Result[R], opts.Workers*2),
		workers:   opts.Workers,
		shutdown:  make(chan struct{}),
		processor: opts.Processor,
		quiet:     opts.Quiet,
	}

	pool.start()
	return pool
}

// Workers returns the number of workers.
func (p *Pool[T, R]) Workers() int { return p.workers }

func (p *Pool[T, R]) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	if !p.quiet {
		log.Printf("🔧 Worker pool started with %d workers", p.workers)
	}
}

func (p *Pool[T, R]) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobs:
			result := p.processJob(job)
			select {
			case p.results <- result:
			case <-p.shutdown:
				return
			}

		case <-p.shutdown:
			return
		}
	}
}

func (p *Pool[T, R]) processJob(job Job[T]) (result Result[R]) {
	startTime := time.Now()
	result.ID = job.ID

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("worker: job %d panicked: %v\n%s", job.ID, r, debug.Stack())
		}
		result.ProcessingTime = time.Since(startTime)
	}()

	result.Value, result.Err = p.processor(job.Payload)
	return result
}

// SubmitJob queues a job, blocking while the queue is full.
func (p *Pool[T, R]) SubmitJob(job Job[T]) {
	select {
	case p.jobs <- job:
	default:
		if !p.quiet {
			log.Printf("⚠️  Worker pool jobs channel full, job may be delayed")
		}
		p.jobs <- job
	}
}

// GetResult retrieves a result from the worker pool (non-blocking)
func (p *Pool[T, R]) GetResult() (Result[R], bool) {
	select {
	case result := <-p.results:
		return result, true
	default:
		return Result[R]{}, false
	}
}

// WaitResult blocks until the next result is available.
func (p *Pool[T, R]) WaitResult() Result[R] {
	return <-p.results
}

// Map runs the processor over payloads and returns the results in input
// order, whatever order the workers finish in. It must not run concurrently
// with other submissions on the same pool.
func (p *Pool[T, R]) Map(payloads []T) []Result[R] {
	go func() {
		for i, payload := range payloads {
			p.SubmitJob(Job[T]{ID: i, Payload: payload})
		}
	}()

	out := make([]Result[R], len(payloads))
	for range payloads {
		r := p.WaitResult()
		out[r.ID] = r
	}
	return out
}

// Shutdown stops the workers and waits for them to exit. It is safe to call
// more than once.
func (p *Pool[T, R]) Shutdown() {
	p.closeOnce.Do(func() {
		if !p.quiet {
			log.Printf("🛑 Shutting down worker pool...")
		}
		close(p.shutdown)
		p.wg.Wait()
		if !p.quiet {
			log.Printf("✅ Worker pool shutdown complete")
		}
	})
}
