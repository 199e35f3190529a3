// Package worker provides the asynchronous pool that drains store writes and
// broadcasts off the proxy's HTTP hot path.
//
// Jobs carry a flow key. Every job with the same key lands on the same
// worker's FIFO queue, so the persistence order for one captured request
// (insert, then update, then its events) is preserved while unrelated flows
// proceed in parallel.
package worker

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Job is a unit of work for the pool. Fn runs on the worker goroutine owning
// the job's key.
type Job struct {
	// Key routes the job. Jobs sharing a key execute in submission order.
	Key string

	// Name identifies the job in logs.
	Name string

	// Fn does the work. Errors are logged, not retried.
	Fn func(ctx context.Context) error
}

// Config is the configuration options for the worker pool.
type Config struct {
	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of each worker's buffered queue.
	QueueSize uint

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Pool executes jobs asynchronously, keyed FIFO per flow.
type Pool struct {
	queues []chan Job
	wg     sync.WaitGroup
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool and starts its worker goroutines.
func NewPool(c *Config) *Pool {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	p := &Pool{
		queues: make([]chan Job, c.NumWorkers),
		logger: c.Logger,
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range p.queues {
		p.queues[i] = make(chan Job, c.QueueSize)
		go p.worker(uint(i), p.queues[i])
	}

	return p
}

// Enqueue submits a job to the worker owning its key. Returns false if that
// worker's queue is full or the pool is closed; the job is dropped.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}

	queue := p.queues[p.workerFor(job.Key)]
	select {
	case queue <- job:
		return true
	default:
		p.logger.Error("queue full, job dropped",
			zap.String("job", job.Name),
			zap.String("key", job.Key),
		)
		return false
	}
}

// Close stops accepting jobs and waits for queued work to drain. Call during
// graceful shutdown after the proxy has stopped accepting flows.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, queue := range p.queues {
		close(queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// workerFor hashes the key onto a worker index.
func (p *Pool) workerFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *Pool) worker(id uint, queue chan Job) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for job := range queue {
		if err := job.Fn(context.Background()); err != nil {
			p.logger.Error("job failed",
				zap.String("job", job.Name),
				zap.String("key", job.Key),
				zap.Error(err),
			)
		}
	}

	p.logger.Debug("worker stopped", zap.Uint("worker_id", id))
}
