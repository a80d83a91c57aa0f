// Package async runs pipeline jobs on a bounded worker pool. A full queue
// applies backpressure to the producer rather than dropping documents.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/pipeline"
)

// Job is one queued document.
type Job struct {
	SourceRef   string
	Doc         []byte
	Provider    string
	ServiceType constants.ServiceType
}

// ResultFunc observes every finished job. res is nil when the run was
// rejected.
type ResultFunc func(job Job, res *pipeline.Result, err error)

type ParseQueue struct {
	pipe    *pipeline.Pipeline
	logger  *slog.Logger
	workers int
	timeout time.Duration
	onDone  ResultFunc

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*ParseQueue)

func WithWorkers(n int) Option {
	return func(q *ParseQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ParseQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithJobTimeout(d time.Duration) Option {
	return func(q *ParseQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithResultFunc registers a completion observer, e.g. batch tallying.
func WithResultFunc(fn ResultFunc) Option {
	return func(q *ParseQueue) { q.onDone = fn }
}

func NewParseQueue(pipe *pipeline.Pipeline, logger *slog.Logger, opts ...Option) *ParseQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ParseQueue{
		pipe:    pipe,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ParseQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					res, err := q.pipe.Parse(ctx, job.Doc, pipeline.Hint{
						Provider:    job.Provider,
						ServiceType: job.ServiceType,
						SourceRef:   job.SourceRef,
					})
					cancel()

					var rej *pipeline.Rejection
					switch {
					case err == nil:
						q.logger.Info("parsed document", "worker_id", workerID,
							"source_ref", job.SourceRef, "status", res.Status)
					case errors.As(err, &rej):
						q.logger.Warn("document rejected", "worker_id", workerID,
							"source_ref", job.SourceRef, "stage", rej.Stage, "error", err)
					default:
						q.logger.Error("parse failed", "worker_id", workerID,
							"source_ref", job.SourceRef, "error", err)
					}
					if q.onDone != nil {
						q.onDone(job, res, err)
					}
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Enqueue hands a job to the pool, blocking when the queue is full.
func (q *ParseQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "source_ref", job.SourceRef)
		return errors.New("queue is shut down")
	}
	select {
	case q.ch <- job:
		q.logger.Info("queued document", "source_ref", job.SourceRef, "provider", job.Provider)
	default:
		q.logger.Warn("queue full, applying backpressure", "source_ref", job.SourceRef)
		q.ch <- job
	}
	return nil
}

// Shutdown stops intake and waits for in-flight jobs, bounded by ctx.
func (q *ParseQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
