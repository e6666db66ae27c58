package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/pipeline"
)

// ErrClosed is returned by Enqueue after Shutdown.
var ErrClosed = errors.New("queue is shutting down")

// Processor is the part of the orchestrator the queue drives.
type Processor interface {
	Process(ctx context.Context, id uuid.UUID, target int) (pipeline.Result, error)
}

type ProcessorQueue struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// closeMu is held for reading by senders and for writing by Shutdown,
	// so the channel is never closed under a blocked send.
	closeMu sync.RWMutex
	closed  bool

	mu      sync.Mutex
	pending map[uuid.UUID]struct{}
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(proc Processor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 15 * time.Minute,
		ch:      make(chan Job, 256),
		pending: make(map[uuid.UUID]struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("queue.worker.start", "worker_id", workerID)

				for job := range q.ch {
					q.run(workerID, job)
				}

				q.logger.Info("queue.worker.stop", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job Job) {
	defer q.release(job.DocumentID)

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if job.TraceID != "" {
		ctx = common.WithRequestID(ctx, job.TraceID)
	}

	start := time.Now()
	res, err := q.proc.Process(ctx, job.DocumentID, job.Target)
	if err != nil {
		q.logger.Error("queue.job.error",
			"worker_id", workerID, "document_id", job.DocumentID,
			"failed_stage", res.Failed.String(), "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	q.logger.Info("queue.job.ok",
		"worker_id", workerID, "document_id", job.DocumentID,
		"level", res.Level, "ran", len(res.Ran),
		"wait_ms", start.Sub(job.SubmittedAt).Milliseconds(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}

func (q *ProcessorQueue) claim(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[id]; ok {
		return false
	}
	q.pending[id] = struct{}{}
	return true
}

func (q *ProcessorQueue) release(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, id)
}

// Pending is the number of documents queued or in flight.
func (q *ProcessorQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Enqueue blocks while the buffer is full, until ctx ends.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) (bool, error) {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return false, ErrClosed
	}
	if !q.claim(job.DocumentID) {
		q.logger.Debug("queue.enqueue.duplicate", "document_id", job.DocumentID)
		return false, nil
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	select {
	case q.ch <- job:
		q.logger.Debug("queue.enqueue.ok", "document_id", job.DocumentID, "target", job.Target)
		return true, nil
	default:
		q.logger.Warn("queue.enqueue.backpressure", "document_id", job.DocumentID)
	}
	select {
	case q.ch <- job:
		return true, nil
	case <-ctx.Done():
		q.release(job.DocumentID)
		return false, ctx.Err()
	}
}

func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.closeMu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.done")
	}
}
