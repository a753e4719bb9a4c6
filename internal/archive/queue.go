package archive

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/voice-archive-service/internal/metrics"
)

var (
	// ErrQueueFull is returned when the job buffer has no free slot
	ErrQueueFull = errors.New("archive queue is full")

	// ErrStopped is returned for submissions after Stop
	ErrStopped = errors.New("archive queue is stopped")
)

// Processor runs one archival job
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// QueueConfig sizes the worker pool
type QueueConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Queue is a bounded pool of archival workers. Submit never blocks.
type Queue struct {
	config    QueueConfig
	processor Processor
	logger    *slog.Logger
	metrics   *metrics.Metrics

	jobs chan Job
	wg   sync.WaitGroup

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool

	statsMu sync.RWMutex
	stats   QueueStats
}

// QueueStats counts queue activity
type QueueStats struct {
	Submitted int64 `json:"submitted"`
	Rejected  int64 `json:"rejected"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	InFlight  int64 `json:"in_flight"`
	Pending   int   `json:"pending"`
}

// NewQueue starts config.Workers goroutines feeding jobs to processor
func NewQueue(config QueueConfig, processor Processor, logger *slog.Logger, m *metrics.Metrics) *Queue {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 10 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		config:    config,
		processor: processor,
		logger:    logger,
		metrics:   m,
		jobs:      make(chan Job, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < config.Workers; i++ {
		q.wg.Add(1)
		go q.run(i)
	}

	logger.Info("Archive queue started",
		slog.Int("workers", config.Workers),
		slog.Int("queue_size", config.QueueSize),
	)

	return q
}

// Submit enqueues a job without waiting for a worker
func (q *Queue) Submit(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		q.metrics.RecordArchiveSubmitted(false)
		q.incrementRejected()
		return ErrStopped
	}

	select {
	case q.jobs <- job:
		q.metrics.RecordArchiveSubmitted(true)
		q.metrics.SetArchiveQueueDepth(len(q.jobs))
		q.incrementSubmitted()
		q.logger.Debug("Archival job queued",
			slog.String("job_id", job.ID),
			slog.String("user_id", job.Snapshot.UserID),
		)
		return nil
	default:
		q.metrics.RecordArchiveSubmitted(false)
		q.incrementRejected()
		q.logger.Warn("Archive queue full, dropping job",
			slog.String("job_id", job.ID),
			slog.String("user_id", job.Snapshot.UserID),
		)
		return ErrQueueFull
	}
}

// Stop refuses new jobs and waits for queued ones to finish. When ctx ends
// first, in-flight jobs are cancelled and ctx.Err() is returned.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.logger.Info("Archive queue drained")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		q.logger.Warn("Archive queue drain deadline exceeded",
			slog.String("error", ctx.Err().Error()),
		)
		return ctx.Err()
	}
}

func (q *Queue) run(id int) {
	defer q.wg.Done()

	for job := range q.jobs {
		q.metrics.SetArchiveQueueDepth(len(q.jobs))
		q.process(id, job)
	}
}

func (q *Queue) process(id int, job Job) {
	q.updateInFlight(1)
	defer q.updateInFlight(-1)

	defer func() {
		if r := recover(); r != nil {
			q.incrementFailed()
			q.logger.Error("Archival job panicked",
				slog.Int("worker", id),
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(q.ctx, q.config.JobTimeout)
	defer cancel()

	result := q.processor.Process(ctx, job)
	if result.Outcome() == OutcomeFailed {
		q.incrementFailed()
	} else {
		q.incrementCompleted()
	}
}

func (q *Queue) incrementSubmitted() {
	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	q.stats.Submitted++
}

func (q *Queue) incrementRejected() {
	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	q.stats.Rejected++
}

func (q *Queue) incrementCompleted() {
	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	q.stats.Completed++
}

func (q *Queue) incrementFailed() {
	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	q.stats.Failed++
}

func (q *Queue) updateInFlight(delta int64) {
	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	q.stats.InFlight += delta
}

// GetStats returns a snapshot of queue counters
func (q *Queue) GetStats() QueueStats {
	q.statsMu.RLock()
	stats := q.stats
	q.statsMu.RUnlock()

	stats.Pending = len(q.jobs)
	return stats
}
