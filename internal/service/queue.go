package service

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/oazlabs/photoflow/internal/domain"
	"github.com/oazlabs/photoflow/internal/logger"
	"github.com/oazlabs/photoflow/internal/repository"
)

// QueueManager serializes batch processing. Studios upload several batches
// in one afternoon; the queue runs them with bounded concurrency instead of
// multiplying worker pools. Enqueue never blocks the HTTP handler.
type QueueManager struct {
	coordinator *Coordinator
	batches     *repository.BatchRepository
	logger      *logger.Logger

	pending chan string

	mu       sync.Mutex
	enqueued map[string]bool

	concurrency int
}

// NewQueueManager creates a new queue manager.
// Parameters:
//   - coordinator: batch coordinator that does the actual processing.
//   - batches: batch repository, used to find interrupted batches.
//   - log: structured logger.
//   - concurrency: batches processed simultaneously (min 1).
//   - capacity: queue depth before Enqueue starts rejecting.
// Returns:
//   - *QueueManager: initialized queue manager.
func NewQueueManager(coordinator *Coordinator, batches *repository.BatchRepository, log *logger.Logger, concurrency, capacity int) *QueueManager {
	if concurrency < 1 {
		concurrency = 1
	}
	if capacity < 1 {
		capacity = 64
	}
	return &QueueManager{
		coordinator: coordinator,
		batches:     batches,
		logger:      log,
		pending:     make(chan string, capacity),
		enqueued:    make(map[string]bool),
		concurrency: concurrency,
	}
}

// Enqueue submits a batch for processing. Duplicate submissions while the
// batch is still queued or running are collapsed into one.
// Parameters:
//   - batchID: batch to process.
// Returns:
//   - error: non-nil if the queue is full.
func (q *QueueManager) Enqueue(batchID string) error {
	q.mu.Lock()
	if q.enqueued[batchID] {
		q.mu.Unlock()
		return nil
	}
	q.enqueued[batchID] = true
	q.mu.Unlock()

	select {
	case q.pending <- batchID:
		return nil
	default:
		q.mu.Lock()
		delete(q.enqueued, batchID)
		q.mu.Unlock()
		return fmt.Errorf("processing queue is full")
	}
}

// Run dispatches queued batches until the context is cancelled. Blocks;
// callers run it in a goroutine. One batch's failure never stops the
// dispatcher: the error lands on the batch's own records, and the queue
// keeps serving the others.
// Parameters:
//   - ctx: context governing the dispatcher lifetime.
// Returns:
//   - error: nil, after the dispatcher stops and running batches finish.
func (q *QueueManager) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(q.concurrency)

	q.logger.WithField("concurrency", q.concurrency).Info("Queue manager started")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case batchID := <-q.pending:
			g.Go(func() error {
				defer func() {
					q.mu.Lock()
					delete(q.enqueued, batchID)
					q.mu.Unlock()
				}()

				if err := q.coordinator.ProcessBatch(ctx, batchID); err != nil {
					q.logger.WithField(logger.FieldBatchID, batchID).
						WithError(err).Error("Batch processing failed")
				}
				return nil
			})
		}
	}

	return g.Wait()
}

// ResumeInterrupted re-enqueues batches left in processing by a previous
// run. Called once at startup, after the watchdog released their claims.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int: batches re-enqueued.
//   - error: non-nil if the listing fails.
func (q *QueueManager) ResumeInterrupted(ctx context.Context) (int, error) {
	stuck, err := q.batches.ListByState(ctx, domain.BatchStateProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to list interrupted batches: %w", err)
	}

	resumed := 0
	for i := range stuck {
		if stuck[i].CancelRequested {
			// Cancelled batches stay parked until an explicit resume.
			continue
		}
		if err := q.Enqueue(stuck[i].ID); err != nil {
			return resumed, err
		}
		resumed++
	}

	if resumed > 0 {
		q.logger.WithField(logger.FieldCount, resumed).Info("Re-enqueued interrupted batches")
	}
	return resumed, nil
}
