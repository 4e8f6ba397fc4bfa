package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oazlabs/photoflow/internal/domain"
	"github.com/oazlabs/photoflow/internal/logger"
	"github.com/oazlabs/photoflow/internal/matcher"
	"github.com/oazlabs/photoflow/internal/repository"
	"github.com/oazlabs/photoflow/internal/storage"
)

// Coordinator drives a batch from processing to completed. A fixed worker
// pool pulls items through atomic claims; one bad item never takes down its
// batch, and a crash mid-batch leaves only claimed rows behind for the
// watchdog to reclaim.
type Coordinator struct {
	batches     *repository.BatchRepository
	items       *repository.ItemRepository
	matcher     *matcher.Matcher
	thumbnailer *Thumbnailer
	storage     storage.ObjectStorage
	vision      *VisionService
	logger      *logger.Logger
	workers     int
}

// CoordinatorConfig holds configuration for the coordinator.
type CoordinatorConfig struct {
	Workers int
}

// NewCoordinator creates a new batch coordinator.
// Parameters:
//   - batches: batch repository.
//   - items: item repository.
//   - m: SKU matcher.
//   - thumbnailer: thumbnail generator.
//   - objectStorage: durable blob store.
//   - vision: vision service, nil when AI analysis is not configured.
//   - log: structured logger.
//   - cfg: coordinator configuration.
// Returns:
//   - *Coordinator: initialized coordinator.
func NewCoordinator(
	batches *repository.BatchRepository,
	items *repository.ItemRepository,
	m *matcher.Matcher,
	thumbnailer *Thumbnailer,
	objectStorage storage.ObjectStorage,
	vision *VisionService,
	log *logger.Logger,
	cfg *CoordinatorConfig,
) *Coordinator {
	workers := cfg.Workers
	if workers < 1 {
		workers = 5
	}
	return &Coordinator{
		batches:     batches,
		items:       items,
		matcher:     m,
		thumbnailer: thumbnailer,
		storage:     objectStorage,
		vision:      vision,
		logger:      log,
		workers:     workers,
	}
}

// log returns a logger from context if available, otherwise the default.
func (c *Coordinator) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return c.logger
}

// ProcessBatch runs a batch to completion. It marks the batch processing,
// fans out the worker pool, and on drain marks the batch completed if every
// item is terminal. Cancellation stops claiming but lets in-flight items
// finish; the batch then stays in processing for a later resume.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batchID: batch to process.
// Returns:
//   - error: non-nil if the batch cannot be loaded or marked.
func (c *Coordinator) ProcessBatch(ctx context.Context, batchID string) error {
	batch, err := c.batches.GetByID(ctx, batchID)
	if err != nil {
		return err
	}

	if err := c.batches.MarkProcessing(ctx, batchID); err != nil {
		return fmt.Errorf("failed to mark batch processing: %w", err)
	}

	start := time.Now()
	c.log(ctx).WithFields(logger.Fields{
		logger.FieldBatchID: batchID,
		"workers":           c.workers,
	}).Info("Batch processing started")

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.worker(ctx, workerID, batch)
		}(i)
	}
	wg.Wait()

	counts, err := c.items.CountsByBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to count items: %w", err)
	}

	if counts.AllTerminal() && counts.Total() > 0 {
		if err := c.batches.MarkCompleted(ctx, batchID); err != nil {
			return fmt.Errorf("failed to mark batch completed: %w", err)
		}
	}

	c.log(ctx).WithFields(logger.Fields{
		logger.FieldBatchID: batchID,
		"done":              counts.Done,
		"failed":            counts.Failed,
		"pending":           counts.Pending,
		"duration":          time.Since(start).String(),
	}).Info("Batch processing drained")

	return nil
}

// worker claims and processes items until the batch drains, the context is
// cancelled, or batch cancellation is requested. The cancel flag is checked
// before every claim so a cancel takes effect within one item.
func (c *Coordinator) worker(ctx context.Context, workerID int, batch *domain.BatchUpload) {
	log := c.log(ctx).WithField(logger.FieldWorkerID, workerID)

	for {
		if ctx.Err() != nil {
			return
		}

		cancelled, err := c.batches.IsCancelRequested(ctx, batch.ID)
		if err != nil {
			log.WithError(err).Error("Failed to read cancel flag")
			return
		}
		if cancelled {
			log.WithField(logger.FieldBatchID, batch.ID).Info("Cancellation requested, worker stopping")
			return
		}

		item, err := c.items.ClaimNext(ctx, batch.ID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				log.WithError(err).Error("Failed to claim item")
			}
			return
		}

		if err := c.processItem(ctx, batch, item); err != nil {
			if errors.Is(err, domain.ErrClaimLost) {
				// The watchdog reclaimed the item while we were on it.
				// The new owner carries it; nothing to persist here.
				log.WithField(logger.FieldItemID, item.ID).Warn("Claim lost, item abandoned")
				continue
			}
			// processItem already persisted the failure state; this is
			// telemetry only. The worker keeps going.
			log.WithFields(logger.Fields{
				logger.FieldItemID: item.ID,
				"filename":         item.OriginalFilename,
			}).WithError(err).Error("Item processing failed")
		}
	}
}

// processItem advances one claimed item through its remaining phases.
// Transient failures release the item for retry; corrupt input and an
// exhausted retry budget fail it terminally.
func (c *Coordinator) processItem(ctx context.Context, batch *domain.BatchUpload, item *domain.IngestionItem) error {
	if item.State == domain.ItemStateMatching {
		if err := c.runMatching(ctx, batch, item); err != nil {
			if errors.Is(err, domain.ErrClaimLost) {
				return err
			}
			return c.handleFailure(ctx, item, domain.ItemStateReceived, err)
		}
		if err := c.items.AdvanceState(ctx, item, domain.ItemStateThumbnailing); err != nil {
			return err
		}
	}

	if item.State == domain.ItemStateThumbnailing {
		if err := c.runThumbnailing(ctx, item); err != nil {
			if errors.Is(err, domain.ErrClaimLost) {
				return err
			}
			return c.handleFailure(ctx, item, domain.ItemStateThumbnailing, err)
		}
		if err := c.items.Complete(ctx, item); err != nil {
			return err
		}
	}

	return nil
}

// runMatching resolves the item's SKU against the collection's purchase
// order. No match is a success: the item proceeds unmatched and shows up
// in review for manual assignment.
func (c *Coordinator) runMatching(ctx context.Context, batch *domain.BatchUpload, item *domain.IngestionItem) error {
	ex := matcher.Extract(item.OriginalFilename)
	item.SKU = matcher.NormalizeSKU(ex.RawSKU)
	item.BaseSKU = matcher.NormalizeSKU(ex.BaseSKU)
	item.Sequence = ex.Sequence

	line, err := c.matcher.Match(ctx, batch.CollectionID, ex)
	if err != nil {
		return domain.Transient(err)
	}

	fields := map[string]interface{}{
		"sku":      item.SKU,
		"base_sku": item.BaseSKU,
		"sequence": item.Sequence,
	}
	if line != nil {
		item.OrderLineID = &line.ID
		item.OrderDescription = line.Description
		item.OrderColor = line.Color
		item.OrderCategory = line.Category
		fields["order_line_id"] = line.ID
		fields["order_description"] = line.Description
		fields["order_color"] = line.Color
		fields["order_category"] = line.Category
	}

	// Fenced on the claim stamp: if the watchdog reclaimed the item while
	// we were matching, the write misses and we abandon the item.
	if err := c.items.UpdateClaimed(ctx, item, fields); err != nil {
		if errors.Is(err, domain.ErrClaimLost) {
			return err
		}
		return domain.Transient(fmt.Errorf("failed to save match result: %w", err))
	}

	c.log(ctx).WithFields(logger.Fields{
		logger.FieldItemID: item.ID,
		"sku":              item.SKU,
		"matched":          line != nil,
	}).Debug("Matching finished")

	return nil
}

// runThumbnailing regenerates the preview from the stored original. The
// original is always re-read from storage, never from memory, so the phase
// works the same after a crash or an explicit reprocess.
func (c *Coordinator) runThumbnailing(ctx context.Context, item *domain.IngestionItem) error {
	reader, err := c.storage.Download(ctx, item.StorageKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.CorruptInputError{Reason: fmt.Sprintf("original %s missing from storage", item.StorageKey)}
		}
		return domain.Transient(fmt.Errorf("failed to download original: %w", err))
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		return domain.Transient(fmt.Errorf("failed to read original: %w", err))
	}

	thumb, err := c.thumbnailer.Generate(data, item.Format)
	if err != nil {
		// Corrupt input passes through; callers fail it without retry.
		return err
	}

	thumbKey := fmt.Sprintf("thumbs/%s/%s.jpg", item.ContentHash[:2], item.ContentHash)
	if err := c.storage.Upload(ctx, thumbKey, bytes.NewReader(thumb), int64(len(thumb)), "image/jpeg"); err != nil {
		return domain.Transient(fmt.Errorf("failed to upload thumbnail: %w", err))
	}

	item.ThumbnailKey = thumbKey
	if err := c.items.UpdateClaimed(ctx, item, map[string]interface{}{"thumbnail_key": thumbKey}); err != nil {
		if errors.Is(err, domain.ErrClaimLost) {
			return err
		}
		return domain.Transient(fmt.Errorf("failed to save thumbnail key: %w", err))
	}

	return nil
}

// handleFailure persists the right terminal or retry state for a failed
// phase. retryState is where the item re-enters the queue: received for
// matching failures, thumbnailing for thumbnail failures so the match
// survives.
func (c *Coordinator) handleFailure(ctx context.Context, item *domain.IngestionItem, retryState domain.ItemState, cause error) error {
	if domain.IsCorruptInput(cause) {
		if err := c.items.Fail(ctx, item, cause.Error()); err != nil {
			return fmt.Errorf("failed to persist failure: %w", err)
		}
		return cause
	}

	if item.RetriesExhausted() {
		if err := c.items.Fail(ctx, item, fmt.Sprintf("retries exhausted: %v", cause)); err != nil {
			return fmt.Errorf("failed to persist failure: %w", err)
		}
		return cause
	}

	if err := c.items.Release(ctx, item, retryState, cause.Error()); err != nil {
		return fmt.Errorf("failed to release item for retry: %w", err)
	}
	return cause
}

// Status builds the non-blocking progress view for pollers. Rate is
// terminal items per second since processing started; the ETA projects
// the remaining items at that rate.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batchID: batch to report on.
// Returns:
//   - *domain.BatchStatus: progress snapshot.
//   - error: domain.ErrNotFound if the batch is missing.
func (c *Coordinator) Status(ctx context.Context, batchID string) (*domain.BatchStatus, error) {
	batch, err := c.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	counts, err := c.items.CountsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	status := &domain.BatchStatus{
		BatchID:         batch.ID,
		State:           batch.State,
		CancelRequested: batch.CancelRequested,
		Counts:          counts,
	}

	if batch.StartedAt != nil {
		end := time.Now()
		if batch.FinishedAt != nil {
			end = *batch.FinishedAt
		}
		elapsed := end.Sub(*batch.StartedAt).Seconds()
		terminal := counts.Done + counts.Failed
		if elapsed > 0 && terminal > 0 {
			status.Rate = float64(terminal) / elapsed
			remaining := counts.Pending + counts.Processing
			if remaining > 0 {
				status.ETASeconds = float64(remaining) / status.Rate
			}
		}
	}

	return status, nil
}

// Cancel requests cooperative cancellation of a batch.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batchID: batch to cancel.
// Returns:
//   - error: non-nil if the flag cannot be persisted.
func (c *Coordinator) Cancel(ctx context.Context, batchID string) error {
	if _, err := c.batches.GetByID(ctx, batchID); err != nil {
		return err
	}
	return c.batches.RequestCancel(ctx, batchID)
}

// ClearCancel lifts a prior cancellation so the batch can be resumed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batchID: batch to clear.
// Returns:
//   - error: non-nil if the update fails.
func (c *Coordinator) ClearCancel(ctx context.Context, batchID string) error {
	batch, err := c.batches.GetByID(ctx, batchID)
	if err != nil {
		return err
	}
	if !batch.CancelRequested {
		return nil
	}
	batch.CancelRequested = false
	return c.batches.Update(ctx, batch)
}

// ReprocessBatch re-submits every terminal item of a batch for matching.
// Used after the purchase order was corrected; storage keys are reused, no
// re-upload happens.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batchID: batch to reprocess.
// Returns:
//   - int: items re-submitted.
//   - error: non-nil if listing or resubmission fails.
func (c *Coordinator) ReprocessBatch(ctx context.Context, batchID string) (int, error) {
	batch, err := c.batches.GetByID(ctx, batchID)
	if err != nil {
		return 0, err
	}

	items, err := c.items.ListByBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}

	resubmitted := 0
	for i := range items {
		if !items[i].State.Terminal() {
			continue
		}
		if err := c.items.Resubmit(ctx, items[i].ID, domain.ItemStateMatching); err != nil {
			return resubmitted, fmt.Errorf("failed to resubmit item %s: %w", items[i].ID, err)
		}
		resubmitted++
	}

	if resubmitted > 0 && batch.State == domain.BatchStateCompleted {
		batch.State = domain.BatchStateProcessing
		batch.FinishedAt = nil
		if err := c.batches.Update(ctx, batch); err != nil {
			return resubmitted, fmt.Errorf("failed to reopen batch: %w", err)
		}
	}

	return resubmitted, nil
}

// ReprocessItem re-submits one terminal item at a chosen stage: matching
// for reconciliation, thumbnailing for preview regeneration.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - itemID: item to reprocess.
//   - stage: domain.ItemStateMatching or domain.ItemStateThumbnailing.
// Returns:
//   - error: *domain.InvalidTransitionError if the item is not terminal.
func (c *Coordinator) ReprocessItem(ctx context.Context, itemID string, stage domain.ItemState) error {
	if stage != domain.ItemStateMatching && stage != domain.ItemStateThumbnailing {
		return fmt.Errorf("invalid reprocess stage %q", stage)
	}
	return c.items.Resubmit(ctx, itemID, stage)
}

// AnalyzeItem runs AI attribute extraction for one item on explicit
// request. Only unmatched items qualify: a purchase-order match already
// carries authoritative attributes. Results land on the AI* fields and
// never touch the purchase-order match.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - itemID: item to analyze.
// Returns:
//   - *domain.IngestionItem: item with AI fields filled.
//   - error: non-nil if the item is missing, vision is not configured, or
//     the analysis fails.
func (c *Coordinator) AnalyzeItem(ctx context.Context, itemID string) (*domain.IngestionItem, error) {
	if c.vision == nil {
		return nil, fmt.Errorf("vision service not configured")
	}

	item, err := c.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Matched() {
		return nil, fmt.Errorf("item %s is matched to order line %d, analysis not needed", itemID, *item.OrderLineID)
	}

	reader, err := c.storage.Download(ctx, item.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download original: %w", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read original: %w", err)
	}

	analysis, err := c.vision.AnalyzeGarment(ctx, data, item.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze image: %w", err)
	}

	item.AIDescription = analysis.Description
	item.AIItemType = analysis.ItemType
	item.AIColor = analysis.Color
	item.AIMaterial = analysis.Material
	item.AITags = analysis.Tags
	if err := c.items.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}

	c.log(ctx).WithFields(logger.Fields{
		logger.FieldItemID: itemID,
		"model":            c.vision.GetModel(),
	}).Info("AI analysis stored")

	return item, nil
}
