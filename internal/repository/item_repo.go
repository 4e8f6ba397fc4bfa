package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/oazlabs/photoflow/internal/domain"
)

// ItemRepository handles ingestion item persistence. All state advancement
// goes through compare-and-swap updates so that two workers (or a worker
// and the watchdog) can never own the same item at once.
type ItemRepository struct {
	db *gorm.DB
}

// NewItemRepository creates a new ItemRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ItemRepository: repository instance bound to db.
func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create inserts a new item record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: item record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *ItemRepository) Create(ctx context.Context, item *domain.IngestionItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// CreateInChunks inserts items in bounded-size transactions to keep
// individual commits small on large batches.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - items: item records to persist.
//   - chunkSize: rows per insert statement.
// Returns:
//   - error: non-nil if any insert fails.
func (r *ItemRepository) CreateInChunks(ctx context.Context, items []domain.IngestionItem, chunkSize int) error {
	if chunkSize < 1 {
		chunkSize = len(items)
	}
	return r.db.WithContext(ctx).CreateInBatches(items, chunkSize).Error
}

// GetByID retrieves an item by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: item ID.
// Returns:
//   - *domain.IngestionItem: item record if found.
//   - error: domain.ErrNotFound if missing, otherwise the query error.
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*domain.IngestionItem, error) {
	var item domain.IngestionItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// Update saves an existing item record. Only for fields outside the state
// machine (AI results, order attributes); the state-machine columns are
// omitted so a stale in-memory copy can never overwrite them. State moves
// via the CAS helpers, claimed phase writes via UpdateClaimed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: item record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *ItemRepository) Update(ctx context.Context, item *domain.IngestionItem) error {
	return r.db.WithContext(ctx).
		Omit("state", "claimed_at", "retry_count", "max_retries", "processed_at", "created_at").
		Save(item).Error
}

// UpdateClaimed writes phase results for an item the caller has claimed.
// The update only lands while the caller still holds the claim: the
// claimed_at stamp is the fencing token, so a worker that stalled past the
// watchdog threshold cannot overwrite the row after it was reclaimed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: claimed item; ClaimedAt must be the stamp from ClaimNext.
//   - fields: column/value pairs to write.
// Returns:
//   - error: domain.ErrClaimLost if the claim was revoked or taken over.
func (r *ItemRepository) UpdateClaimed(ctx context.Context, item *domain.IngestionItem, fields map[string]interface{}) error {
	if item.ClaimedAt == nil {
		return domain.ErrClaimLost
	}
	res := r.db.WithContext(ctx).Model(&domain.IngestionItem{}).
		Where("id = ? AND state = ? AND claimed_at = ?", item.ID, item.State, item.ClaimedAt).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrClaimLost
	}
	return nil
}

// ListByBatch retrieves all items of a batch ordered by creation.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batchID: parent batch ID.
// Returns:
//   - []domain.IngestionItem: item records.
//   - error: non-nil if the query fails.
func (r *ItemRepository) ListByBatch(ctx context.Context, batchID string) ([]domain.IngestionItem, error) {
	var items []domain.IngestionItem
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ClaimNext atomically claims the next processable item of a batch.
// Processable means: state received, or a matching/thumbnailing item whose
// claim was released (reprocessing, watchdog reset). The claim itself is a
// single conditional UPDATE checked via RowsAffected, so a concurrent
// claimer loses cleanly and retries on the next candidate.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batchID: batch to claim from.
// Returns:
//   - *domain.IngestionItem: the claimed item, state advanced to its
//     processing phase and claimed_at stamped.
//   - error: domain.ErrNotFound when no processable item remains.
func (r *ItemRepository) ClaimNext(ctx context.Context, batchID string) (*domain.IngestionItem, error) {
	for {
		var candidate domain.IngestionItem
		err := r.db.WithContext(ctx).
			Where("batch_id = ? AND claimed_at IS NULL AND state IN ?", batchID, []domain.ItemState{
				domain.ItemStateReceived,
				domain.ItemStateMatching,
				domain.ItemStateThumbnailing,
			}).
			Order("created_at ASC").
			First(&candidate).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, domain.ErrNotFound
			}
			return nil, err
		}

		targetState := candidate.State
		if targetState == domain.ItemStateReceived {
			targetState = domain.ItemStateMatching
		}

		// Microsecond precision so the stamp compares equal after a
		// database round trip; it doubles as the fencing token for
		// UpdateClaimed and the claim-guarded state moves.
		now := time.Now().Truncate(time.Microsecond)
		res := r.db.WithContext(ctx).Model(&domain.IngestionItem{}).
			Where("id = ? AND state = ? AND claimed_at IS NULL", candidate.ID, candidate.State).
			Updates(map[string]interface{}{
				"state":      targetState,
				"claimed_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			candidate.State = targetState
			candidate.ClaimedAt = &now
			return &candidate, nil
		}
		// Lost the race for this candidate, try the next one.
	}
}

// claimScope narrows an item write to the caller's view of the row: same
// state and the same claim stamp (or unclaimed). A miss means the watchdog
// or another worker took the row over.
func (r *ItemRepository) claimScope(ctx context.Context, item *domain.IngestionItem) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&domain.IngestionItem{}).
		Where("id = ? AND state = ?", item.ID, item.State)
	if item.ClaimedAt != nil {
		return q.Where("claimed_at = ?", item.ClaimedAt)
	}
	return q.Where("claimed_at IS NULL")
}

// AdvanceState moves a claimed item to the next phase while keeping the
// claim. The edge is validated against the state machine and applied as a
// conditional UPDATE fenced on the claim stamp.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: claimed item; State is updated in place on success.
//   - to: target state.
// Returns:
//   - error: *domain.InvalidTransitionError on a bad edge; domain.ErrClaimLost
//     if the row was taken over (watchdog reset).
func (r *ItemRepository) AdvanceState(ctx context.Context, item *domain.IngestionItem, to domain.ItemState) error {
	if err := item.State.CanTransition(to); err != nil {
		return err
	}

	res := r.claimScope(ctx, item).Update("state", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrClaimLost
	}
	item.State = to
	return nil
}

// Complete marks a claimed item done, releasing the claim and stamping
// processed_at.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: claimed item in state thumbnailing.
// Returns:
//   - error: non-nil on invalid edge; domain.ErrClaimLost if the row was
//     taken over.
func (r *ItemRepository) Complete(ctx context.Context, item *domain.IngestionItem) error {
	if err := item.State.CanTransition(domain.ItemStateDone); err != nil {
		return err
	}

	now := time.Now()
	res := r.claimScope(ctx, item).
		Updates(map[string]interface{}{
			"state":        domain.ItemStateDone,
			"claimed_at":   nil,
			"processed_at": now,
			"last_error":   "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrClaimLost
	}
	item.State = domain.ItemStateDone
	item.ClaimedAt = nil
	item.ProcessedAt = &now
	return nil
}

// Fail marks an item failed terminally, recording the error detail.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: item to fail.
//   - detail: error message stored on the row, truncated to 500 chars.
// Returns:
//   - error: domain.ErrClaimLost if the row was taken over; otherwise the
//     update error.
func (r *ItemRepository) Fail(ctx context.Context, item *domain.IngestionItem, detail string) error {
	now := time.Now()
	res := r.claimScope(ctx, item).
		Updates(map[string]interface{}{
			"state":        domain.ItemStateFailed,
			"claimed_at":   nil,
			"processed_at": now,
			"last_error":   truncate(detail, 500),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrClaimLost
	}
	item.State = domain.ItemStateFailed
	item.ClaimedAt = nil
	item.ProcessedAt = &now
	return nil
}

// Release returns a claimed item to the queue for retry after a transient
// failure, incrementing retry_count. The item re-enters at state, which is
// received for matching failures and thumbnailing for thumbnail failures
// so an established match is never discarded.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: claimed item to release.
//   - state: re-entry state.
//   - detail: error message stored on the row.
// Returns:
//   - error: domain.ErrClaimLost if the row was taken over; otherwise the
//     update error.
func (r *ItemRepository) Release(ctx context.Context, item *domain.IngestionItem, state domain.ItemState, detail string) error {
	res := r.claimScope(ctx, item).
		Updates(map[string]interface{}{
			"state":       state,
			"claimed_at":  nil,
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  truncate(detail, 500),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrClaimLost
	}
	item.State = state
	item.ClaimedAt = nil
	item.RetryCount++
	return nil
}

// Resubmit re-enters a terminal item into the pipeline without re-upload:
// matching for reconciliation, thumbnailing for regeneration. The durable
// storage key makes this safe.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: item ID.
//   - stage: domain.ItemStateMatching or domain.ItemStateThumbnailing.
// Returns:
//   - error: *domain.InvalidTransitionError if the item is not terminal or
//     the stage is invalid; domain.ErrNotFound if the item is missing.
func (r *ItemRepository) Resubmit(ctx context.Context, id string, stage domain.ItemState) error {
	item, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	// Only terminal items qualify. The edge check alone is not enough:
	// received->matching and matching->thumbnailing are legal pipeline
	// edges, and resubmitting through them would hijack a live item.
	if !item.State.Terminal() {
		return &domain.InvalidTransitionError{From: item.State, To: stage}
	}
	if err := item.State.CanTransition(stage); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Model(&domain.IngestionItem{}).
		Where("id = ? AND state = ?", id, item.State).
		Updates(map[string]interface{}{
			"state":        stage,
			"claimed_at":   nil,
			"retry_count":  0,
			"last_error":   "",
			"processed_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountsByBatch aggregates item states for one batch. Non-blocking read
// used by the status endpoint and the completion check.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batchID: parent batch ID.
// Returns:
//   - domain.ItemCounts: counts per state bucket.
//   - error: non-nil if the query fails.
func (r *ItemRepository) CountsByBatch(ctx context.Context, batchID string) (domain.ItemCounts, error) {
	type row struct {
		State domain.ItemState
		N     int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&domain.IngestionItem{}).
		Select("state, count(*) as n").
		Where("batch_id = ?", batchID).
		Group("state").
		Scan(&rows).Error; err != nil {
		return domain.ItemCounts{}, err
	}

	var counts domain.ItemCounts
	for _, r := range rows {
		switch r.State {
		case domain.ItemStateReceived:
			counts.Pending += r.N
		case domain.ItemStateMatching, domain.ItemStateThumbnailing:
			counts.Processing += r.N
		case domain.ItemStateDone:
			counts.Done += r.N
		case domain.ItemStateFailed:
			counts.Failed += r.N
		}
	}
	return counts, nil
}

// ResetStale reclaims items whose claim is older than the staleness
// threshold: back to received with a retry increment, or failed once the
// retry budget is spent. Each sweep is one conditional UPDATE, so a worker
// finishing concurrently cannot be clobbered mid-write.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - olderThan: claims stamped before this instant are considered stuck.
// Returns:
//   - int64: items reset for retry.
//   - int64: items failed for exhausted retries.
//   - error: non-nil if either update fails.
func (r *ItemRepository) ResetStale(ctx context.Context, olderThan time.Time) (int64, int64, error) {
	processing := []domain.ItemState{domain.ItemStateMatching, domain.ItemStateThumbnailing}

	reset := r.db.WithContext(ctx).Model(&domain.IngestionItem{}).
		Where("state IN ? AND claimed_at IS NOT NULL AND claimed_at < ? AND retry_count < max_retries", processing, olderThan).
		Updates(map[string]interface{}{
			"state":       domain.ItemStateReceived,
			"claimed_at":  nil,
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  "reclaimed by watchdog: processing stalled",
		})
	if reset.Error != nil {
		return 0, 0, reset.Error
	}

	now := time.Now()
	failed := r.db.WithContext(ctx).Model(&domain.IngestionItem{}).
		Where("state IN ? AND claimed_at IS NOT NULL AND claimed_at < ? AND retry_count >= max_retries", processing, olderThan).
		Updates(map[string]interface{}{
			"state":        domain.ItemStateFailed,
			"claimed_at":   nil,
			"processed_at": now,
			"last_error":   "retries exhausted after stalled processing",
		})
	if failed.Error != nil {
		return reset.RowsAffected, 0, failed.Error
	}

	return reset.RowsAffected, failed.RowsAffected, nil
}

// RecoverInterrupted releases every claim regardless of age. Called once
// at startup: any claim surviving a restart belongs to a dead worker.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: items released back for retry.
//   - error: non-nil if the update fails.
func (r *ItemRepository) RecoverInterrupted(ctx context.Context) (int64, error) {
	reset, failed, err := r.ResetStale(ctx, time.Now().Add(time.Second))
	return reset + failed, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
