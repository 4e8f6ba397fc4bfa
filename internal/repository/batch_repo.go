package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/oazlabs/photoflow/internal/domain"
)

// BatchRepository handles batch upload persistence.
type BatchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new BatchRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *BatchRepository: repository instance bound to db.
func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a new batch record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batch: batch record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *BatchRepository) Create(ctx context.Context, batch *domain.BatchUpload) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

// GetByID retrieves a batch by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: batch ID.
// Returns:
//   - *domain.BatchUpload: batch record if found.
//   - error: domain.ErrNotFound if missing, otherwise the query error.
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*domain.BatchUpload, error) {
	var batch domain.BatchUpload
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// Update saves an existing batch record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batch: batch record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *BatchRepository) Update(ctx context.Context, batch *domain.BatchUpload) error {
	return r.db.WithContext(ctx).Save(batch).Error
}

// MarkProcessing transitions a batch to processing and stamps started_at.
// Safe to call on a batch that is already processing.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: batch ID.
// Returns:
//   - error: non-nil if the update fails.
func (r *BatchRepository) MarkProcessing(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&domain.BatchUpload{}).
		Where("id = ? AND state <> ?", id, domain.BatchStateProcessing).
		Updates(map[string]interface{}{
			"state":      domain.BatchStateProcessing,
			"started_at": now,
		}).Error
}

// MarkCompleted transitions a batch to completed and stamps finished_at.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: batch ID.
// Returns:
//   - error: non-nil if the update fails.
func (r *BatchRepository) MarkCompleted(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&domain.BatchUpload{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":       domain.BatchStateCompleted,
			"finished_at": now,
		}).Error
}

// RequestCancel sets the cancellation flag. Workers check it before
// claiming the next item; items already claimed run to completion.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: batch ID.
// Returns:
//   - error: non-nil if the update fails.
func (r *BatchRepository) RequestCancel(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.BatchUpload{}).
		Where("id = ?", id).
		Update("cancel_requested", true).Error
}

// IsCancelRequested reads the cancellation flag.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: batch ID.
// Returns:
//   - bool: true if cancellation was requested.
//   - error: non-nil if the query fails.
func (r *BatchRepository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var cancelled bool
	err := r.db.WithContext(ctx).Model(&domain.BatchUpload{}).
		Where("id = ?", id).
		Pluck("cancel_requested", &cancelled).Error
	return cancelled, err
}

// ListByState retrieves batches in a given state, oldest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - state: batch state to filter by.
// Returns:
//   - []domain.BatchUpload: matching batches.
//   - error: non-nil if the query fails.
func (r *BatchRepository) ListByState(ctx context.Context, state domain.BatchState) ([]domain.BatchUpload, error) {
	var batches []domain.BatchUpload
	if err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("created_at ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}
