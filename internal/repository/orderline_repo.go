package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/oazlabs/photoflow/internal/domain"
)

// OrderLineRepository handles purchase-order line persistence. It satisfies
// matcher.OrderLineStore.
type OrderLineRepository struct {
	db *gorm.DB
}

// NewOrderLineRepository creates a new OrderLineRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *OrderLineRepository: repository instance bound to db.
func NewOrderLineRepository(db *gorm.DB) *OrderLineRepository {
	return &OrderLineRepository{db: db}
}

// Create inserts a new order line record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - line: order line record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *OrderLineRepository) Create(ctx context.Context, line *domain.PurchaseOrderLine) error {
	return r.db.WithContext(ctx).Create(line).Error
}

// CreateInChunks inserts order lines in bounded-size transactions, used
// when importing a full purchase order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - lines: order line records to persist.
//   - chunkSize: rows per insert statement.
// Returns:
//   - error: non-nil if any insert fails.
func (r *OrderLineRepository) CreateInChunks(ctx context.Context, lines []domain.PurchaseOrderLine, chunkSize int) error {
	if chunkSize < 1 {
		chunkSize = len(lines)
	}
	return r.db.WithContext(ctx).CreateInBatches(lines, chunkSize).Error
}

// Lookup finds the order line for a SKU within one collection. Comparison
// is case-insensitive on the stored side to match NormalizeSKU on the
// query side.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - collectionID: collection scope.
//   - sku: normalized SKU to look up.
// Returns:
//   - *domain.PurchaseOrderLine: matching line if found.
//   - error: domain.ErrNotFound if absent, otherwise the query error.
func (r *OrderLineRepository) Lookup(ctx context.Context, collectionID uint, sku string) (*domain.PurchaseOrderLine, error) {
	var line domain.PurchaseOrderLine
	err := r.db.WithContext(ctx).
		Where("collection_id = ? AND UPPER(sku) = ?", collectionID, strings.ToUpper(sku)).
		First(&line).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &line, nil
}

// MarkHasPhoto flags an order line as photographed. Idempotent: the guard
// on has_photo makes a second call a zero-row update, never an error.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - orderLineID: order line to flag.
// Returns:
//   - error: non-nil if the update fails.
func (r *OrderLineRepository) MarkHasPhoto(ctx context.Context, orderLineID uint) error {
	return r.db.WithContext(ctx).Model(&domain.PurchaseOrderLine{}).
		Where("id = ? AND has_photo = ?", orderLineID, false).
		Update("has_photo", true).Error
}

// CountByCollection returns total and photographed line counts for a
// collection, used for coverage reporting.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - collectionID: collection scope.
// Returns:
//   - int64: total lines.
//   - int64: lines with has_photo set.
//   - error: non-nil if a query fails.
func (r *OrderLineRepository) CountByCollection(ctx context.Context, collectionID uint) (int64, int64, error) {
	var total, withPhoto int64
	if err := r.db.WithContext(ctx).Model(&domain.PurchaseOrderLine{}).
		Where("collection_id = ?", collectionID).
		Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := r.db.WithContext(ctx).Model(&domain.PurchaseOrderLine{}).
		Where("collection_id = ? AND has_photo = ?", collectionID, true).
		Count(&withPhoto).Error; err != nil {
		return 0, 0, err
	}
	return total, withPhoto, nil
}
