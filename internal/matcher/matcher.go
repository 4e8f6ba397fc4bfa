package matcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/oazlabs/photoflow/internal/domain"
)

// OrderLineStore is the purchase-order index as the matcher sees it:
// collection-scoped lookup plus the idempotent photo flag update.
type OrderLineStore interface {
	// Lookup returns the order line for (collectionID, sku) or
	// domain.ErrNotFound. SKUs are compared normalized.
	Lookup(ctx context.Context, collectionID uint, sku string) (*domain.PurchaseOrderLine, error)

	// MarkHasPhoto sets the has_photo flag. Idempotent: marking an
	// already-flagged line is a no-op.
	MarkHasPhoto(ctx context.Context, orderLineID uint) error
}

// Matcher resolves extracted SKUs against the purchase-order index.
type Matcher struct {
	store OrderLineStore
}

// New creates a Matcher over the given store.
// Parameters:
//   - store: purchase-order index access.
// Returns:
//   - *Matcher: initialized matcher.
func New(store OrderLineStore) *Matcher {
	return &Matcher{store: store}
}

// Match looks up an extraction in the purchase-order index scoped to one
// collection. The raw SKU is tried first, then the base SKU, exactly; a
// SKU present only in another collection never matches. On a hit the order
// line is flagged has_photo.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - collectionID: collection whose index is consulted.
//   - ex: extraction produced by Extract.
// Returns:
//   - *domain.PurchaseOrderLine: matched line, or nil when nothing matched
//     (a valid outcome, not an error).
//   - error: non-nil only on index access failure.
func (m *Matcher) Match(ctx context.Context, collectionID uint, ex Extraction) (*domain.PurchaseOrderLine, error) {
	line, err := m.lookup(ctx, collectionID, ex)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, nil
	}

	if err := m.store.MarkHasPhoto(ctx, line.ID); err != nil {
		return nil, fmt.Errorf("failed to flag order line %d: %w", line.ID, err)
	}
	line.HasPhoto = true

	return line, nil
}

func (m *Matcher) lookup(ctx context.Context, collectionID uint, ex Extraction) (*domain.PurchaseOrderLine, error) {
	raw := NormalizeSKU(ex.RawSKU)
	base := NormalizeSKU(ex.BaseSKU)

	line, err := m.store.Lookup(ctx, collectionID, raw)
	if err == nil {
		return line, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up sku %q: %w", raw, err)
	}

	if base == raw {
		return nil, nil
	}

	line, err = m.store.Lookup(ctx, collectionID, base)
	if err == nil {
		return line, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("failed to look up base sku %q: %w", base, err)
}
