package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/oazlabs/photoflow/internal/domain"
)

func TestOrderLineLookup(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewOrderLineRepository(db)

	line := &domain.PurchaseOrderLine{CollectionID: 1, SKU: "SKU100", Description: "Vestido midi", Color: "azul"}
	if err := repo.Create(ctx, line); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Lookup(ctx, 1, "SKU100")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.ID != line.ID || got.Description != "Vestido midi" {
		t.Errorf("Lookup = %+v", got)
	}

	// Case-insensitive regardless of query casing.
	if _, err := repo.Lookup(ctx, 1, "sku100"); err != nil {
		t.Errorf("Lookup lowercase: %v", err)
	}

	// Wrong collection must miss.
	if _, err := repo.Lookup(ctx, 2, "SKU100"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cross-collection lookup: %v", err)
	}

	// Unknown SKU must miss.
	if _, err := repo.Lookup(ctx, 1, "SKU999"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown sku lookup: %v", err)
	}
}

func TestMarkHasPhotoIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewOrderLineRepository(db)

	line := &domain.PurchaseOrderLine{CollectionID: 1, SKU: "SKU100"}
	if err := repo.Create(ctx, line); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := repo.MarkHasPhoto(ctx, line.ID); err != nil {
			t.Fatalf("MarkHasPhoto call %d: %v", i+1, err)
		}
	}

	got, err := repo.Lookup(ctx, 1, "SKU100")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !got.HasPhoto {
		t.Error("has_photo not set")
	}
}

func TestMarkHasPhotoConcurrent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewOrderLineRepository(db)

	line := &domain.PurchaseOrderLine{CollectionID: 1, SKU: "SKU100"}
	if err := repo.Create(ctx, line); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Concurrent matches against the same order line: every call succeeds,
	// the flag ends up set exactly once.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.MarkHasPhoto(ctx, line.ID); err != nil {
				t.Errorf("MarkHasPhoto: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := repo.Lookup(ctx, 1, "SKU100")
	if !got.HasPhoto {
		t.Error("has_photo not set after concurrent marks")
	}
}

func TestCountByCollection(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewOrderLineRepository(db)

	lines := []domain.PurchaseOrderLine{
		{CollectionID: 1, SKU: "SKU100"},
		{CollectionID: 1, SKU: "SKU101"},
		{CollectionID: 1, SKU: "SKU102"},
		{CollectionID: 2, SKU: "SKU100"},
	}
	if err := repo.CreateInChunks(ctx, lines, 2); err != nil {
		t.Fatalf("CreateInChunks: %v", err)
	}

	first, err := repo.Lookup(ctx, 1, "SKU100")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if err := repo.MarkHasPhoto(ctx, first.ID); err != nil {
		t.Fatalf("MarkHasPhoto: %v", err)
	}

	total, withPhoto, err := repo.CountByCollection(ctx, 1)
	if err != nil {
		t.Fatalf("CountByCollection: %v", err)
	}
	if total != 3 || withPhoto != 1 {
		t.Errorf("total=%d withPhoto=%d, want 3/1", total, withPhoto)
	}
}
