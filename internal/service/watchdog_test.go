package service

import (
	"context"
	"testing"
	"time"

	"github.com/oazlabs/photoflow/internal/domain"
	"github.com/oazlabs/photoflow/internal/logger"
)

func TestWatchdogSweepReclaimsStaleItems(t *testing.T) {
	p := newPipeline(t, 1)
	ctx := context.Background()

	jpg := encodeTestImage(t, 100, 100, "jpg")
	_, items := p.uploadBatch(t, 1, map[string][]byte{"SKU900.jpg": jpg}, "SKU900.jpg")

	// Simulate a worker that died mid-matching ten minutes ago.
	stale := time.Now().Add(-10 * time.Minute)
	p.db.Model(&domain.IngestionItem{}).Where("id = ?", items[0].ID).
		Updates(map[string]interface{}{
			"state":      domain.ItemStateMatching,
			"claimed_at": stale,
		})

	w := NewWatchdog(p.items, logger.GetDefault(), time.Minute, 5*time.Minute)
	reset, failed := w.Sweep(ctx)
	if reset != 1 || failed != 0 {
		t.Fatalf("sweep reset=%d failed=%d, want 1/0", reset, failed)
	}

	got, _ := p.items.GetByID(ctx, items[0].ID)
	if got.State != domain.ItemStateReceived {
		t.Errorf("state = %q, want received", got.State)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
	if got.ClaimedAt != nil {
		t.Error("claim not released")
	}
}

func TestWatchdogSweepLeavesFreshClaimsAlone(t *testing.T) {
	p := newPipeline(t, 1)
	ctx := context.Background()

	jpg := encodeTestImage(t, 100, 100, "jpg")
	_, items := p.uploadBatch(t, 1, map[string][]byte{"SKU901.jpg": jpg}, "SKU901.jpg")

	p.db.Model(&domain.IngestionItem{}).Where("id = ?", items[0].ID).
		Updates(map[string]interface{}{
			"state":      domain.ItemStateMatching,
			"claimed_at": time.Now(),
		})

	w := NewWatchdog(p.items, logger.GetDefault(), time.Minute, 5*time.Minute)
	reset, failed := w.Sweep(ctx)
	if reset != 0 || failed != 0 {
		t.Fatalf("sweep touched a fresh claim: reset=%d failed=%d", reset, failed)
	}
}

func TestWatchdogFailsExhaustedItems(t *testing.T) {
	p := newPipeline(t, 1)
	ctx := context.Background()

	jpg := encodeTestImage(t, 100, 100, "jpg")
	_, items := p.uploadBatch(t, 1, map[string][]byte{"SKU902.jpg": jpg}, "SKU902.jpg")

	p.db.Model(&domain.IngestionItem{}).Where("id = ?", items[0].ID).
		Updates(map[string]interface{}{
			"state":       domain.ItemStateThumbnailing,
			"claimed_at":  time.Now().Add(-10 * time.Minute),
			"retry_count": 3,
		})

	w := NewWatchdog(p.items, logger.GetDefault(), time.Minute, 5*time.Minute)
	reset, failed := w.Sweep(ctx)
	if reset != 0 || failed != 1 {
		t.Fatalf("sweep reset=%d failed=%d, want 0/1", reset, failed)
	}

	got, _ := p.items.GetByID(ctx, items[0].ID)
	if got.State != domain.ItemStateFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
}

func TestRestartRecoveryCompletesBatch(t *testing.T) {
	p := newPipeline(t, 2)
	ctx := context.Background()

	jpg := encodeTestImage(t, 100, 100, "jpg")
	batch, items := p.uploadBatch(t, 1, map[string][]byte{
		"SKU903.jpg": jpg,
		"SKU904.jpg": jpg,
	}, "SKU903.jpg", "SKU904.jpg")

	// Simulate a crash: batch was processing, one item claimed mid-phase.
	if err := p.batches.MarkProcessing(ctx, batch.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	p.db.Model(&domain.IngestionItem{}).Where("id = ?", items[0].ID).
		Updates(map[string]interface{}{
			"state":      domain.ItemStateThumbnailing,
			"claimed_at": time.Now().Add(-time.Minute),
		})

	// Startup path: recover claims, then run the batch.
	w := NewWatchdog(p.items, logger.GetDefault(), time.Minute, 5*time.Minute)
	recovered, err := w.RecoverOnStartup(ctx)
	if err != nil {
		t.Fatalf("RecoverOnStartup: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("recovered = %d, want 1", recovered)
	}

	if err := p.coordinator.ProcessBatch(ctx, batch.ID); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	counts, _ := p.items.CountsByBatch(ctx, batch.ID)
	if counts.Done != 2 {
		t.Errorf("counts = %+v, want 2 done", counts)
	}
	got, _ := p.batches.GetByID(ctx, batch.ID)
	if got.State != domain.BatchStateCompleted {
		t.Errorf("batch state = %q, want completed", got.State)
	}
}
