package service

import (
	"context"
	"testing"
	"time"

	"github.com/oazlabs/photoflow/internal/domain"
	"github.com/oazlabs/photoflow/internal/logger"
)

func TestQueueManagerProcessesMultipleBatches(t *testing.T) {
	p := newPipeline(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jpg := encodeTestImage(t, 100, 100, "jpg")
	batchA, _ := p.uploadBatch(t, 1, map[string][]byte{"SKU910.jpg": jpg}, "SKU910.jpg")
	batchB, _ := p.uploadBatch(t, 1, map[string][]byte{"SKU911.jpg": jpg}, "SKU911.jpg")

	q := NewQueueManager(p.coordinator, p.batches, logger.GetDefault(), 1, 8)

	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	if err := q.Enqueue(batchA.ID); err != nil {
		t.Fatalf("Enqueue A: %v", err)
	}
	if err := q.Enqueue(batchB.ID); err != nil {
		t.Fatalf("Enqueue B: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for {
		a, _ := p.batches.GetByID(context.Background(), batchA.ID)
		b, _ := p.batches.GetByID(context.Background(), batchB.ID)
		if a.State == domain.BatchStateCompleted && b.State == domain.BatchStateCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("batches not completed: A=%s B=%s", a.State, b.State)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestQueueManagerSurvivesBatchFailure(t *testing.T) {
	p := newPipeline(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jpg := encodeTestImage(t, 100, 100, "jpg")
	batch, _ := p.uploadBatch(t, 1, map[string][]byte{"SKU930.jpg": jpg}, "SKU930.jpg")

	q := NewQueueManager(p.coordinator, p.batches, logger.GetDefault(), 1, 8)
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	// The first batch fails inside the dispatcher (it does not exist).
	// The queue must keep serving later submissions regardless.
	if err := q.Enqueue("no-such-batch"); err != nil {
		t.Fatalf("Enqueue bad batch: %v", err)
	}
	if err := q.Enqueue(batch.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for {
		got, err := p.batches.GetByID(context.Background(), batch.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.State == domain.BatchStateCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("batch stuck in %s after a sibling batch failed", got.State)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
}

func TestQueueManagerCollapsesDuplicates(t *testing.T) {
	p := newPipeline(t, 1)

	q := NewQueueManager(p.coordinator, p.batches, logger.GetDefault(), 1, 8)

	// Without a running dispatcher the entries stay queued, so a duplicate
	// submission must be collapsed rather than queued twice.
	if err := q.Enqueue("batch-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue("batch-1"); err != nil {
		t.Fatalf("duplicate Enqueue: %v", err)
	}
	if got := len(q.pending); got != 1 {
		t.Errorf("queue depth = %d, want 1", got)
	}
}

func TestQueueManagerRejectsWhenFull(t *testing.T) {
	p := newPipeline(t, 1)

	q := NewQueueManager(p.coordinator, p.batches, logger.GetDefault(), 1, 2)
	if err := q.Enqueue("b1"); err != nil {
		t.Fatalf("Enqueue b1: %v", err)
	}
	if err := q.Enqueue("b2"); err != nil {
		t.Fatalf("Enqueue b2: %v", err)
	}
	if err := q.Enqueue("b3"); err == nil {
		t.Fatal("expected rejection on full queue")
	}
	// Rejected batch can be resubmitted later.
	if q.enqueued["b3"] {
		t.Error("rejected batch left marked as enqueued")
	}
}

func TestResumeInterruptedSkipsCancelled(t *testing.T) {
	p := newPipeline(t, 1)
	ctx := context.Background()

	jpg := encodeTestImage(t, 100, 100, "jpg")
	active, _ := p.uploadBatch(t, 1, map[string][]byte{"SKU920.jpg": jpg}, "SKU920.jpg")
	parked, _ := p.uploadBatch(t, 1, map[string][]byte{"SKU921.jpg": jpg}, "SKU921.jpg")

	if err := p.batches.MarkProcessing(ctx, active.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := p.batches.MarkProcessing(ctx, parked.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := p.batches.RequestCancel(ctx, parked.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	q := NewQueueManager(p.coordinator, p.batches, logger.GetDefault(), 1, 8)
	resumed, err := q.ResumeInterrupted(ctx)
	if err != nil {
		t.Fatalf("ResumeInterrupted: %v", err)
	}
	if resumed != 1 {
		t.Errorf("resumed = %d, want 1 (cancelled batch stays parked)", resumed)
	}
}
