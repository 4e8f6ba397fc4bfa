package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/oazlabs/photoflow/internal/domain"
)

// testDB opens a file-backed SQLite database in a temp dir. File-backed
// rather than :memory: so concurrent claim tests exercise real cross-
// connection visibility.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	// One connection keeps the pragmas effective for every query and
	// serializes writes the way SQLite wants.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func seedBatch(t *testing.T, db *gorm.DB, collectionID uint) *domain.BatchUpload {
	t.Helper()
	batch := &domain.BatchUpload{
		ID:           uuid.New().String(),
		CollectionID: collectionID,
		State:        domain.BatchStateCollecting,
	}
	if err := NewBatchRepository(db).Create(context.Background(), batch); err != nil {
		t.Fatalf("failed to seed batch: %v", err)
	}
	return batch
}

func seedItem(t *testing.T, db *gorm.DB, batchID string, state domain.ItemState) *domain.IngestionItem {
	t.Helper()
	item := &domain.IngestionItem{
		ID:               uuid.New().String(),
		BatchID:          batchID,
		OriginalFilename: "SKU100_01.jpg",
		ContentHash:      "aabbccdd",
		StorageKey:       "originals/aa/aabbccdd.jpg",
		Format:           "jpg",
		State:            state,
		MaxRetries:       3,
	}
	if err := NewItemRepository(db).Create(context.Background(), item); err != nil {
		t.Fatalf("failed to seed item: %v", err)
	}
	return item
}

func TestBatchLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewBatchRepository(db)
	batch := seedBatch(t, db, 1)

	if err := repo.MarkProcessing(ctx, batch.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	got, err := repo.GetByID(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.State != domain.BatchStateProcessing {
		t.Errorf("state = %q, want processing", got.State)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt not stamped")
	}

	// Second call must not move started_at.
	started := *got.StartedAt
	time.Sleep(10 * time.Millisecond)
	if err := repo.MarkProcessing(ctx, batch.ID); err != nil {
		t.Fatalf("MarkProcessing again: %v", err)
	}
	got, _ = repo.GetByID(ctx, batch.ID)
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt moved on repeated MarkProcessing")
	}

	if err := repo.MarkCompleted(ctx, batch.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got, _ = repo.GetByID(ctx, batch.ID)
	if got.State != domain.BatchStateCompleted || got.FinishedAt == nil {
		t.Errorf("completed batch = %+v", got)
	}
}

func TestBatchCancelFlag(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewBatchRepository(db)
	batch := seedBatch(t, db, 1)

	cancelled, err := repo.IsCancelRequested(ctx, batch.ID)
	if err != nil || cancelled {
		t.Fatalf("fresh batch cancelled=%v err=%v", cancelled, err)
	}

	if err := repo.RequestCancel(ctx, batch.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	cancelled, err = repo.IsCancelRequested(ctx, batch.ID)
	if err != nil || !cancelled {
		t.Fatalf("after cancel: cancelled=%v err=%v", cancelled, err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	db := testDB(t)
	if _, err := NewBatchRepository(db).GetByID(context.Background(), "nope"); err != domain.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := NewItemRepository(db).GetByID(context.Background(), "nope"); err != domain.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
