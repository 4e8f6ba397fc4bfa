package service

import (
	"archive/zip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oazlabs/photoflow/internal/domain"
	"github.com/oazlabs/photoflow/internal/logger"
	"github.com/oazlabs/photoflow/internal/matcher"
	"github.com/oazlabs/photoflow/internal/repository"
	"github.com/oazlabs/photoflow/internal/storage"
)

// IntakeService handles the upload phase: it opens batches, persists the
// originals to durable storage, and registers items in state received.
// Processing never starts implicitly; that is the coordinator's job.
type IntakeService struct {
	batches *repository.BatchRepository
	items   *repository.ItemRepository
	storage storage.ObjectStorage
	logger  *logger.Logger

	chunkSize  int
	maxRetries int
}

// NewIntakeService creates a new intake service.
// Parameters:
//   - batches: batch repository.
//   - items: item repository.
//   - objectStorage: durable blob store for originals.
//   - log: structured logger.
//   - chunkSize: rows per item insert statement.
//   - maxRetries: per-item retry budget stamped on new items.
// Returns:
//   - *IntakeService: initialized service.
func NewIntakeService(
	batches *repository.BatchRepository,
	items *repository.ItemRepository,
	objectStorage storage.ObjectStorage,
	log *logger.Logger,
	chunkSize int,
	maxRetries int,
) *IntakeService {
	return &IntakeService{
		batches:    batches,
		items:      items,
		storage:    objectStorage,
		logger:     log,
		chunkSize:  chunkSize,
		maxRetries: maxRetries,
	}
}

// log returns a logger from context if available, otherwise the default.
func (s *IntakeService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// CreateBatch opens a new batch in collecting state.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - collectionID: collection whose purchase order the batch matches against.
//   - brandID: optional brand scope.
//   - declaredCount: number of files the studio says it will send (0 if unknown).
// Returns:
//   - *domain.BatchUpload: the created batch.
//   - error: non-nil if persistence fails.
func (s *IntakeService) CreateBatch(ctx context.Context, collectionID uint, brandID *uint, declaredCount int) (*domain.BatchUpload, error) {
	batch := &domain.BatchUpload{
		ID:            uuid.New().String(),
		CollectionID:  collectionID,
		BrandID:       brandID,
		DeclaredCount: declaredCount,
		State:         domain.BatchStateCollecting,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldBatchID: batch.ID,
		"collection_id":     collectionID,
		"declared_count":    declaredCount,
	}).Info("Batch opened")

	return batch, nil
}

// FileInput is one uploaded file as the intake sees it.
type FileInput struct {
	Filename string
	Reader   io.Reader
	Size     int64
}

// AddFiles stores a set of originals and registers one item per file. The
// batch must still be collecting. Files with identical content share a
// storage key (MD5-addressed), but each upload gets its own item: the same
// photo sent twice is two review rows, not a silent dedupe.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batchID: open batch to add to.
//   - files: uploaded files.
// Returns:
//   - []domain.IngestionItem: registered items in input order.
//   - error: non-nil if the batch is not collecting or persistence fails.
func (s *IntakeService) AddFiles(ctx context.Context, batchID string, files []FileInput) ([]domain.IngestionItem, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.State != domain.BatchStateCollecting {
		return nil, fmt.Errorf("batch %s is %s, not accepting files", batchID, batch.State)
	}

	now := time.Now()
	items := make([]domain.IngestionItem, 0, len(files))
	var uploadedKeys []string

	for i := range files {
		item, uploaded, err := s.storeFile(ctx, batch, &files[i], now)
		if err != nil {
			s.cleanupUploads(uploadedKeys)
			return nil, fmt.Errorf("failed to store %q: %w", files[i].Filename, err)
		}
		if uploaded {
			uploadedKeys = append(uploadedKeys, item.StorageKey)
		}
		items = append(items, *item)
	}

	if err := s.items.CreateInChunks(ctx, items, s.chunkSize); err != nil {
		s.cleanupUploads(uploadedKeys)
		return nil, fmt.Errorf("failed to register items: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldBatchID: batchID,
		logger.FieldCount:   len(items),
	}).Info("Files registered")

	return items, nil
}

// storeFile uploads one original and builds its item row. The upload is
// spooled through a temp file while hashing, never buffered whole in
// memory, so batch size is bounded by disk, not RAM. The SKU parts are
// extracted here so the review UI can show them before matching runs; the
// authoritative match still happens in the matching phase.
// The second return reports whether a new blob was written to storage, so
// the caller can roll it back if registration fails.
func (s *IntakeService) storeFile(ctx context.Context, batch *domain.BatchUpload, file *FileInput, now time.Time) (*domain.IngestionItem, bool, error) {
	tmp, err := os.CreateTemp("", "photoflow-upload-*")
	if err != nil {
		return nil, false, fmt.Errorf("failed to create spool file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := md5.New()
	size, err := io.Copy(tmp, io.TeeReader(file.Reader, hasher))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read upload: %w", err)
	}

	format := formatFromFilename(file.Filename)
	contentHash := hex.EncodeToString(hasher.Sum(nil))
	storageKey := fmt.Sprintf("originals/%s/%s.%s", contentHash[:2], contentHash, format)

	exists, err := s.storage.Exists(ctx, storageKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check storage: %w", err)
	}
	uploaded := false
	if !exists {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return nil, false, fmt.Errorf("failed to rewind spool file: %w", err)
		}
		if err := s.storage.Upload(ctx, storageKey, tmp, size, contentTypeFor(format)); err != nil {
			return nil, false, fmt.Errorf("failed to upload original: %w", err)
		}
		uploaded = true
	} else {
		s.log(ctx).WithField("storage_key", storageKey).Debug("Original already in storage, skipping upload")
	}

	ex := matcher.Extract(file.Filename)
	received := now

	return &domain.IngestionItem{
		ID:               uuid.New().String(),
		BatchID:          batch.ID,
		OriginalFilename: filepath.Base(file.Filename),
		ContentHash:      contentHash,
		StorageKey:       storageKey,
		FileSize:         size,
		Format:           format,
		SKU:              matcher.NormalizeSKU(ex.RawSKU),
		BaseSKU:          matcher.NormalizeSKU(ex.BaseSKU),
		Sequence:         ex.Sequence,
		State:            domain.ItemStateReceived,
		MaxRetries:       s.maxRetries,
		ReceivedAt:       &received,
	}, uploaded, nil
}

// AddArchive expands a ZIP of originals into the batch, one item per image
// entry. Directories, hidden files, and non-image entries are skipped.
// Studios often hand over a whole shoot as a single archive.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batchID: open batch to add to.
//   - archive: the uploaded archive.
//   - size: archive size in bytes.
// Returns:
//   - []domain.IngestionItem: registered items in archive order.
//   - error: *domain.CorruptInputError if the archive is unreadable,
//     otherwise as AddFiles.
func (s *IntakeService) AddArchive(ctx context.Context, batchID string, archive io.ReaderAt, size int64) ([]domain.IngestionItem, error) {
	zr, err := zip.NewReader(archive, size)
	if err != nil {
		return nil, &domain.CorruptInputError{Reason: "unreadable archive", Err: err}
	}

	inputs := make([]FileInput, 0, len(zr.File))
	var entries []io.Closer
	defer func() {
		for _, e := range entries {
			e.Close()
		}
	}()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !archiveImageEntry(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open archive entry %q: %w", f.Name, err)
		}
		entries = append(entries, rc)
		inputs = append(inputs, FileInput{
			Filename: f.Name,
			Reader:   rc,
			Size:     int64(f.UncompressedSize64),
		})
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("archive contains no image files")
	}

	return s.AddFiles(ctx, batchID, inputs)
}

// archiveImageEntry reports whether a ZIP entry name looks like an image
// worth ingesting. macOS resource forks and dotfiles are noise.
func archiveImageEntry(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(name, "__MACOSX/") {
		return false
	}
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(base), ".")) {
	case "jpg", "jpeg", "png", "gif", "webp":
		return true
	}
	return false
}

// cleanupUploads removes blobs written during a failed intake call. Runs on
// a fresh context: the request context is usually already dead on this
// path. Best effort; a leftover content-addressed blob is reused by the
// next upload of the same file anyway.
func (s *IntakeService) cleanupUploads(keys []string) {
	ctx := context.Background()
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			s.logger.WithField("storage_key", key).WithError(err).Warn("Failed to delete orphaned original")
		}
	}
}

func formatFromFilename(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "jpeg" {
		ext = "jpg"
	}
	if ext == "" {
		ext = "jpg"
	}
	return ext
}

func contentTypeFor(format string) string {
	switch format {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
