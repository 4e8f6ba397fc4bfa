package service

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/oazlabs/photoflow/internal/domain"
)

// streamOnly hides ReaderAt/Seeker so the intake sees a pure stream, the
// way a multipart body arrives over the network.
type streamOnly struct{ r io.Reader }

func (s streamOnly) Read(p []byte) (int, error) { return s.r.Read(p) }

func TestAddFilesStreamsFromPlainReader(t *testing.T) {
	p := newPipeline(t, 1)
	ctx := context.Background()

	jpg := encodeTestImage(t, 100, 100, "jpg")
	batch, err := p.intake.CreateBatch(ctx, 1, nil, 1)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	items, err := p.intake.AddFiles(ctx, batch.ID, []FileInput{{
		Filename: "SKU300.jpg",
		Reader:   streamOnly{bytes.NewReader(jpg)},
		Size:     int64(len(jpg)),
	}})
	if err != nil {
		t.Fatalf("AddFiles: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].FileSize != int64(len(jpg)) {
		t.Errorf("FileSize = %d, want %d", items[0].FileSize, len(jpg))
	}

	rc, err := p.storage.Download(ctx, items[0].StorageKey)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	stored, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(stored, jpg) {
		t.Error("stored original differs from upload")
	}
}

func TestAddArchiveExpandsImages(t *testing.T) {
	p := newPipeline(t, 1)
	ctx := context.Background()

	jpg := encodeTestImage(t, 100, 100, "jpg")
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"shoot/SKU400_01.jpg", "shoot/SKU400_02.jpg"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write(jpg); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	for _, name := range []string{"shoot/notes.txt", "__MACOSX/shoot/._SKU400_01.jpg"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		w.Write([]byte("not an image"))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}

	batch, err := p.intake.CreateBatch(ctx, 1, nil, 0)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	items, err := p.intake.AddArchive(ctx, batch.ID, bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("AddArchive: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (notes and resource fork skipped)", len(items))
	}
	for _, item := range items {
		if item.State != domain.ItemStateReceived {
			t.Errorf("item %s state = %q, want received", item.OriginalFilename, item.State)
		}
		if item.BaseSKU != "SKU400" {
			t.Errorf("item %s base sku = %q, want SKU400", item.OriginalFilename, item.BaseSKU)
		}
	}
}

func TestAddArchiveRejectsCorruptArchive(t *testing.T) {
	p := newPipeline(t, 1)
	ctx := context.Background()

	batch, err := p.intake.CreateBatch(ctx, 1, nil, 0)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	junk := []byte("definitely not a zip file")
	_, err = p.intake.AddArchive(ctx, batch.ID, bytes.NewReader(junk), int64(len(junk)))
	if !domain.IsCorruptInput(err) {
		t.Errorf("got %v, want CorruptInputError", err)
	}
}

func TestAddFilesRollsBackUploadsOnRegistrationFailure(t *testing.T) {
	p := newPipeline(t, 1)
	ctx := context.Background()

	batch, err := p.intake.CreateBatch(ctx, 1, nil, 1)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	// Force registration to fail after the upload succeeded.
	if err := p.db.Migrator().DropTable(&domain.IngestionItem{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	jpg := encodeTestImage(t, 100, 100, "jpg")
	_, err = p.intake.AddFiles(ctx, batch.ID, []FileInput{{
		Filename: "SKU500.jpg",
		Reader:   bytes.NewReader(jpg),
		Size:     int64(len(jpg)),
	}})
	if err == nil {
		t.Fatal("expected registration failure")
	}
	if n := p.storage.Len(); n != 0 {
		t.Errorf("%d orphaned blobs left in storage", n)
	}
}
