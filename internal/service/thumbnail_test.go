package service

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/oazlabs/photoflow/internal/domain"
)

func encodeTestImage(t *testing.T, w, h int, format string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, nil)
	}
	if err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func decodeThumb(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("thumbnail is not valid JPEG: %v", err)
	}
	return img
}

func TestGenerateScalesDownLandscape(t *testing.T) {
	tn := NewThumbnailer(320)
	thumb, err := tn.Generate(encodeTestImage(t, 1600, 800, "jpg"), "jpg")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	img := decodeThumb(t, thumb)
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 160 {
		t.Errorf("thumb = %dx%d, want 320x160", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestGenerateScalesDownPortrait(t *testing.T) {
	tn := NewThumbnailer(320)
	thumb, err := tn.Generate(encodeTestImage(t, 600, 1200, "png"), "png")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	img := decodeThumb(t, thumb)
	if img.Bounds().Dx() != 160 || img.Bounds().Dy() != 320 {
		t.Errorf("thumb = %dx%d, want 160x320", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestGenerateDoesNotUpscale(t *testing.T) {
	tn := NewThumbnailer(320)
	thumb, err := tn.Generate(encodeTestImage(t, 100, 80, "jpg"), "jpg")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	img := decodeThumb(t, thumb)
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 80 {
		t.Errorf("thumb = %dx%d, want original 100x80", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestGenerateCorruptInput(t *testing.T) {
	tn := NewThumbnailer(320)
	_, err := tn.Generate([]byte("definitely not an image"), "jpg")
	if err == nil {
		t.Fatal("expected error for corrupt input")
	}
	if !domain.IsCorruptInput(err) {
		t.Errorf("expected CorruptInputError, got %T: %v", err, err)
	}
}

func TestGenerateWrongFormatHint(t *testing.T) {
	// PNG bytes with a jpg hint must fail as corrupt, not crash.
	tn := NewThumbnailer(320)
	if _, err := tn.Generate(encodeTestImage(t, 50, 50, "png"), "jpg"); !domain.IsCorruptInput(err) {
		t.Errorf("expected CorruptInputError for mismatched format, got %v", err)
	}
}
