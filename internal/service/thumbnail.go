package service

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"

	"github.com/oazlabs/photoflow/internal/domain"
)

// Thumbnailer produces preview images for the review UI. Decode failures
// are classified as corrupt input so the caller fails the item immediately
// instead of burning retries on a broken file.
type Thumbnailer struct {
	maxDim  int
	quality int
}

// NewThumbnailer creates a Thumbnailer.
// Parameters:
//   - maxDim: longest edge of the generated thumbnail in pixels.
// Returns:
//   - *Thumbnailer: initialized thumbnailer.
func NewThumbnailer(maxDim int) *Thumbnailer {
	if maxDim <= 0 {
		maxDim = 320
	}
	return &Thumbnailer{maxDim: maxDim, quality: 80}
}

// Generate decodes an image and scales it down to fit the configured
// bounding box, preserving aspect ratio. Output is always JPEG regardless
// of the source format. Images already within bounds are re-encoded, not
// upscaled.
// Parameters:
//   - data: raw source image bytes (jpeg, png, gif, webp).
//   - format: source format extension, used to pick the decoder.
// Returns:
//   - []byte: encoded JPEG thumbnail.
//   - error: *domain.CorruptInputError if the image cannot be decoded.
func (t *Thumbnailer) Generate(data []byte, format string) ([]byte, error) {
	src, err := decodeImage(data, format)
	if err != nil {
		return nil, &domain.CorruptInputError{Reason: "undecodable image", Err: err}
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, &domain.CorruptInputError{Reason: "zero-sized image"}
	}

	tw, th := fitWithin(w, h, t.maxDim)

	var out image.Image = src
	if tw != w || th != h {
		dst := image.NewRGBA(image.Rect(0, 0, tw, th))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: t.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeImage(data []byte, format string) (image.Image, error) {
	r := bytes.NewReader(data)
	switch format {
	case "jpg", "jpeg":
		return jpeg.Decode(r)
	case "png":
		return png.Decode(r)
	case "gif":
		return gif.Decode(r)
	case "webp":
		return webp.Decode(r)
	default:
		img, _, err := image.Decode(r)
		return img, err
	}
}

// fitWithin scales (w, h) to fit a square bounding box without upscaling.
func fitWithin(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		nh := h * maxDim / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := w * maxDim / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}
