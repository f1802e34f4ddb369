// Package imaging gates chat attachments client-side: type and size checks
// happen before any network call, then the image is downscaled and
// re-encoded so uploads stay bounded regardless of what the user picked.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var (
	ErrTooLarge        = errors.New("image exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported image type")
)

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Validate rejects oversized or non-image payloads. The content type is
// sniffed from the bytes, not trusted from a filename.
func Validate(data []byte, maxBytes int64) error {
	if int64(len(data)) > maxBytes {
		return fmt.Errorf("%d bytes (limit %d): %w", len(data), maxBytes, ErrTooLarge)
	}
	ct := http.DetectContentType(data)
	if !allowedTypes[ct] {
		return fmt.Errorf("%s: %w", ct, ErrUnsupportedType)
	}
	return nil
}

// Prepare decodes, downscales so the long edge is at most maxEdge, and
// re-encodes as JPEG at the given quality. Images already within bounds
// are still re-encoded; that is what keeps payload size predictable.
func Prepare(data []byte, maxEdge, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	tw, th := w, h
	if long := max(w, h); long > maxEdge {
		scale := float64(maxEdge) / float64(long)
		tw = int(float64(w)*scale + 0.5)
		th = int(float64(h)*scale + 0.5)
		if tw < 1 {
			tw = 1
		}
		if th < 1 {
			th = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
