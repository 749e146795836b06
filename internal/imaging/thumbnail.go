package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"imageforge/internal/domain"
)

const (
	// Thumbnails fit inside a square of this size, preserving aspect.
	ThumbnailSize = 256

	jpegQuality = 85
)

// Decoded holds an image together with its pixel dimensions.
type Decoded struct {
	Image  image.Image
	Width  int
	Height int
}

// Decode parses PNG or JPEG bytes.
func Decode(data []byte) (*Decoded, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", domain.ErrProvider, err)
	}
	bounds := img.Bounds()
	return &Decoded{Image: img, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

// Thumbnail scales the image down to fit ThumbnailSize and encodes it
// as JPEG. Images already small enough are re-encoded without scaling.
func Thumbnail(src *Decoded) ([]byte, error) {
	target := src.Image
	if src.Width > ThumbnailSize || src.Height > ThumbnailSize {
		w, h := fitWithin(src.Width, src.Height, ThumbnailSize)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src.Image, src.Image.Bounds(), draw.Over, nil)
		target = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, target, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func fitWithin(w, h, max int) (int, int) {
	if w >= h {
		scaled := h * max / w
		if scaled < 1 {
			scaled = 1
		}
		return max, scaled
	}
	scaled := w * max / h
	if scaled < 1 {
		scaled = 1
	}
	return scaled, max
}
