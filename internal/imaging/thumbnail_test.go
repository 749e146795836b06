package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func renderPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeReportsDimensions(t *testing.T) {
	dec, err := Decode(renderPNG(t, 640, 480))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Width != 640 || dec.Height != 480 {
		t.Fatalf("got %dx%d", dec.Width, dec.Height)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestThumbnailFitsWithinBounds(t *testing.T) {
	dec, err := Decode(renderPNG(t, 1024, 512))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	thumb, err := Thumbnail(dec)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	out, err := Decode(thumb)
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if out.Width != ThumbnailSize || out.Height != ThumbnailSize/2 {
		t.Fatalf("got %dx%d, want %dx%d", out.Width, out.Height, ThumbnailSize, ThumbnailSize/2)
	}
}

func TestThumbnailSkipsScalingSmallImages(t *testing.T) {
	dec, err := Decode(renderPNG(t, 100, 80))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	thumb, err := Thumbnail(dec)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	out, err := Decode(thumb)
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if out.Width != 100 || out.Height != 80 {
		t.Fatalf("small image was scaled to %dx%d", out.Width, out.Height)
	}
}

func TestFitWithinPortrait(t *testing.T) {
	w, h := fitWithin(512, 1024, 256)
	if w != 128 || h != 256 {
		t.Fatalf("got %dx%d", w, h)
	}
}
