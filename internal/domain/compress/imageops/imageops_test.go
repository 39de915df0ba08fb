package imageops

import (
	"image"
	"image/color"
	"testing"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestCropIdentity(t *testing.T) {
	img := solid(4, 4, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	out, err := Crop(img, 0, 0, 4, 4, nil)
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if out.Bounds().Dx() != 4 || out.Bounds().Dy() != 4 {
		t.Fatalf("expected identity geometry, got %v", out.Bounds())
	}
}

func TestCropClampsAndShrinks(t *testing.T) {
	img := solid(10, 10, color.RGBA{A: 255})
	var r Report
	out, err := Crop(img, -2, 5, 100, 100, &r)
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if out.Bounds().Dx() != 10 || out.Bounds().Dy() != 5 {
		t.Fatalf("expected clamped 10x5, got %v", out.Bounds())
	}
	if !r.CropApplied {
		t.Fatal("expected CropApplied true")
	}
}

func TestCropEmptyRegionErrors(t *testing.T) {
	img := solid(4, 4, color.RGBA{A: 255})
	if _, err := Crop(img, 10, 10, 2, 2, nil); err != ErrEmptyRegion {
		t.Fatalf("expected ErrEmptyRegion, got %v", err)
	}
}

func TestTrimTightBoundingBox(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	// Transparent border, 2x2 opaque center.
	for y := 1; y <= 2; y++ {
		for x := 1; x <= 2; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var r Report
	out, err := Trim(img, 0, &r)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if out.Bounds().Dx() != 2 || out.Bounds().Dy() != 2 {
		t.Fatalf("expected 2x2, got %v", out.Bounds())
	}
	if !r.TrimApplied {
		t.Fatal("expected TrimApplied true")
	}
}

func TestTrimFullyTransparentCollapsesToOnePixel(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 5, 5))
	out, err := Trim(img, 0, nil)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if out.Bounds().Dx() != 1 || out.Bounds().Dy() != 1 {
		t.Fatalf("expected 1x1, got %v", out.Bounds())
	}
}

func TestTrimIdempotentAtZeroTolerance(t *testing.T) {
	img := solid(6, 6, color.RGBA{R: 1, A: 255})
	var r1, r2 Report
	once, err := Trim(img, 0, &r1)
	if err != nil {
		t.Fatalf("trim once: %v", err)
	}
	twice, err := Trim(once, 0, &r2)
	if err != nil {
		t.Fatalf("trim twice: %v", err)
	}
	if twice.Bounds() != once.Bounds() {
		t.Fatalf("trim not idempotent: %v vs %v", once.Bounds(), twice.Bounds())
	}
	if r2.TrimApplied {
		t.Fatal("second trim should be a no-op (bounds already match)")
	}
}
