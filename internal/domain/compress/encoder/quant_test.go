package encoder

import (
	"image"
	"image/color"
	"testing"
)

func TestQuantizeMedianCutSingleColorCollapses(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 42, G: 42, B: 42, A: 255})
		}
	}
	indices, palette, w, h, err := quantizeMedianCut(img, 256)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if len(palette) != 1 {
		t.Fatalf("expected a single box for a single-color image, got %d", len(palette))
	}
	if w != 8 || h != 8 {
		t.Fatalf("unexpected geometry %dx%d", w, h)
	}
	for _, idx := range indices {
		if idx != 0 {
			t.Fatalf("expected every pixel mapped to the single palette entry")
		}
	}
}

func TestQuantizeMedianCutRespectsTargetColorsCeiling(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: uint8((x + y) * 8), A: 255})
		}
	}
	_, palette, _, _, err := quantizeMedianCut(img, 8)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if len(palette) > 8 {
		t.Fatalf("expected at most 8 palette entries, got %d", len(palette))
	}
}
