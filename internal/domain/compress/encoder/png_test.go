package encoder

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func checkerboard(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetRGBA(x, y, color.RGBA{R: 200, G: 10, B: 90, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{R: 5, G: 250, B: 30, A: 128})
			}
		}
	}
	return img
}

func TestEncodePNGRoundTripsBitwiseAcrossLevels(t *testing.T) {
	src := checkerboard(17, 9)
	for _, level := range []int{1, 5, 6, 7, 9} {
		enc, err := EncodePNG(src, level)
		if err != nil {
			t.Fatalf("level %d: encode error: %v", level, err)
		}
		decoded, err := png.Decode(bytes.NewReader(enc.Data))
		if err != nil {
			t.Fatalf("level %d: stdlib decode failed: %v", level, err)
		}
		b := decoded.Bounds()
		if b.Dx() != 17 || b.Dy() != 9 {
			t.Fatalf("level %d: geometry mismatch %v", level, b)
		}
		for y := 0; y < 9; y++ {
			for x := 0; x < 17; x++ {
				want := src.RGBAAt(x, y)
				got := decoded.At(x, y)
				gr, gg, gb, ga := got.RGBA()
				wr, wg, wb, wa := want.RGBA()
				if gr != wr || gg != wg || gb != wb || ga != wa {
					t.Fatalf("level %d: pixel (%d,%d) mismatch: want %v got %v", level, x, y, want, got)
				}
			}
		}
	}
}

func TestEncodePNGBestOfLevelsPicksSmallest(t *testing.T) {
	src := checkerboard(64, 64)
	best, err := EncodePNGBestOfLevels(src, []int{9, 7, 6})
	if err != nil {
		t.Fatalf("best-of: %v", err)
	}
	l9, _ := EncodePNG(src, 9)
	l7, _ := EncodePNG(src, 7)
	l6, _ := EncodePNG(src, 6)
	smallest := len(l9.Data)
	for _, n := range []int{len(l7.Data), len(l6.Data)} {
		if n < smallest {
			smallest = n
		}
	}
	if len(best.Data) != smallest {
		t.Fatalf("expected smallest blob size %d, got %d", smallest, len(best.Data))
	}
}

func TestEncodePNGQuantProducesValidPalettePNG(t *testing.T) {
	src := checkerboard(32, 32)
	enc, err := EncodePNGQuant(src, 16, "")
	if err != nil {
		t.Fatalf("quant encode: %v", err)
	}
	if enc.Label != "pngquant q80" {
		t.Fatalf("expected default label 'pngquant q80', got %q", enc.Label)
	}
	decoded, err := png.Decode(bytes.NewReader(enc.Data))
	if err != nil {
		t.Fatalf("decode paletted png: %v", err)
	}
	pimg, ok := decoded.(*image.Paletted)
	if !ok {
		t.Fatalf("expected paletted image, got %T", decoded)
	}
	if len(pimg.Palette) > 16 {
		t.Fatalf("expected at most 16 palette entries, got %d", len(pimg.Palette))
	}
}
