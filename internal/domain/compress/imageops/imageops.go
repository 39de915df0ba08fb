// Package imageops implements the two pixel-level transforms the
// worker pool applies before encoding: an explicit crop and an
// alpha-threshold auto-trim, both operating on decoded RGBA buffers.
package imageops

import (
	"errors"
	"image"
)

// ErrEmptyRegion is returned when a crop's clamped region has no area.
var ErrEmptyRegion = errors.New("imageops: empty crop region")

// Report records what changed, mirroring the per-job metadata the
// HTTP response surfaces (original/final geometry, trim/crop applied
// flags).
type Report struct {
	OriginalWidth  int
	OriginalHeight int
	FinalWidth     int
	FinalHeight    int
	CropApplied    bool
	TrimApplied    bool
}

func seedReport(img *image.RGBA, report *Report) {
	if report == nil {
		return
	}
	b := img.Bounds()
	report.OriginalWidth = b.Dx()
	report.OriginalHeight = b.Dy()
	report.FinalWidth = b.Dx()
	report.FinalHeight = b.Dy()
}

// Crop clamps (x, y, w, h) to img's bounds (shifting to 0 on negative
// origins, shrinking w/h if they run past the far edge) and returns a
// new RGBA image holding just that region. Fails if the clamped
// region has no area.
func Crop(img *image.RGBA, x, y, w, h int, report *Report) (*image.RGBA, error) {
	if img == nil || w <= 0 || h <= 0 {
		return nil, ErrEmptyRegion
	}
	seedReport(img, report)

	iw := img.Bounds().Dx()
	ih := img.Bounds().Dy()
	if iw <= 0 || ih <= 0 {
		return nil, ErrEmptyRegion
	}

	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x >= iw || y >= ih {
		return nil, ErrEmptyRegion
	}
	if x+w > iw {
		w = iw - x
	}
	if y+h > ih {
		h = ih - y
	}
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyRegion
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	srcBase := img.Bounds().Min
	for row := 0; row < h; row++ {
		srcOff := img.PixOffset(srcBase.X+x, srcBase.Y+y+row)
		dstOff := out.PixOffset(0, row)
		copy(out.Pix[dstOff:dstOff+w*4], img.Pix[srcOff:srcOff+w*4])
	}

	if report != nil {
		report.CropApplied = true
		report.FinalWidth = w
		report.FinalHeight = h
	}
	return out, nil
}

// Trim computes threshold = round(tolerance*255), finds the tight
// bounding box of pixels with alpha > threshold, and crops to it. A
// fully-transparent (or fully-below-threshold) image collapses to a
// single pixel at (0,0) rather than failing. Returns the original
// image unchanged (TrimApplied=false) if the bounding box already
// equals the full image.
func Trim(img *image.RGBA, tolerance float64, report *Report) (*image.RGBA, error) {
	if img == nil {
		return nil, ErrEmptyRegion
	}
	seedReport(img, report)

	if tolerance < 0 {
		tolerance = 0
	}
	if tolerance > 1 {
		tolerance = 1
	}
	threshold := int(tolerance*255 + 0.5)

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return nil, ErrEmptyRegion
	}

	minX, minY := width, height
	maxX, maxY := -1, -1

	for y := 0; y < height; y++ {
		rowOff := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < width; x++ {
			alpha := img.Pix[rowOff+x*4+3]
			if int(alpha) > threshold {
				if x < minX {
					minX = x
				}
				if y < minY {
					minY = y
				}
				if x > maxX {
					maxX = x
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}

	if maxX < minX || maxY < minY {
		minX, minY, maxX, maxY = 0, 0, 0, 0
	}

	newW := maxX - minX + 1
	newH := maxY - minY + 1
	if newW == width && newH == height && minX == 0 && minY == 0 {
		return img, nil
	}

	out, err := Crop(img, minX, minY, newW, newH, report)
	if err != nil {
		return nil, err
	}
	if report != nil {
		report.TrimApplied = true
	}
	return out, nil
}
