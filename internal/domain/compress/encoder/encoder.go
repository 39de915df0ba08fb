// Package encoder implements the four output encoders: lossless PNG,
// palette-quantized PNG (median cut), WebP and AVIF. Every encoder
// takes a decoded RGBA buffer and fixed parameters and returns an
// encoded blob plus metadata, or a single EncodeError; no partial
// outputs.
package encoder

import (
	"errors"
	"image"
)

// Format identifies one of the four supported output encodings.
type Format string

const (
	FormatPNG      Format = "png"
	FormatPNGQuant Format = "pngquant"
	FormatWebP     Format = "webp"
	FormatAVIF     Format = "avif"
)

// EncodeError wraps a format-specific encode failure with the short
// error code the HTTP layer surfaces to clients (png_compress_error,
// pngquant_error, webp_compress_error, avif_compress_error).
type EncodeError struct {
	Code string
	Err  error
}

func (e *EncodeError) Error() string { return e.Code }
func (e *EncodeError) Unwrap() error { return e.Err }

func newEncodeError(code string, err error) *EncodeError {
	return &EncodeError{Code: code, Err: err}
}

// EncodedImage is the metadata+blob pair every encoder produces.
type EncodedImage struct {
	Format    Format
	Label     string
	MIME      string
	Extension string
	Tuning    string // "", "more", "less"
	Data      []byte
}

// EncodePNG produces a lossless 8-bit RGBA PNG at the given zlib
// compression level (clamped to [1,9]).
func EncodePNG(img *image.RGBA, level int) (EncodedImage, error) {
	if img == nil {
		return EncodedImage{}, newEncodeError("png_compress_error", errors.New("nil image"))
	}
	data := encodeTrueColorPNG(img, level)
	return EncodedImage{
		Format:    FormatPNG,
		Label:     "lossless",
		MIME:      "image/png",
		Extension: "png",
		Data:      data,
	}, nil
}

// EncodePNGBestOfLevels runs EncodePNG at each of the given levels
// and returns the smallest resulting blob, used by the "more" tuning
// direction which trades an extra encode pass for size (see
// DESIGN.md).
func EncodePNGBestOfLevels(img *image.RGBA, levels []int) (EncodedImage, error) {
	var best EncodedImage
	for i, lvl := range levels {
		enc, err := EncodePNG(img, lvl)
		if err != nil {
			return EncodedImage{}, err
		}
		if i == 0 || len(enc.Data) < len(best.Data) {
			best = enc
		}
	}
	return best, nil
}

// EncodePNGQuant produces a palette PNG of at most targetColors
// entries via median-cut quantization (see quant.go). label, when
// empty, defaults to the literal "pngquant q80" regardless of the
// actual color count; the label is a display string, not a parameter
// echo.
func EncodePNGQuant(img *image.RGBA, targetColors int, label string) (EncodedImage, error) {
	if img == nil {
		return EncodedImage{}, newEncodeError("pngquant_error", errors.New("nil image"))
	}
	indices, palette, w, h, err := quantizeMedianCut(img, targetColors)
	if err != nil {
		return EncodedImage{}, newEncodeError("pngquant_error", err)
	}
	data := encodePalettedPNG(indices, w, h, palette)
	if label == "" {
		label = "pngquant q80"
	}
	return EncodedImage{
		Format:    FormatPNGQuant,
		Label:     label,
		MIME:      "image/png",
		Extension: "png",
		Data:      data,
	}, nil
}
