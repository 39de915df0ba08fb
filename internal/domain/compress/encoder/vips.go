package encoder

import (
	"errors"
	"image"
	"runtime"
	"sync"

	govips "github.com/davidbyttow/govips/v2/vips"
)

// libvips startup/shutdown is process-wide state: govips.Startup and
// Shutdown must be called exactly once per process, never per request.
var vipsOnce sync.Once

// StartupVips initializes libvips. Call once at process startup
// before any WebP/AVIF encode. Safe to call multiple times.
func StartupVips() {
	vipsOnce.Do(func() {
		govips.Startup(&govips.Config{
			ConcurrencyLevel: runtime.NumCPU(),
			CollectStats:     false,
		})
	})
}

// ShutdownVips releases libvips resources. Call once at process exit.
func ShutdownVips() {
	govips.Shutdown()
}

func rgbaToVipsRef(img *image.RGBA) (*govips.ImageRef, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// image.RGBA's Pix may have a stride wider than w*4 when the
	// bounds don't start at (0,0); normalize into a tight buffer.
	tight := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		srcOff := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(tight[y*w*4:(y+1)*w*4], img.Pix[srcOff:srcOff+w*4])
	}

	return govips.NewImageFromMemory(tight, w, h, 4, govips.BandFormatUchar)
}

// EncodeWebP produces a lossy WebP blob at the given quality
// (clamped to [10,100]); label defaults to "high".
func EncodeWebP(img *image.RGBA, quality int, label string) (EncodedImage, error) {
	if quality < 10 {
		quality = 10
	}
	if quality > 100 {
		quality = 100
	}
	ref, err := rgbaToVipsRef(img)
	if err != nil {
		return EncodedImage{}, newEncodeError("webp_compress_error", err)
	}
	defer ref.Close()

	params := govips.NewWebpExportParams()
	params.Quality = quality

	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return EncodedImage{}, newEncodeError("webp_compress_error", err)
	}
	if label == "" {
		label = "high"
	}
	return EncodedImage{
		Format:    FormatWebP,
		Label:     label,
		MIME:      "image/webp",
		Extension: "webp",
		Data:      data,
	}, nil
}

// EncodeAVIF produces a YUV420 8-bit AVIF blob. minQuantizer sets the
// baseline AV1 quantizer (0..63, lower is higher quality); maxQuantizer
// is min(minQuantizer+8, 63), an 8-step rate-control band. govips'
// libheif backend exposes a single 0-100 quality knob rather than raw
// min/max quantizers, so the pair is converted to one deterministic
// quality value (see DESIGN.md).
func EncodeAVIF(img *image.RGBA, minQuantizer int, label string) (EncodedImage, error) {
	if minQuantizer < 0 {
		minQuantizer = 0
	}
	if minQuantizer > 63 {
		minQuantizer = 63
	}
	maxQuantizer := minQuantizer + 8
	if maxQuantizer > 63 {
		maxQuantizer = 63
	}

	ref, err := rgbaToVipsRef(img)
	if err != nil {
		return EncodedImage{}, newEncodeError("avif_compress_error", err)
	}
	defer ref.Close()

	avgQuantizer := (minQuantizer + maxQuantizer) / 2
	quality := 100 - (avgQuantizer * 100 / 63)

	params := govips.NewAvifExportParams()
	params.Quality = quality
	params.Speed = 6

	data, _, err := ref.ExportAvif(params)
	if err != nil {
		return EncodedImage{}, newEncodeError("avif_compress_error", err)
	}
	if label == "" {
		label = "medium"
	}
	return EncodedImage{
		Format:    FormatAVIF,
		Label:     label,
		MIME:      "image/avif",
		Extension: "avif",
		Data:      data,
	}, nil
}
