package expert

import (
	"encoding/json"

	"github.com/Aleqsd/ferretptimize/internal/domain/compress"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/encoder"
	"github.com/Aleqsd/ferretptimize/internal/pkg/validator"
)

// fileMetadata is the parsed shape of the global `metadata` part and
// each per-file `metadata[i]` override. Pointers distinguish "absent"
// from "explicitly zero" so a per-file override can leave a field at
// the global/default value. The validate tags bound each knob to its
// documented range; a merged metadata failing them is rejected as
// bad_metadata before any job is built.
type fileMetadata struct {
	PNGLevel       *int `json:"pngLevel" validate:"omitempty,gte=1,lte=9"`
	PNGQuantColors *int `json:"pngQuantColors" validate:"omitempty,gte=8,lte=256"`
	WebPQuality    *int `json:"webpQuality" validate:"omitempty,gte=10,lte=100"`
	AVIFQuality    *int `json:"avifQuality" validate:"omitempty,gte=0,lte=63"`

	Trim *trimMetadata `json:"trim"`
	Crop *cropMetadata `json:"crop"`
}

type trimMetadata struct {
	Enabled   *bool    `json:"enabled"`
	Tolerance *float64 `json:"tolerance" validate:"omitempty,gte=0,lte=1"`
}

type cropMetadata struct {
	Enabled *bool `json:"enabled"`
	X       *int  `json:"x" validate:"omitempty,gte=0"`
	Y       *int  `json:"y" validate:"omitempty,gte=0"`
	Width   *int  `json:"width" validate:"omitempty,gte=0"`
	Height  *int  `json:"height" validate:"omitempty,gte=0"`
}

func parseFileMetadata(raw []byte) (fileMetadata, error) {
	var m fileMetadata
	if len(raw) == 0 {
		return m, nil
	}
	err := json.Unmarshal(raw, &m)
	return m, err
}

// validateMetadata bounds-checks a merged metadata block against the
// documented ranges, returning per-field errors or nil.
func validateMetadata(m fileMetadata) map[string]string {
	return validator.Validate(m)
}

// mergeMetadata layers an optional per-file override on top of the
// global metadata; fields left nil in override fall through to global.
func mergeMetadata(global, override fileMetadata) fileMetadata {
	merged := global
	if override.PNGLevel != nil {
		merged.PNGLevel = override.PNGLevel
	}
	if override.PNGQuantColors != nil {
		merged.PNGQuantColors = override.PNGQuantColors
	}
	if override.WebPQuality != nil {
		merged.WebPQuality = override.WebPQuality
	}
	if override.AVIFQuality != nil {
		merged.AVIFQuality = override.AVIFQuality
	}
	if override.Trim != nil {
		merged.Trim = override.Trim
	}
	if override.Crop != nil {
		merged.Crop = override.Crop
	}
	return merged
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// buildJobParams converts merged metadata into the four RequestedOutputs
// plus trim/crop specs a worker job carries, clamping every value to
// its documented range.
func buildJobParams(m fileMetadata) ([]compress.RequestedOutput, compress.TrimSpec, compress.CropSpec) {
	pngLevel := clampInt(intOr(m.PNGLevel, 6), 1, 9)
	pngQuantColors := clampInt(intOr(m.PNGQuantColors, 128), 8, 256)
	webpQuality := clampInt(intOr(m.WebPQuality, 90), 10, 100)
	avifQuality := clampInt(intOr(m.AVIFQuality, 28), 0, 63)

	outputs := []compress.RequestedOutput{
		{Format: encoder.FormatPNG, Label: "lossless", Level: pngLevel},
		{Format: encoder.FormatPNGQuant, Label: "pngquant q80", Level: pngQuantColors},
		{Format: encoder.FormatWebP, Label: "high", Quality: webpQuality},
		{Format: encoder.FormatAVIF, Label: "medium", Quality: avifQuality},
	}

	var trim compress.TrimSpec
	if m.Trim != nil {
		trim.Enabled = m.Trim.Enabled != nil && *m.Trim.Enabled
		if m.Trim.Tolerance != nil {
			trim.Tolerance = *m.Trim.Tolerance
		}
	}

	var crop compress.CropSpec
	if m.Crop != nil {
		crop.Enabled = m.Crop.Enabled != nil && *m.Crop.Enabled
		if m.Crop.X != nil {
			crop.X = *m.Crop.X
		}
		if m.Crop.Y != nil {
			crop.Y = *m.Crop.Y
		}
		if m.Crop.Width != nil {
			crop.W = *m.Crop.Width
		}
		if m.Crop.Height != nil {
			crop.H = *m.Crop.Height
		}
	}

	return outputs, trim, crop
}
