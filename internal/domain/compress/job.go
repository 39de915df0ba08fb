// Package compress holds the data model shared by the worker pool,
// the HTTP front end, and the Expert orchestration: jobs, results,
// encoded-image records, and the small pure helpers (filename
// sanitizing, job-id assignment) that sit at the boundary between
// them.
package compress

import (
	"sync/atomic"

	"github.com/Aleqsd/ferretptimize/internal/domain/compress/encoder"
	"github.com/Aleqsd/ferretptimize/internal/pkg/progress"
)

// TuneDirection biases encoder parameters toward smaller output (+1),
// higher quality (-1), or the baseline (0).
type TuneDirection int

const (
	TuneMoreQuality TuneDirection = -1
	TuneNeutral     TuneDirection = 0
	TuneSmaller     TuneDirection = 1
)

// RequestedOutput is one (format, parameters) pair an Expert-mode
// file asks for.
type RequestedOutput struct {
	Format  encoder.Format
	Label   string
	Quality int // webp quality / avif min-quantizer, format-dependent
	Level   int // png zlib level / pngquant target colors, format-dependent
}

// TrimSpec carries Expert-mode auto-trim parameters.
type TrimSpec struct {
	Enabled   bool
	Tolerance float64
}

// CropSpec carries Expert-mode explicit crop parameters.
type CropSpec struct {
	Enabled bool
	X, Y    int
	W, H    int
}

// Job is produced by an HTTP handler and consumed exactly once by a
// worker.
type Job struct {
	ID          uint64
	Bytes       []byte
	Filename    string
	EnqueueTime int64 // UnixNano, monotonic enough for ETA bookkeeping

	Progress *progress.Channel // may be nil

	IsExpert bool

	// Simple mode.
	TuneFormat    encoder.Format
	TuneLabel     string
	TuneDirection TuneDirection

	// Expert mode.
	RequestedOutputs []RequestedOutput
	Trim             TrimSpec
	Crop             CropSpec
}

var jobCounter atomic.Uint64

// NextJobID returns the next value from the global monotonic counter,
// skipping zero (zero is reserved to mean "not supplied" on the
// client-facing X-Job-Id header).
func NextJobID() uint64 {
	id := jobCounter.Add(1)
	if id == 0 {
		id = jobCounter.Add(1)
	}
	return id
}

// isSanitizedFilenameByte reports whether b is allowed in an uploaded
// filename.
func isSanitizedFilenameByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= 'a' && b <= 'z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '-':
		return true
	default:
		return false
	}
}

// SanitizeFilename strips everything outside [A-Za-z0-9._-] and any
// path separators, falling back to "upload.png" if nothing survives.
func SanitizeFilename(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		if isSanitizedFilenameByte(name[i]) {
			out = append(out, name[i])
		}
	}
	if len(out) == 0 {
		return "upload.png"
	}
	return string(out)
}
