package compress

import (
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/encoder"
)

// Result is what a worker produces for exactly one job, success or
// failure.
type Result struct {
	ID         uint64
	InputSize  int
	Outputs    []encoder.EncodedImage
	Status     int // 0 ok, <0 on first encoder/decode failure
	Message    string
	StartNanos int64
	EndNanos   int64

	InputWidth, InputHeight   int
	OutputWidth, OutputHeight int
	TrimApplied, CropApplied  bool
}

// DurationMillis returns the wall-clock time the worker spent on this
// job, in whole milliseconds.
func (r *Result) DurationMillis() int64 {
	return (r.EndNanos - r.StartNanos) / 1_000_000
}

// OK reports whether the job completed without a decode/encode
// failure.
func (r *Result) OK() bool {
	return r.Status == 0
}
