// Package worker implements the worker pool (C5): N goroutines pop
// jobs, decode the input PNG once, run up to four encoders
// concurrently, apply the ETA model and progress events, and push a
// single result per job.
package worker

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/Aleqsd/ferretptimize/internal/domain/compress"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/encoder"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/eta"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/imageops"
	"github.com/Aleqsd/ferretptimize/internal/pkg/progress"
	"github.com/Aleqsd/ferretptimize/internal/pkg/queue"
	"github.com/rs/zerolog"
)

// Pool runs N worker goroutines over a shared job queue, pushing one
// result per job to the shared result queue.
type Pool struct {
	jobs    *queue.Queue[*compress.Job]
	results *queue.Queue[*compress.Result]
	eta     *eta.Model
	log     zerolog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPool constructs a pool; call Start to launch its workers.
func NewPool(jobs *queue.Queue[*compress.Job], results *queue.Queue[*compress.Result], etaModel *eta.Model, log zerolog.Logger) *Pool {
	return &Pool{jobs: jobs, results: results, eta: etaModel, log: log, stop: make(chan struct{})}
}

// Start launches n worker goroutines.
func (p *Pool) Start(n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}
}

// Stop signals every worker to exit after its current job and waits
// for them to drain.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Pool) loop(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		job, err := p.jobs.Pop()
		if err != nil {
			time.Sleep(2 * time.Millisecond)
			continue
		}

		result := p.safeProcess(job)
		for {
			if pushErr := p.results.Push(result); pushErr == nil {
				break
			}
			time.Sleep(2 * time.Millisecond)
		}
	}
}

// taskSpec is one (format, parameters) encode task within a job.
type taskSpec struct {
	format encoder.Format
	label  string
	run    func(img *image.RGBA) (encoder.EncodedImage, error)
}

// statusFor maps an encode/decode failure to the negative status code
// its result carries.
func statusFor(err error) int {
	var encErr *encoder.EncodeError
	if !errors.As(err, &encErr) {
		return -1
	}
	switch encErr.Code {
	case "png_compress_error":
		return -2
	case "pngquant_error":
		return -3
	case "webp_compress_error":
		return -4
	case "avif_compress_error":
		return -5
	default:
		return -1
	}
}

// panicCode returns the short error code a contained panic surfaces as,
// matching the format-specific codes real encode failures carry.
func panicCode(format encoder.Format) string {
	switch format {
	case encoder.FormatPNG:
		return "png_compress_error"
	case encoder.FormatPNGQuant:
		return "pngquant_error"
	case encoder.FormatWebP:
		return "webp_compress_error"
	case encoder.FormatAVIF:
		return "avif_compress_error"
	default:
		return "encode_error"
	}
}

// safeProcess contains any panic escaping process: the job must still
// yield exactly one result, so a panicking worker produces a failed
// result instead of killing the process.
func (p *Pool) safeProcess(job *compress.Job) (result *compress.Result) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Uint64("jobId", job.ID).Msg("worker panic contained")
			result = &compress.Result{
				ID:        job.ID,
				InputSize: len(job.Bytes),
				Status:    -1,
				Message:   "internal_error",
				EndNanos:  time.Now().UnixNano(),
			}
			if job.Progress != nil {
				job.Progress.Close()
				job.Progress.Release()
			}
		}
	}()
	return p.process(job)
}

func (p *Pool) process(job *compress.Job) *compress.Result {
	start := time.Now()
	result := &compress.Result{ID: job.ID, InputSize: len(job.Bytes), StartNanos: start.UnixNano()}

	decoded, err := decodePNG(job.Bytes)
	if err != nil || decoded.Bounds().Dx() == 0 || decoded.Bounds().Dy() == 0 {
		result.Status = -1
		result.Message = "decode_error"
		result.EndNanos = time.Now().UnixNano()
		p.emitTerminalStatus(job, result)
		return result
	}

	result.InputWidth = decoded.Bounds().Dx()
	result.InputHeight = decoded.Bounds().Dy()

	img := decoded
	if job.IsExpert {
		var report imageops.Report
		if job.Trim.Enabled {
			if trimmed, terr := imageops.Trim(img, job.Trim.Tolerance, &report); terr == nil {
				img = trimmed
			}
		}
		if job.Crop.Enabled && job.Crop.W > 0 && job.Crop.H > 0 {
			if cropped, cerr := imageops.Crop(img, job.Crop.X, job.Crop.Y, job.Crop.W, job.Crop.H, &report); cerr == nil {
				img = cropped
			}
		}
		result.TrimApplied = report.TrimApplied
		result.CropApplied = report.CropApplied
	}
	result.OutputWidth = img.Bounds().Dx()
	result.OutputHeight = img.Bounds().Dy()

	tasks := buildTasks(job)
	workUnits := float64(img.Bounds().Dx()*img.Bounds().Dy()) / 1_000_000

	type taskResult struct {
		enc    encoder.EncodedImage
		err    error
		millis float64
	}
	outcomes := make([]taskResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task taskSpec) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					p.log.Error().Interface("panic", r).Uint64("jobId", job.ID).
						Str("format", string(task.format)).Msg("encoder panic contained")
					outcomes[i].err = &encoder.EncodeError{Code: panicCode(task.format)}
				}
			}()
			taskStart := time.Now()
			enc, err := task.run(img)
			elapsed := time.Since(taskStart)
			outcomes[i] = taskResult{enc: enc, err: err, millis: float64(elapsed.Milliseconds())}
			if err != nil {
				return
			}
			key := eta.BucketKey(string(task.format), workUnits)
			p.eta.Record(key, outcomes[i].millis, workUnits)
			if job.Progress != nil {
				avg := p.eta.Estimate(key, workUnits)
				p.emitOutput(job, result, enc, outcomes[i].millis, avg)
			}
		}(i, task)
	}
	wg.Wait()

	var firstErr error
	for _, o := range outcomes {
		if o.err != nil {
			firstErr = o.err
			break
		}
	}

	if firstErr != nil {
		result.Status = statusFor(firstErr)
		result.Message = firstErr.Error()
	} else {
		result.Status = 0
		result.Message = "ok"
		for _, o := range outcomes {
			result.Outputs = append(result.Outputs, o.enc)
		}
	}

	result.EndNanos = time.Now().UnixNano()
	p.emitTerminalStatus(job, result)
	return result
}

func decodePNG(data []byte) (*image.RGBA, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out, nil
}

type outputEvent struct {
	JobID         uint64  `json:"jobId"`
	Type          string  `json:"type"`
	Format        string  `json:"format"`
	Label         string  `json:"label"`
	Bytes         int     `json:"bytes"`
	MIME          string  `json:"mime"`
	Extension     string  `json:"extension"`
	Data          string  `json:"data"`
	InputBytes    int     `json:"inputBytes"`
	DurationMs    float64 `json:"durationMs"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

type statusEvent struct {
	JobID      uint64 `json:"jobId"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	DurationMs int64  `json:"durationMs"`
	InputBytes int    `json:"inputBytes"`
}

func (p *Pool) emitOutput(job *compress.Job, result *compress.Result, enc encoder.EncodedImage, millis, avg float64) {
	if job.Progress == nil {
		return
	}
	ev := outputEvent{
		JobID:         job.ID,
		Type:          "output",
		Format:        string(enc.Format),
		Label:         enc.Label,
		Bytes:         len(enc.Data),
		MIME:          enc.MIME,
		Extension:     enc.Extension,
		Data:          base64.StdEncoding.EncodeToString(enc.Data),
		InputBytes:    result.InputSize,
		DurationMs:    millis,
		AvgDurationMs: avg,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to marshal output progress event")
		return
	}
	job.Progress.Emit(progress.Event{Type: progress.EventOutput, Name: "result", JSON: payload})
}

func (p *Pool) emitTerminalStatus(job *compress.Job, result *compress.Result) {
	if job.Progress == nil {
		return
	}
	status := "ok"
	if !result.OK() {
		status = "error"
	}
	ev := statusEvent{
		JobID:      job.ID,
		Type:       "status",
		Status:     status,
		Message:    result.Message,
		DurationMs: result.DurationMillis(),
		InputBytes: result.InputSize,
	}
	payload, err := json.Marshal(ev)
	if err == nil {
		job.Progress.Emit(progress.Event{Type: progress.EventStatus, Name: "status", JSON: payload})
	}
	job.Progress.Close()
	job.Progress.Release() // the job's ref, taken by the dispatcher at submit
}
