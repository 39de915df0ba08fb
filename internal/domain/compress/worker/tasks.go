package worker

import (
	"image"

	"github.com/Aleqsd/ferretptimize/internal/domain/compress"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/encoder"
)

// tuningLabel mirrors the requested tune direction back onto each
// produced output's Tuning field: "more" for smaller (+1), "less" for
// higher quality (-1), "" at baseline.
func tuningLabel(dir compress.TuneDirection) string {
	switch dir {
	case compress.TuneSmaller:
		return "more"
	case compress.TuneMoreQuality:
		return "less"
	default:
		return ""
	}
}

// buildTasks produces the ordered list of encode tasks for a job: the
// fixed four-encoder tune table in simple mode (optionally narrowed to
// one format via TuneFormat), or the caller-specified output list in
// Expert mode.
func buildTasks(job *compress.Job) []taskSpec {
	if job.IsExpert {
		return buildExpertTasks(job)
	}
	return buildSimpleTasks(job)
}

func buildSimpleTasks(job *compress.Job) []taskSpec {
	tuning := tuningLabel(job.TuneDirection)
	all := []taskSpec{
		pngTask("lossless", tuning, job.TuneDirection),
		pngQuantTask("pngquant q80", tuning, job.TuneDirection, 128),
		webpTask("high", tuning, job.TuneDirection, 90),
		avifTask("medium", tuning, job.TuneDirection, 28),
	}
	if job.TuneFormat == "" && job.TuneLabel == "" {
		return all
	}
	for _, t := range all {
		if job.TuneFormat != "" && t.format != job.TuneFormat {
			continue
		}
		if job.TuneLabel != "" && t.label != job.TuneLabel {
			continue
		}
		return []taskSpec{t}
	}
	return all
}

func buildExpertTasks(job *compress.Job) []taskSpec {
	tasks := make([]taskSpec, 0, len(job.RequestedOutputs))
	for _, req := range job.RequestedOutputs {
		switch req.Format {
		case encoder.FormatPNG:
			level := req.Level
			if level <= 0 {
				level = 5
			}
			tasks = append(tasks, taskSpec{format: encoder.FormatPNG, run: func(img *image.RGBA) (encoder.EncodedImage, error) {
				enc, err := encoder.EncodePNG(img, level)
				if err == nil {
					enc.Tuning = ""
				}
				return enc, err
			}})
		case encoder.FormatPNGQuant:
			colors := req.Level
			if colors <= 0 {
				colors = 128
			}
			label := req.Label
			tasks = append(tasks, taskSpec{format: encoder.FormatPNGQuant, run: func(img *image.RGBA) (encoder.EncodedImage, error) {
				return encoder.EncodePNGQuant(img, colors, label)
			}})
		case encoder.FormatWebP:
			quality := req.Quality
			if quality <= 0 {
				quality = 90
			}
			label := req.Label
			tasks = append(tasks, taskSpec{format: encoder.FormatWebP, run: func(img *image.RGBA) (encoder.EncodedImage, error) {
				return encoder.EncodeWebP(img, quality, label)
			}})
		case encoder.FormatAVIF:
			minQ := req.Quality
			if minQ <= 0 {
				minQ = 28
			}
			label := req.Label
			tasks = append(tasks, taskSpec{format: encoder.FormatAVIF, run: func(img *image.RGBA) (encoder.EncodedImage, error) {
				return encoder.EncodeAVIF(img, minQ, label)
			}})
		}
	}
	return tasks
}

func pngTask(label, tuning string, dir compress.TuneDirection) taskSpec {
	return taskSpec{format: encoder.FormatPNG, label: label, run: func(img *image.RGBA) (encoder.EncodedImage, error) {
		var enc encoder.EncodedImage
		var err error
		switch dir {
		case compress.TuneSmaller:
			enc, err = encoder.EncodePNGBestOfLevels(img, []int{9, 7, 6})
		case compress.TuneMoreQuality:
			enc, err = encoder.EncodePNG(img, 1)
		default:
			enc, err = encoder.EncodePNG(img, 5)
		}
		if err == nil {
			enc.Label = label
			enc.Tuning = tuning
		}
		return enc, err
	}}
}

func pngQuantTask(label, tuning string, dir compress.TuneDirection, baseColors int) taskSpec {
	colors := baseColors
	switch dir {
	case compress.TuneSmaller:
		colors = 96
	case compress.TuneMoreQuality:
		colors = 192
	}
	return taskSpec{format: encoder.FormatPNGQuant, label: label, run: func(img *image.RGBA) (encoder.EncodedImage, error) {
		enc, err := encoder.EncodePNGQuant(img, colors, label)
		if err == nil {
			enc.Tuning = tuning
		}
		return enc, err
	}}
}

func webpTask(label, tuning string, dir compress.TuneDirection, baseQuality int) taskSpec {
	quality := baseQuality
	switch dir {
	case compress.TuneSmaller:
		quality = 60
	case compress.TuneMoreQuality:
		quality = 96
	}
	return taskSpec{format: encoder.FormatWebP, label: label, run: func(img *image.RGBA) (encoder.EncodedImage, error) {
		enc, err := encoder.EncodeWebP(img, quality, label)
		if err == nil {
			enc.Tuning = tuning
		}
		return enc, err
	}}
}

func avifTask(label, tuning string, dir compress.TuneDirection, baseMinQuantizer int) taskSpec {
	minQ := baseMinQuantizer
	switch dir {
	case compress.TuneSmaller:
		minQ = 36
	case compress.TuneMoreQuality:
		minQ = 20
	}
	return taskSpec{format: encoder.FormatAVIF, label: label, run: func(img *image.RGBA) (encoder.EncodedImage, error) {
		enc, err := encoder.EncodeAVIF(img, minQ, label)
		if err == nil {
			enc.Tuning = tuning
		}
		return enc, err
	}}
}
