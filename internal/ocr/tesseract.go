package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/faults"
)

const defaultMaxSizeBytes = 50 << 20 // 50 MB

// Config drives the tesseract CLI invocation.
type Config struct {
	Tesseract     string // binary name or absolute path; if empty -> "tesseract"
	TesseractLang string // default "eng"
	TessdataDir   string

	PSM int // e.g., 6 is good for a uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default

	MaxSizeBytes int64 // 0 -> 50 MB
}

// Tesseract shells out to the tesseract CLI. PNG, JPEG and TIFF are
// accepted; PDFs are rejected before any subprocess is started.
type Tesseract struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseract(cfg Config, logger *slog.Logger) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = defaultMaxSizeBytes
	}
	return &Tesseract{cfg: cfg, runner: newExecRunner(logger), logger: logger}
}

func (t *Tesseract) ExtractText(ctx context.Context, data []byte) (Result, error) {
	start := time.Now()

	if len(data) == 0 {
		return Result{}, faults.New(constants.CodeCorruptData, constants.StageOCR, errors.New("empty input"))
	}
	if int64(len(data)) > t.cfg.MaxSizeBytes {
		return Result{}, faults.New(constants.CodeSizeExceeded, constants.StageOCR,
			fmt.Errorf("input is %d bytes, limit %d", len(data), t.cfg.MaxSizeBytes))
	}
	format := constants.DetectFormat(data)
	if !format.OCRSupported() {
		return Result{}, faults.New(constants.CodeUnsupportedFormat, constants.StageOCR,
			fmt.Errorf("format %s", format))
	}

	path, cleanup, err := t.spool(data)
	if err != nil {
		return Result{}, faults.New(constants.CodeOCRFailure, constants.StageOCR, err)
	}
	defer cleanup()

	txt, warns, err := t.runText(ctx, path)
	if err != nil {
		return Result{Warnings: warns}, t.classify(ctx, err)
	}

	conf, tsvWarns := t.runTSVConfidence(ctx, path)
	warns = append(warns, tsvWarns...)

	res := Result{
		Text:       txt,
		Pages:      1,
		Confidence: blendConfidence(conf, heuristicConfidence(txt)),
		Method:     "tesseract",
		Language:   t.cfg.TesseractLang,
		Duration:   time.Since(start),
		Warnings:   warns,
	}
	t.logger.Debug("ocr extraction done",
		"format", format.String(),
		"bytes", len(data),
		"text_bytes", len(res.Text),
		"confidence", res.Confidence,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// spool writes the payload to a temp file for the CLI; tesseract sniffs the
// image type itself, so no extension is needed.
func (t *Tesseract) spool(data []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "docpipe-ocr-*")
	if err != nil {
		return "", nil, err
	}
	name := f.Name()
	cleanup := func() { _ = os.Remove(name) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return name, cleanup, nil
}

func (t *Tesseract) runText(ctx context.Context, path string) (string, []string, error) {
	args := t.baseArgs(path)

	// tesseract <file> stdout -l <lang>
	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		return "", []string{string(errb)}, fmt.Errorf("tesseract: %w", err)
	}

	// strip obvious box/ruler noise before anything downstream sees it
	txt := reBoxNoise.ReplaceAllString(string(out), "")
	return txt, nil, nil
}

// runTSVConfidence reruns tesseract in TSV mode and returns the mean word
// confidence in 0..1. Failures degrade to zero confidence, never to an error.
func (t *Tesseract) runTSVConfidence(ctx context.Context, path string) (float64, []string) {
	args := append(t.baseArgs(path), "tsv")

	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		return 0, []string{string(errb)}
	}

	lines := strings.Split(string(out), "\n")
	// tsv rows are level..height, conf, text; conf sits at index 10 and is
	// -1 for structural rows with no recognized word
	var sum, n float64
	for i, ln := range lines {
		if i == 0 || len(ln) == 0 {
			continue // skip header
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := cols[10]
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / n / 100.0, nil
}

func (t *Tesseract) baseArgs(path string) []string {
	args := []string{path, "stdout", "-l", t.cfg.TesseractLang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	return args
}

// classify maps a subprocess failure onto the fault taxonomy. Deadline
// overruns are transient; anything else from the CLI is deterministic.
func (t *Tesseract) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return faults.New(constants.CodeOCRTimeout, constants.StageOCR, err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return faults.NewRetryable(constants.CodeOCRTimeout, constants.StageOCR, err)
	}
	return faults.New(constants.CodeOCRFailure, constants.StageOCR, err)
}

// blendConfidence weighs measured word confidence over the text heuristic.
func blendConfidence(ocrConf, heurConf float64) float64 {
	var conf float64
	if ocrConf > 0 {
		conf = 0.7*ocrConf + 0.3*heurConf
	} else {
		conf = heurConf
	}
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}
