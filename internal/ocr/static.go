package ocr

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/faults"
)

// Static treats the input bytes as already-extracted UTF-8 text. Used by
// tests and local development where no tesseract install is available.
type Static struct {
	Confidence float64 // 0 -> 0.99
}

func (s Static) ExtractText(_ context.Context, data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, faults.New(constants.CodeCorruptData, constants.StageOCR, errors.New("empty input"))
	}
	if !utf8.Valid(data) {
		return Result{}, faults.New(constants.CodeCorruptData, constants.StageOCR, errors.New("input is not utf-8 text"))
	}
	conf := s.Confidence
	if conf <= 0 {
		conf = 0.99
	}
	return Result{
		Text:       string(data),
		Pages:      1,
		Confidence: conf,
		Method:     "static",
		Language:   "eng",
		Duration:   time.Duration(0),
	}, nil
}
