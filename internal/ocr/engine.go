package ocr

import (
	"context"
	"time"
)

// Engine turns document bytes into text. Implementations classify their own
// failures as faults so the worker loop can hand them straight to the retry
// policy.
type Engine interface {
	ExtractText(ctx context.Context, data []byte) (Result, error)
}

// Result is the outcome of a text extraction.
type Result struct {
	Text       string
	Pages      int
	Confidence float64 // aggregate word confidence in 0..1
	Method     string  // "tesseract" | "static"
	Language   string
	Duration   time.Duration
	Warnings   []string
}
