package schema

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/faults"
)

// Engine applies a definition's field rules to a normalized field map.
type Engine struct {
	logger *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Transform resolves every target field of def against normalized.
//
// Per field: candidates are collected from the rule's source fields in
// priority order. No candidate and required -> missing. A declared transform
// is invoked on the candidates; if it fails or panics that is a hard
// transform error which aborts the run with a terminal fault — malformed
// input must never be silently accepted as a low-confidence field. Multiple
// candidates without a transform are ambiguous: the highest-priority value
// is recorded with confidence 1/n and the run carries on.
func (e *Engine) Transform(ctx context.Context, normalized map[string]string, def Definition) (Result, error) {
	res := Result{
		Structured: make(map[string]string),
		Confidence: make(map[string]float64),
	}

	// deterministic field order keeps results and logs reproducible
	targets := make([]string, 0, len(def.Fields))
	for name := range def.Fields {
		targets = append(targets, name)
	}
	sort.Strings(targets)

	for _, target := range targets {
		rule := def.Fields[target]

		var values []string
		for _, src := range rule.SourceFields {
			if v, ok := normalized[src]; ok {
				values = append(values, v)
			}
		}

		if len(values) == 0 {
			if rule.Required {
				res.Missing = append(res.Missing, target)
			}
			res.Confidence[target] = 0
			continue
		}

		if rule.Transform != "" {
			fn, err := LookupTransform(rule.Transform)
			if err != nil {
				// the registry vets transform names; hitting this means the
				// definition bypassed it
				return Result{}, faults.New(constants.CodeTransformError, constants.StageTransform, err)
			}
			value, err := invoke(ctx, fn, values)
			if err != nil {
				e.logger.Error("hard transform failure",
					"schema_id", def.ID,
					"schema_version", def.Version,
					"field", target,
					"error", err,
				)
				return Result{}, faults.New(constants.CodeTransformError, constants.StageTransform,
					fmt.Errorf("field %s: %w", target, err))
			}
			res.Structured[target] = value
			res.Confidence[target] = 1.0
			continue
		}

		if len(values) > 1 {
			res.Ambiguous = append(res.Ambiguous, target)
			res.Structured[target] = values[0]
			res.Confidence[target] = 1.0 / float64(len(values))
			continue
		}

		res.Structured[target] = values[0]
		res.Confidence[target] = 1.0
	}

	res.Success = len(res.Missing) == 0
	res.QualityScore = quality(res.Confidence)
	return res, nil
}

// invoke shields the engine from transform panics: a crash in a rule is a
// hard failure of this run, not of the worker.
func invoke(ctx context.Context, fn Transform, values []string) (value string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("transform panicked: %v", rec)
		}
	}()
	return fn(ctx, values)
}

// quality is the mean per-field confidence, rounded to two decimals.
func quality(confidence map[string]float64) float64 {
	if len(confidence) == 0 {
		return 0
	}
	var sum float64
	for _, c := range confidence {
		sum += c
	}
	return math.Round(sum/float64(len(confidence))*100) / 100
}
