package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/faults"
)

func testDef(fields map[string]FieldRule) Definition {
	return Definition{ID: "test", Name: "test", Version: 1, Fields: fields}
}

func TestTransformHappyPath(t *testing.T) {
	def := testDef(map[string]FieldRule{
		"invoice_number": {SourceFields: []string{"invoice_number"}, Required: true},
		"total":          {SourceFields: []string{"total"}, Required: true, Transform: "amount"},
		"date":           {SourceFields: []string{"date"}, Transform: "date"},
	})
	normalized := map[string]string{
		"invoice_number": "INV-001",
		"total":          "$1,234.5",
		"date":           "01/15/2026",
	}

	res, err := NewEngine(nil).Transform(context.Background(), normalized, def)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.Missing)
	assert.Empty(t, res.Ambiguous)
	assert.Equal(t, "INV-001", res.Structured["invoice_number"])
	assert.Equal(t, "1234.50", res.Structured["total"])
	assert.Equal(t, "2026-01-15", res.Structured["date"])
	assert.Equal(t, 1.0, res.Confidence["invoice_number"])
	assert.Equal(t, 1.0, res.QualityScore)
}

func TestTransformMissingRequiredField(t *testing.T) {
	def := testDef(map[string]FieldRule{
		"invoice_number": {SourceFields: []string{"invoice_number", "invoice_no"}, Required: true},
		"vendor":         {SourceFields: []string{"vendor"}},
	})

	res, err := NewEngine(nil).Transform(context.Background(), map[string]string{"vendor": "ACME"}, def)
	require.NoError(t, err, "missing fields are reported in the result, not as an engine error")

	assert.False(t, res.Success)
	assert.Equal(t, []string{"invoice_number"}, res.Missing)
	assert.Equal(t, 0.0, res.Confidence["invoice_number"])
	assert.Equal(t, "ACME", res.Structured["vendor"])
}

func TestTransformOptionalAbsentFieldIsNotMissing(t *testing.T) {
	def := testDef(map[string]FieldRule{
		"vendor": {SourceFields: []string{"vendor"}},
		"tax":    {SourceFields: []string{"tax"}},
	})

	res, err := NewEngine(nil).Transform(context.Background(), map[string]string{"vendor": "ACME"}, def)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.Missing)
	assert.Equal(t, 0.0, res.Confidence["tax"])
	assert.NotContains(t, res.Structured, "tax")
	// mean of 1.0 and 0.0
	assert.Equal(t, 0.5, res.QualityScore)
}

func TestTransformAmbiguousIsSoft(t *testing.T) {
	def := testDef(map[string]FieldRule{
		"date": {SourceFields: []string{"date", "invoice_date"}, Required: true},
	})
	normalized := map[string]string{
		"date":         "2026-01-15",
		"invoice_date": "2026-02-20",
	}

	res, err := NewEngine(nil).Transform(context.Background(), normalized, def)
	require.NoError(t, err)

	assert.True(t, res.Success, "ambiguity alone must not fail the transform")
	assert.Equal(t, []string{"date"}, res.Ambiguous)
	assert.Equal(t, "2026-01-15", res.Structured["date"], "highest-priority source wins")
	assert.Equal(t, 0.5, res.Confidence["date"])
}

func TestTransformDeclaredRuleResolvesMultipleCandidates(t *testing.T) {
	def := testDef(map[string]FieldRule{
		"date": {SourceFields: []string{"date", "invoice_date"}, Transform: "first"},
	})
	normalized := map[string]string{
		"date":         "2026-01-15",
		"invoice_date": "2026-02-20",
	}

	res, err := NewEngine(nil).Transform(context.Background(), normalized, def)
	require.NoError(t, err)

	assert.Empty(t, res.Ambiguous, "a declared transform is the resolution rule")
	assert.Equal(t, "2026-01-15", res.Structured["date"])
	assert.Equal(t, 1.0, res.Confidence["date"])
}

func TestTransformCrashIsHardAndTerminal(t *testing.T) {
	def := testDef(map[string]FieldRule{
		"total": {SourceFields: []string{"total"}, Required: true, Transform: "amount"},
		"other": {SourceFields: []string{"other"}},
	})
	// "123abc" survives symbol stripping but cannot parse as a decimal
	normalized := map[string]string{"total": "123abc", "other": "x"}

	res, err := NewEngine(nil).Transform(context.Background(), normalized, def)
	require.Error(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, constants.CodeTransformError, faults.Code(err))
	assert.False(t, faults.Retryable(err), "a transform crash means malformed input, retrying cannot help")
	assert.Empty(t, res.Structured, "the run aborts, nothing is recorded")
}

func TestTransformPanicIsHard(t *testing.T) {
	def := testDef(map[string]FieldRule{
		"field": {SourceFields: []string{"a", "b"}, Transform: "js: values[5].toUpperCase()"},
	})
	normalized := map[string]string{"a": "one", "b": "two"}

	_, err := NewEngine(nil).Transform(context.Background(), normalized, def)
	require.Error(t, err)
	assert.Equal(t, constants.CodeTransformError, faults.Code(err))
}

func TestTransformSkipsRuleOnZeroCandidates(t *testing.T) {
	def := testDef(map[string]FieldRule{
		"total": {SourceFields: []string{"total"}, Transform: "amount"},
	})

	res, err := NewEngine(nil).Transform(context.Background(), map[string]string{}, def)
	require.NoError(t, err, "a transform is never invoked with nothing to transform")
	assert.True(t, res.Success)
	assert.Equal(t, 0.0, res.Confidence["total"])
}

func TestQualityScoreRounding(t *testing.T) {
	def := testDef(map[string]FieldRule{
		"a": {SourceFields: []string{"a", "a2"}},
		"b": {SourceFields: []string{"b"}},
		"c": {SourceFields: []string{"c"}},
	})
	normalized := map[string]string{"a": "1", "a2": "2", "b": "3"}

	res, err := NewEngine(nil).Transform(context.Background(), normalized, def)
	require.NoError(t, err)
	// confidences: a=0.5 (ambiguous), b=1.0, c=0.0 -> mean 0.5
	assert.Equal(t, 0.5, res.QualityScore)

	// two fields: 1.0 and 1/3 -> mean 0.666... -> 0.67
	def2 := testDef(map[string]FieldRule{
		"x": {SourceFields: []string{"x1", "x2", "x3"}},
		"y": {SourceFields: []string{"y"}},
	})
	res, err = NewEngine(nil).Transform(context.Background(), map[string]string{
		"x1": "a", "x2": "b", "x3": "c", "y": "d",
	}, def2)
	require.NoError(t, err)
	assert.Equal(t, 0.67, res.QualityScore)
}
