package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakehq/docpipe/constants"
)

func TestClassificationDefaults(t *testing.T) {
	fetch := New(constants.CodeArtifactFetchFailed, constants.StageFetch, errors.New("connection refused"))
	assert.True(t, fetch.Retryable)

	transform := New(constants.CodeTransformError, constants.StageTransform, errors.New("boom"))
	assert.False(t, transform.Retryable)
}

func TestOverrides(t *testing.T) {
	e := NewTerminal(constants.CodeArtifactFetchFailed, constants.StageFetch, nil)
	assert.False(t, e.Retryable)

	e = NewRetryable(constants.CodeOCRFailure, constants.StageOCR, nil)
	assert.True(t, e.Retryable)
}

func TestUnclassifiedErrorsFailFast(t *testing.T) {
	plain := errors.New("something broke")
	assert.False(t, Retryable(plain))
	assert.Equal(t, constants.CodeInternal, Code(plain))
	assert.Equal(t, constants.StageInit, StageOf(plain))
	assert.False(t, Retryable(nil))
}

func TestWrappedFaultSurvivesErrorsAs(t *testing.T) {
	inner := New(constants.CodeOCRTimeout, constants.StageOCR, errors.New("deadline exceeded"))
	wrapped := fmt.Errorf("run job: %w", inner)

	require.True(t, Retryable(wrapped))
	assert.Equal(t, constants.CodeOCRTimeout, Code(wrapped))
	assert.Equal(t, constants.StageOCR, StageOf(wrapped))
}

func TestErrorStringCarriesCodeAndStage(t *testing.T) {
	e := New(constants.CodeCorruptData, constants.StageOCR, errors.New("image decode failed"))
	assert.Contains(t, e.Error(), "CORRUPT_DATA")
	assert.Contains(t, e.Error(), "OCR")
	assert.ErrorContains(t, e, "image decode failed")
}
