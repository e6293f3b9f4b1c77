package constants

// ErrorCode is the opaque failure vocabulary persisted on jobs and returned
// by the API. Raw error text stays in logs; only these codes leave the
// process.
type ErrorCode string

const (
	CodePayloadInvalid       ErrorCode = "PAYLOAD_INVALID"
	CodeArtifactFetchFailed  ErrorCode = "ARTIFACT_FETCH_FAILED"
	CodeUnsupportedFormat    ErrorCode = "UNSUPPORTED_FORMAT"
	CodeCorruptData          ErrorCode = "CORRUPT_DATA"
	CodeSizeExceeded         ErrorCode = "SIZE_EXCEEDED"
	CodeOCRFailure           ErrorCode = "OCR_FAILURE"
	CodeOCRTimeout           ErrorCode = "OCR_TIMEOUT"
	CodeNormalizeFailed      ErrorCode = "NORMALIZE_FAILED"
	CodeSchemaNotFound       ErrorCode = "SCHEMA_NOT_FOUND"
	CodeSchemaInvalid        ErrorCode = "SCHEMA_INVALID"
	CodeMissingRequiredField ErrorCode = "MISSING_REQUIRED_FIELD"
	CodeTransformError       ErrorCode = "TRANSFORM_ERROR"
	CodeArtifactStoreFailed  ErrorCode = "ARTIFACT_STORE_FAILED"
	CodeSubmitFailed         ErrorCode = "SUBMIT_FAILED"
	CodeResourceExhausted    ErrorCode = "RESOURCE_EXHAUSTED"
	CodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// retryableCodes are the failures that are transient by origin: network or
// storage hiccups and deadline overruns. Everything else is deterministic
// for a given input and retrying would burn compute for the same outcome.
var retryableCodes = map[ErrorCode]struct{}{
	CodeArtifactFetchFailed: {},
	CodeArtifactStoreFailed: {},
	CodeOCRTimeout:          {},
}

// RetryableByOrigin reports the default retry classification for the code.
// Stages may still override the flag when they raise a fault.
func (c ErrorCode) RetryableByOrigin() bool {
	_, ok := retryableCodes[c]
	return ok
}

// Valid reports whether c belongs to the persisted vocabulary.
func (c ErrorCode) Valid() bool {
	switch c {
	case CodePayloadInvalid, CodeArtifactFetchFailed, CodeUnsupportedFormat,
		CodeCorruptData, CodeSizeExceeded, CodeOCRFailure, CodeOCRTimeout,
		CodeNormalizeFailed, CodeSchemaNotFound, CodeSchemaInvalid,
		CodeMissingRequiredField, CodeTransformError, CodeArtifactStoreFailed,
		CodeSubmitFailed, CodeResourceExhausted, CodeInternal:
		return true
	}
	return false
}

func (c ErrorCode) String() string {
	return string(c)
}
