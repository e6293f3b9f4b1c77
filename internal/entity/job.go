package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/intakehq/docpipe/constants"
)

// Job represents a document processing job for data transfer between layers.
// Output fields are populated only once the job has reached SUCCEEDED;
// ErrorCode only for FAILED and RETRYING.
type Job struct {
	ID              uuid.UUID          `json:"id"`
	UserID          uuid.UUID          `json:"user_id"`
	ClientRequestID string             `json:"client_request_id"`
	SchemaID        string             `json:"schema_id"`
	SchemaVersion   int                `json:"schema_version"`
	BlobID          string             `json:"blob_id"`
	State           constants.JobState `json:"state"`
	Retries         int                `json:"retries"`

	ErrorCode     constants.ErrorCode `json:"error_code,omitempty"`
	ExternalJobID string              `json:"external_job_id,omitempty"`
	NextVisibleAt *time.Time          `json:"next_visible_at,omitempty"`

	OCRArtifactID    string             `json:"ocr_artifact_id,omitempty"`
	SchemaArtifactID string             `json:"schema_artifact_id,omitempty"`
	SchemaOutput     map[string]string  `json:"schema_output,omitempty"`
	Confidence       map[string]float64 `json:"confidence,omitempty"`
	QualityScore     float64            `json:"quality_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobOutput is the atomic payload written together with the transition into
// SUCCEEDED.
type JobOutput struct {
	OCRArtifactID    string
	SchemaArtifactID string
	SchemaOutput     map[string]string
	Confidence       map[string]float64
	QualityScore     float64
}
