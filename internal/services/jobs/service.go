// Package jobs is the API-facing job lifecycle service: accepting documents,
// exposing status and results, and applying runner completion reports.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/blob"
	"github.com/intakehq/docpipe/internal/common"
	"github.com/intakehq/docpipe/internal/entity"
	"github.com/intakehq/docpipe/internal/faults"
	"github.com/intakehq/docpipe/internal/observability"
	"github.com/intakehq/docpipe/internal/repository"
	"github.com/intakehq/docpipe/internal/retry"
	"github.com/intakehq/docpipe/internal/schema"
)

// Service handles job business logic.
type Service struct {
	jobs     repository.JobStore
	blobs    blob.Store
	registry *schema.Registry
	policy   retry.Policy
	metrics  *observability.Metrics
	maxSize  int64
	logger   *slog.Logger
}

// NewService creates a new jobs service. maxSize caps accepted document
// bytes; zero keeps the 50 MiB default.
func NewService(jobs repository.JobStore, blobs blob.Store, registry *schema.Registry,
	policy retry.Policy, metrics *observability.Metrics, maxSize int64, logger *slog.Logger) *Service {
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	if maxSize <= 0 {
		maxSize = 50 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobs:     jobs,
		blobs:    blobs,
		registry: registry,
		policy:   policy,
		metrics:  metrics,
		maxSize:  maxSize,
		logger:   logger,
	}
}

// CreateJobRequest represents job submission parameters.
type CreateJobRequest struct {
	UserID          uuid.UUID
	ClientRequestID string
	SchemaName      string
	Document        []byte
}

// Create stores the document and enqueues a job for it. Resubmitting the same
// (user, client request id) returns the stored job with created=false, no
// matter what the rest of the payload says.
func (s *Service) Create(ctx context.Context, req CreateJobRequest) (*entity.Job, bool, error) {
	validator := common.NewValidator()
	validator.Field("client_request_id", req.ClientRequestID, common.Required, common.MaxLength(200))
	validator.Field("schema", req.SchemaName, common.Required)
	validator.Field("document", req.Document, common.Required)
	if err := validator.Error(); err != nil {
		return nil, false, err
	}
	if req.UserID == uuid.Nil {
		return nil, false, common.NewAppError("PAYLOAD_INVALID", "user id is required", common.ErrInvalidInput)
	}
	if int64(len(req.Document)) > s.maxSize {
		return nil, false, common.NewAppError(string(constants.CodeSizeExceeded),
			fmt.Sprintf("document exceeds %d bytes", s.maxSize), common.ErrInvalidInput)
	}

	def, err := s.registry.ResolveName(strings.TrimSpace(req.SchemaName))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, false, common.NewAppError(string(constants.CodeSchemaNotFound),
				fmt.Sprintf("unknown schema %q", req.SchemaName), common.ErrInvalidInput)
		}
		return nil, false, err
	}

	blobID, err := s.blobs.Put(ctx, req.Document)
	if err != nil {
		s.logger.Error("failed to store document", "error", err, "user_id", req.UserID)
		return nil, false, common.WrapError(err, "store document")
	}

	id, created, err := s.jobs.CreateJob(ctx, repository.CreateJobParams{
		UserID:          req.UserID,
		ClientRequestID: strings.TrimSpace(req.ClientRequestID),
		SchemaID:        def.ID,
		SchemaVersion:   def.Version,
		BlobID:          blobID,
	})
	if err != nil {
		return nil, false, err
	}

	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.metrics.RecordCreated(ctx, def.ID)
	}
	return job, created, nil
}

// Get returns one of the caller's jobs. Jobs belonging to other users are
// reported as not found.
func (s *Service) Get(ctx context.Context, userID, jobID uuid.UUID) (*entity.Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("job %s not found", jobID), common.ErrNotFound)
	}
	return job, nil
}

// Results returns a job's output. Only SUCCEEDED jobs have results; anything
// else is rejected with the job's current state.
func (s *Service) Results(ctx context.Context, userID, jobID uuid.UUID) (*entity.Job, error) {
	job, err := s.Get(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != constants.JobStateSucceeded {
		return nil, common.NewAppError("JOB_NOT_COMPLETE",
			fmt.Sprintf("job %s is %s", jobID, job.State), common.ErrJobNotComplete)
	}
	return job, nil
}

// ListFinished returns the caller's terminal jobs, newest first.
func (s *Service) ListFinished(ctx context.Context, userID uuid.UUID, limit int) ([]*entity.Job, error) {
	return s.jobs.ListFinished(ctx, userID, limit)
}

// CompletionReport is a runner's verdict on a delegated job.
type CompletionReport struct {
	ExternalJobID string
	Success       bool
	ErrorCode     constants.ErrorCode
	Stage         constants.Stage
	Output        entity.JobOutput
}

// Complete applies a runner callback. Terminal jobs absorb duplicate reports
// without changing; failures go through the same retry policy as local
// execution.
func (s *Service) Complete(ctx context.Context, jobID uuid.UUID, report CompletionReport) (*entity.Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if report.ExternalJobID != "" && job.ExternalJobID != "" && report.ExternalJobID != job.ExternalJobID {
		return nil, common.NewAppError("PAYLOAD_INVALID",
			fmt.Sprintf("external job id does not match job %s", jobID), common.ErrInvalidInput)
	}
	if job.State.Terminal() {
		s.logger.Info("duplicate completion report ignored", "job_id", jobID, "state", job.State)
		return job, nil
	}

	if report.Success {
		updated, err := s.jobs.SetJobOutput(ctx, jobID, report.Output)
		if err != nil {
			return nil, err
		}
		s.metrics.RecordCompleted(ctx, constants.JobStateSucceeded, "", time.Since(job.CreatedAt))
		return updated, nil
	}

	code := report.ErrorCode
	if !code.Valid() {
		// Runners only get to use the fixed vocabulary.
		s.logger.Warn("runner reported unknown error code", "job_id", jobID, "error_code", report.ErrorCode)
		code = constants.CodeInternal
	}
	stage := report.Stage
	if stage == "" {
		stage = constants.StageInit
	}

	attempt := job.Retries + 1
	fault := faults.New(code, stage, errors.New("reported by runner"))
	decision := s.policy.Decide(attempt, fault)

	if decision.Retry {
		due := time.Now().Add(decision.Delay)
		updated, err := s.jobs.Transition(ctx, jobID, constants.JobStateRunning, constants.JobStateRetrying,
			repository.TransitionMeta{ErrorCode: code, NextVisibleAt: &due, IncRetries: true})
		if err != nil {
			return nil, err
		}
		s.metrics.RecordRetry(ctx, code, attempt)
		return updated, nil
	}

	updated, err := s.jobs.Transition(ctx, jobID, constants.JobStateRunning, constants.JobStateFailed,
		repository.TransitionMeta{ErrorCode: code})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordCompleted(ctx, constants.JobStateFailed, code, time.Since(job.CreatedAt))
	return updated, nil
}
