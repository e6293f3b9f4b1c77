// Package worker drives claimed jobs through the document pipeline and owns
// every state transition that results from an attempt.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/blob"
	"github.com/intakehq/docpipe/internal/entity"
	"github.com/intakehq/docpipe/internal/faults"
	"github.com/intakehq/docpipe/internal/observability"
	"github.com/intakehq/docpipe/internal/ocr"
	"github.com/intakehq/docpipe/internal/repository"
	"github.com/intakehq/docpipe/internal/retry"
	"github.com/intakehq/docpipe/internal/schema"
)

// Loop processes one job at a time: fetch the document, extract text,
// normalize, transform against the job's schema, persist artifacts, then
// settle the job's state. The pipeline itself never writes job state; only
// RunJob does, so an attempt settles exactly once.
type Loop struct {
	jobs        repository.JobStore
	blobs       blob.Store
	engine      ocr.Engine
	registry    *schema.Registry
	transformer *schema.Engine
	policy      retry.Policy
	metrics     *observability.Metrics
	logger      *slog.Logger
}

func NewLoop(jobs repository.JobStore, blobs blob.Store, engine ocr.Engine, registry *schema.Registry,
	policy retry.Policy, metrics *observability.Metrics, logger *slog.Logger) *Loop {
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		jobs:        jobs,
		blobs:       blobs,
		engine:      engine,
		registry:    registry,
		transformer: schema.NewEngine(logger),
		policy:      policy,
		metrics:     metrics,
		logger:      logger,
	}
}

// RunOnce claims the oldest queued job and runs it. Returns (nil, nil) when
// the queue is empty.
func (l *Loop) RunOnce(ctx context.Context) (*entity.Job, error) {
	job, err := l.jobs.ClaimNext(ctx)
	if err != nil || job == nil {
		return nil, err
	}
	return l.RunJob(ctx, job)
}

// RunByID claims one specific queued job and runs it. Returns (nil, nil) when
// the job is no longer claimable.
func (l *Loop) RunByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := l.jobs.Claim(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	return l.RunJob(ctx, job)
}

// RunJob executes one attempt for an already claimed (RUNNING) job and
// settles it: SUCCEEDED with output, RETRYING with a backoff deadline, or
// FAILED. The returned job reflects the stored state after settlement; the
// error is only non-nil when the store itself failed.
func (l *Loop) RunJob(ctx context.Context, job *entity.Job) (*entity.Job, error) {
	attempt := job.Retries + 1
	log := l.logger.With("job_id", job.ID, "schema_id", job.SchemaID, "attempt", attempt)
	start := time.Now()

	out, err := l.process(ctx, log, job)
	if err == nil {
		updated, serr := l.jobs.SetJobOutput(ctx, job.ID, out)
		if serr != nil {
			return nil, serr
		}
		l.metrics.RecordCompleted(ctx, constants.JobStateSucceeded, "", time.Since(start))
		log.Info("job succeeded", "quality_score", out.QualityScore, "duration", time.Since(start))
		return updated, nil
	}

	code := faults.Code(err)
	stage := faults.StageOf(err)
	decision := l.policy.Decide(attempt, err)

	if decision.Retry {
		due := time.Now().Add(decision.Delay)
		updated, terr := l.jobs.Transition(ctx, job.ID, constants.JobStateRunning, constants.JobStateRetrying,
			repository.TransitionMeta{ErrorCode: code, NextVisibleAt: &due, IncRetries: true})
		if terr != nil {
			return nil, terr
		}
		l.metrics.RecordRetry(ctx, code, attempt)
		log.Warn("job attempt failed, retry scheduled",
			"error_code", code, "stage", stage, "delay", decision.Delay, "error", err)
		return updated, nil
	}

	updated, terr := l.jobs.Transition(ctx, job.ID, constants.JobStateRunning, constants.JobStateFailed,
		repository.TransitionMeta{ErrorCode: code})
	if terr != nil {
		return nil, terr
	}
	l.metrics.RecordCompleted(ctx, constants.JobStateFailed, code, time.Since(start))
	log.Error("job failed", "error_code", code, "stage", stage, "error", err)
	return updated, nil
}

// process runs the pipeline stages and returns the output to store. Every
// error it returns is a classified fault, so the caller can apply the retry
// policy directly.
func (l *Loop) process(ctx context.Context, log *slog.Logger, job *entity.Job) (entity.JobOutput, error) {
	var out entity.JobOutput

	stageStart := time.Now()
	data, err := l.blobs.Get(ctx, job.BlobID)
	if err != nil {
		return out, faults.New(constants.CodeArtifactFetchFailed, constants.StageFetch, err)
	}
	l.metrics.RecordStage(ctx, constants.StageFetch, time.Since(stageStart))

	stageStart = time.Now()
	ocrRes, err := l.engine.ExtractText(ctx, data)
	if err != nil {
		// OCR engines return classified faults.
		return out, err
	}
	for _, w := range ocrRes.Warnings {
		log.Warn("ocr warning", "warning", w)
	}
	l.metrics.RecordStage(ctx, constants.StageOCR, time.Since(stageStart))

	stageStart = time.Now()
	text := ocr.Normalize(ocrRes.Text)
	if text == "" {
		return out, faults.New(constants.CodeNormalizeFailed, constants.StageNormalize,
			errors.New("document produced no text"))
	}
	fields := ocr.Fields(text)
	l.metrics.RecordStage(ctx, constants.StageNormalize, time.Since(stageStart))

	stageStart = time.Now()
	def, err := l.registry.Get(job.SchemaID, job.SchemaVersion)
	if err != nil {
		return out, faults.New(constants.CodeSchemaNotFound, constants.StageTransform, err)
	}
	result, err := l.transformer.Transform(ctx, fields, def)
	if err != nil {
		return out, err
	}
	if !result.Success {
		return out, faults.New(constants.CodeMissingRequiredField, constants.StageTransform,
			fmt.Errorf("missing required fields: %s", strings.Join(result.Missing, ", ")))
	}
	l.metrics.RecordStage(ctx, constants.StageTransform, time.Since(stageStart))

	stageStart = time.Now()
	ocrArtifact, err := l.blobs.Put(ctx, []byte(text))
	if err != nil {
		return out, faults.New(constants.CodeArtifactStoreFailed, constants.StagePersist, err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return out, faults.New(constants.CodeInternal, constants.StagePersist, err)
	}
	schemaArtifact, err := l.blobs.Put(ctx, resultJSON)
	if err != nil {
		return out, faults.New(constants.CodeArtifactStoreFailed, constants.StagePersist, err)
	}
	l.metrics.RecordStage(ctx, constants.StagePersist, time.Since(stageStart))

	out = entity.JobOutput{
		OCRArtifactID:    ocrArtifact,
		SchemaArtifactID: schemaArtifact,
		SchemaOutput:     result.Structured,
		Confidence:       result.Confidence,
		QualityScore:     result.QualityScore,
	}
	return out, nil
}
