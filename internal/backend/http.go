package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/entity"
	"github.com/intakehq/docpipe/internal/faults"
	"github.com/intakehq/docpipe/internal/repository"
)

// HTTP submits jobs to a remote runner over REST. The runner acknowledges
// with its own job id, which is stored on the QUEUED -> RUNNING transition so
// its webhook callbacks can be tied back to our job.
type HTTP struct {
	jobs    repository.JobStore
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// submitRequest is the payload posted to the runner: the job id plus the
// execution parameters the runner needs to fetch input and pick a rule set.
// Never document bytes, schema content or anything about the submitting user.
type submitRequest struct {
	JobID         string `json:"job_id"`
	SchemaID      string `json:"schema_id"`
	SchemaVersion int    `json:"schema_version"`
	BlobID        string `json:"blob_id"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

func NewHTTP(jobs repository.JobStore, baseURL, apiKey string, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		jobs:    jobs,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

func (h *HTTP) Name() string { return "http" }

func (h *HTTP) Submit(ctx context.Context, job *entity.Job) error {
	body, err := json.Marshal(submitRequest{
		JobID:         job.ID.String(),
		SchemaID:      job.SchemaID,
		SchemaVersion: job.SchemaVersion,
		BlobID:        job.BlobID,
	})
	if err != nil {
		return faults.New(constants.CodeInternal, constants.StageSubmit, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return faults.New(constants.CodeSubmitFailed, constants.StageSubmit, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return faults.New(constants.CodeSubmitFailed, constants.StageSubmit, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return faults.New(constants.CodeResourceExhausted, constants.StageSubmit,
			fmt.Errorf("runner has no capacity: status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return faults.New(constants.CodeSubmitFailed, constants.StageSubmit,
			fmt.Errorf("runner rejected job: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var ack submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return faults.New(constants.CodeSubmitFailed, constants.StageSubmit,
			fmt.Errorf("decode runner response: %w", err))
	}
	if ack.JobID == "" {
		return faults.New(constants.CodeSubmitFailed, constants.StageSubmit,
			errors.New("runner response missing job_id"))
	}

	if _, err := h.jobs.Transition(ctx, job.ID, constants.JobStateQueued, constants.JobStateRunning,
		repository.TransitionMeta{ExternalJobID: ack.JobID}); err != nil {
		return err
	}
	h.logger.Info("job delegated", "job_id", job.ID, "external_job_id", ack.JobID)
	return nil
}
