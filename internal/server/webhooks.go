package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/entity"
	"github.com/intakehq/docpipe/internal/services/jobs"
)

// WebhookHandler receives completion reports from external runners when jobs
// were delegated over the http or amqp backend. Reports route through the
// same service path that local execution uses, so state rules and retry
// policy apply identically.
type WebhookHandler struct {
	svc    *jobs.Service
	secret string
	logger *slog.Logger
}

func NewWebhookHandler(svc *jobs.Service, secret string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{svc: svc, secret: secret, logger: logger}
}

type runnerCallback struct {
	ExternalJobID string          `json:"external_job_id"`
	JobID         string          `json:"job_id"`
	Status        string          `json:"status"` // "success" or "failed"
	ErrorCode     string          `json:"error_code"`
	Stage         string          `json:"stage"`
	Output        *callbackOutput `json:"output"`
}

type callbackOutput struct {
	OCRArtifactID    string             `json:"ocr_artifact_id"`
	SchemaArtifactID string             `json:"schema_artifact_id"`
	SchemaOutput     map[string]string  `json:"schema_output"`
	Confidence       map[string]float64 `json:"confidence"`
	QualityScore     float64            `json:"quality_score"`
}

// Complete settles a delegated job. Replayed reports for jobs that already
// settled are acknowledged without touching the record, so runners can
// retry deliveries safely.
func (h *WebhookHandler) Complete(c *gin.Context) {
	if h.secret == "" {
		c.JSON(http.StatusForbidden, errorResponse{
			Error:   "WEBHOOK_DISABLED",
			Message: "no webhook secret configured",
		})
		return
	}
	got := c.GetHeader("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		c.JSON(http.StatusUnauthorized, errorResponse{
			Error:   "UNAUTHORIZED",
			Message: "invalid webhook secret",
		})
		return
	}

	var cb runnerCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "PAYLOAD_INVALID",
			Message: "callback body must be valid JSON",
		})
		return
	}
	jobID, err := uuid.Parse(cb.JobID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "PAYLOAD_INVALID",
			Message: "job_id must be a UUID",
		})
		return
	}
	if cb.Status != "success" && cb.Status != "failed" {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "PAYLOAD_INVALID",
			Message: "status must be success or failed",
		})
		return
	}

	report := jobs.CompletionReport{
		ExternalJobID: cb.ExternalJobID,
		Success:       cb.Status == "success",
		ErrorCode:     constants.ErrorCode(cb.ErrorCode),
		Stage:         constants.Stage(cb.Stage),
	}
	if cb.Output != nil {
		report.Output = entity.JobOutput{
			OCRArtifactID:    cb.Output.OCRArtifactID,
			SchemaArtifactID: cb.Output.SchemaArtifactID,
			SchemaOutput:     cb.Output.SchemaOutput,
			Confidence:       cb.Output.Confidence,
			QualityScore:     cb.Output.QualityScore,
		}
	}

	job, err := h.svc.Complete(c.Request.Context(), jobID, report)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, viewOf(job))
}
