package server

import (
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/intakehq/docpipe/internal/common"
	"github.com/intakehq/docpipe/internal/entity"
	"github.com/intakehq/docpipe/internal/export"
	"github.com/intakehq/docpipe/internal/schema"
	"github.com/intakehq/docpipe/internal/services/jobs"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// jobView is the status representation of a job. It never carries output
// fields; those are only served from the results endpoint once the job has
// succeeded.
type jobView struct {
	ID            string     `json:"id"`
	State         string     `json:"state"`
	Schema        string     `json:"schema"`
	SchemaVersion int        `json:"schema_version"`
	Retries       int        `json:"retries"`
	ErrorCode     string     `json:"error_code,omitempty"`
	NextVisibleAt *time.Time `json:"next_visible_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func viewOf(j *entity.Job) jobView {
	return jobView{
		ID:            j.ID.String(),
		State:         string(j.State),
		Schema:        j.SchemaID,
		SchemaVersion: j.SchemaVersion,
		Retries:       j.Retries,
		ErrorCode:     string(j.ErrorCode),
		NextVisibleAt: j.NextVisibleAt,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

type resultsView struct {
	ID               string             `json:"id"`
	SchemaOutput     map[string]string  `json:"schema_output"`
	Confidence       map[string]float64 `json:"confidence"`
	QualityScore     float64            `json:"quality_score"`
	OCRArtifactID    string             `json:"ocr_artifact_id"`
	SchemaArtifactID string             `json:"schema_artifact_id"`
}

// JobHandler serves the job API.
type JobHandler struct {
	svc      *jobs.Service
	exporter *export.Service
	registry *schema.Registry
	logger   *slog.Logger
}

func NewJobHandler(svc *jobs.Service, exporter *export.Service, registry *schema.Registry, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{svc: svc, exporter: exporter, registry: registry, logger: logger}
}

type createJobRequest struct {
	ClientRequestID string `json:"client_request_id"`
	Schema          string `json:"schema"`
	Document        []byte `json:"document"` // base64 over the wire
}

// Create accepts a document and queues a processing job. Replays of the same
// client_request_id return the original job with 200 instead of 201.
func (h *JobHandler) Create(c *gin.Context) {
	userID, ok := common.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED", Message: "no caller identity"})
		return
	}

	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "PAYLOAD_INVALID",
			Message: "request body must be JSON with client_request_id, schema and a base64 document",
		})
		return
	}

	job, created, err := h.svc.Create(c.Request.Context(), jobs.CreateJobRequest{
		UserID:          userID,
		ClientRequestID: req.ClientRequestID,
		SchemaName:      req.Schema,
		Document:        req.Document,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, viewOf(job))
}

// Get returns the status view of a single job.
func (h *JobHandler) Get(c *gin.Context) {
	userID, ok := common.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED", Message: "no caller identity"})
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "PAYLOAD_INVALID", Message: "job id must be a UUID"})
		return
	}

	job, err := h.svc.Get(c.Request.Context(), userID, jobID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, viewOf(job))
}

// Results returns the structured output of a succeeded job. Jobs in any
// other state yield 409 so pollers can tell "not ready" from "not found".
func (h *JobHandler) Results(c *gin.Context) {
	userID, ok := common.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED", Message: "no caller identity"})
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "PAYLOAD_INVALID", Message: "job id must be a UUID"})
		return
	}

	job, err := h.svc.Results(c.Request.Context(), userID, jobID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resultsView{
		ID:               job.ID.String(),
		SchemaOutput:     job.SchemaOutput,
		Confidence:       job.Confidence,
		QualityScore:     job.QualityScore,
		OCRArtifactID:    job.OCRArtifactID,
		SchemaArtifactID: job.SchemaArtifactID,
	})
}

// List returns the caller's finished jobs, newest first.
func (h *JobHandler) List(c *gin.Context) {
	userID, ok := common.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED", Message: "no caller identity"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "PAYLOAD_INVALID", Message: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	recs, err := h.svc.ListFinished(c.Request.Context(), userID, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	views := make([]jobView, 0, len(recs))
	for _, j := range recs {
		views = append(views, viewOf(j))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

type schemaView struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Version  int      `json:"version"`
	Required []string `json:"required_fields,omitempty"`
}

// Schemas lists the registered schema names clients can submit against,
// with the fields each one requires.
func (h *JobHandler) Schemas(c *gin.Context) {
	defs := h.registry.Definitions()
	views := make([]schemaView, 0, len(defs))
	for _, def := range defs {
		var required []string
		for name, rule := range def.Fields {
			if rule.Required {
				required = append(required, name)
			}
		}
		sort.Strings(required)
		views = append(views, schemaView{ID: def.ID, Name: def.Name, Version: def.Version, Required: required})
	}
	c.JSON(http.StatusOK, gin.H{"schemas": views})
}

// ExportXLSX streams the caller's finished jobs as a workbook.
func (h *JobHandler) ExportXLSX(c *gin.Context) {
	userID, ok := common.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED", Message: "no caller identity"})
		return
	}

	out, err := h.exporter.ExportJobsXLSX(c.Request.Context(), userID, 0)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="jobs.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, out)
}
