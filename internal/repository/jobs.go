package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/common"
	"github.com/intakehq/docpipe/internal/entity"
)

// JobStore is the full lifecycle surface of the jobs table. All mutations go
// through guarded updates keyed on the expected current state, so losing a
// race never corrupts a record.
type JobStore interface {
	CreateJob(ctx context.Context, p CreateJobParams) (uuid.UUID, bool, error)
	GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	GetJobByKey(ctx context.Context, userID uuid.UUID, clientRequestID string) (*entity.Job, error)
	Transition(ctx context.Context, id uuid.UUID, from, to constants.JobState, meta TransitionMeta) (*entity.Job, error)
	SetJobOutput(ctx context.Context, id uuid.UUID, out entity.JobOutput) (*entity.Job, error)
	ClaimNext(ctx context.Context) (*entity.Job, error)
	Claim(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	NextQueued(ctx context.Context) (*entity.Job, error)
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	ListFinished(ctx context.Context, userID uuid.UUID, limit int) ([]*entity.Job, error)
}

// CreateJobParams carries everything needed to enqueue a new job.
type CreateJobParams struct {
	UserID          uuid.UUID
	ClientRequestID string
	SchemaID        string
	SchemaVersion   int
	BlobID          string
}

// TransitionMeta is the optional baggage of a state change. ErrorCode and
// NextVisibleAt are written as given (zero values clear the columns), the
// external id is only written when non-empty, and IncRetries bumps the
// attempt counter atomically with the state flip.
type TransitionMeta struct {
	ErrorCode     constants.ErrorCode
	NextVisibleAt *time.Time
	ExternalJobID string
	IncRetries    bool
}

// JobRepository implements JobStore on top of *DB.
type JobRepository struct {
	db     *DB
	logger *slog.Logger
}

var _ JobStore = (*JobRepository)(nil)

func NewJobRepository(db *DB, logger *slog.Logger) *JobRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRepository{db: db, logger: logger}
}

const jobColumns = `id, user_id, client_request_id, schema_id, schema_version, blob_id,
	state, retries, error_code, external_job_id, next_visible_at,
	ocr_artifact_id, schema_artifact_id, schema_output, confidence, quality_score,
	created_at, updated_at`

// claimAttempts bounds how often ClaimNext re-selects after losing the
// guarded update to another worker.
const claimAttempts = 3

// CreateJob inserts a new job keyed on (user, client request id) and enqueues
// it. When the key already exists the stored job wins and created is false,
// so clients can safely resend the same request.
func (r *JobRepository) CreateJob(ctx context.Context, p CreateJobParams) (uuid.UUID, bool, error) {
	if p.ClientRequestID == "" {
		return uuid.Nil, false, common.NewAppError("PAYLOAD_INVALID", "client request id is required", common.ErrInvalidInput)
	}

	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, false, common.WrapError(err, "begin create job")
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.New()
	now := time.Now().UTC().UnixNano()

	res, err := tx.ExecContext(ctx, r.db.rebind(`
		INSERT INTO jobs (id, user_id, client_request_id, schema_id, schema_version, blob_id,
			state, retries, error_code, external_job_id,
			ocr_artifact_id, schema_artifact_id, schema_output, confidence, quality_score,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', '', '', '', '', '', 0, ?, ?)
		ON CONFLICT (user_id, client_request_id) DO NOTHING`),
		id.String(), p.UserID.String(), p.ClientRequestID, p.SchemaID, p.SchemaVersion, p.BlobID,
		string(constants.JobStateCreated), now, now)
	if err != nil {
		r.logger.Error("failed to create job", "error", err, "user_id", p.UserID)
		return uuid.Nil, false, common.WrapError(err, "insert job")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return uuid.Nil, false, common.WrapError(err, "insert job")
	}

	if rows == 1 {
		if _, err := tx.ExecContext(ctx, r.db.rebind(
			`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?`),
			string(constants.JobStateQueued), time.Now().UTC().UnixNano(),
			id.String(), string(constants.JobStateCreated)); err != nil {
			return uuid.Nil, false, common.WrapError(err, "enqueue job")
		}
		if err := tx.Commit(); err != nil {
			return uuid.Nil, false, common.WrapError(err, "commit create job")
		}
		r.logger.Info("job created", "job_id", id, "user_id", p.UserID, "schema_id", p.SchemaID)
		return id, true, nil
	}

	// Key already taken: hand back the winner's id.
	var existing string
	err = tx.QueryRowContext(ctx, r.db.rebind(
		`SELECT id FROM jobs WHERE user_id = ? AND client_request_id = ?`),
		p.UserID.String(), p.ClientRequestID).Scan(&existing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, false, common.NewAppError("CONFLICT", "concurrent create aborted, retry", common.ErrConflict)
		}
		return uuid.Nil, false, common.WrapError(err, "lookup existing job")
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, false, common.WrapError(err, "commit create job")
	}
	existingID, err := uuid.Parse(existing)
	if err != nil {
		return uuid.Nil, false, common.WrapError(err, "parse stored job id")
	}
	r.logger.Info("job create deduplicated", "job_id", existingID, "user_id", p.UserID)
	return existingID, false, nil
}

func (r *JobRepository) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	row := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id.String())
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("job %s not found", id), common.ErrNotFound)
		}
		return nil, common.WrapError(err, "get job")
	}
	return job, nil
}

func (r *JobRepository) GetJobByKey(ctx context.Context, userID uuid.UUID, clientRequestID string) (*entity.Job, error) {
	row := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = ? AND client_request_id = ?`),
		userID.String(), clientRequestID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NewAppError("NOT_FOUND", "no job for client request id", common.ErrNotFound)
		}
		return nil, common.WrapError(err, "get job by key")
	}
	return job, nil
}

// Transition moves a job along one edge of the state graph. Edges outside the
// graph are programmer errors and are rejected loudly before any write; a row
// whose state no longer matches from is left untouched and the caller gets a
// conflict describing the actual state.
func (r *JobRepository) Transition(ctx context.Context, id uuid.UUID, from, to constants.JobState, meta TransitionMeta) (*entity.Job, error) {
	if !from.Valid() || !to.Valid() {
		return nil, common.NewAppError("INVALID_TRANSITION",
			fmt.Sprintf("unknown state in transition %s -> %s", from, to), common.ErrInvalidTransition)
	}
	if !from.CanTransitionTo(to) {
		r.logger.Error("rejecting invalid state transition", "job_id", id, "from", from, "to", to)
		return nil, common.NewAppError("INVALID_TRANSITION",
			fmt.Sprintf("transition %s -> %s is not allowed", from, to), common.ErrInvalidTransition)
	}
	if meta.ErrorCode != "" && !meta.ErrorCode.Valid() {
		return nil, common.NewAppError("INVALID_ERROR_CODE",
			fmt.Sprintf("unknown error code %q", meta.ErrorCode), common.ErrInvalidInput)
	}

	var nextVis any
	if meta.NextVisibleAt != nil {
		nextVis = meta.NextVisibleAt.UTC().UnixNano()
	}
	inc := 0
	if meta.IncRetries {
		inc = 1
	}
	now := time.Now().UTC().UnixNano()

	var (
		res sql.Result
		err error
	)
	if meta.ExternalJobID != "" {
		res, err = r.db.SQL.ExecContext(ctx, r.db.rebind(`
			UPDATE jobs SET state = ?, error_code = ?, next_visible_at = ?, external_job_id = ?,
				retries = retries + ?, updated_at = ?
			WHERE id = ? AND state = ?`),
			string(to), string(meta.ErrorCode), nextVis, meta.ExternalJobID,
			inc, now, id.String(), string(from))
	} else {
		res, err = r.db.SQL.ExecContext(ctx, r.db.rebind(`
			UPDATE jobs SET state = ?, error_code = ?, next_visible_at = ?,
				retries = retries + ?, updated_at = ?
			WHERE id = ? AND state = ?`),
			string(to), string(meta.ErrorCode), nextVis,
			inc, now, id.String(), string(from))
	}
	if err != nil {
		r.logger.Error("failed to transition job", "error", err, "job_id", id, "from", from, "to", to)
		return nil, common.WrapError(err, "transition job")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, common.WrapError(err, "transition job")
	}
	if rows == 0 {
		return nil, r.diagnoseMiss(ctx, id, from)
	}

	r.logger.Info("job transitioned", "job_id", id, "from", from, "to", to, "error_code", meta.ErrorCode)
	return r.GetJob(ctx, id)
}

// SetJobOutput completes a running job: the flip to SUCCEEDED and the output
// fields land in one guarded update, so output is never visible on a job in
// any other state.
func (r *JobRepository) SetJobOutput(ctx context.Context, id uuid.UUID, out entity.JobOutput) (*entity.Job, error) {
	structured, err := json.Marshal(out.SchemaOutput)
	if err != nil {
		return nil, common.WrapError(err, "marshal schema output")
	}
	confidence, err := json.Marshal(out.Confidence)
	if err != nil {
		return nil, common.WrapError(err, "marshal confidence")
	}

	res, err := r.db.SQL.ExecContext(ctx, r.db.rebind(`
		UPDATE jobs SET state = ?, error_code = '', next_visible_at = NULL,
			ocr_artifact_id = ?, schema_artifact_id = ?, schema_output = ?, confidence = ?,
			quality_score = ?, updated_at = ?
		WHERE id = ? AND state = ?`),
		string(constants.JobStateSucceeded),
		out.OCRArtifactID, out.SchemaArtifactID, string(structured), string(confidence),
		out.QualityScore, time.Now().UTC().UnixNano(),
		id.String(), string(constants.JobStateRunning))
	if err != nil {
		r.logger.Error("failed to store job output", "error", err, "job_id", id)
		return nil, common.WrapError(err, "set job output")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, common.WrapError(err, "set job output")
	}
	if rows == 0 {
		return nil, r.diagnoseMiss(ctx, id, constants.JobStateRunning)
	}

	r.logger.Info("job succeeded", "job_id", id, "quality_score", out.QualityScore)
	return r.GetJob(ctx, id)
}

// ClaimNext hands the oldest queued job to exactly one caller. Returns
// (nil, nil) when the queue is empty.
func (r *JobRepository) ClaimNext(ctx context.Context) (*entity.Job, error) {
	for i := 0; i < claimAttempts; i++ {
		var idStr string
		err := r.db.SQL.QueryRowContext(ctx, r.db.rebind(`
			SELECT id FROM jobs WHERE state = ?
			ORDER BY created_at ASC, id ASC LIMIT 1`),
			string(constants.JobStateQueued)).Scan(&idStr)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, common.WrapError(err, "select next queued job")
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, common.WrapError(err, "parse stored job id")
		}
		job, err := r.Claim(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
		// Another worker won this row, pick again.
	}
	return nil, nil
}

// Claim flips one specific queued job to RUNNING. Returns (nil, nil) when the
// job is no longer queued, which callers treat as "someone else has it".
func (r *JobRepository) Claim(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	res, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?`),
		string(constants.JobStateRunning), time.Now().UTC().UnixNano(),
		id.String(), string(constants.JobStateQueued))
	if err != nil {
		return nil, common.WrapError(err, "claim job")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, common.WrapError(err, "claim job")
	}
	if rows == 0 {
		// Either missing or already past QUEUED; missing is an error.
		if _, err := r.GetJob(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	}
	r.logger.Debug("job claimed", "job_id", id)
	return r.GetJob(ctx, id)
}

// NextQueued returns the oldest queued job without claiming it, or (nil, nil)
// when the queue is empty. Used by dispatchers that hand jobs to an external
// executor before flipping them to RUNNING.
func (r *JobRepository) NextQueued(ctx context.Context) (*entity.Job, error) {
	row := r.db.SQL.QueryRowContext(ctx, r.db.rebind(`
		SELECT `+jobColumns+` FROM jobs WHERE state = ?
		ORDER BY created_at ASC, id ASC LIMIT 1`),
		string(constants.JobStateQueued))
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, common.WrapError(err, "peek queued job")
	}
	return job, nil
}

// PromoteDue requeues every retrying job whose backoff deadline has passed,
// clearing the failure bookkeeping from the previous attempt.
func (r *JobRepository) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.SQL.ExecContext(ctx, r.db.rebind(`
		UPDATE jobs SET state = ?, next_visible_at = NULL, error_code = '', updated_at = ?
		WHERE state = ? AND next_visible_at IS NOT NULL AND next_visible_at <= ?`),
		string(constants.JobStateQueued), now.UTC().UnixNano(),
		string(constants.JobStateRetrying), now.UTC().UnixNano())
	if err != nil {
		r.logger.Error("failed to promote retrying jobs", "error", err)
		return 0, common.WrapError(err, "promote due jobs")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, common.WrapError(err, "promote due jobs")
	}
	if rows > 0 {
		r.logger.Info("promoted retrying jobs", "count", rows)
	}
	return int(rows), nil
}

// ListFinished returns a user's terminal jobs, newest first.
func (r *JobRepository) ListFinished(ctx context.Context, userID uuid.UUID, limit int) ([]*entity.Job, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(`
		SELECT `+jobColumns+` FROM jobs
		WHERE user_id = ? AND state IN (?, ?)
		ORDER BY created_at DESC LIMIT ?`),
		userID.String(), string(constants.JobStateSucceeded), string(constants.JobStateFailed), limit)
	if err != nil {
		return nil, common.WrapError(err, "list finished jobs")
	}
	defer rows.Close()

	var jobs []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, common.WrapError(err, "scan finished job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapError(err, "list finished jobs")
	}
	return jobs, nil
}

// CountByState reports queue depth per state across all users. Health
// tooling uses it as a typed sanity query beyond a bare ping.
func (r *JobRepository) CountByState(ctx context.Context) (map[constants.JobState]int, error) {
	rows, err := r.db.SQL.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, common.WrapError(err, "count jobs by state")
	}
	defer rows.Close()

	counts := make(map[constants.JobState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, common.WrapError(err, "count jobs by state")
		}
		counts[constants.JobState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapError(err, "count jobs by state")
	}
	return counts, nil
}

// diagnoseMiss explains a guarded update that matched no row: the job is
// either gone or sitting in a different state.
func (r *JobRepository) diagnoseMiss(ctx context.Context, id uuid.UUID, expected constants.JobState) error {
	var current string
	err := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT state FROM jobs WHERE id = ?`), id.String()).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("job %s not found", id), common.ErrNotFound)
	}
	if err != nil {
		return common.WrapError(err, "inspect job state")
	}
	r.logger.Error("state transition lost", "job_id", id, "expected", expected, "actual", current)
	return common.NewAppError("INVALID_TRANSITION",
		fmt.Sprintf("job %s is %s, expected %s", id, current, expected), common.ErrInvalidTransition)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		idStr, userStr, clientRequestID string
		schemaID, blobID, state         string
		schemaVersion, retries          int
		errorCode, externalJobID        string
		nextVis                         sql.NullInt64
		ocrArtifact, schemaArtifact     string
		outputJSON, confidenceJSON      string
		quality                         float64
		createdNanos, updatedNanos      int64
	)
	if err := row.Scan(&idStr, &userStr, &clientRequestID, &schemaID, &schemaVersion, &blobID,
		&state, &retries, &errorCode, &externalJobID, &nextVis,
		&ocrArtifact, &schemaArtifact, &outputJSON, &confidenceJSON, &quality,
		&createdNanos, &updatedNanos); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	userID, err := uuid.Parse(userStr)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}

	job := &entity.Job{
		ID:               id,
		UserID:           userID,
		ClientRequestID:  clientRequestID,
		SchemaID:         schemaID,
		SchemaVersion:    schemaVersion,
		BlobID:           blobID,
		State:            constants.JobState(state),
		Retries:          retries,
		ErrorCode:        constants.ErrorCode(errorCode),
		ExternalJobID:    externalJobID,
		OCRArtifactID:    ocrArtifact,
		SchemaArtifactID: schemaArtifact,
		QualityScore:     quality,
		CreatedAt:        time.Unix(0, createdNanos).UTC(),
		UpdatedAt:        time.Unix(0, updatedNanos).UTC(),
	}
	if nextVis.Valid {
		t := time.Unix(0, nextVis.Int64).UTC()
		job.NextVisibleAt = &t
	}
	if outputJSON != "" {
		if err := json.Unmarshal([]byte(outputJSON), &job.SchemaOutput); err != nil {
			return nil, fmt.Errorf("decode schema output: %w", err)
		}
	}
	if confidenceJSON != "" {
		if err := json.Unmarshal([]byte(confidenceJSON), &job.Confidence); err != nil {
			return nil, fmt.Errorf("decode confidence: %w", err)
		}
	}
	return job, nil
}
