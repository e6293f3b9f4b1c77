package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/blob"
	"github.com/intakehq/docpipe/internal/common"
	"github.com/intakehq/docpipe/internal/entity"
	"github.com/intakehq/docpipe/internal/repository"
	"github.com/intakehq/docpipe/internal/retry"
	"github.com/intakehq/docpipe/internal/schema"
)

var owner = uuid.MustParse("7a4e9b12-5c3d-4f80-a6e1-9d2b7c5f3a18")

const document = `Invoice Number: INV-100
Total: 25.00`

type fixture struct {
	svc   *Service
	repo  *repository.JobRepository
	blobs *blob.Memory
}

func newFixture(t *testing.T, maxSize int64, policy retry.Policy) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.Open(context.Background(), repository.Config{
		Driver: repository.DriverSQLite,
		DSN:    "file:" + filepath.Join(t.TempDir(), "jobs.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(context.Background()))

	repo := repository.NewJobRepository(db, logger)
	blobs := blob.NewMemory()
	reg, err := schema.NewRegistry(logger)
	require.NoError(t, err)

	return &fixture{
		svc:   NewService(repo, blobs, reg, policy, nil, maxSize, logger),
		repo:  repo,
		blobs: blobs,
	}
}

func (f *fixture) create(t *testing.T, clientRequestID string) *entity.Job {
	t.Helper()
	job, created, err := f.svc.Create(context.Background(), CreateJobRequest{
		UserID:          owner,
		ClientRequestID: clientRequestID,
		SchemaName:      "invoice",
		Document:        []byte(document),
	})
	require.NoError(t, err)
	require.True(t, created)
	return job
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

func TestCreateStoresDocumentAndQueuesJob(t *testing.T) {
	f := newFixture(t, 0, retry.Default())
	ctx := context.Background()

	job := f.create(t, "req-1")
	assert.Equal(t, constants.JobStateQueued, job.State)
	assert.Equal(t, "invoice", job.SchemaID)
	assert.Equal(t, 1, job.SchemaVersion)
	assert.Equal(t, owner, job.UserID)

	stored, err := f.blobs.Get(ctx, job.BlobID)
	require.NoError(t, err)
	assert.Equal(t, document, string(stored))
}

func TestCreateIsIdempotentPerClientRequest(t *testing.T) {
	f := newFixture(t, 0, retry.Default())
	first := f.create(t, "req-1")

	again, created, err := f.svc.Create(context.Background(), CreateJobRequest{
		UserID:          owner,
		ClientRequestID: "req-1",
		SchemaName:      "receipt",
		Document:        []byte("Merchant: Other\nTotal: 1.00"),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "invoice", again.SchemaID, "original request wins")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, 0, retry.Default())
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateJobRequest
	}{
		{"missing client request id", CreateJobRequest{UserID: owner, SchemaName: "invoice", Document: []byte("x")}},
		{"missing schema", CreateJobRequest{UserID: owner, ClientRequestID: "r", Document: []byte("x")}},
		{"missing document", CreateJobRequest{UserID: owner, ClientRequestID: "r", SchemaName: "invoice"}},
		{"missing user", CreateJobRequest{ClientRequestID: "r", SchemaName: "invoice", Document: []byte("x")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.svc.Create(ctx, tc.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidInput)
		})
	}
}

func TestCreateUnknownSchema(t *testing.T) {
	f := newFixture(t, 0, retry.Default())
	_, _, err := f.svc.Create(context.Background(), CreateJobRequest{
		UserID:          owner,
		ClientRequestID: "req-1",
		SchemaName:      "tax-return",
		Document:        []byte(document),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Equal(t, string(constants.CodeSchemaNotFound), appCode(t, err))
}

func TestCreateRejectsOversizedDocument(t *testing.T) {
	f := newFixture(t, 16, retry.Default())
	_, _, err := f.svc.Create(context.Background(), CreateJobRequest{
		UserID:          owner,
		ClientRequestID: "req-1",
		SchemaName:      "invoice",
		Document:        []byte(document),
	})
	require.Error(t, err)
	assert.Equal(t, string(constants.CodeSizeExceeded), appCode(t, err))
}

func TestGetIsScopedToOwner(t *testing.T) {
	f := newFixture(t, 0, retry.Default())
	ctx := context.Background()
	job := f.create(t, "req-1")

	got, err := f.svc.Get(ctx, owner, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = f.svc.Get(ctx, uuid.New(), job.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestResultsOnlyForSucceededJobs(t *testing.T) {
	f := newFixture(t, 0, retry.Default())
	ctx := context.Background()
	job := f.create(t, "req-1")

	_, err := f.svc.Results(ctx, owner, job.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrJobNotComplete)

	_, err = f.repo.Claim(ctx, job.ID)
	require.NoError(t, err)
	_, err = f.repo.SetJobOutput(ctx, job.ID, entity.JobOutput{
		SchemaOutput: map[string]string{"total": "25.00"},
		Confidence:   map[string]float64{"total": 1},
		QualityScore: 1,
	})
	require.NoError(t, err)

	got, err := f.svc.Results(ctx, owner, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "25.00", got.SchemaOutput["total"])
	assert.Equal(t, 1.0, got.QualityScore)
}

func TestCompleteSuccess(t *testing.T) {
	f := newFixture(t, 0, retry.Default())
	ctx := context.Background()
	job := f.create(t, "req-1")
	_, err := f.repo.Claim(ctx, job.ID)
	require.NoError(t, err)

	updated, err := f.svc.Complete(ctx, job.ID, CompletionReport{
		Success: true,
		Output: entity.JobOutput{
			SchemaOutput: map[string]string{"total": "25.00"},
			Confidence:   map[string]float64{"total": 1},
			QualityScore: 1,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateSucceeded, updated.State)

	// A late duplicate report of either kind is acknowledged and ignored.
	again, err := f.svc.Complete(ctx, job.ID, CompletionReport{Success: false, ErrorCode: constants.CodeOCRFailure})
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateSucceeded, again.State)
	assert.Equal(t, "25.00", again.SchemaOutput["total"])
}

func TestCompleteVerifiesExternalJobID(t *testing.T) {
	f := newFixture(t, 0, retry.Default())
	ctx := context.Background()
	job := f.create(t, "req-1")

	_, err := f.repo.Transition(ctx, job.ID, constants.JobStateQueued, constants.JobStateRunning,
		repository.TransitionMeta{ExternalJobID: "runner-42"})
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, job.ID, CompletionReport{ExternalJobID: "runner-99", Success: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	updated, err := f.svc.Complete(ctx, job.ID, CompletionReport{
		ExternalJobID: "runner-42",
		Success:       true,
		Output:        entity.JobOutput{QualityScore: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateSucceeded, updated.State)
}

func TestCompleteRetryableFailure(t *testing.T) {
	f := newFixture(t, 0, retry.Default())
	ctx := context.Background()
	job := f.create(t, "req-1")
	_, err := f.repo.Claim(ctx, job.ID)
	require.NoError(t, err)

	updated, err := f.svc.Complete(ctx, job.ID, CompletionReport{
		Success:   false,
		ErrorCode: constants.CodeOCRTimeout,
		Stage:     constants.StageOCR,
	})
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateRetrying, updated.State)
	assert.Equal(t, constants.CodeOCRTimeout, updated.ErrorCode)
	assert.Equal(t, 1, updated.Retries)
	assert.NotNil(t, updated.NextVisibleAt)
}

func TestCompleteNonRetryableFailure(t *testing.T) {
	f := newFixture(t, 0, retry.Default())
	ctx := context.Background()
	job := f.create(t, "req-1")
	_, err := f.repo.Claim(ctx, job.ID)
	require.NoError(t, err)

	updated, err := f.svc.Complete(ctx, job.ID, CompletionReport{
		Success:   false,
		ErrorCode: constants.CodeCorruptData,
	})
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateFailed, updated.State)
	assert.Equal(t, constants.CodeCorruptData, updated.ErrorCode)
	assert.Equal(t, 0, updated.Retries)
}

func TestCompleteUnknownCodeBecomesInternal(t *testing.T) {
	f := newFixture(t, 0, retry.Default())
	ctx := context.Background()
	job := f.create(t, "req-1")
	_, err := f.repo.Claim(ctx, job.ID)
	require.NoError(t, err)

	updated, err := f.svc.Complete(ctx, job.ID, CompletionReport{
		Success:   false,
		ErrorCode: constants.ErrorCode("EXPLODED"),
	})
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateFailed, updated.State)
	assert.Equal(t, constants.CodeInternal, updated.ErrorCode)
}

func TestCompleteHonorsAttemptCeiling(t *testing.T) {
	f := newFixture(t, 0, retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second})
	ctx := context.Background()
	job := f.create(t, "req-1")

	_, err := f.repo.Claim(ctx, job.ID)
	require.NoError(t, err)
	first, err := f.svc.Complete(ctx, job.ID, CompletionReport{Success: false, ErrorCode: constants.CodeOCRTimeout})
	require.NoError(t, err)
	require.Equal(t, constants.JobStateRetrying, first.State)

	_, err = f.repo.PromoteDue(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	_, err = f.repo.Claim(ctx, job.ID)
	require.NoError(t, err)

	second, err := f.svc.Complete(ctx, job.ID, CompletionReport{Success: false, ErrorCode: constants.CodeOCRTimeout})
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateFailed, second.State, "second attempt hits the ceiling")
	assert.Equal(t, 1, second.Retries)
}

func TestCompleteUnknownJob(t *testing.T) {
	f := newFixture(t, 0, retry.Default())
	_, err := f.svc.Complete(context.Background(), uuid.New(), CompletionReport{Success: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}
