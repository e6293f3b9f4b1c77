package export

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/entity"
	"github.com/intakehq/docpipe/internal/repository"
)

var exportUser = uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")

func newTestStore(t *testing.T) *repository.JobRepository {
	t.Helper()
	db, err := repository.Open(context.Background(), repository.Config{
		Driver: repository.DriverSQLite,
		DSN:    "file:" + t.TempDir() + "/export.db",
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return repository.NewJobRepository(db, slog.Default())
}

func settle(t *testing.T, repo *repository.JobRepository, clientRequestID string, succeed bool) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id, _, err := repo.CreateJob(ctx, repository.CreateJobParams{
		UserID:          exportUser,
		ClientRequestID: clientRequestID,
		SchemaID:        "invoice",
		SchemaVersion:   1,
		BlobID:          "blob-" + clientRequestID,
	})
	require.NoError(t, err)

	_, err = repo.Claim(ctx, id)
	require.NoError(t, err)

	if succeed {
		_, err = repo.SetJobOutput(ctx, id, entity.JobOutput{
			SchemaOutput: map[string]string{"total": "12.50", "vendor": "Acme"},
			Confidence:   map[string]float64{"total": 1, "vendor": 1},
			QualityScore: 1.0,
		})
		require.NoError(t, err)
	} else {
		_, err = repo.Transition(ctx, id, constants.JobStateRunning, constants.JobStateFailed,
			repository.TransitionMeta{ErrorCode: constants.CodeCorruptData})
		require.NoError(t, err)
	}
	return id
}

func TestExportJobsXLSX(t *testing.T) {
	repo := newTestStore(t)
	okID := settle(t, repo, "req-ok", true)
	time.Sleep(5 * time.Millisecond)
	failedID := settle(t, repo, "req-bad", false)

	svc := NewService(repo, slog.Default())
	out, err := svc.ExportJobsXLSX(context.Background(), exportUser, 0)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Jobs")
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + 2 jobs

	require.Equal(t, "Job ID", rows[0][0])
	require.Equal(t, "Error Code", rows[0][4])

	// Newest first: the failed job was created last.
	require.Equal(t, failedID.String(), rows[1][0])
	require.Equal(t, string(constants.JobStateFailed), rows[1][3])
	require.Equal(t, string(constants.CodeCorruptData), rows[1][4])

	require.Equal(t, okID.String(), rows[2][0])
	require.Equal(t, string(constants.JobStateSucceeded), rows[2][3])
	require.Contains(t, rows[2][7], "total=12.50")
	require.Contains(t, rows[2][7], "vendor=Acme")
}

func TestExportJobsXLSXEmpty(t *testing.T) {
	repo := newTestStore(t)
	svc := NewService(repo, slog.Default())

	out, err := svc.ExportJobsXLSX(context.Background(), exportUser, 0)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Jobs")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 10))
	require.Equal(t, "abcd…", truncate("abcdefgh", 5))
	require.Equal(t, "", truncate("", 5))
}
