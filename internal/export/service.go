package export

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/repository"
)

// Service is a tiny façade over the job store that produces XLSX bytes for
// exports.
type Service struct {
	jobs   repository.JobStore
	logger *slog.Logger
}

func NewService(jobs repository.JobStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

// ExportJobsXLSX returns an XLSX workbook (as bytes) of a user's finished
// jobs, newest first. Output columns are only filled for SUCCEEDED jobs.
func (s *Service) ExportJobsXLSX(ctx context.Context, userID uuid.UUID, limit int) ([]byte, error) {
	start := time.Now()

	recs, err := s.jobs.ListFinished(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query finished jobs: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Jobs"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Job ID",
		"Schema",
		"Version",
		"State",
		"Error Code",
		"Retries",
		"Quality Score",
		"Extracted Fields",
		"Created At",
		"Updated At",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, j := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, j.ID.String())
		write(2, j.SchemaID)
		write(3, j.SchemaVersion)
		write(4, string(j.State))
		write(5, string(j.ErrorCode))
		write(6, j.Retries)

		if j.State == constants.JobStateSucceeded {
			write(7, j.QualityScore)
			write(8, truncate(flattenFields(j.SchemaOutput), 140))
		} else {
			write(7, "")
			write(8, "")
		}

		write(9, j.CreatedAt.UTC().Format(time.RFC3339))
		write(10, j.UpdatedAt.UTC().Format(time.RFC3339))

		row++
	}

	// Widen a few columns
	_ = f.SetColWidth(sheet, "A", "A", 38) // job id
	_ = f.SetColWidth(sheet, "B", "B", 16) // schema
	_ = f.SetColWidth(sheet, "D", "E", 18) // state + error code
	_ = f.SetColWidth(sheet, "H", "H", 48) // fields
	_ = f.SetColWidth(sheet, "I", "J", 22) // timestamps

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"user_id", userID.String(),
		"rows", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// flattenFields renders structured output as "key=value; ..." with stable
// ordering.
func flattenFields(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
