package errorcount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/store"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

var (
	ErrInvalidSeverity   = errors.New("invalid severity")
	ErrInvalidFileStatus = errors.New("invalid file status")
)

// Error types reported by ErrorType.
const (
	ErrorTypeHeader = "header_errors"
	ErrorTypeRow    = "row_errors"
	ErrorTypeNone   = "none"
)

// FileLevelField is the field name of the synthetic row ErrorMetrics returns
// for a file that never reached row validation.
const FileLevelField = "File Level Error"

var fileStatusDescriptions = map[models.FileStatus]string{
	models.FileStatusIncomplete:     "The file has not finished processing",
	models.FileStatusHeaderError:    "The file has missing or duplicated headers",
	models.FileStatusUnknownError:   "An unknown error occurred with this file",
	models.FileStatusSingleRowError: "The file contains a header row but no data",
	models.FileStatusJobError:       "The validation job could not process the file",
}

// Counter reads and writes error tallies. It is the only writer of the
// submission-level error and warning caches.
type Counter struct {
	store store.Store
}

func NewCounter(st store.Store) *Counter {
	return &Counter{store: st}
}

// ErrorCountForJob sums the occurrences of one severity for a job. A job
// without rows of that severity has zero.
func (c *Counter) ErrorCountForJob(ctx context.Context, jobID uuid.UUID, severity models.Severity) (int, error) {
	if !severity.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSeverity, severity)
	}
	n, err := c.store.SumErrorOccurrences(ctx, jobID, severity)
	if err != nil {
		return 0, fmt.Errorf("sum %s occurrences of job %s: %w", severity, jobID, err)
	}
	return n, nil
}

// Totals are the recomputed submission-level caches.
type Totals struct {
	Errors   int
	Warnings int
}

// RecomputeSubmissionTotals refreshes every job's error and warning cache
// from its metadata rows, then writes their sums onto the submission. It runs
// under the submission lock.
func (c *Counter) RecomputeSubmissionTotals(ctx context.Context, submissionID uuid.UUID) (Totals, error) {
	var totals Totals
	err := c.store.WithSubmissionLock(ctx, submissionID, func(ctx context.Context) error {
		totals = Totals{}
		jobs, err := c.store.ListJobs(ctx, submissionID)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		for _, job := range jobs {
			errs, err := c.ErrorCountForJob(ctx, job.ID, models.SeverityFatal)
			if err != nil {
				return err
			}
			warns, err := c.ErrorCountForJob(ctx, job.ID, models.SeverityWarning)
			if err != nil {
				return err
			}
			if errs != job.ErrorCount || warns != job.WarningCount {
				if err := c.store.UpdateJob(ctx, job.ID, store.WithErrorCounts(errs, warns)); err != nil {
					return fmt.Errorf("update counts of job %s: %w", job.ID, err)
				}
			}
			totals.Errors += errs
			totals.Warnings += warns
		}
		return c.store.UpdateSubmissionTotals(ctx, submissionID, totals.Errors, totals.Warnings)
	})
	if err != nil {
		return Totals{}, err
	}
	return totals, nil
}

// RecordErrors collapses raw failures and upserts them for the job.
// Occurrences add up with rows already stored for the same tuple.
func (c *Counter) RecordErrors(ctx context.Context, jobID uuid.UUID, raws []RawError) ([]*models.ErrorMetadata, error) {
	for _, raw := range raws {
		if !raw.Severity.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSeverity, raw.Severity)
		}
	}

	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	collapsed := Collapse(jobID, raws)
	stored := make([]*models.ErrorMetadata, 0, len(collapsed))
	err = c.store.WithSubmissionLock(ctx, job.SubmissionID, func(ctx context.Context) error {
		stored = stored[:0]
		for _, meta := range collapsed {
			row, err := c.store.UpsertErrorMetadata(ctx, meta)
			if err != nil {
				return fmt.Errorf("upsert error metadata: %w", err)
			}
			stored = append(stored, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("errors recorded", "job_id", jobID, "raw", len(raws), "rows", len(stored))
	return stored, nil
}

// FileError is the file-level outcome a validator reports before or instead
// of row validation.
type FileError struct {
	ReportName        string            `json:"report_name"`
	Status            models.FileStatus `json:"status"             validate:"required"`
	HeadersMissing    []string          `json:"headers_missing"`
	HeadersDuplicated []string          `json:"headers_duplicated"`
}

// RecordFileError stores the file record of a job.
func (c *Counter) RecordFileError(ctx context.Context, jobID uuid.UUID, fe FileError) error {
	if !fe.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFileStatus, fe.Status)
	}
	if _, err := c.store.GetJob(ctx, jobID); err != nil {
		return err
	}
	return c.store.UpsertFileRecord(ctx, &models.FileRecord{
		JobID:             jobID,
		ReportName:        fe.ReportName,
		Status:            fe.Status,
		HeadersMissing:    fe.HeadersMissing,
		HeadersDuplicated: fe.HeadersDuplicated,
	})
}

// ErrorType classifies the outcome of a job's validation. Header errors win
// over row errors.
func (c *Counter) ErrorType(ctx context.Context, jobID uuid.UUID) (string, error) {
	rec, err := c.store.GetFileRecord(ctx, jobID)
	switch {
	case err == nil:
		if rec.Status == models.FileStatusHeaderError {
			return ErrorTypeHeader, nil
		}
	case !errors.Is(err, store.ErrNotFound):
		return "", err
	}

	if _, err := c.store.GetJob(ctx, jobID); err != nil {
		return "", err
	}
	n, err := c.ErrorCountForJob(ctx, jobID, models.SeverityFatal)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return ErrorTypeRow, nil
	}
	return ErrorTypeNone, nil
}

// ErrorMetrics lists the error rows of one severity for a job. A job whose
// file record is not complete yields a single file-level row instead.
func (c *Counter) ErrorMetrics(ctx context.Context, jobID uuid.UUID, severity models.Severity) ([]*models.ErrorMetadata, error) {
	if severity != "" && !severity.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSeverity, severity)
	}

	rec, err := c.store.GetFileRecord(ctx, jobID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if rec != nil && rec.Status != models.FileStatusComplete {
		return []*models.ErrorMetadata{{
			JobID:       jobID,
			FieldName:   FileLevelField,
			ErrorType:   string(rec.Status),
			Description: fileStatusDescriptions[rec.Status],
			Occurrences: 1,
		}}, nil
	}

	return c.store.ListErrorMetadata(ctx, store.ErrorFilter{JobID: jobID, Severity: severity})
}
