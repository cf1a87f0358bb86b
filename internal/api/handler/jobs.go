package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/api/response"
	"github.com/kiranshivaraju/jobtracker/internal/errorcount"
	"github.com/kiranshivaraju/jobtracker/internal/lifecycle"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

// Tracker defines the job lifecycle operations the handlers depend on.
type Tracker interface {
	MarkStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus) (lifecycle.Transition, error)
	StartJob(ctx context.Context, jobID uuid.UUID) (lifecycle.Transition, error)
	CheckPrerequisites(ctx context.Context, jobID uuid.UUID) (bool, error)
	RecordFileSize(ctx context.Context, jobID uuid.UUID, bytes int64) error
	RecordRowCounts(ctx context.Context, jobID uuid.UUID, rows, validRows int) error
}

// ErrorRecorder defines the error reporting operations the handlers depend on.
type ErrorRecorder interface {
	RecordErrors(ctx context.Context, jobID uuid.UUID, raws []errorcount.RawError) ([]*models.ErrorMetadata, error)
	RecordFileError(ctx context.Context, jobID uuid.UUID, fe errorcount.FileError) error
	ErrorMetrics(ctx context.Context, jobID uuid.UUID, severity models.Severity) ([]*models.ErrorMetadata, error)
	ErrorType(ctx context.Context, jobID uuid.UUID) (string, error)
}

// StatusInvalidator drops a cached submission rollup.
type StatusInvalidator interface {
	Invalidate(ctx context.Context, submissionID uuid.UUID)
}

type transitionResponse struct {
	JobID      uuid.UUID           `json:"job_id"`
	Previous   models.JobStatus    `json:"previous_status"`
	Changes    []lifecycle.Change  `json:"changes"`
	Dispatched []uuid.UUID         `json:"dispatched"`
	Anomalies  []lifecycle.Anomaly `json:"anomalies"`
}

func newTransitionResponse(tr lifecycle.Transition) transitionResponse {
	res := transitionResponse{
		JobID:      tr.JobID,
		Previous:   tr.Previous,
		Changes:    tr.Changes,
		Dispatched: tr.Dispatch,
		Anomalies:  tr.Anomalies,
	}
	if res.Changes == nil {
		res.Changes = []lifecycle.Change{}
	}
	if res.Dispatched == nil {
		res.Dispatched = []uuid.UUID{}
	}
	if res.Anomalies == nil {
		res.Anomalies = []lifecycle.Anomaly{}
	}
	return res
}

type markStatusRequest struct {
	Status models.JobStatus `json:"status" validate:"required"`
}

// NewMarkStatusHandler returns an http.HandlerFunc for
// PUT /api/v1/jobs/{jobID}/status.
func NewMarkStatusHandler(tracker Tracker, lookup Lookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		if _, err := ownedJob(r, lookup, id); err != nil {
			writeError(w, r, err)
			return
		}

		var req markStatusRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeBodyError(w, err)
			return
		}

		tr, err := tracker.MarkStatus(r.Context(), id, req.Status)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, newTransitionResponse(tr))
	}
}

// NewStartJobHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/start.
func NewStartJobHandler(tracker Tracker, lookup Lookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		if _, err := ownedJob(r, lookup, id); err != nil {
			writeError(w, r, err)
			return
		}

		tr, err := tracker.StartJob(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, newTransitionResponse(tr))
	}
}

// NewPrerequisitesHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/prerequisites.
func NewPrerequisitesHandler(tracker Tracker, lookup Lookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		if _, err := ownedJob(r, lookup, id); err != nil {
			writeError(w, r, err)
			return
		}

		finished, err := tracker.CheckPrerequisites(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"job_id": id, "prerequisites_finished": finished})
	}
}

type progressRequest struct {
	FileSizeBytes *int64 `json:"file_size_bytes" validate:"omitempty,min=0"`
	RowCount      *int   `json:"row_count"       validate:"required_with=ValidRowCount,omitempty,min=0"`
	ValidRowCount *int   `json:"valid_row_count" validate:"required_with=RowCount,omitempty,min=0"`
}

// NewProgressHandler returns an http.HandlerFunc for
// PUT /api/v1/jobs/{jobID}/progress.
func NewProgressHandler(tracker Tracker, lookup Lookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		if _, err := ownedJob(r, lookup, id); err != nil {
			writeError(w, r, err)
			return
		}

		var req progressRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeBodyError(w, err)
			return
		}
		if req.FileSizeBytes == nil && req.RowCount == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file_size_bytes or row_count is required", nil)
			return
		}

		if req.FileSizeBytes != nil {
			if err := tracker.RecordFileSize(r.Context(), id, *req.FileSizeBytes); err != nil {
				writeError(w, r, err)
				return
			}
		}
		if req.RowCount != nil {
			if err := tracker.RecordRowCounts(r.Context(), id, *req.RowCount, *req.ValidRowCount); err != nil {
				writeError(w, r, err)
				return
			}
		}
		response.NoContent(w)
	}
}

type recordErrorsRequest struct {
	Errors []errorcount.RawError `json:"errors" validate:"required,min=1,dive"`
}

// NewRecordErrorsHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/errors.
func NewRecordErrorsHandler(rec ErrorRecorder, inv StatusInvalidator, lookup Lookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		job, err := ownedJob(r, lookup, id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var req recordErrorsRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeBodyError(w, err)
			return
		}

		rows, err := rec.RecordErrors(r.Context(), id, req.Errors)
		if err != nil {
			writeError(w, r, err)
			return
		}
		inv.Invalidate(r.Context(), job.SubmissionID)
		response.Created(w, rows)
	}
}

// NewFileErrorHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/file-error.
func NewFileErrorHandler(rec ErrorRecorder, inv StatusInvalidator, lookup Lookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		job, err := ownedJob(r, lookup, id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var req errorcount.FileError
		if err := decodeBody(w, r, &req); err != nil {
			writeBodyError(w, err)
			return
		}
		if err := rec.RecordFileError(r.Context(), id, req); err != nil {
			writeError(w, r, err)
			return
		}
		inv.Invalidate(r.Context(), job.SubmissionID)
		response.NoContent(w)
	}
}

type jobErrorsResponse struct {
	JobID     uuid.UUID               `json:"job_id"`
	ErrorType string                  `json:"error_type"`
	Errors    []*models.ErrorMetadata `json:"errors"`
}

// NewListErrorsHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/errors?severity=fatal|warning.
func NewListErrorsHandler(rec ErrorRecorder, lookup Lookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		if _, err := ownedJob(r, lookup, id); err != nil {
			writeError(w, r, err)
			return
		}

		severity := models.Severity(r.URL.Query().Get("severity"))
		if severity == "" {
			severity = models.SeverityFatal
		}

		rows, err := rec.ErrorMetrics(r.Context(), id, severity)
		if err != nil {
			writeError(w, r, err)
			return
		}
		kind, err := rec.ErrorType(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if rows == nil {
			rows = []*models.ErrorMetadata{}
		}
		response.JSON(w, jobErrorsResponse{JobID: id, ErrorType: kind, Errors: rows})
	}
}
