package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/jobtracker/internal/api/middleware"
	"github.com/kiranshivaraju/jobtracker/internal/api/response"
	"github.com/kiranshivaraju/jobtracker/internal/rollup"
	"github.com/kiranshivaraju/jobtracker/internal/submission"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

// Submissions defines the submission operations the handlers depend on.
type Submissions interface {
	Create(ctx context.Context, req submission.CreateRequest) (*submission.Created, error)
	Get(ctx context.Context, id uuid.UUID) (*submission.Detail, error)
	ReplaceFile(ctx context.Context, submissionID uuid.UUID, f submission.FileUpload) (uuid.UUID, error)
	SetPublishable(ctx context.Context, submissionID uuid.UUID, publishable bool) error
	Publish(ctx context.Context, submissionID uuid.UUID) error
}

// StatusQuerier computes the rollup of a submission.
type StatusQuerier interface {
	ComputeStatus(ctx context.Context, submissionID uuid.UUID) (rollup.Result, error)
}

type createSubmissionRequest struct {
	ReportingStartDate *time.Time              `json:"reporting_start_date"`
	ReportingEndDate   *time.Time              `json:"reporting_end_date"`
	Files              []submission.FileUpload `json:"files"                validate:"required,min=1,dive"`
}

// NewCreateSubmissionHandler returns an http.HandlerFunc for
// POST /api/v1/submissions.
func NewCreateSubmissionHandler(svc Submissions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agencyID, ok := mw.GetAgencyID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing agency", nil)
			return
		}

		var req createSubmissionRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeBodyError(w, err)
			return
		}
		if req.ReportingStartDate != nil && req.ReportingEndDate != nil && req.ReportingEndDate.Before(*req.ReportingStartDate) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "reporting_end_date must not be before reporting_start_date", nil)
			return
		}

		created, err := svc.Create(r.Context(), submission.CreateRequest{
			AgencyID:           agencyID,
			ReportingStartDate: req.ReportingStartDate,
			ReportingEndDate:   req.ReportingEndDate,
			Files:              req.Files,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, created)
	}
}

// NewGetSubmissionHandler returns an http.HandlerFunc for
// GET /api/v1/submissions/{submissionID}.
func NewGetSubmissionHandler(svc Submissions, lookup Lookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "submissionID")
		if !ok {
			return
		}
		if _, err := ownedSubmission(r, lookup, id); err != nil {
			writeError(w, r, err)
			return
		}

		detail, err := svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, detail)
	}
}

// NewSubmissionStatusHandler returns an http.HandlerFunc for
// GET /api/v1/submissions/{submissionID}/status.
func NewSubmissionStatusHandler(q StatusQuerier, lookup Lookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "submissionID")
		if !ok {
			return
		}
		if _, err := ownedSubmission(r, lookup, id); err != nil {
			writeError(w, r, err)
			return
		}

		res, err := q.ComputeStatus(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, res)
	}
}

type replaceFileRequest struct {
	OriginalFilename string `json:"original_filename" validate:"required,max=255"`
	StoragePath      string `json:"storage_path"      validate:"max=1024"`
}

// NewReplaceFileHandler returns an http.HandlerFunc for
// PUT /api/v1/submissions/{submissionID}/files/{fileType}.
func NewReplaceFileHandler(svc Submissions, lookup Lookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "submissionID")
		if !ok {
			return
		}
		if _, err := ownedSubmission(r, lookup, id); err != nil {
			writeError(w, r, err)
			return
		}

		var req replaceFileRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeBodyError(w, err)
			return
		}

		uploadID, err := svc.ReplaceFile(r.Context(), id, submission.FileUpload{
			FileType:         models.FileType(chi.URLParam(r, "fileType")),
			OriginalFilename: req.OriginalFilename,
			StoragePath:      req.StoragePath,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]uuid.UUID{"upload_job_id": uploadID})
	}
}

type publishableRequest struct {
	Publishable *bool `json:"publishable" validate:"required"`
}

// NewSetPublishableHandler returns an http.HandlerFunc for
// PUT /api/v1/submissions/{submissionID}/publishable.
func NewSetPublishableHandler(svc Submissions, lookup Lookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "submissionID")
		if !ok {
			return
		}
		if _, err := ownedSubmission(r, lookup, id); err != nil {
			writeError(w, r, err)
			return
		}

		var req publishableRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeBodyError(w, err)
			return
		}
		if err := svc.SetPublishable(r.Context(), id, *req.Publishable); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewPublishHandler returns an http.HandlerFunc for
// POST /api/v1/submissions/{submissionID}/publish.
func NewPublishHandler(svc Submissions, lookup Lookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "submissionID")
		if !ok {
			return
		}
		if _, err := ownedSubmission(r, lookup, id); err != nil {
			writeError(w, r, err)
			return
		}
		if err := svc.Publish(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}
