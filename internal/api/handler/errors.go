package handler

import (
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/jobtracker/internal/api/response"
	"github.com/kiranshivaraju/jobtracker/internal/errorcount"
	"github.com/kiranshivaraju/jobtracker/internal/lifecycle"
	"github.com/kiranshivaraju/jobtracker/internal/store"
	"github.com/kiranshivaraju/jobtracker/internal/submission"
)

var badRequestErrors = []error{
	lifecycle.ErrInvalidStatus,
	lifecycle.ErrInvalidProgress,
	errorcount.ErrInvalidSeverity,
	errorcount.ErrInvalidFileStatus,
	submission.ErrInvalidFileType,
	submission.ErrDuplicateFile,
	submission.ErrNoFiles,
	submission.ErrMissingPrerequisiteFile,
	submission.ErrFileNotInSubmission,
	submission.ErrInvalidPublishStatus,
}

// writeError maps service errors onto the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, lifecycle.ErrPrerequisitesNotFinished):
		response.Error(w, http.StatusConflict, "PREREQUISITES_NOT_FINISHED", err.Error(), nil)
	case errors.Is(err, lifecycle.ErrNotStartable):
		response.Error(w, http.StatusConflict, "JOB_ALREADY_STARTED", err.Error(), nil)
	case errors.Is(err, lifecycle.ErrAlreadyRecorded),
		errors.Is(err, submission.ErrNotPublishable),
		errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case isBadRequest(err):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	default:
		slog.Error("request failed",
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

func isBadRequest(err error) bool {
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
