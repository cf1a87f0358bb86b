package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/jobtracker/internal/api/middleware"
	"github.com/kiranshivaraju/jobtracker/internal/api/response"
	"github.com/kiranshivaraju/jobtracker/internal/metrics"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Metrics   *metrics.Middleware

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	CreateSubmission  http.HandlerFunc
	GetSubmission     http.HandlerFunc
	SubmissionStatus  http.HandlerFunc
	ReplaceFile       http.HandlerFunc
	SetPublishable    http.HandlerFunc
	PublishSubmission http.HandlerFunc

	MarkJobStatus    http.HandlerFunc
	StartJob         http.HandlerFunc
	JobPrerequisites http.HandlerFunc
	JobProgress      http.HandlerFunc
	RecordJobErrors  http.HandlerFunc
	RecordFileError  http.HandlerFunc
	ListJobErrors    http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler)
	}

	// Public endpoints
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		// UI backend
		r.With(deps.Auth.Require(models.CapabilitySubmit)).Group(func(r chi.Router) {
			r.Post("/api/v1/submissions", orNotImplemented(deps.CreateSubmission))
			r.Put("/api/v1/submissions/{submissionID}/files/{fileType}", orNotImplemented(deps.ReplaceFile))
			r.Put("/api/v1/submissions/{submissionID}/publishable", orNotImplemented(deps.SetPublishable))
		})
		r.With(deps.Auth.Require(models.CapabilityRead)).Group(func(r chi.Router) {
			r.Get("/api/v1/submissions/{submissionID}", orNotImplemented(deps.GetSubmission))
			r.Get("/api/v1/submissions/{submissionID}/status", orNotImplemented(deps.SubmissionStatus))
			r.Get("/api/v1/jobs/{jobID}/prerequisites", orNotImplemented(deps.JobPrerequisites))
			r.Get("/api/v1/jobs/{jobID}/errors", orNotImplemented(deps.ListJobErrors))
		})
		r.With(deps.Auth.Require(models.CapabilityPublish)).
			Post("/api/v1/submissions/{submissionID}/publish", orNotImplemented(deps.PublishSubmission))

		// Workers
		r.With(deps.Auth.Require(models.CapabilityReport)).Group(func(r chi.Router) {
			r.Put("/api/v1/jobs/{jobID}/status", orNotImplemented(deps.MarkJobStatus))
			r.Put("/api/v1/jobs/{jobID}/progress", orNotImplemented(deps.JobProgress))
			r.Post("/api/v1/jobs/{jobID}/errors", orNotImplemented(deps.RecordJobErrors))
			r.Post("/api/v1/jobs/{jobID}/file-error", orNotImplemented(deps.RecordFileError))
		})

		// Operators
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.Require(models.CapabilityAdmin))

			r.Post("/api/v1/jobs/{jobID}/start", orNotImplemented(deps.StartJob))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
