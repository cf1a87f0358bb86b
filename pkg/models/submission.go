package models

import (
	"time"

	"github.com/google/uuid"
)

// PublishStatus tracks whether a submission's data has been published.
type PublishStatus string

const (
	PublishStatusUnpublished PublishStatus = "unpublished"
	PublishStatusPublished   PublishStatus = "published"
	PublishStatusUpdated     PublishStatus = "updated"
)

// SubmissionStatus is the rolled-up status of all jobs in a submission, as
// polled by the UI.
type SubmissionStatus string

const (
	SubmissionStatusUnknown                      SubmissionStatus = "unknown"
	SubmissionStatusFailed                       SubmissionStatus = "failed"
	SubmissionStatusFileErrors                   SubmissionStatus = "file_errors"
	SubmissionStatusRunning                      SubmissionStatus = "running"
	SubmissionStatusWaiting                      SubmissionStatus = "waiting"
	SubmissionStatusReady                        SubmissionStatus = "ready"
	SubmissionStatusValidationSuccessful         SubmissionStatus = "validation_successful"
	SubmissionStatusValidationSuccessfulWarnings SubmissionStatus = "validation_successful_warnings"
	SubmissionStatusSubmitted                    SubmissionStatus = "submitted"
	SubmissionStatusValidationErrors             SubmissionStatus = "validation_errors"
)

// Valid reports whether s is one of the rolled-up statuses above.
func (s SubmissionStatus) Valid() bool {
	switch s {
	case SubmissionStatusUnknown, SubmissionStatusFailed, SubmissionStatusFileErrors,
		SubmissionStatusRunning, SubmissionStatusWaiting, SubmissionStatusReady,
		SubmissionStatusValidationSuccessful, SubmissionStatusValidationSuccessfulWarnings,
		SubmissionStatusSubmitted, SubmissionStatusValidationErrors:
		return true
	}
	return false
}

// Submission is the aggregate root for a set of jobs. NumberOfErrors and
// NumberOfWarnings are caches written only by the error recomputation.
type Submission struct {
	ID                 uuid.UUID     `db:"id"                   json:"id"`
	AgencyID           uuid.UUID     `db:"agency_id"            json:"agency_id"`
	ReportingStartDate *time.Time    `db:"reporting_start_date" json:"reporting_start_date,omitempty"`
	ReportingEndDate   *time.Time    `db:"reporting_end_date"   json:"reporting_end_date,omitempty"`
	NumberOfErrors     int           `db:"number_of_errors"     json:"number_of_errors"`
	NumberOfWarnings   int           `db:"number_of_warnings"   json:"number_of_warnings"`
	Publishable        bool          `db:"publishable"          json:"publishable"`
	PublishStatus      PublishStatus `db:"publish_status"       json:"publish_status"`
	CreatedAt          time.Time     `db:"created_at"           json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at"           json:"updated_at"`
}
