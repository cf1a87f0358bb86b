// Package models contains shared data models used across the job tracker.
package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a single job.
type JobStatus string

const (
	JobStatusWaiting  JobStatus = "waiting"
	JobStatusReady    JobStatus = "ready"
	JobStatusRunning  JobStatus = "running"
	JobStatusFinished JobStatus = "finished"
	JobStatusInvalid  JobStatus = "invalid"
	JobStatusFailed   JobStatus = "failed"
)

// JobStatuses lists every known job status.
var JobStatuses = []JobStatus{
	JobStatusWaiting, JobStatusReady, JobStatusRunning,
	JobStatusFinished, JobStatusInvalid, JobStatusFailed,
}

// Valid reports whether s is one of the known job statuses.
func (s JobStatus) Valid() bool {
	for _, known := range JobStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// JobType identifies what a job does. A job row may carry no type at all,
// which the models represent as a nil *JobType.
type JobType string

const (
	JobTypeFileUpload          JobType = "file_upload"
	JobTypeCSVRecordValidation JobType = "csv_record_validation"
	JobTypeValidation          JobType = "validation"
	JobTypeCrossFileValidation JobType = "cross_file_validation"
	JobTypeExternalValidation  JobType = "external_validation"
)

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeFileUpload, JobTypeCSVRecordValidation, JobTypeValidation,
		JobTypeCrossFileValidation, JobTypeExternalValidation:
		return true
	}
	return false
}

// FileType is the file slot of a submission a job belongs to.
type FileType string

const (
	FileTypeAppropriations    FileType = "appropriations"
	FileTypeProgramActivity   FileType = "program_activity"
	FileTypeAwardFinancial    FileType = "award_financial"
	FileTypeAward             FileType = "award"
	FileTypeAwardProcurement  FileType = "award_procurement"
	FileTypeAwardeeAttributes FileType = "awardee_attributes"
	FileTypeSubAward          FileType = "sub_award"
)

// FileTypes lists the file slots in the order their jobs are created.
// Slots that depend on another slot's validation come after it.
var FileTypes = []FileType{
	FileTypeAppropriations,
	FileTypeProgramActivity,
	FileTypeAwardFinancial,
	FileTypeAward,
	FileTypeAwardProcurement,
	FileTypeAwardeeAttributes,
	FileTypeSubAward,
}

// Valid reports whether f is one of the known file types.
func (f FileType) Valid() bool {
	for _, known := range FileTypes {
		if f == known {
			return true
		}
	}
	return false
}

// Job is one unit of work inside a submission. FileSizeBytes, RowCount and
// ValidRowCount stay nil until the upload or validation worker reports them.
type Job struct {
	ID               uuid.UUID `db:"id"                 json:"id"`
	SubmissionID     uuid.UUID `db:"submission_id"      json:"submission_id"`
	FileType         *FileType `db:"file_type"          json:"file_type,omitempty"`
	JobType          *JobType  `db:"job_type"           json:"job_type,omitempty"`
	Status           JobStatus `db:"status"             json:"status"`
	OriginalFilename string    `db:"original_filename"  json:"original_filename"`
	StoragePath      string    `db:"storage_path"       json:"storage_path"`
	FileSizeBytes    *int64    `db:"file_size_bytes"    json:"file_size_bytes,omitempty"`
	RowCount         *int      `db:"row_count"          json:"row_count,omitempty"`
	ValidRowCount    *int      `db:"valid_row_count"    json:"valid_row_count,omitempty"`
	ErrorCount       int       `db:"error_count"        json:"error_count"`
	WarningCount     int       `db:"warning_count"      json:"warning_count"`
	CreatedAt        time.Time `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"         json:"updated_at"`
}

// HasType reports whether the job carries the given job type.
func (j *Job) HasType(t JobType) bool {
	return j.JobType != nil && *j.JobType == t
}

// JobDependency is a directed edge: JobID may not run before PrerequisiteID
// has finished.
type JobDependency struct {
	JobID          uuid.UUID `db:"job_id"          json:"job_id"`
	PrerequisiteID uuid.UUID `db:"prerequisite_id" json:"prerequisite_id"`
}

// FileTypePtr and JobTypePtr are helpers for building jobs literally.
func FileTypePtr(f FileType) *FileType { return &f }

func JobTypePtr(t JobType) *JobType { return &t }
