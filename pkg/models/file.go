package models

import (
	"time"

	"github.com/google/uuid"
)

// FileStatus is the file-level outcome of a validation run.
type FileStatus string

const (
	FileStatusIncomplete     FileStatus = "incomplete"
	FileStatusComplete       FileStatus = "complete"
	FileStatusHeaderError    FileStatus = "header_error"
	FileStatusUnknownError   FileStatus = "unknown_error"
	FileStatusSingleRowError FileStatus = "single_row_error"
	FileStatusJobError       FileStatus = "job_error"
)

// Valid reports whether s is a known file status.
func (s FileStatus) Valid() bool {
	switch s {
	case FileStatusIncomplete, FileStatusComplete, FileStatusHeaderError,
		FileStatusUnknownError, FileStatusSingleRowError, FileStatusJobError:
		return true
	}
	return false
}

// FileRecord holds the file-level validation result of a job, including the
// header problems that stop row validation from running.
type FileRecord struct {
	JobID             uuid.UUID  `db:"job_id"             json:"job_id"`
	ReportName        string     `db:"report_name"        json:"report_name"`
	Status            FileStatus `db:"status"             json:"status"`
	HeadersMissing    []string   `db:"headers_missing"    json:"headers_missing,omitempty"`
	HeadersDuplicated []string   `db:"headers_duplicated" json:"headers_duplicated,omitempty"`
	CreatedAt         time.Time  `db:"created_at"         json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"         json:"updated_at"`
}
