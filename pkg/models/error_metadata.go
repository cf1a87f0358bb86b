package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies a validation rule failure.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityFatal || s == SeverityWarning
}

// ErrorMetadata is the aggregated count of one (job, field, rule, severity)
// failure. A job without rows for a severity has zero errors of it.
type ErrorMetadata struct {
	ID                uuid.UUID `db:"id"                  json:"id"`
	JobID             uuid.UUID `db:"job_id"              json:"job_id"`
	FieldName         string    `db:"field_name"          json:"field_name"`
	RuleLabel         string    `db:"rule_label"          json:"rule_failed"`
	Severity          Severity  `db:"severity"            json:"severity"`
	ErrorType         string    `db:"error_type"          json:"error_name"`
	Description       string    `db:"description"         json:"error_description"`
	OriginalRuleLabel string    `db:"original_rule_label" json:"original_label,omitempty"`
	FileType          *FileType `db:"file_type"           json:"source_file,omitempty"`
	TargetFileType    *FileType `db:"target_file_type"    json:"target_file,omitempty"`
	Occurrences       int       `db:"occurrences"         json:"occurrences"`
	CreatedAt         time.Time `db:"created_at"          json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"          json:"updated_at"`
}
