package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// stampTimes fills unset creation and update times. Both stores apply it on
// insert and write the values back to the caller's struct.
func stampTimes(created, updated *time.Time) {
	if created.IsZero() {
		*created = time.Now().UTC()
	}
	if updated.IsZero() {
		*updated = *created
	}
}

// Store is the data access interface. All database operations go through here.
//
// Calls made with the context handed to a WithSubmissionLock callback run in
// that lock's transaction.
type Store interface {
	Ping(ctx context.Context) error

	GetDefaultAgency(ctx context.Context) (*models.Agency, error)
	GetAgency(ctx context.Context, id uuid.UUID) (*models.Agency, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, agencyID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, agencyID uuid.UUID) error

	CreateSubmission(ctx context.Context, sub *models.Submission) error
	GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	UpdateSubmissionTotals(ctx context.Context, id uuid.UUID, errorCount, warningCount int) error
	UpdateSubmissionPublish(ctx context.Context, id uuid.UUID, publishable bool, status models.PublishStatus) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, submissionID uuid.UUID) ([]*models.Job, error)
	UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) error

	CreateDependency(ctx context.Context, dep models.JobDependency) error
	ListDependencies(ctx context.Context, submissionID uuid.UUID) ([]models.JobDependency, error)

	UpsertErrorMetadata(ctx context.Context, meta *models.ErrorMetadata) (*models.ErrorMetadata, error)
	ListErrorMetadata(ctx context.Context, filter ErrorFilter) ([]*models.ErrorMetadata, error)
	SumErrorOccurrences(ctx context.Context, jobID uuid.UUID, severity models.Severity) (int, error)
	DeleteErrorMetadata(ctx context.Context, jobID uuid.UUID) error

	UpsertFileRecord(ctx context.Context, rec *models.FileRecord) error
	GetFileRecord(ctx context.Context, jobID uuid.UUID) (*models.FileRecord, error)
	DeleteFileRecord(ctx context.Context, jobID uuid.UUID) error

	// WithSubmissionLock runs fn while holding the exclusive lock of one
	// submission. Everything fn does through the store commits or rolls back
	// together. Returns ErrNotFound when the submission does not exist.
	WithSubmissionLock(ctx context.Context, submissionID uuid.UUID, fn func(ctx context.Context) error) error
}

// ErrorFilter selects error metadata rows of one job. An empty Severity
// matches both severities.
type ErrorFilter struct {
	JobID    uuid.UUID
	Severity models.Severity
}

type jobUpdateParams struct {
	Status           *models.JobStatus
	OriginalFilename *string
	StoragePath      *string
	FileSizeBytes    *int64
	RowCount         *int
	ValidRowCount    *int
	ErrorCount       *int
	WarningCount     *int
	ResetCounts      bool
}

func (p *jobUpdateParams) empty() bool {
	return p.Status == nil && p.OriginalFilename == nil && p.StoragePath == nil &&
		p.FileSizeBytes == nil && p.RowCount == nil && p.ValidRowCount == nil &&
		p.ErrorCount == nil && p.WarningCount == nil && !p.ResetCounts
}

type JobUpdateOption func(*jobUpdateParams)

func WithStatus(status models.JobStatus) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Status = &status
	}
}

func WithUpload(filename, path string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.OriginalFilename = &filename
		p.StoragePath = &path
	}
}

func WithFileSize(bytes int64) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.FileSizeBytes = &bytes
	}
}

func WithRowCounts(rows, validRows int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.RowCount = &rows
		p.ValidRowCount = &validRows
	}
}

func WithErrorCounts(errorCount, warningCount int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorCount = &errorCount
		p.WarningCount = &warningCount
	}
}

// WithResetCounts clears file size and row counts back to NULL. It wins over
// WithFileSize and WithRowCounts in the same update.
func WithResetCounts() JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ResetCounts = true
	}
}
