package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type txKey struct{}

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// db returns the transaction carried by ctx, or the pool outside of one.
func (s *PostgresStore) db(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Locking ---

func (s *PostgresStore) WithSubmissionLock(ctx context.Context, submissionID uuid.UUID, fn func(ctx context.Context) error) error {
	// Nested call: the outer transaction already owns the row or takes it now.
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		if err := lockSubmission(ctx, tx, submissionID); err != nil {
			return err
		}
		return fn(ctx)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockSubmission(ctx, tx, submissionID); err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func lockSubmission(ctx context.Context, tx pgx.Tx, submissionID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM submissions WHERE id = $1 FOR UPDATE`, submissionID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock submission: %w", err)
	}
	return nil
}

// --- Agencies ---

func (s *PostgresStore) GetDefaultAgency(ctx context.Context) (*models.Agency, error) {
	return s.getAgency(ctx, `SELECT id, name, cgac_code, created_at, updated_at FROM agencies WHERE cgac_code = $1`,
		models.DefaultAgencyCode)
}

func (s *PostgresStore) GetAgency(ctx context.Context, id uuid.UUID) (*models.Agency, error) {
	return s.getAgency(ctx, `SELECT id, name, cgac_code, created_at, updated_at FROM agencies WHERE id = $1`, id)
}

func (s *PostgresStore) getAgency(ctx context.Context, query string, arg any) (*models.Agency, error) {
	var a models.Agency
	err := s.db(ctx).QueryRow(ctx, query, arg).Scan(&a.ID, &a.Name, &a.CGACCode, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agency: %w", err)
	}
	return &a, nil
}

// --- API Keys ---

const apiKeyColumns = `id, agency_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.AgencyID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.db(ctx).Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db(ctx).Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.db(ctx).Exec(ctx,
		`INSERT INTO api_keys (id, agency_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.AgencyID, key.Name, key.KeyHash, key.KeyPrefix, textArray(key.Scopes), key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, agencyID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.db(ctx).Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE agency_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`,
		agencyID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, agencyID uuid.UUID) error {
	tag, err := s.db(ctx).Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND agency_id = $2 AND deleted_at IS NULL`, id, agencyID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Submissions ---

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	stampTimes(&sub.CreatedAt, &sub.UpdatedAt)
	_, err := s.db(ctx).Exec(ctx,
		`INSERT INTO submissions (id, agency_id, reporting_start_date, reporting_end_date, number_of_errors,
		   number_of_warnings, publishable, publish_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.AgencyID, sub.ReportingStartDate, sub.ReportingEndDate, sub.NumberOfErrors,
		sub.NumberOfWarnings, sub.Publishable, sub.PublishStatus, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	var sub models.Submission
	err := s.db(ctx).QueryRow(ctx,
		`SELECT id, agency_id, reporting_start_date, reporting_end_date, number_of_errors, number_of_warnings,
		   publishable, publish_status, created_at, updated_at
		 FROM submissions WHERE id = $1`, id,
	).Scan(&sub.ID, &sub.AgencyID, &sub.ReportingStartDate, &sub.ReportingEndDate, &sub.NumberOfErrors,
		&sub.NumberOfWarnings, &sub.Publishable, &sub.PublishStatus, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) UpdateSubmissionTotals(ctx context.Context, id uuid.UUID, errorCount, warningCount int) error {
	tag, err := s.db(ctx).Exec(ctx,
		`UPDATE submissions SET number_of_errors = $2, number_of_warnings = $3, updated_at = NOW() WHERE id = $1`,
		id, errorCount, warningCount)
	if err != nil {
		return fmt.Errorf("update submission totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateSubmissionPublish(ctx context.Context, id uuid.UUID, publishable bool, status models.PublishStatus) error {
	tag, err := s.db(ctx).Exec(ctx,
		`UPDATE submissions SET publishable = $2, publish_status = $3, updated_at = NOW() WHERE id = $1`,
		id, publishable, status)
	if err != nil {
		return fmt.Errorf("update submission publish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, submission_id, file_type, job_type, status, original_filename, storage_path,
	file_size_bytes, row_count, valid_row_count, error_count, warning_count, created_at, updated_at`

func scanJob(row scanner) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.SubmissionID, &j.FileType, &j.JobType, &j.Status, &j.OriginalFilename,
		&j.StoragePath, &j.FileSizeBytes, &j.RowCount, &j.ValidRowCount, &j.ErrorCount, &j.WarningCount,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	stampTimes(&job.CreatedAt, &job.UpdatedAt)
	_, err := s.db(ctx).Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.SubmissionID, job.FileType, job.JobType, job.Status, job.OriginalFilename, job.StoragePath,
		job.FileSizeBytes, job.RowCount, job.ValidRowCount, job.ErrorCount, job.WarningCount,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.db(ctx).QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, submissionID uuid.UUID) ([]*models.Job, error) {
	rows, err := s.db(ctx).Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE submission_id = $1 ORDER BY seq`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	if params.empty() {
		return nil
	}

	query := `UPDATE jobs SET updated_at = $2`
	args := []any{id, time.Now().UTC()}
	set := func(column string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(", %s = $%d", column, len(args))
	}

	if params.Status != nil {
		set("status", *params.Status)
	}
	if params.OriginalFilename != nil {
		set("original_filename", *params.OriginalFilename)
	}
	if params.StoragePath != nil {
		set("storage_path", *params.StoragePath)
	}
	if params.ResetCounts {
		query += ", file_size_bytes = NULL, row_count = NULL, valid_row_count = NULL"
	} else {
		if params.FileSizeBytes != nil {
			set("file_size_bytes", *params.FileSizeBytes)
		}
		if params.RowCount != nil {
			set("row_count", *params.RowCount)
		}
		if params.ValidRowCount != nil {
			set("valid_row_count", *params.ValidRowCount)
		}
	}
	if params.ErrorCount != nil {
		set("error_count", *params.ErrorCount)
	}
	if params.WarningCount != nil {
		set("warning_count", *params.WarningCount)
	}

	query += " WHERE id = $1"

	tag, err := s.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Dependencies ---

func (s *PostgresStore) CreateDependency(ctx context.Context, dep models.JobDependency) error {
	_, err := s.db(ctx).Exec(ctx,
		`INSERT INTO job_dependencies (job_id, prerequisite_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		dep.JobID, dep.PrerequisiteID)
	if err != nil {
		return fmt.Errorf("create job dependency: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDependencies(ctx context.Context, submissionID uuid.UUID) ([]models.JobDependency, error) {
	rows, err := s.db(ctx).Query(ctx,
		`SELECT d.job_id, d.prerequisite_id
		 FROM job_dependencies d JOIN jobs j ON j.id = d.job_id
		 WHERE j.submission_id = $1
		 ORDER BY d.job_id, d.prerequisite_id`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list job dependencies: %w", err)
	}
	defer rows.Close()

	var deps []models.JobDependency
	for rows.Next() {
		var d models.JobDependency
		if err := rows.Scan(&d.JobID, &d.PrerequisiteID); err != nil {
			return nil, fmt.Errorf("scan job dependency: %w", err)
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// --- Error Metadata ---

const errorMetadataColumns = `id, job_id, field_name, rule_label, severity, error_type, description,
	original_rule_label, file_type, target_file_type, occurrences, created_at, updated_at`

func scanErrorMetadata(row scanner) (*models.ErrorMetadata, error) {
	var m models.ErrorMetadata
	err := row.Scan(&m.ID, &m.JobID, &m.FieldName, &m.RuleLabel, &m.Severity, &m.ErrorType, &m.Description,
		&m.OriginalRuleLabel, &m.FileType, &m.TargetFileType, &m.Occurrences, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) UpsertErrorMetadata(ctx context.Context, meta *models.ErrorMetadata) (*models.ErrorMetadata, error) {
	stampTimes(&meta.CreatedAt, &meta.UpdatedAt)
	result, err := scanErrorMetadata(s.db(ctx).QueryRow(ctx,
		`INSERT INTO error_metadata (`+errorMetadataColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (job_id, field_name, rule_label, severity) DO UPDATE SET
		   occurrences = error_metadata.occurrences + EXCLUDED.occurrences,
		   description = EXCLUDED.description,
		   updated_at = NOW()
		 RETURNING `+errorMetadataColumns,
		meta.ID, meta.JobID, meta.FieldName, meta.RuleLabel, meta.Severity, meta.ErrorType, meta.Description,
		meta.OriginalRuleLabel, meta.FileType, meta.TargetFileType, meta.Occurrences, meta.CreatedAt, meta.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert error metadata: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) ListErrorMetadata(ctx context.Context, filter ErrorFilter) ([]*models.ErrorMetadata, error) {
	query := `SELECT ` + errorMetadataColumns + ` FROM error_metadata WHERE job_id = $1`
	args := []any{filter.JobID}
	if filter.Severity != "" {
		query += " AND severity = $2"
		args = append(args, filter.Severity)
	}
	query += " ORDER BY occurrences DESC, field_name, rule_label"

	rows, err := s.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list error metadata: %w", err)
	}
	defer rows.Close()

	var metas []*models.ErrorMetadata
	for rows.Next() {
		m, err := scanErrorMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error metadata: %w", err)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

func (s *PostgresStore) SumErrorOccurrences(ctx context.Context, jobID uuid.UUID, severity models.Severity) (int, error) {
	var total int
	err := s.db(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(occurrences), 0) FROM error_metadata WHERE job_id = $1 AND severity = $2`,
		jobID, severity).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum error occurrences: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) DeleteErrorMetadata(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.db(ctx).Exec(ctx, `DELETE FROM error_metadata WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete error metadata: %w", err)
	}
	return nil
}

// --- File Records ---

func (s *PostgresStore) UpsertFileRecord(ctx context.Context, rec *models.FileRecord) error {
	stampTimes(&rec.CreatedAt, &rec.UpdatedAt)
	_, err := s.db(ctx).Exec(ctx,
		`INSERT INTO file_records (job_id, report_name, status, headers_missing, headers_duplicated, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (job_id) DO UPDATE SET
		   report_name = EXCLUDED.report_name,
		   status = EXCLUDED.status,
		   headers_missing = EXCLUDED.headers_missing,
		   headers_duplicated = EXCLUDED.headers_duplicated,
		   updated_at = NOW()`,
		rec.JobID, rec.ReportName, rec.Status, textArray(rec.HeadersMissing), textArray(rec.HeadersDuplicated),
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert file record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFileRecord(ctx context.Context, jobID uuid.UUID) (*models.FileRecord, error) {
	var r models.FileRecord
	err := s.db(ctx).QueryRow(ctx,
		`SELECT job_id, report_name, status, headers_missing, headers_duplicated, created_at, updated_at
		 FROM file_records WHERE job_id = $1`, jobID,
	).Scan(&r.JobID, &r.ReportName, &r.Status, &r.HeadersMissing, &r.HeadersDuplicated, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file record: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) DeleteFileRecord(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.db(ctx).Exec(ctx, `DELETE FROM file_records WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	return nil
}

// textArray keeps NOT NULL array columns from receiving a nil slice.
func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
