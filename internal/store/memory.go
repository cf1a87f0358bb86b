package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

type errorKey struct {
	jobID    uuid.UUID
	field    string
	rule     string
	severity models.Severity
}

type heldLocksKey struct{}

// MemoryStore is an in-process Store for tests and local runs. The per-
// submission lock serializes callers like the Postgres row lock does, and a
// failed callback restores the submission's rows as they were when the lock
// was taken.
type MemoryStore struct {
	mu sync.RWMutex

	agencies        map[uuid.UUID]*models.Agency
	defaultAgencyID uuid.UUID
	apiKeys         map[uuid.UUID]*models.APIKey
	submissions     map[uuid.UUID]*models.Submission
	jobs            map[uuid.UUID]*models.Job
	jobOrder        []uuid.UUID
	deps            []models.JobDependency
	depSet          map[models.JobDependency]struct{}
	errorMeta       map[errorKey]*models.ErrorMetadata
	fileRecords     map[uuid.UUID]*models.FileRecord

	lockMu sync.Mutex
	locks  map[uuid.UUID]*sync.Mutex
}

// NewMemoryStore returns an empty store seeded with the default agency.
func NewMemoryStore() *MemoryStore {
	now := time.Now().UTC()
	agency := &models.Agency{
		ID:        uuid.New(),
		Name:      "System",
		CGACCode:  models.DefaultAgencyCode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return &MemoryStore{
		agencies:        map[uuid.UUID]*models.Agency{agency.ID: agency},
		defaultAgencyID: agency.ID,
		apiKeys:         make(map[uuid.UUID]*models.APIKey),
		submissions:     make(map[uuid.UUID]*models.Submission),
		jobs:            make(map[uuid.UUID]*models.Job),
		depSet:          make(map[models.JobDependency]struct{}),
		errorMeta:       make(map[errorKey]*models.ErrorMetadata),
		fileRecords:     make(map[uuid.UUID]*models.FileRecord),
		locks:           make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// --- Locking ---

func (s *MemoryStore) WithSubmissionLock(ctx context.Context, submissionID uuid.UUID, fn func(ctx context.Context) error) error {
	s.mu.RLock()
	_, ok := s.submissions[submissionID]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	held, _ := ctx.Value(heldLocksKey{}).(map[uuid.UUID]bool)
	if held[submissionID] {
		return fn(ctx)
	}

	s.lockMu.Lock()
	lock, ok := s.locks[submissionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[submissionID] = lock
	}
	s.lockMu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	next := make(map[uuid.UUID]bool, len(held)+1)
	for id := range held {
		next[id] = true
	}
	next[submissionID] = true

	snap := s.snapshot(submissionID)
	if err := fn(context.WithValue(ctx, heldLocksKey{}, next)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type submissionSnapshot struct {
	submission  models.Submission
	jobs        map[uuid.UUID]*models.Job
	deps        []models.JobDependency
	errorMeta   map[errorKey]*models.ErrorMetadata
	fileRecords map[uuid.UUID]*models.FileRecord
}

func (s *MemoryStore) snapshot(submissionID uuid.UUID) *submissionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &submissionSnapshot{
		submission:  *s.submissions[submissionID],
		jobs:        make(map[uuid.UUID]*models.Job),
		errorMeta:   make(map[errorKey]*models.ErrorMetadata),
		fileRecords: make(map[uuid.UUID]*models.FileRecord),
	}
	for id, j := range s.jobs {
		if j.SubmissionID == submissionID {
			snap.jobs[id] = copyJob(j)
		}
	}
	for _, d := range s.deps {
		if _, ok := snap.jobs[d.JobID]; ok {
			snap.deps = append(snap.deps, d)
		}
	}
	for key, m := range s.errorMeta {
		if _, ok := snap.jobs[key.jobID]; ok {
			cp := *m
			snap.errorMeta[key] = &cp
		}
	}
	for id, r := range s.fileRecords {
		if _, ok := snap.jobs[id]; ok {
			cp := *r
			snap.fileRecords[id] = &cp
		}
	}
	return snap
}

func (s *MemoryStore) restore(snap *submissionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	submissionID := snap.submission.ID
	sub := snap.submission
	s.submissions[submissionID] = &sub

	owned := func(jobID uuid.UUID) bool {
		j, ok := s.jobs[jobID]
		return ok && j.SubmissionID == submissionID
	}

	deps := s.deps[:0]
	for _, d := range s.deps {
		if owned(d.JobID) {
			delete(s.depSet, d)
			continue
		}
		deps = append(deps, d)
	}
	s.deps = deps
	for key := range s.errorMeta {
		if owned(key.jobID) {
			delete(s.errorMeta, key)
		}
	}
	for id := range s.fileRecords {
		if owned(id) {
			delete(s.fileRecords, id)
		}
	}

	order := s.jobOrder[:0]
	for _, id := range s.jobOrder {
		if s.jobs[id].SubmissionID == submissionID {
			if _, keep := snap.jobs[id]; !keep {
				delete(s.jobs, id)
				continue
			}
		}
		order = append(order, id)
	}
	s.jobOrder = order

	for id, j := range snap.jobs {
		s.jobs[id] = j
	}
	for _, d := range snap.deps {
		s.depSet[d] = struct{}{}
		s.deps = append(s.deps, d)
	}
	for key, m := range snap.errorMeta {
		s.errorMeta[key] = m
	}
	for id, r := range snap.fileRecords {
		s.fileRecords[id] = r
	}
}

// --- Agencies ---

func (s *MemoryStore) GetDefaultAgency(ctx context.Context) (*models.Agency, error) {
	return s.GetAgency(ctx, s.defaultAgencyID)
}

func (s *MemoryStore) GetAgency(_ context.Context, id uuid.UUID) (*models.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agencies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []*models.APIKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			keys = append(keys, &cp)
		}
	}
	return keys, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.apiKeys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
		k.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apiKeys[key.ID]; ok {
		return ErrDuplicateKey
	}
	for _, k := range s.apiKeys {
		if k.KeyHash == key.KeyHash {
			return ErrDuplicateKey
		}
	}
	cp := *key
	s.apiKeys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context, agencyID uuid.UUID) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []*models.APIKey
	for _, k := range s.apiKeys {
		if k.AgencyID == agencyID && k.DeletedAt == nil {
			cp := *k
			keys = append(keys, &cp)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID, agencyID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.apiKeys[id]
	if !ok || k.AgencyID != agencyID || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	k.UpdatedAt = now
	return nil
}

// --- Submissions ---

func (s *MemoryStore) CreateSubmission(_ context.Context, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.submissions[sub.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := s.agencies[sub.AgencyID]; !ok {
		return fmt.Errorf("create submission: unknown agency %s", sub.AgencyID)
	}
	stampTimes(&sub.CreatedAt, &sub.UpdatedAt)
	cp := *sub
	s.submissions[sub.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSubmission(_ context.Context, id uuid.UUID) (*models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *MemoryStore) UpdateSubmissionTotals(_ context.Context, id uuid.UUID, errorCount, warningCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return ErrNotFound
	}
	sub.NumberOfErrors = errorCount
	sub.NumberOfWarnings = warningCount
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateSubmissionPublish(_ context.Context, id uuid.UUID, publishable bool, status models.PublishStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return ErrNotFound
	}
	sub.Publishable = publishable
	sub.PublishStatus = status
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Jobs ---

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := s.submissions[job.SubmissionID]; !ok {
		return fmt.Errorf("create job: unknown submission %s", job.SubmissionID)
	}
	stampTimes(&job.CreatedAt, &job.UpdatedAt)
	s.jobs[job.ID] = copyJob(job)
	s.jobOrder = append(s.jobOrder, job.ID)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, submissionID uuid.UUID) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*models.Job
	for _, id := range s.jobOrder {
		if j := s.jobs[id]; j.SubmissionID == submissionID {
			jobs = append(jobs, copyJob(j))
		}
	}
	return jobs, nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, id uuid.UUID, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if params.empty() {
		return nil
	}

	if params.Status != nil {
		j.Status = *params.Status
	}
	if params.OriginalFilename != nil {
		j.OriginalFilename = *params.OriginalFilename
	}
	if params.StoragePath != nil {
		j.StoragePath = *params.StoragePath
	}
	if params.ResetCounts {
		j.FileSizeBytes, j.RowCount, j.ValidRowCount = nil, nil, nil
	} else {
		if params.FileSizeBytes != nil {
			v := *params.FileSizeBytes
			j.FileSizeBytes = &v
		}
		if params.RowCount != nil {
			v := *params.RowCount
			j.RowCount = &v
		}
		if params.ValidRowCount != nil {
			v := *params.ValidRowCount
			j.ValidRowCount = &v
		}
	}
	if params.ErrorCount != nil {
		j.ErrorCount = *params.ErrorCount
	}
	if params.WarningCount != nil {
		j.WarningCount = *params.WarningCount
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func copyJob(j *models.Job) *models.Job {
	cp := *j
	if j.FileSizeBytes != nil {
		v := *j.FileSizeBytes
		cp.FileSizeBytes = &v
	}
	if j.RowCount != nil {
		v := *j.RowCount
		cp.RowCount = &v
	}
	if j.ValidRowCount != nil {
		v := *j.ValidRowCount
		cp.ValidRowCount = &v
	}
	return &cp
}

// --- Dependencies ---

func (s *MemoryStore) CreateDependency(_ context.Context, dep models.JobDependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[dep.JobID]; !ok {
		return fmt.Errorf("create job dependency: unknown job %s", dep.JobID)
	}
	if _, ok := s.jobs[dep.PrerequisiteID]; !ok {
		return fmt.Errorf("create job dependency: unknown prerequisite %s", dep.PrerequisiteID)
	}
	if _, ok := s.depSet[dep]; ok {
		return nil
	}
	s.depSet[dep] = struct{}{}
	s.deps = append(s.deps, dep)
	return nil
}

func (s *MemoryStore) ListDependencies(_ context.Context, submissionID uuid.UUID) ([]models.JobDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var deps []models.JobDependency
	for _, d := range s.deps {
		if j, ok := s.jobs[d.JobID]; ok && j.SubmissionID == submissionID {
			deps = append(deps, d)
		}
	}
	return deps, nil
}

// --- Error Metadata ---

func (s *MemoryStore) UpsertErrorMetadata(_ context.Context, meta *models.ErrorMetadata) (*models.ErrorMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := errorKey{jobID: meta.JobID, field: meta.FieldName, rule: meta.RuleLabel, severity: meta.Severity}
	if existing, ok := s.errorMeta[key]; ok {
		existing.Occurrences += meta.Occurrences
		existing.Description = meta.Description
		existing.UpdatedAt = time.Now().UTC()
		cp := *existing
		return &cp, nil
	}
	stampTimes(&meta.CreatedAt, &meta.UpdatedAt)
	cp := *meta
	s.errorMeta[key] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) ListErrorMetadata(_ context.Context, filter ErrorFilter) ([]*models.ErrorMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var metas []*models.ErrorMetadata
	for key, m := range s.errorMeta {
		if key.jobID != filter.JobID {
			continue
		}
		if filter.Severity != "" && key.severity != filter.Severity {
			continue
		}
		cp := *m
		metas = append(metas, &cp)
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Occurrences != metas[j].Occurrences {
			return metas[i].Occurrences > metas[j].Occurrences
		}
		if metas[i].FieldName != metas[j].FieldName {
			return metas[i].FieldName < metas[j].FieldName
		}
		return metas[i].RuleLabel < metas[j].RuleLabel
	})
	return metas, nil
}

func (s *MemoryStore) SumErrorOccurrences(_ context.Context, jobID uuid.UUID, severity models.Severity) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for key, m := range s.errorMeta {
		if key.jobID == jobID && key.severity == severity {
			total += m.Occurrences
		}
	}
	return total, nil
}

func (s *MemoryStore) DeleteErrorMetadata(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.errorMeta {
		if key.jobID == jobID {
			delete(s.errorMeta, key)
		}
	}
	return nil
}

// --- File Records ---

func (s *MemoryStore) UpsertFileRecord(_ context.Context, rec *models.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stampTimes(&rec.CreatedAt, &rec.UpdatedAt)
	cp := *rec
	cp.HeadersMissing = append([]string(nil), rec.HeadersMissing...)
	cp.HeadersDuplicated = append([]string(nil), rec.HeadersDuplicated...)
	if existing, ok := s.fileRecords[rec.JobID]; ok {
		cp.CreatedAt = existing.CreatedAt
		cp.UpdatedAt = time.Now().UTC()
	}
	s.fileRecords[rec.JobID] = &cp
	return nil
}

func (s *MemoryStore) GetFileRecord(_ context.Context, jobID uuid.UUID) (*models.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.fileRecords[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) DeleteFileRecord(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.fileRecords, jobID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
