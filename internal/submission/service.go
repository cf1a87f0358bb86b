// Package submission creates submissions with their job graph and handles
// file replacement and publishing.
package submission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/errorcount"
	"github.com/kiranshivaraju/jobtracker/internal/rollup"
	"github.com/kiranshivaraju/jobtracker/internal/store"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

// Service owns the lifecycle of submissions outside of job status changes.
type Service struct {
	store      store.Store
	counter    *errorcount.Counter
	aggregator *rollup.Aggregator
}

func NewService(st store.Store, counter *errorcount.Counter, aggregator *rollup.Aggregator) *Service {
	return &Service{store: st, counter: counter, aggregator: aggregator}
}

// CreateRequest describes a new submission.
type CreateRequest struct {
	AgencyID           uuid.UUID
	ReportingStartDate *time.Time
	ReportingEndDate   *time.Time
	Files              []FileUpload
}

// Created is a new submission with its jobs. UploadJobs maps every file type
// to the job the client reports its upload against.
type Created struct {
	Submission *models.Submission            `json:"submission"`
	Jobs       []*models.Job                 `json:"jobs"`
	UploadJobs map[models.FileType]uuid.UUID `json:"upload_jobs"`
}

// Create stores a submission and its job graph. Every request error is found
// before anything is written.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	sub := &models.Submission{
		ID:                 uuid.New(),
		AgencyID:           req.AgencyID,
		ReportingStartDate: req.ReportingStartDate,
		ReportingEndDate:   req.ReportingEndDate,
		PublishStatus:      models.PublishStatusUnpublished,
	}

	set, err := buildJobSet(sub.ID, req.Files)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	jobs := set.graph.Jobs()
	err = s.store.WithSubmissionLock(ctx, sub.ID, func(ctx context.Context) error {
		for _, job := range jobs {
			if err := s.store.CreateJob(ctx, job); err != nil {
				return fmt.Errorf("create job: %w", err)
			}
		}
		for _, dep := range set.graph.Edges() {
			if err := s.store.CreateDependency(ctx, dep); err != nil {
				return fmt.Errorf("create dependency: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	uploads := make(map[models.FileType]uuid.UUID, len(set.uploads))
	for ft, job := range set.uploads {
		uploads[ft] = job.ID
	}

	stored, err := s.store.GetSubmission(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("submission created", "submission_id", sub.ID, "agency_id", sub.AgencyID, "jobs", len(jobs))
	return &Created{Submission: stored, Jobs: jobs, UploadJobs: uploads}, nil
}

// Detail is a submission with its jobs in creation order.
type Detail struct {
	Submission *models.Submission `json:"submission"`
	Jobs       []*models.Job      `json:"jobs"`
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Detail, error) {
	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	jobs, err := s.store.ListJobs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return &Detail{Submission: sub, Jobs: jobs}, nil
}

// ReplaceFile takes a new upload of one file into an existing submission.
// The upload job runs again, the validation job waits for it with its counts
// cleared and its error rows and file record purged, and a published
// submission becomes updated and no longer publishable.
func (s *Service) ReplaceFile(ctx context.Context, submissionID uuid.UUID, f FileUpload) (uuid.UUID, error) {
	if !f.FileType.Valid() {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidFileType, f.FileType)
	}

	var uploadID uuid.UUID
	err := s.store.WithSubmissionLock(ctx, submissionID, func(ctx context.Context) error {
		jobs, err := s.store.ListJobs(ctx, submissionID)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		upload := findJob(jobs, f.FileType, models.JobTypeFileUpload)
		if upload == nil {
			return fmt.Errorf("%w: %s", ErrFileNotInSubmission, f.FileType)
		}
		uploadID = upload.ID

		err = s.store.UpdateJob(ctx, upload.ID,
			store.WithStatus(models.JobStatusRunning),
			store.WithUpload(f.OriginalFilename, f.StoragePath),
		)
		if err != nil {
			return fmt.Errorf("reset upload job: %w", err)
		}

		if validation := findJob(jobs, f.FileType, models.JobTypeCSVRecordValidation); validation != nil {
			err = s.store.UpdateJob(ctx, validation.ID,
				store.WithStatus(models.JobStatusWaiting),
				store.WithUpload(f.OriginalFilename, f.StoragePath),
				store.WithResetCounts(),
			)
			if err != nil {
				return fmt.Errorf("reset validation job: %w", err)
			}
			if err := s.store.DeleteErrorMetadata(ctx, validation.ID); err != nil {
				return fmt.Errorf("purge error metadata: %w", err)
			}
			if err := s.store.DeleteFileRecord(ctx, validation.ID); err != nil {
				return fmt.Errorf("purge file record: %w", err)
			}
		}

		sub, err := s.store.GetSubmission(ctx, submissionID)
		if err != nil {
			return err
		}
		status := sub.PublishStatus
		if status == models.PublishStatusPublished {
			status = models.PublishStatusUpdated
		}
		if err := s.store.UpdateSubmissionPublish(ctx, submissionID, false, status); err != nil {
			return fmt.Errorf("update publish status: %w", err)
		}

		_, err = s.counter.RecomputeSubmissionTotals(ctx, submissionID)
		return err
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.aggregator.Invalidate(ctx, submissionID)
	slog.Info("submission file replaced", "submission_id", submissionID, "file_type", f.FileType, "upload_job_id", uploadID)
	return uploadID, nil
}

// SetPublishable records whether the agency certified the submission.
func (s *Service) SetPublishable(ctx context.Context, submissionID uuid.UUID, publishable bool) error {
	err := s.store.WithSubmissionLock(ctx, submissionID, func(ctx context.Context) error {
		sub, err := s.store.GetSubmission(ctx, submissionID)
		if err != nil {
			return err
		}
		return s.store.UpdateSubmissionPublish(ctx, submissionID, publishable, sub.PublishStatus)
	})
	if err != nil {
		return err
	}
	s.aggregator.Invalidate(ctx, submissionID)
	return nil
}

// Publish marks a submission published. It is rejected with
// ErrNotPublishable unless the computed status is submitted.
func (s *Service) Publish(ctx context.Context, submissionID uuid.UUID) error {
	s.aggregator.Invalidate(ctx, submissionID)
	res, err := s.aggregator.ComputeStatus(ctx, submissionID)
	if err != nil {
		return err
	}
	if res.Status != models.SubmissionStatusSubmitted {
		return fmt.Errorf("%w: status is %s", ErrNotPublishable, res.Status)
	}
	if err := s.UpdatePublishStatus(ctx, submissionID, models.PublishStatusPublished); err != nil {
		return err
	}
	slog.Info("submission published", "submission_id", submissionID)
	return nil
}

// UpdatePublishStatus sets the publish status and keeps publishable as is.
func (s *Service) UpdatePublishStatus(ctx context.Context, submissionID uuid.UUID, status models.PublishStatus) error {
	switch status {
	case models.PublishStatusUnpublished, models.PublishStatusPublished, models.PublishStatusUpdated:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPublishStatus, status)
	}
	return s.store.WithSubmissionLock(ctx, submissionID, func(ctx context.Context) error {
		sub, err := s.store.GetSubmission(ctx, submissionID)
		if err != nil {
			return err
		}
		return s.store.UpdateSubmissionPublish(ctx, submissionID, sub.Publishable, status)
	})
}

func findJob(jobs []*models.Job, ft models.FileType, jt models.JobType) *models.Job {
	for _, j := range jobs {
		if j.FileType != nil && *j.FileType == ft && j.HasType(jt) {
			return j
		}
	}
	return nil
}
