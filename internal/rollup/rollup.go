// Package rollup folds the jobs of a submission into the one status polled
// by the UI.
package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/errorcount"
	"github.com/kiranshivaraju/jobtracker/internal/metrics"
	"github.com/kiranshivaraju/jobtracker/internal/store"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

// precedence lists job statuses in the order they decide the rollup. The
// first status held by any counted job wins.
var precedence = []struct {
	job        models.JobStatus
	submission models.SubmissionStatus
}{
	{models.JobStatusFailed, models.SubmissionStatusFailed},
	{models.JobStatusInvalid, models.SubmissionStatusFileErrors},
	{models.JobStatusRunning, models.SubmissionStatusRunning},
	{models.JobStatusWaiting, models.SubmissionStatusWaiting},
	{models.JobStatusReady, models.SubmissionStatusReady},
}

// counted reports whether a job takes part in the rollup. External and
// untyped jobs never gate it.
func counted(job *models.Job) bool {
	return job.JobType != nil && *job.JobType != models.JobTypeExternalValidation
}

// ComputeStatus derives the submission status from its jobs and its cached
// error and warning totals. A submission with errors always reports
// validation_errors, even while jobs are still running.
func ComputeStatus(sub *models.Submission, jobs []*models.Job) models.SubmissionStatus {
	present := make(map[models.JobStatus]int)
	total := 0
	for _, job := range jobs {
		if !counted(job) {
			continue
		}
		present[job.Status]++
		total++
	}

	status := models.SubmissionStatusUnknown
	decided := false
	for _, p := range precedence {
		if present[p.job] > 0 {
			status = p.submission
			decided = true
			break
		}
	}
	if !decided && present[models.JobStatusFinished] == total {
		status = models.SubmissionStatusValidationSuccessful
		if sub.NumberOfWarnings > 0 {
			status = models.SubmissionStatusValidationSuccessfulWarnings
		}
		if sub.Publishable {
			status = models.SubmissionStatusSubmitted
		}
	}

	if sub.NumberOfErrors > 0 {
		status = models.SubmissionStatusValidationErrors
	}
	return status
}

// StatusCache holds recently computed rollups for UI polling. Entries are
// read and written at a generation taken before computing; invalidation
// moves the submission to the next generation.
type StatusCache interface {
	SubmissionGeneration(ctx context.Context, submissionID uuid.UUID) (int64, error)
	SetSubmissionStatus(ctx context.Context, submissionID uuid.UUID, generation int64, status models.SubmissionStatus, ttl time.Duration) error
	GetSubmissionStatus(ctx context.Context, submissionID uuid.UUID, generation int64) (models.SubmissionStatus, bool, error)
	InvalidateSubmissionStatus(ctx context.Context, submissionID uuid.UUID) error
}

// Aggregator answers status queries. Every computation first refreshes the
// submission's error caches through the Counter.
type Aggregator struct {
	store   store.Store
	counter *errorcount.Counter
	cache   StatusCache
	ttl     time.Duration
}

// NewAggregator creates a new Aggregator. A nil cache or a zero ttl
// disables caching.
func NewAggregator(st store.Store, counter *errorcount.Counter, ca StatusCache, ttl time.Duration) *Aggregator {
	return &Aggregator{store: st, counter: counter, cache: ca, ttl: ttl}
}

// Result is a computed rollup together with the totals it was based on.
type Result struct {
	SubmissionID uuid.UUID               `json:"submission_id"`
	Status       models.SubmissionStatus `json:"status"`
	Errors       int                     `json:"number_of_errors"`
	Warnings     int                     `json:"number_of_warnings"`
	Cached       bool                    `json:"cached"`
}

// ComputeStatus returns the current rollup of a submission, served from the
// cache while a fresh entry exists. A result computed while a concurrent
// write invalidates the submission is stored under the old generation and
// never served.
func (a *Aggregator) ComputeStatus(ctx context.Context, submissionID uuid.UUID) (Result, error) {
	caching := a.cachingEnabled()
	var generation int64
	if caching {
		gen, err := a.cache.SubmissionGeneration(ctx, submissionID)
		if err != nil {
			slog.Warn("read submission status generation", "submission_id", submissionID, "error", err)
			caching = false
		}
		generation = gen
	}

	if caching {
		status, ok, err := a.cache.GetSubmissionStatus(ctx, submissionID, generation)
		if err != nil {
			slog.Warn("read submission status cache", "submission_id", submissionID, "error", err)
		}
		if ok {
			sub, err := a.store.GetSubmission(ctx, submissionID)
			if err != nil {
				return Result{}, err
			}
			metrics.IncreaseStatusQuery(string(status), true)
			return Result{
				SubmissionID: submissionID,
				Status:       status,
				Errors:       sub.NumberOfErrors,
				Warnings:     sub.NumberOfWarnings,
				Cached:       true,
			}, nil
		}
	}

	var res Result
	err := a.store.WithSubmissionLock(ctx, submissionID, func(ctx context.Context) error {
		if _, err := a.counter.RecomputeSubmissionTotals(ctx, submissionID); err != nil {
			return fmt.Errorf("recompute totals: %w", err)
		}
		sub, err := a.store.GetSubmission(ctx, submissionID)
		if err != nil {
			return err
		}
		jobs, err := a.store.ListJobs(ctx, submissionID)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		res = Result{
			SubmissionID: submissionID,
			Status:       ComputeStatus(sub, jobs),
			Errors:       sub.NumberOfErrors,
			Warnings:     sub.NumberOfWarnings,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	metrics.IncreaseStatusQuery(string(res.Status), false)
	if caching {
		if err := a.cache.SetSubmissionStatus(ctx, submissionID, generation, res.Status, a.ttl); err != nil {
			slog.Warn("write submission status cache", "submission_id", submissionID, "error", err)
		}
	}
	return res, nil
}

// Invalidate drops the cached rollup of a submission.
func (a *Aggregator) Invalidate(ctx context.Context, submissionID uuid.UUID) {
	if a.cache == nil {
		return
	}
	if err := a.cache.InvalidateSubmissionStatus(ctx, submissionID); err != nil {
		slog.Warn("invalidate submission status cache", "submission_id", submissionID, "error", err)
	}
}

func (a *Aggregator) cachingEnabled() bool {
	return a.cache != nil && a.ttl > 0
}
