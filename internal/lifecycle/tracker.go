package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/dispatch"
	"github.com/kiranshivaraju/jobtracker/internal/graph"
	"github.com/kiranshivaraju/jobtracker/internal/metrics"
	"github.com/kiranshivaraju/jobtracker/internal/store"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

// StatusCache drops the cached rollup of a submission after its jobs change.
type StatusCache interface {
	InvalidateSubmissionStatus(ctx context.Context, submissionID uuid.UUID) error
}

// Tracker applies status reports from workers and operators.
type Tracker struct {
	store store.Store
	port  dispatch.Port
	cache StatusCache
}

// NewTracker creates a new Tracker. cache may be nil.
func NewTracker(st store.Store, port dispatch.Port, ca StatusCache) *Tracker {
	return &Tracker{store: st, port: port, cache: ca}
}

// MarkStatus records a job's new status and, when the job newly finished,
// moves every dependent that became eligible to ready and enqueues it. The
// whole step runs under the submission lock: two prerequisites of one
// dependent finishing at the same time dispatch it exactly once. A failed
// enqueue rolls the step back and is returned.
func (t *Tracker) MarkStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus) (Transition, error) {
	if !status.Valid() {
		return Transition{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return t.apply(ctx, jobID, func(g *graph.Graph) (Transition, error) {
		return Plan(g, jobID, status)
	})
}

// StartJob moves a waiting or ready job to running on behalf of an operator
// and enqueues it. It is rejected with ErrNotStartable once the job has
// started, and with ErrPrerequisitesNotFinished while any prerequisite is
// unfinished.
func (t *Tracker) StartJob(ctx context.Context, jobID uuid.UUID) (Transition, error) {
	return t.apply(ctx, jobID, func(g *graph.Graph) (Transition, error) {
		job, ok := g.Job(jobID)
		if !ok {
			return Transition{}, fmt.Errorf("%w: job %s", graph.ErrInvalidReference, jobID)
		}
		if job.Status != models.JobStatusWaiting && job.Status != models.JobStatusReady {
			return Transition{}, fmt.Errorf("%w: job %s is %s", ErrNotStartable, jobID, job.Status)
		}
		ok, err := g.AllPrerequisitesFinished(jobID)
		if err != nil {
			return Transition{}, err
		}
		if !ok {
			return Transition{}, fmt.Errorf("%w: job %s", ErrPrerequisitesNotFinished, jobID)
		}
		tr, err := Plan(g, jobID, models.JobStatusRunning)
		if err != nil {
			return Transition{}, err
		}
		tr.Dispatch = append(tr.Dispatch, jobID)
		return tr, nil
	})
}

// CheckPrerequisites reports whether every prerequisite of a job is finished.
func (t *Tracker) CheckPrerequisites(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	g, err := graph.Load(ctx, t.store, job.SubmissionID)
	if err != nil {
		return false, err
	}
	return g.AllPrerequisitesFinished(jobID)
}

// RecordFileSize stores the size of the uploaded file. Repeating the same
// value is accepted; a different value in the same run is ErrAlreadyRecorded.
func (t *Tracker) RecordFileSize(ctx context.Context, jobID uuid.UUID, bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("%w: file size %d", ErrInvalidProgress, bytes)
	}
	return t.withJobLock(ctx, jobID, func(ctx context.Context, job *models.Job) error {
		if job.FileSizeBytes != nil {
			if *job.FileSizeBytes == bytes {
				return nil
			}
			return fmt.Errorf("%w: file size of job %s", ErrAlreadyRecorded, jobID)
		}
		return t.store.UpdateJob(ctx, jobID, store.WithFileSize(bytes))
	})
}

// RecordRowCounts stores the total and valid row counts of a validation run.
func (t *Tracker) RecordRowCounts(ctx context.Context, jobID uuid.UUID, rows, validRows int) error {
	if rows < 0 || validRows < 0 || validRows > rows {
		return fmt.Errorf("%w: rows=%d valid=%d", ErrInvalidProgress, rows, validRows)
	}
	return t.withJobLock(ctx, jobID, func(ctx context.Context, job *models.Job) error {
		if job.RowCount != nil {
			if *job.RowCount == rows && job.ValidRowCount != nil && *job.ValidRowCount == validRows {
				return nil
			}
			return fmt.Errorf("%w: row counts of job %s", ErrAlreadyRecorded, jobID)
		}
		return t.store.UpdateJob(ctx, jobID, store.WithRowCounts(rows, validRows))
	})
}

func (t *Tracker) apply(ctx context.Context, jobID uuid.UUID, plan func(g *graph.Graph) (Transition, error)) (Transition, error) {
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return Transition{}, err
	}

	var tr Transition
	err = t.store.WithSubmissionLock(ctx, job.SubmissionID, func(ctx context.Context) error {
		g, err := graph.Load(ctx, t.store, job.SubmissionID)
		if err != nil {
			return err
		}
		tr, err = plan(g)
		if err != nil {
			return err
		}
		for _, c := range tr.Changes {
			if err := t.store.UpdateJob(ctx, c.JobID, store.WithStatus(c.To)); err != nil {
				return fmt.Errorf("persist status of job %s: %w", c.JobID, err)
			}
		}
		for _, id := range tr.NewRuns {
			if err := t.resetRun(ctx, id); err != nil {
				return err
			}
		}
		for _, id := range tr.Dispatch {
			if err := t.port.Enqueue(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Transition{}, err
	}

	t.report(ctx, job.SubmissionID, tr)
	return tr, nil
}

// resetRun drops what the previous validation run of a job left behind.
func (t *Tracker) resetRun(ctx context.Context, jobID uuid.UUID) error {
	if err := t.store.DeleteErrorMetadata(ctx, jobID); err != nil {
		return fmt.Errorf("purge error metadata of job %s: %w", jobID, err)
	}
	if err := t.store.DeleteFileRecord(ctx, jobID); err != nil {
		return fmt.Errorf("purge file record of job %s: %w", jobID, err)
	}
	if err := t.store.UpdateJob(ctx, jobID, store.WithResetCounts(), store.WithErrorCounts(0, 0)); err != nil {
		return fmt.Errorf("reset counts of job %s: %w", jobID, err)
	}
	return nil
}

// report runs after commit: metrics, anomaly events and cache invalidation.
func (t *Tracker) report(ctx context.Context, submissionID uuid.UUID, tr Transition) {
	for _, c := range tr.Changes {
		metrics.IncreaseJobTransition(string(c.From), string(c.To))
	}
	for _, id := range tr.Dispatch {
		slog.Info("job dispatched", "job_id", id, "submission_id", submissionID, "prerequisite_id", tr.JobID)
	}
	for _, a := range tr.Anomalies {
		metrics.IncreaseDependentAnomaly(string(a.Status))
		slog.Warn("dependent not waiting after prerequisites finished",
			"job_id", a.JobID, "status", a.Status, "prerequisite_id", a.TriggeredBy, "submission_id", submissionID)
	}

	if t.cache != nil {
		if err := t.cache.InvalidateSubmissionStatus(ctx, submissionID); err != nil {
			slog.Warn("invalidate submission status cache", "submission_id", submissionID, "error", err)
		}
	}
}

func (t *Tracker) withJobLock(ctx context.Context, jobID uuid.UUID, fn func(ctx context.Context, job *models.Job) error) error {
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return t.store.WithSubmissionLock(ctx, job.SubmissionID, func(ctx context.Context) error {
		current, err := t.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return fn(ctx, current)
	})
}
