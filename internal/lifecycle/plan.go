// Package lifecycle drives jobs through their status machine and dispatches
// dependents once every prerequisite has finished.
package lifecycle

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/graph"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

// Change is one status write decided by Plan.
type Change struct {
	JobID uuid.UUID        `json:"job_id"`
	From  models.JobStatus `json:"from"`
	To    models.JobStatus `json:"to"`
}

// Anomaly is a dependent whose prerequisites are all finished but which is
// not waiting. It is reported and skipped.
type Anomaly struct {
	JobID       uuid.UUID        `json:"job_id"`
	Status      models.JobStatus `json:"status"`
	TriggeredBy uuid.UUID        `json:"triggered_by"`
}

// Transition is the outcome of planning one status change: the writes to
// persist, the jobs to enqueue once they are persisted, and anomalies to report.
// NewRuns lists validation jobs entering running from another status; their
// error rows, file record and progress counts belong to the previous run.
type Transition struct {
	JobID     uuid.UUID
	Previous  models.JobStatus
	Changes   []Change
	Dispatch  []uuid.UUID
	Anomalies []Anomaly
	NewRuns   []uuid.UUID
}

// Plan decides what follows from setting jobID to status. It does not touch
// g. The requested change is always recorded; the readiness scan runs only
// when the job newly reaches finished.
func Plan(g *graph.Graph, jobID uuid.UUID, status models.JobStatus) (Transition, error) {
	if !status.Valid() {
		return Transition{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	job, ok := g.Job(jobID)
	if !ok {
		return Transition{}, fmt.Errorf("%w: job %s is not in submission %s",
			graph.ErrInvalidReference, jobID, g.SubmissionID())
	}

	tr := Transition{
		JobID:    jobID,
		Previous: job.Status,
		Changes:  []Change{{JobID: jobID, From: job.Status, To: status}},
	}
	if status == models.JobStatusRunning && job.Status != models.JobStatusRunning && validates(job) {
		tr.NewRuns = append(tr.NewRuns, jobID)
	}
	if status != models.JobStatusFinished || job.Status == models.JobStatusFinished {
		return tr, nil
	}

	next, err := g.WithStatus(jobID, status)
	if err != nil {
		return Transition{}, err
	}
	dependents, err := next.DependentsOf(jobID)
	if err != nil {
		return Transition{}, err
	}

	for _, dep := range dependents {
		ready, err := next.AllPrerequisitesFinished(dep.ID)
		if err != nil {
			return Transition{}, err
		}
		if !ready {
			continue
		}
		if dep.Status != models.JobStatusWaiting {
			tr.Anomalies = append(tr.Anomalies, Anomaly{JobID: dep.ID, Status: dep.Status, TriggeredBy: jobID})
			continue
		}
		if !autoDispatched(dep) {
			continue
		}
		tr.Changes = append(tr.Changes, Change{JobID: dep.ID, From: dep.Status, To: models.JobStatusReady})
		tr.Dispatch = append(tr.Dispatch, dep.ID)
	}
	return tr, nil
}

// validates reports whether a job produces error rows.
func validates(job *models.Job) bool {
	return job.HasType(models.JobTypeCSVRecordValidation) ||
		job.HasType(models.JobTypeValidation) ||
		job.HasType(models.JobTypeCrossFileValidation)
}

// autoDispatched reports whether a job is started by the readiness scan.
// Cross-file and external validation are started by an operator through
// Tracker.StartJob.
func autoDispatched(job *models.Job) bool {
	return job.HasType(models.JobTypeCSVRecordValidation) || job.HasType(models.JobTypeValidation)
}
