// Package graph holds the prerequisite relation between the jobs of one
// submission.
//
// Jobs live in an arena slice and edges are stored as index lists in both
// directions, so prerequisite and dependent lookups never copy the job set.
// A Graph is not safe for concurrent mutation; callers build one per
// transaction from stored rows.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

var (
	ErrInvalidReference = errors.New("invalid job reference")
	ErrCycleDetected    = errors.New("dependency cycle detected")
)

type Graph struct {
	submissionID uuid.UUID
	jobs         []*models.Job
	index        map[uuid.UUID]int
	prereqs      [][]int
	dependents   [][]int
}

// New returns an empty graph for one submission.
func New(submissionID uuid.UUID) *Graph {
	return &Graph{
		submissionID: submissionID,
		index:        make(map[uuid.UUID]int),
	}
}

// Build constructs a graph from stored jobs and dependency rows.
func Build(submissionID uuid.UUID, jobs []*models.Job, deps []models.JobDependency) (*Graph, error) {
	g := New(submissionID)
	for _, job := range jobs {
		if err := g.AddJob(job); err != nil {
			return nil, err
		}
	}
	for _, dep := range deps {
		if err := g.AddEdge(dep.JobID, dep.PrerequisiteID); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Graph) SubmissionID() uuid.UUID {
	return g.submissionID
}

// Len returns the number of jobs in the graph.
func (g *Graph) Len() int {
	return len(g.jobs)
}

// AddJob registers a job. Jobs of another submission and repeated ids are
// rejected with ErrInvalidReference.
func (g *Graph) AddJob(job *models.Job) error {
	if job.SubmissionID != g.submissionID {
		return fmt.Errorf("%w: job %s belongs to submission %s, not %s",
			ErrInvalidReference, job.ID, job.SubmissionID, g.submissionID)
	}
	if _, ok := g.index[job.ID]; ok {
		return fmt.Errorf("%w: job %s already registered", ErrInvalidReference, job.ID)
	}

	g.index[job.ID] = len(g.jobs)
	g.jobs = append(g.jobs, job)
	g.prereqs = append(g.prereqs, nil)
	g.dependents = append(g.dependents, nil)
	return nil
}

// AddEdge records that jobID may not run before prerequisiteID finishes.
// Adding an edge that already exists does nothing.
func (g *Graph) AddEdge(jobID, prerequisiteID uuid.UUID) error {
	from, ok := g.index[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s is not in submission %s", ErrInvalidReference, jobID, g.submissionID)
	}
	to, ok := g.index[prerequisiteID]
	if !ok {
		return fmt.Errorf("%w: prerequisite %s is not in submission %s", ErrInvalidReference, prerequisiteID, g.submissionID)
	}
	if from == to {
		return fmt.Errorf("%w: job %s cannot depend on itself", ErrCycleDetected, jobID)
	}

	for _, p := range g.prereqs[from] {
		if p == to {
			return nil
		}
	}

	// The new edge closes a cycle iff jobID is already a transitive
	// prerequisite of prerequisiteID.
	if g.reaches(to, from) {
		return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, jobID, prerequisiteID)
	}

	g.prereqs[from] = append(g.prereqs[from], to)
	g.dependents[to] = append(g.dependents[to], from)
	return nil
}

// reaches reports whether target is reachable from start by following
// prerequisite edges.
func (g *Graph) reaches(start, target int) bool {
	visited := make([]bool, len(g.jobs))
	stack := []int{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, g.prereqs[n]...)
	}
	return false
}

// Job returns the job with the given id. The returned value is owned by the
// graph and must not be modified.
func (g *Graph) Job(id uuid.UUID) (*models.Job, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.jobs[i], true
}

// Jobs returns every job in insertion order.
func (g *Graph) Jobs() []*models.Job {
	out := make([]*models.Job, len(g.jobs))
	copy(out, g.jobs)
	return out
}

// Edges returns every dependency in insertion order of the dependent job.
func (g *Graph) Edges() []models.JobDependency {
	var out []models.JobDependency
	for from, prereqs := range g.prereqs {
		for _, to := range prereqs {
			out = append(out, models.JobDependency{JobID: g.jobs[from].ID, PrerequisiteID: g.jobs[to].ID})
		}
	}
	return out
}

func (g *Graph) PrerequisitesOf(id uuid.UUID) ([]*models.Job, error) {
	i, ok := g.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrInvalidReference, id)
	}
	return g.collect(g.prereqs[i]), nil
}

func (g *Graph) DependentsOf(id uuid.UUID) ([]*models.Job, error) {
	i, ok := g.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrInvalidReference, id)
	}
	return g.collect(g.dependents[i]), nil
}

func (g *Graph) collect(indexes []int) []*models.Job {
	out := make([]*models.Job, len(indexes))
	for k, i := range indexes {
		out[k] = g.jobs[i]
	}
	return out
}

// AllPrerequisitesFinished reports whether every prerequisite of id is
// finished. A job without prerequisites is trivially ready.
func (g *Graph) AllPrerequisitesFinished(id uuid.UUID) (bool, error) {
	i, ok := g.index[id]
	if !ok {
		return false, fmt.Errorf("%w: job %s", ErrInvalidReference, id)
	}
	for _, p := range g.prereqs[i] {
		if g.jobs[p].Status != models.JobStatusFinished {
			return false, nil
		}
	}
	return true, nil
}

// WithStatus returns a copy of the graph in which job id has the given
// status. The receiver is left untouched.
func (g *Graph) WithStatus(id uuid.UUID, status models.JobStatus) (*Graph, error) {
	i, ok := g.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrInvalidReference, id)
	}

	next := &Graph{
		submissionID: g.submissionID,
		jobs:         make([]*models.Job, len(g.jobs)),
		index:        make(map[uuid.UUID]int, len(g.index)),
		prereqs:      cloneAdjacency(g.prereqs),
		dependents:   cloneAdjacency(g.dependents),
	}
	copy(next.jobs, g.jobs)
	for k, v := range g.index {
		next.index[k] = v
	}

	updated := *g.jobs[i]
	updated.Status = status
	next.jobs[i] = &updated
	return next, nil
}

func cloneAdjacency(adj [][]int) [][]int {
	out := make([][]int, len(adj))
	for i, edges := range adj {
		out[i] = append([]int(nil), edges...)
	}
	return out
}

// Source reads the stored rows of one submission.
type Source interface {
	ListJobs(ctx context.Context, submissionID uuid.UUID) ([]*models.Job, error)
	ListDependencies(ctx context.Context, submissionID uuid.UUID) ([]models.JobDependency, error)
}

// Load builds the graph of a submission from src.
func Load(ctx context.Context, src Source, submissionID uuid.UUID) (*Graph, error) {
	jobs, err := src.ListJobs(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	deps, err := src.ListDependencies(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return Build(submissionID, jobs, deps)
}
