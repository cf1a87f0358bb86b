package graph_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/graph"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(submissionID uuid.UUID, status models.JobStatus) *models.Job {
	return &models.Job{
		ID:           uuid.New(),
		SubmissionID: submissionID,
		JobType:      models.JobTypePtr(models.JobTypeCSVRecordValidation),
		Status:       status,
	}
}

func ids(jobs []*models.Job) []uuid.UUID {
	out := make([]uuid.UUID, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func TestAddEdge_PrerequisitesAndDependents(t *testing.T) {
	sub := uuid.New()
	a := newJob(sub, models.JobStatusRunning)
	b := newJob(sub, models.JobStatusWaiting)
	c := newJob(sub, models.JobStatusWaiting)

	g, err := graph.Build(sub, []*models.Job{a, b, c}, []models.JobDependency{
		{JobID: b.ID, PrerequisiteID: a.ID},
		{JobID: c.ID, PrerequisiteID: a.ID},
		{JobID: c.ID, PrerequisiteID: b.ID},
	})
	require.NoError(t, err)

	deps, err := g.DependentsOf(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID, c.ID}, ids(deps))

	prereqs, err := g.PrerequisitesOf(c.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, ids(prereqs))

	assert.Len(t, g.Edges(), 3)
	assert.Equal(t, 3, g.Len())
}

func TestAddEdge_DuplicateIsNoop(t *testing.T) {
	sub := uuid.New()
	a := newJob(sub, models.JobStatusRunning)
	b := newJob(sub, models.JobStatusWaiting)
	g, err := graph.Build(sub, []*models.Job{a, b}, nil)
	require.NoError(t, err)

	require.NoError(t, g.AddEdge(b.ID, a.ID))
	require.NoError(t, g.AddEdge(b.ID, a.ID))

	deps, err := g.DependentsOf(a.ID)
	require.NoError(t, err)
	assert.Len(t, deps, 1)
}

func TestAddEdge_SelfEdgeIsCycle(t *testing.T) {
	sub := uuid.New()
	a := newJob(sub, models.JobStatusRunning)
	g, err := graph.Build(sub, []*models.Job{a}, nil)
	require.NoError(t, err)

	err = g.AddEdge(a.ID, a.ID)
	assert.ErrorIs(t, err, graph.ErrCycleDetected)
}

func TestAddEdge_TransitiveCycle(t *testing.T) {
	sub := uuid.New()
	a := newJob(sub, models.JobStatusRunning)
	b := newJob(sub, models.JobStatusWaiting)
	c := newJob(sub, models.JobStatusWaiting)
	g, err := graph.Build(sub, []*models.Job{a, b, c}, []models.JobDependency{
		{JobID: b.ID, PrerequisiteID: a.ID},
		{JobID: c.ID, PrerequisiteID: b.ID},
	})
	require.NoError(t, err)

	err = g.AddEdge(a.ID, c.ID)
	assert.ErrorIs(t, err, graph.ErrCycleDetected)

	// the rejected edge leaves the graph unchanged
	prereqs, err := g.PrerequisitesOf(a.ID)
	require.NoError(t, err)
	assert.Empty(t, prereqs)
}

func TestBuild_RejectsCycleInStoredRows(t *testing.T) {
	sub := uuid.New()
	a := newJob(sub, models.JobStatusRunning)
	b := newJob(sub, models.JobStatusWaiting)

	_, err := graph.Build(sub, []*models.Job{a, b}, []models.JobDependency{
		{JobID: b.ID, PrerequisiteID: a.ID},
		{JobID: a.ID, PrerequisiteID: b.ID},
	})
	assert.ErrorIs(t, err, graph.ErrCycleDetected)
}

func TestAddEdge_ForeignSubmissionJob(t *testing.T) {
	sub := uuid.New()
	a := newJob(sub, models.JobStatusRunning)
	foreign := newJob(uuid.New(), models.JobStatusFinished)

	g, err := graph.Build(sub, []*models.Job{a}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, g.AddJob(foreign), graph.ErrInvalidReference)
	assert.ErrorIs(t, g.AddEdge(a.ID, foreign.ID), graph.ErrInvalidReference)
	assert.ErrorIs(t, g.AddEdge(foreign.ID, a.ID), graph.ErrInvalidReference)
}

func TestAddJob_DuplicateID(t *testing.T) {
	sub := uuid.New()
	a := newJob(sub, models.JobStatusRunning)
	g := graph.New(sub)

	require.NoError(t, g.AddJob(a))
	assert.ErrorIs(t, g.AddJob(a), graph.ErrInvalidReference)
}

func TestUnknownJobLookups(t *testing.T) {
	g := graph.New(uuid.New())
	missing := uuid.New()

	_, err := g.PrerequisitesOf(missing)
	assert.ErrorIs(t, err, graph.ErrInvalidReference)
	_, err = g.DependentsOf(missing)
	assert.ErrorIs(t, err, graph.ErrInvalidReference)
	_, err = g.AllPrerequisitesFinished(missing)
	assert.ErrorIs(t, err, graph.ErrInvalidReference)
	_, err = g.WithStatus(missing, models.JobStatusFinished)
	assert.ErrorIs(t, err, graph.ErrInvalidReference)

	_, ok := g.Job(missing)
	assert.False(t, ok)
}

func TestAllPrerequisitesFinished(t *testing.T) {
	sub := uuid.New()
	a := newJob(sub, models.JobStatusFinished)
	b := newJob(sub, models.JobStatusRunning)
	c := newJob(sub, models.JobStatusWaiting)
	lone := newJob(sub, models.JobStatusWaiting)

	g, err := graph.Build(sub, []*models.Job{a, b, c, lone}, []models.JobDependency{
		{JobID: c.ID, PrerequisiteID: a.ID},
		{JobID: c.ID, PrerequisiteID: b.ID},
	})
	require.NoError(t, err)

	ok, err := g.AllPrerequisitesFinished(c.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.AllPrerequisitesFinished(lone.ID)
	require.NoError(t, err)
	assert.True(t, ok, "a job without prerequisites is trivially ready")

	next, err := g.WithStatus(b.ID, models.JobStatusFinished)
	require.NoError(t, err)
	ok, err = next.AllPrerequisitesFinished(c.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWithStatus_LeavesOriginalUntouched(t *testing.T) {
	sub := uuid.New()
	a := newJob(sub, models.JobStatusRunning)
	b := newJob(sub, models.JobStatusWaiting)
	g, err := graph.Build(sub, []*models.Job{a, b}, []models.JobDependency{{JobID: b.ID, PrerequisiteID: a.ID}})
	require.NoError(t, err)

	next, err := g.WithStatus(a.ID, models.JobStatusFinished)
	require.NoError(t, err)

	orig, _ := g.Job(a.ID)
	updated, _ := next.Job(a.ID)
	assert.Equal(t, models.JobStatusRunning, orig.Status)
	assert.Equal(t, models.JobStatusFinished, updated.Status)
	assert.Equal(t, models.JobStatusRunning, a.Status)

	// extending the copy does not leak edges into the original
	c := newJob(sub, models.JobStatusWaiting)
	require.NoError(t, next.AddJob(c))
	require.NoError(t, next.AddEdge(c.ID, a.ID))
	deps, err := g.DependentsOf(a.ID)
	require.NoError(t, err)
	assert.Len(t, deps, 1)
}
