package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/dispatch"
	"github.com/kiranshivaraju/jobtracker/internal/lifecycle"
	"github.com/kiranshivaraju/jobtracker/internal/store"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test doubles ---

type failingPort struct{ err error }

func (p failingPort) Enqueue(context.Context, uuid.UUID) error { return p.err }

type recordingCache struct {
	mu          sync.Mutex
	invalidated []uuid.UUID
}

func (c *recordingCache) InvalidateSubmissionStatus(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, id)
	return nil
}

// --- fixtures ---

type fixture struct {
	store *store.MemoryStore
	sub   *models.Submission
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	agency, err := st.GetDefaultAgency(context.Background())
	require.NoError(t, err)

	sub := &models.Submission{ID: uuid.New(), AgencyID: agency.ID, PublishStatus: models.PublishStatusUnpublished}
	require.NoError(t, st.CreateSubmission(context.Background(), sub))
	return &fixture{store: st, sub: sub}
}

func (f *fixture) job(t *testing.T, jobType *models.JobType, status models.JobStatus, prereqs ...*models.Job) *models.Job {
	t.Helper()
	j := &models.Job{ID: uuid.New(), SubmissionID: f.sub.ID, JobType: jobType, Status: status}
	require.NoError(t, f.store.CreateJob(context.Background(), j))
	for _, p := range prereqs {
		require.NoError(t, f.store.CreateDependency(context.Background(), models.JobDependency{JobID: j.ID, PrerequisiteID: p.ID}))
	}
	return j
}

func (f *fixture) status(t *testing.T, id uuid.UUID) models.JobStatus {
	t.Helper()
	j, err := f.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j.Status
}

// --- MarkStatus ---

func TestMarkStatus_FinishDispatchesDependent(t *testing.T) {
	f := newFixture(t)
	queue := dispatch.NewMemoryQueue()
	cache := &recordingCache{}
	tracker := lifecycle.NewTracker(f.store, queue, cache)

	upload := f.job(t, uploadType, models.JobStatusRunning)
	val := f.job(t, csvType, models.JobStatusWaiting, upload)

	tr, err := tracker.MarkStatus(context.Background(), upload.ID, models.JobStatusFinished)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{val.ID}, tr.Dispatch)
	assert.Equal(t, models.JobStatusFinished, f.status(t, upload.ID))
	assert.Equal(t, models.JobStatusReady, f.status(t, val.ID))
	assert.Equal(t, []uuid.UUID{val.ID}, queue.Enqueued())
	assert.Equal(t, []uuid.UUID{f.sub.ID}, cache.invalidated)
}

func TestMarkStatus_RefinishDoesNotRedispatch(t *testing.T) {
	f := newFixture(t)
	queue := dispatch.NewMemoryQueue()
	tracker := lifecycle.NewTracker(f.store, queue, nil)

	upload := f.job(t, uploadType, models.JobStatusRunning)
	val := f.job(t, csvType, models.JobStatusWaiting, upload)
	ctx := context.Background()

	_, err := tracker.MarkStatus(ctx, upload.ID, models.JobStatusFinished)
	require.NoError(t, err)
	_, err = tracker.MarkStatus(ctx, upload.ID, models.JobStatusFinished)
	require.NoError(t, err)

	assert.Equal(t, 1, queue.Count(val.ID))
}

func TestMarkStatus_WaitsForEveryPrerequisite(t *testing.T) {
	f := newFixture(t)
	queue := dispatch.NewMemoryQueue()
	tracker := lifecycle.NewTracker(f.store, queue, nil)
	ctx := context.Background()

	a := f.job(t, uploadType, models.JobStatusRunning)
	b := f.job(t, uploadType, models.JobStatusRunning)
	val := f.job(t, validationType, models.JobStatusWaiting, a, b)

	_, err := tracker.MarkStatus(ctx, a.ID, models.JobStatusFinished)
	require.NoError(t, err)
	assert.Empty(t, queue.Enqueued())
	assert.Equal(t, models.JobStatusWaiting, f.status(t, val.ID))

	_, err = tracker.MarkStatus(ctx, b.ID, models.JobStatusFinished)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{val.ID}, queue.Enqueued())
}

func TestMarkStatus_FailedPrerequisiteBlocksDependent(t *testing.T) {
	f := newFixture(t)
	queue := dispatch.NewMemoryQueue()
	tracker := lifecycle.NewTracker(f.store, queue, nil)
	ctx := context.Background()

	upload := f.job(t, uploadType, models.JobStatusRunning)
	val := f.job(t, csvType, models.JobStatusWaiting, upload)

	_, err := tracker.MarkStatus(ctx, upload.ID, models.JobStatusFailed)
	require.NoError(t, err)
	assert.Empty(t, queue.Enqueued())
	assert.Equal(t, models.JobStatusWaiting, f.status(t, val.ID))
}

func TestMarkStatus_ConcurrentSiblingsDispatchOnce(t *testing.T) {
	for i := 0; i < 25; i++ {
		f := newFixture(t)
		queue := dispatch.NewMemoryQueue()
		tracker := lifecycle.NewTracker(f.store, queue, nil)

		a := f.job(t, csvType, models.JobStatusRunning)
		b := f.job(t, csvType, models.JobStatusRunning)
		cross := f.job(t, validationType, models.JobStatusWaiting, a, b)

		var wg sync.WaitGroup
		for _, id := range []uuid.UUID{a.ID, b.ID} {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				_, err := tracker.MarkStatus(context.Background(), id, models.JobStatusFinished)
				assert.NoError(t, err)
			}(id)
		}
		wg.Wait()

		require.Equal(t, 1, queue.Count(cross.ID), "dependent must be dispatched exactly once")
		assert.Equal(t, models.JobStatusReady, f.status(t, cross.ID))
	}
}

func TestMarkStatus_EnqueueFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	queueDown := errors.New("queue down")
	tracker := lifecycle.NewTracker(f.store, failingPort{err: queueDown}, nil)

	upload := f.job(t, uploadType, models.JobStatusRunning)
	val := f.job(t, csvType, models.JobStatusWaiting, upload)

	_, err := tracker.MarkStatus(context.Background(), upload.ID, models.JobStatusFinished)
	assert.ErrorIs(t, err, queueDown)

	assert.Equal(t, models.JobStatusRunning, f.status(t, upload.ID))
	assert.Equal(t, models.JobStatusWaiting, f.status(t, val.ID))
}

func TestMarkStatus_AnomalousDependentSkipped(t *testing.T) {
	f := newFixture(t)
	queue := dispatch.NewMemoryQueue()
	tracker := lifecycle.NewTracker(f.store, queue, nil)

	upload := f.job(t, uploadType, models.JobStatusRunning)
	stuck := f.job(t, csvType, models.JobStatusFailed, upload)

	tr, err := tracker.MarkStatus(context.Background(), upload.ID, models.JobStatusFinished)
	require.NoError(t, err)

	require.Len(t, tr.Anomalies, 1)
	assert.Equal(t, stuck.ID, tr.Anomalies[0].JobID)
	assert.Empty(t, queue.Enqueued())
	assert.Equal(t, models.JobStatusFailed, f.status(t, stuck.ID))
}

func TestMarkStatus_Errors(t *testing.T) {
	f := newFixture(t)
	tracker := lifecycle.NewTracker(f.store, dispatch.NewMemoryQueue(), nil)
	upload := f.job(t, uploadType, models.JobStatusRunning)

	_, err := tracker.MarkStatus(context.Background(), upload.ID, "done")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidStatus)

	_, err = tracker.MarkStatus(context.Background(), uuid.New(), models.JobStatusFinished)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- StartJob / CheckPrerequisites ---

func TestStartJob_RejectsUnfinishedPrerequisites(t *testing.T) {
	f := newFixture(t)
	queue := dispatch.NewMemoryQueue()
	tracker := lifecycle.NewTracker(f.store, queue, nil)
	ctx := context.Background()

	a := f.job(t, csvType, models.JobStatusFinished)
	b := f.job(t, csvType, models.JobStatusRunning)
	cross := f.job(t, crossFileType, models.JobStatusWaiting, a, b)

	ok, err := tracker.CheckPrerequisites(ctx, cross.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tracker.StartJob(ctx, cross.ID)
	assert.ErrorIs(t, err, lifecycle.ErrPrerequisitesNotFinished)
	assert.Equal(t, models.JobStatusWaiting, f.status(t, cross.ID))

	_, err = tracker.MarkStatus(ctx, b.ID, models.JobStatusFinished)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusWaiting, f.status(t, cross.ID), "cross-file jobs are not auto-dispatched")

	ok, err = tracker.CheckPrerequisites(ctx, cross.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	tr, err := tracker.StartJob(ctx, cross.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, f.status(t, cross.ID))
	assert.Equal(t, []uuid.UUID{cross.ID}, tr.Dispatch)
	assert.Equal(t, []uuid.UUID{cross.ID}, queue.Enqueued())
}

func TestMarkStatus_LastValidationLeavesCrossFileForOperator(t *testing.T) {
	f := newFixture(t)
	queue := dispatch.NewMemoryQueue()
	tracker := lifecycle.NewTracker(f.store, queue, nil)
	ctx := context.Background()

	a := f.job(t, csvType, models.JobStatusRunning)
	b := f.job(t, csvType, models.JobStatusRunning)
	cross := f.job(t, crossFileType, models.JobStatusWaiting, a, b)

	_, err := tracker.MarkStatus(ctx, a.ID, models.JobStatusFinished)
	require.NoError(t, err)
	tr, err := tracker.MarkStatus(ctx, b.ID, models.JobStatusFinished)
	require.NoError(t, err)

	assert.Empty(t, tr.Dispatch)
	assert.Empty(t, tr.Anomalies)
	assert.Empty(t, queue.Enqueued())
	assert.Equal(t, models.JobStatusWaiting, f.status(t, cross.ID))

	ok, err := tracker.CheckPrerequisites(ctx, cross.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = tracker.StartJob(ctx, cross.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, queue.Count(cross.ID))
	assert.Equal(t, models.JobStatusRunning, f.status(t, cross.ID))
}

func TestStartJob_RejectsStartedJobs(t *testing.T) {
	for _, status := range []models.JobStatus{
		models.JobStatusRunning, models.JobStatusFinished, models.JobStatusInvalid, models.JobStatusFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			queue := dispatch.NewMemoryQueue()
			tracker := lifecycle.NewTracker(f.store, queue, nil)
			j := f.job(t, crossFileType, status)

			_, err := tracker.StartJob(context.Background(), j.ID)
			assert.ErrorIs(t, err, lifecycle.ErrNotStartable)
			assert.Equal(t, status, f.status(t, j.ID))
			assert.Empty(t, queue.Enqueued())
		})
	}
}

func TestStartJob_ReadyJobWithoutPrerequisites(t *testing.T) {
	f := newFixture(t)
	queue := dispatch.NewMemoryQueue()
	tracker := lifecycle.NewTracker(f.store, queue, nil)
	j := f.job(t, csvType, models.JobStatusReady)

	tr, err := tracker.StartJob(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusReady, tr.Previous)
	assert.Equal(t, []uuid.UUID{j.ID}, tr.NewRuns)
	assert.Equal(t, models.JobStatusRunning, f.status(t, j.ID))
	assert.Equal(t, []uuid.UUID{j.ID}, queue.Enqueued())
}

func TestCheckPrerequisites_NoPrerequisites(t *testing.T) {
	f := newFixture(t)
	tracker := lifecycle.NewTracker(f.store, dispatch.NewMemoryQueue(), nil)
	lone := f.job(t, uploadType, models.JobStatusReady)

	ok, err := tracker.CheckPrerequisites(context.Background(), lone.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

// --- Progress ---

func TestRecordFileSize(t *testing.T) {
	f := newFixture(t)
	tracker := lifecycle.NewTracker(f.store, dispatch.NewMemoryQueue(), nil)
	ctx := context.Background()
	upload := f.job(t, uploadType, models.JobStatusRunning)

	require.NoError(t, tracker.RecordFileSize(ctx, upload.ID, 2048))
	require.NoError(t, tracker.RecordFileSize(ctx, upload.ID, 2048))
	assert.ErrorIs(t, tracker.RecordFileSize(ctx, upload.ID, 4096), lifecycle.ErrAlreadyRecorded)
	assert.ErrorIs(t, tracker.RecordFileSize(ctx, upload.ID, -1), lifecycle.ErrInvalidProgress)

	j, err := f.store.GetJob(ctx, upload.ID)
	require.NoError(t, err)
	require.NotNil(t, j.FileSizeBytes)
	assert.Equal(t, int64(2048), *j.FileSizeBytes)
}

func TestRecordRowCounts(t *testing.T) {
	f := newFixture(t)
	tracker := lifecycle.NewTracker(f.store, dispatch.NewMemoryQueue(), nil)
	ctx := context.Background()
	val := f.job(t, csvType, models.JobStatusRunning)

	assert.ErrorIs(t, tracker.RecordRowCounts(ctx, val.ID, 10, 11), lifecycle.ErrInvalidProgress)
	require.NoError(t, tracker.RecordRowCounts(ctx, val.ID, 10, 8))
	require.NoError(t, tracker.RecordRowCounts(ctx, val.ID, 10, 8))
	assert.ErrorIs(t, tracker.RecordRowCounts(ctx, val.ID, 12, 8), lifecycle.ErrAlreadyRecorded)

	j, err := f.store.GetJob(ctx, val.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, *j.RowCount)
	assert.Equal(t, 8, *j.ValidRowCount)
}
