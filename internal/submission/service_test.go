package submission_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/errorcount"
	"github.com/kiranshivaraju/jobtracker/internal/graph"
	"github.com/kiranshivaraju/jobtracker/internal/rollup"
	"github.com/kiranshivaraju/jobtracker/internal/store"
	"github.com/kiranshivaraju/jobtracker/internal/submission"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*submission.Service, *store.MemoryStore, uuid.UUID) {
	t.Helper()
	st := store.NewMemoryStore()
	agency, err := st.GetDefaultAgency(context.Background())
	require.NoError(t, err)
	counter := errorcount.NewCounter(st)
	svc := submission.NewService(st, counter, rollup.NewAggregator(st, counter, nil, 0))
	return svc, st, agency.ID
}

func file(ft models.FileType) submission.FileUpload {
	return submission.FileUpload{FileType: ft, OriginalFilename: string(ft) + ".csv", StoragePath: "s3://bucket/" + string(ft) + ".csv"}
}

func jobOf(t *testing.T, jobs []*models.Job, ft models.FileType, jt models.JobType) *models.Job {
	t.Helper()
	for _, j := range jobs {
		if j.FileType != nil && *j.FileType == ft && j.HasType(jt) {
			return j
		}
	}
	t.Fatalf("no %s job for %s", jt, ft)
	return nil
}

func crossJob(jobs []*models.Job) *models.Job {
	for _, j := range jobs {
		if j.HasType(models.JobTypeCrossFileValidation) {
			return j
		}
	}
	return nil
}

// --- Create ---

func TestCreate_InitialStatusPolicy(t *testing.T) {
	svc, _, agencyID := newService(t)

	created, err := svc.Create(context.Background(), submission.CreateRequest{
		AgencyID: agencyID,
		Files: []submission.FileUpload{
			file(models.FileTypeSubAward),
			file(models.FileTypeAppropriations),
			file(models.FileTypeAwardFinancial),
			file(models.FileTypeAwardProcurement),
			file(models.FileTypeAwardeeAttributes),
			file(models.FileTypeAward),
		},
	})
	require.NoError(t, err)

	jobs := created.Jobs
	assert.Equal(t, models.JobStatusRunning, jobOf(t, jobs, models.FileTypeAppropriations, models.JobTypeFileUpload).Status)
	assert.Equal(t, models.JobStatusRunning, jobOf(t, jobs, models.FileTypeAwardFinancial, models.JobTypeFileUpload).Status)
	assert.Equal(t, models.JobStatusReady, jobOf(t, jobs, models.FileTypeAward, models.JobTypeFileUpload).Status)
	assert.Equal(t, models.JobStatusReady, jobOf(t, jobs, models.FileTypeAwardProcurement, models.JobTypeFileUpload).Status)
	assert.Equal(t, models.JobStatusWaiting, jobOf(t, jobs, models.FileTypeAwardeeAttributes, models.JobTypeFileUpload).Status)
	assert.Equal(t, models.JobStatusWaiting, jobOf(t, jobs, models.FileTypeSubAward, models.JobTypeFileUpload).Status)
	assert.Equal(t, models.JobStatusWaiting, jobOf(t, jobs, models.FileTypeAppropriations, models.JobTypeCSVRecordValidation).Status)

	assert.Len(t, created.UploadJobs, 6)
	assert.Equal(t, models.PublishStatusUnpublished, created.Submission.PublishStatus)
}

func TestCreate_DependencyGraph(t *testing.T) {
	svc, st, agencyID := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, submission.CreateRequest{
		AgencyID: agencyID,
		Files: []submission.FileUpload{
			file(models.FileTypeAppropriations),
			file(models.FileTypeAwardFinancial),
			file(models.FileTypeAwardProcurement),
			file(models.FileTypeAwardeeAttributes),
			file(models.FileTypeSubAward),
		},
	})
	require.NoError(t, err)

	g, err := graph.Load(ctx, st, created.Submission.ID)
	require.NoError(t, err)

	jobs := created.Jobs
	appropVal := jobOf(t, jobs, models.FileTypeAppropriations, models.JobTypeCSVRecordValidation)
	prereqs, err := g.PrerequisitesOf(appropVal.ID)
	require.NoError(t, err)
	require.Len(t, prereqs, 1)
	assert.Equal(t, jobOf(t, jobs, models.FileTypeAppropriations, models.JobTypeFileUpload).ID, prereqs[0].ID)

	// E upload waits on D1 validation, F upload on C validation
	eUpload := jobOf(t, jobs, models.FileTypeAwardeeAttributes, models.JobTypeFileUpload)
	prereqs, err = g.PrerequisitesOf(eUpload.ID)
	require.NoError(t, err)
	require.Len(t, prereqs, 1)
	assert.Equal(t, jobOf(t, jobs, models.FileTypeAwardProcurement, models.JobTypeCSVRecordValidation).ID, prereqs[0].ID)

	fUpload := jobOf(t, jobs, models.FileTypeSubAward, models.JobTypeFileUpload)
	prereqs, err = g.PrerequisitesOf(fUpload.ID)
	require.NoError(t, err)
	require.Len(t, prereqs, 1)
	assert.Equal(t, jobOf(t, jobs, models.FileTypeAwardFinancial, models.JobTypeCSVRecordValidation).ID, prereqs[0].ID)

	// derived files have no validation job of their own
	for _, j := range jobs {
		if j.FileType != nil && (*j.FileType == models.FileTypeAwardeeAttributes || *j.FileType == models.FileTypeSubAward) {
			assert.True(t, j.HasType(models.JobTypeFileUpload))
		}
	}

	cross := crossJob(jobs)
	require.NotNil(t, cross)
	assert.Equal(t, models.JobStatusWaiting, cross.Status)
	prereqs, err = g.PrerequisitesOf(cross.ID)
	require.NoError(t, err)
	assert.Len(t, prereqs, 3)
}

func TestCreate_SingleFileHasNoCrossFileJob(t *testing.T) {
	svc, _, agencyID := newService(t)

	created, err := svc.Create(context.Background(), submission.CreateRequest{
		AgencyID: agencyID,
		Files:    []submission.FileUpload{file(models.FileTypeAppropriations)},
	})
	require.NoError(t, err)
	assert.Len(t, created.Jobs, 2)
	assert.Nil(t, crossJob(created.Jobs))
}

func TestCreate_Errors(t *testing.T) {
	svc, st, agencyID := newService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		files []submission.FileUpload
		err   error
	}{
		{"no files", nil, submission.ErrNoFiles},
		{"unknown file type", []submission.FileUpload{file("ledger")}, submission.ErrInvalidFileType},
		{"duplicate file type", []submission.FileUpload{file(models.FileTypeAward), file(models.FileTypeAward)}, submission.ErrDuplicateFile},
		{"E without D1", []submission.FileUpload{file(models.FileTypeAwardeeAttributes)}, submission.ErrMissingPrerequisiteFile},
		{"F without C", []submission.FileUpload{file(models.FileTypeAppropriations), file(models.FileTypeSubAward)}, submission.ErrMissingPrerequisiteFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, submission.CreateRequest{AgencyID: agencyID, Files: tt.files})
			assert.ErrorIs(t, err, tt.err)
		})
	}

	// rejected requests write nothing
	jobs, err := st.ListJobs(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

// --- ReplaceFile ---

func TestReplaceFile_ResetsJobsAndPurgesErrors(t *testing.T) {
	svc, st, agencyID := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, submission.CreateRequest{
		AgencyID: agencyID,
		Files:    []submission.FileUpload{file(models.FileTypeAppropriations), file(models.FileTypeAwardFinancial)},
	})
	require.NoError(t, err)
	subID := created.Submission.ID
	upload := jobOf(t, created.Jobs, models.FileTypeAppropriations, models.JobTypeFileUpload)
	val := jobOf(t, created.Jobs, models.FileTypeAppropriations, models.JobTypeCSVRecordValidation)

	require.NoError(t, st.UpdateJob(ctx, upload.ID, store.WithStatus(models.JobStatusFinished)))
	require.NoError(t, st.UpdateJob(ctx, val.ID, store.WithStatus(models.JobStatusFinished), store.WithFileSize(512), store.WithRowCounts(10, 7)))
	_, err = st.UpsertErrorMetadata(ctx, &models.ErrorMetadata{
		ID: uuid.New(), JobID: val.ID, FieldName: "amount", RuleLabel: "A1", Severity: models.SeverityFatal, Occurrences: 3,
	})
	require.NoError(t, err)
	require.NoError(t, st.UpsertFileRecord(ctx, &models.FileRecord{JobID: val.ID, Status: models.FileStatusComplete}))
	require.NoError(t, st.UpdateSubmissionPublish(ctx, subID, true, models.PublishStatusPublished))

	uploadID, err := svc.ReplaceFile(ctx, subID, submission.FileUpload{
		FileType: models.FileTypeAppropriations, OriginalFilename: "v2.csv", StoragePath: "s3://bucket/v2.csv",
	})
	require.NoError(t, err)
	assert.Equal(t, upload.ID, uploadID)

	gotUpload, err := st.GetJob(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, gotUpload.Status)
	assert.Equal(t, "v2.csv", gotUpload.OriginalFilename)

	gotVal, err := st.GetJob(ctx, val.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusWaiting, gotVal.Status)
	assert.Nil(t, gotVal.FileSizeBytes)
	assert.Nil(t, gotVal.RowCount)
	assert.Nil(t, gotVal.ValidRowCount)
	assert.Equal(t, "s3://bucket/v2.csv", gotVal.StoragePath)

	rows, err := st.ListErrorMetadata(ctx, store.ErrorFilter{JobID: val.ID})
	require.NoError(t, err)
	assert.Empty(t, rows)
	_, err = st.GetFileRecord(ctx, val.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	sub, err := st.GetSubmission(ctx, subID)
	require.NoError(t, err)
	assert.False(t, sub.Publishable)
	assert.Equal(t, models.PublishStatusUpdated, sub.PublishStatus)
	assert.Equal(t, 0, sub.NumberOfErrors)
}

func TestReplaceFile_Errors(t *testing.T) {
	svc, _, agencyID := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, submission.CreateRequest{
		AgencyID: agencyID,
		Files:    []submission.FileUpload{file(models.FileTypeAppropriations)},
	})
	require.NoError(t, err)

	_, err = svc.ReplaceFile(ctx, created.Submission.ID, file(models.FileTypeAward))
	assert.ErrorIs(t, err, submission.ErrFileNotInSubmission)

	_, err = svc.ReplaceFile(ctx, created.Submission.ID, file("ledger"))
	assert.ErrorIs(t, err, submission.ErrInvalidFileType)

	_, err = svc.ReplaceFile(ctx, uuid.New(), file(models.FileTypeAppropriations))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Publishing ---

func TestPublish(t *testing.T) {
	svc, st, agencyID := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, submission.CreateRequest{
		AgencyID: agencyID,
		Files:    []submission.FileUpload{file(models.FileTypeAppropriations)},
	})
	require.NoError(t, err)
	subID := created.Submission.ID

	assert.ErrorIs(t, svc.Publish(ctx, subID), submission.ErrNotPublishable)

	for _, j := range created.Jobs {
		require.NoError(t, st.UpdateJob(ctx, j.ID, store.WithStatus(models.JobStatusFinished)))
	}
	assert.ErrorIs(t, svc.Publish(ctx, subID), submission.ErrNotPublishable, "finished but not certified")

	require.NoError(t, svc.SetPublishable(ctx, subID, true))
	require.NoError(t, svc.Publish(ctx, subID))

	sub, err := st.GetSubmission(ctx, subID)
	require.NoError(t, err)
	assert.True(t, sub.Publishable)
	assert.Equal(t, models.PublishStatusPublished, sub.PublishStatus)

	assert.ErrorIs(t, svc.UpdatePublishStatus(ctx, subID, "archived"), submission.ErrInvalidPublishStatus)
}

func TestGet(t *testing.T) {
	svc, _, agencyID := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, submission.CreateRequest{
		AgencyID: agencyID,
		Files:    []submission.FileUpload{file(models.FileTypeAppropriations), file(models.FileTypeProgramActivity)},
	})
	require.NoError(t, err)

	detail, err := svc.Get(ctx, created.Submission.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Jobs, 5)
	assert.Equal(t, created.Jobs[0].ID, detail.Jobs[0].ID)

	_, err = svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreate_StampsCreationTimes(t *testing.T) {
	svc, _, agencyID := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, submission.CreateRequest{
		AgencyID: agencyID,
		Files:    []submission.FileUpload{file(models.FileTypeAppropriations), file(models.FileTypeProgramActivity)},
	})
	require.NoError(t, err)
	assert.False(t, created.Submission.CreatedAt.IsZero())

	detail, err := svc.Get(ctx, created.Submission.ID)
	require.NoError(t, err)
	require.Len(t, detail.Jobs, len(created.Jobs))
	for i, j := range detail.Jobs {
		assert.False(t, j.CreatedAt.IsZero(), "job %d", i)
		assert.Equal(t, created.Jobs[i].ID, j.ID)
	}
}
