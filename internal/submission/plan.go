package submission

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/graph"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

// FileUpload names one file of a new submission.
type FileUpload struct {
	FileType         models.FileType `json:"file_type"         validate:"required"`
	OriginalFilename string          `json:"original_filename" validate:"required,max=255"`
	StoragePath      string          `json:"storage_path"      validate:"max=1024"`
}

// generatedFiles are produced server-side, so their upload job starts ready.
var generatedFiles = map[models.FileType]bool{
	models.FileTypeAward:            true,
	models.FileTypeAwardProcurement: true,
}

// derivedFiles get no validation job of their own. Their upload waits for the
// validation job of the file they are derived from.
var derivedFiles = map[models.FileType]models.FileType{
	models.FileTypeAwardeeAttributes: models.FileTypeAwardProcurement,
	models.FileTypeSubAward:          models.FileTypeAwardFinancial,
}

// initialUploadStatus is the status a new upload job of the file type starts in.
func initialUploadStatus(ft models.FileType) models.JobStatus {
	switch {
	case generatedFiles[ft]:
		return models.JobStatusReady
	case derivedFiles[ft] != "":
		return models.JobStatusWaiting
	default:
		return models.JobStatusRunning
	}
}

// jobSet is the graph of a new submission together with the upload job of
// each file type.
type jobSet struct {
	graph   *graph.Graph
	uploads map[models.FileType]*models.Job
}

// buildJobSet lays out the jobs of a new submission in FileTypes order, so
// that every prerequisite exists before the job that depends on it.
func buildJobSet(submissionID uuid.UUID, files []FileUpload) (*jobSet, error) {
	byType := make(map[models.FileType]FileUpload, len(files))
	for _, f := range files {
		if !f.FileType.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFileType, f.FileType)
		}
		if _, dup := byType[f.FileType]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFile, f.FileType)
		}
		byType[f.FileType] = f
	}
	if len(byType) == 0 {
		return nil, ErrNoFiles
	}

	set := &jobSet{graph: graph.New(submissionID), uploads: make(map[models.FileType]*models.Job)}
	validations := make(map[models.FileType]*models.Job)
	var required []*models.Job

	for _, ft := range models.FileTypes {
		f, ok := byType[ft]
		if !ok {
			continue
		}

		upload := newJob(submissionID, f, models.JobTypeFileUpload, initialUploadStatus(ft))
		if err := set.graph.AddJob(upload); err != nil {
			return nil, err
		}
		set.uploads[ft] = upload

		if source, derived := derivedFiles[ft]; derived {
			prereq, ok := validations[source]
			if !ok {
				return nil, fmt.Errorf("%w: %s requires %s", ErrMissingPrerequisiteFile, ft, source)
			}
			if err := set.graph.AddEdge(upload.ID, prereq.ID); err != nil {
				return nil, err
			}
			continue
		}

		validation := newJob(submissionID, f, models.JobTypeCSVRecordValidation, models.JobStatusWaiting)
		if err := set.graph.AddJob(validation); err != nil {
			return nil, err
		}
		if err := set.graph.AddEdge(validation.ID, upload.ID); err != nil {
			return nil, err
		}
		validations[ft] = validation
		required = append(required, validation)
	}

	if len(required) > 1 {
		cross := &models.Job{
			ID:           uuid.New(),
			SubmissionID: submissionID,
			JobType:      models.JobTypePtr(models.JobTypeCrossFileValidation),
			Status:       models.JobStatusWaiting,
		}
		if err := set.graph.AddJob(cross); err != nil {
			return nil, err
		}
		for _, v := range required {
			if err := set.graph.AddEdge(cross.ID, v.ID); err != nil {
				return nil, err
			}
		}
	}
	return set, nil
}

func newJob(submissionID uuid.UUID, f FileUpload, jt models.JobType, status models.JobStatus) *models.Job {
	return &models.Job{
		ID:               uuid.New(),
		SubmissionID:     submissionID,
		FileType:         models.FileTypePtr(f.FileType),
		JobType:          models.JobTypePtr(jt),
		Status:           status,
		OriginalFilename: f.OriginalFilename,
		StoragePath:      f.StoragePath,
	}
}
