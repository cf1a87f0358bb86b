package submission

import "errors"

var (
	ErrMissingPrerequisiteFile = errors.New("missing prerequisite file")
	ErrNotPublishable          = errors.New("submission is not publishable")
	ErrInvalidFileType         = errors.New("invalid file type")
	ErrDuplicateFile           = errors.New("file type listed more than once")
	ErrNoFiles                 = errors.New("submission has no files")
	ErrFileNotInSubmission     = errors.New("file type not part of submission")
	ErrInvalidPublishStatus    = errors.New("invalid publish status")
)
