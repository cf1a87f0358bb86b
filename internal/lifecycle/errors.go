package lifecycle

import "errors"

var (
	ErrInvalidStatus            = errors.New("invalid job status")
	ErrPrerequisitesNotFinished = errors.New("prerequisites not finished")
	ErrNotStartable             = errors.New("job is not waiting or ready")
	ErrAlreadyRecorded          = errors.New("value already recorded for this validation run")
	ErrInvalidProgress          = errors.New("invalid progress values")
)
