package cache

import (
	"strconv"

	"github.com/google/uuid"
)

const keyNamespace = "jobtracker:"

// SubmissionStatusKey holds the rollup computed at one generation of a
// submission.
func SubmissionStatusKey(submissionID uuid.UUID, generation int64) string {
	return keyNamespace + "submission:status:" + submissionID.String() + ":" + strconv.FormatInt(generation, 10)
}

// SubmissionGenerationKey counts the invalidations of a submission's rollup.
func SubmissionGenerationKey(submissionID uuid.UUID) string {
	return keyNamespace + "submission:generation:" + submissionID.String()
}

// RateLimitKey is the fixed-window counter of one API key prefix.
func RateLimitKey(keyPrefix string) string {
	return keyNamespace + "ratelimit:" + keyPrefix
}
