package errorcount

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(field, rule string, severity models.Severity) RawError {
	return RawError{FieldName: field, RuleLabel: rule, Severity: severity, ErrorType: "rule_failed"}
}

// --- Collapse tests ---

func TestCollapse_EmptyInput(t *testing.T) {
	out := Collapse(uuid.New(), nil)
	require.NotNil(t, out)
	assert.Empty(t, out)
}

func TestCollapse_GroupsByFieldRuleSeverity(t *testing.T) {
	jobID := uuid.New()
	out := Collapse(jobID, []RawError{
		raw("amount", "A1", models.SeverityFatal),
		raw("amount", "A1", models.SeverityWarning),
		raw("amount", "A1", models.SeverityFatal),
		raw("program", "B2", models.SeverityFatal),
		raw(" amount ", "A1", models.SeverityFatal),
	})

	require.Len(t, out, 3)
	assert.Equal(t, "amount", out[0].FieldName)
	assert.Equal(t, models.SeverityFatal, out[0].Severity)
	assert.Equal(t, 3, out[0].Occurrences)
	for _, m := range out {
		assert.Equal(t, jobID, m.JobID)
		assert.NotEqual(t, uuid.Nil, m.ID)
	}
}

func TestCollapse_SortsByOccurrencesKeepingFirstSeenTies(t *testing.T) {
	out := Collapse(uuid.New(), []RawError{
		raw("a", "R1", models.SeverityWarning),
		raw("b", "R2", models.SeverityFatal),
		raw("c", "R3", models.SeverityFatal),
		raw("c", "R3", models.SeverityFatal),
	})

	require.Len(t, out, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{out[0].FieldName, out[1].FieldName, out[2].FieldName})
}

func TestCollapse_TruncatesDescription(t *testing.T) {
	r := raw("a", "R1", models.SeverityFatal)
	r.Description = strings.Repeat("é", 1500)

	out := Collapse(uuid.New(), []RawError{r})
	require.Len(t, out, 1)
	assert.LessOrEqual(t, len(out[0].Description), 2000)
	assert.True(t, strings.HasPrefix(r.Description, out[0].Description))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "ab", truncateString("abc", 2))
	// a two-byte rune is never split
	assert.Equal(t, "a", truncateString("aé", 2))
}
