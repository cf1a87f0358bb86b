// Package errorcount aggregates validation failures into per-job and
// per-submission error and warning totals.
package errorcount

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

// RawError is a single rule failure as reported by a validator, one per
// failing row.
type RawError struct {
	FieldName         string           `json:"field_name"          validate:"required"`
	RuleLabel         string           `json:"rule_label"`
	Severity          models.Severity  `json:"severity"            validate:"required,oneof=fatal warning"`
	ErrorType         string           `json:"error_type"`
	Description       string           `json:"description"`
	OriginalRuleLabel string           `json:"original_rule_label"`
	FileType          *models.FileType `json:"file_type,omitempty"`
	TargetFileType    *models.FileType `json:"target_file_type,omitempty"`
}

type collapseKey struct {
	field    string
	rule     string
	severity models.Severity
}

// Collapse folds raw failures into one ErrorMetadata per (field, rule,
// severity), sorted by occurrences descending. Ties keep first-seen order.
// Returns an empty slice for empty input (never nil).
func Collapse(jobID uuid.UUID, raws []RawError) []*models.ErrorMetadata {
	if len(raws) == 0 {
		return []*models.ErrorMetadata{}
	}

	groups := make(map[collapseKey]*models.ErrorMetadata)
	order := make([]*models.ErrorMetadata, 0)

	for _, raw := range raws {
		key := collapseKey{
			field:    strings.TrimSpace(raw.FieldName),
			rule:     strings.TrimSpace(raw.RuleLabel),
			severity: raw.Severity,
		}
		meta, exists := groups[key]
		if !exists {
			meta = &models.ErrorMetadata{
				ID:                uuid.New(),
				JobID:             jobID,
				FieldName:         key.field,
				RuleLabel:         key.rule,
				Severity:          key.severity,
				ErrorType:         raw.ErrorType,
				Description:       truncateString(raw.Description, 2000),
				OriginalRuleLabel: raw.OriginalRuleLabel,
				FileType:          raw.FileType,
				TargetFileType:    raw.TargetFileType,
			}
			groups[key] = meta
			order = append(order, meta)
		}
		meta.Occurrences++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Occurrences > order[j].Occurrences
	})
	return order
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
