// Package learning holds the approval-gated correction loop: reviewers
// submit corrections to extracted facts, approved corrections become
// patterns, and patterns are applied to future extractions only while
// their success rate holds up.
package learning

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/chartline/chartline/internal/domain/record"
)

// ApprovalState is the review status of a pattern. Approval and
// rejection are terminal.
type ApprovalState string

const (
	StatePending  ApprovalState = "pending"
	StateApproved ApprovalState = "approved"
	StateRejected ApprovalState = "rejected"
)

// Context captures where a correction was observed. Contexts accumulate
// across resubmissions of the same pattern.
type Context struct {
	SourceDoc   string `json:"source_doc,omitempty"`
	Surrounding string `json:"surrounding,omitempty"`
	SubmittedBy string `json:"submitted_by,omitempty"`
}

// Pattern is one learned correction. Its ID is content-derived, so the
// same correction always lands on the same pattern.
type Pattern struct {
	ID            string          `json:"id"`
	FactType      record.FactType `json:"fact_type"`
	OriginalText  string          `json:"original_text"`
	CorrectedText string          `json:"corrected_text"`
	State         ApprovalState   `json:"state"`
	SuccessRate   float64         `json:"success_rate"`
	AppliedCount  int             `json:"applied_count"`
	SubmitCount   int             `json:"submit_count"`
	Contexts      []Context       `json:"contexts,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ReviewedAt    *time.Time      `json:"reviewed_at,omitempty"`
	ReviewedBy    string          `json:"reviewed_by,omitempty"`
	ReviewReason  string          `json:"review_reason,omitempty"`
}

// PatternID derives the content hash identifying a correction.
func PatternID(factType record.FactType, original, corrected string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%s_%s", factType, original, corrected)))
	return hex.EncodeToString(sum[:])
}

// NewPattern builds a pending pattern with a fully optimistic success
// rate; outcomes pull the rate down from there.
func NewPattern(factType record.FactType, original, corrected string, ctx Context, now time.Time) *Pattern {
	return &Pattern{
		ID:            PatternID(factType, original, corrected),
		FactType:      factType,
		OriginalText:  original,
		CorrectedText: corrected,
		State:         StatePending,
		SuccessRate:   1.0,
		SubmitCount:   1,
		Contexts:      []Context{ctx},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
