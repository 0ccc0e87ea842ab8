// Package temporal resolves relative time expressions (POD#3, HD#2,
// "overnight") against the admission and surgery anchors of a hospital
// stay, and reports timeline conflicts it cannot reconcile.
package temporal

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chartline/chartline/internal/domain/record"
)

// Conflict is a temporal inconsistency surfaced during resolution. It
// is reported, never fatal.
type Conflict struct {
	Type        string          `json:"type"`
	Description string          `json:"description"`
	FactID      uuid.UUID       `json:"fact_id,omitempty"`
	Severity    record.Severity `json:"severity"`
}

const (
	ConflictBeforeAdmission    = "BEFORE_ADMISSION"
	ConflictPODWithoutSurgery  = "POD_WITHOUT_SURGERY"
	ConflictHDWithoutAdmission = "HD_WITHOUT_ADMISSION"
)

// Stats summarizes one resolution pass.
type Stats struct {
	Temporal   int            `json:"temporal"`
	Resolved   int            `json:"resolved"`
	Unresolved int            `json:"unresolved"`
	ByMethod   map[string]int `json:"by_method"`
}

// Resolver rewrites temporal reference facts onto absolute timestamps.
type Resolver struct {
	log zerolog.Logger
}

func NewResolver(log zerolog.Logger) *Resolver {
	return &Resolver{log: log.With().Str("component", "temporal").Logger()}
}

// -- Anchors --

var anchorProcedureRe = regexp.MustCompile(`(?im)^procedure[:\s]+(.+)$`)

// BuildAnchors derives the stay's anchor events from document metadata:
// every admission note is an admission anchor and every operative note
// a surgery anchor, stamped with the document's timestamp.
func BuildAnchors(docs []record.Document) []record.Anchor {
	var anchors []record.Anchor
	for _, d := range docs {
		switch d.Type {
		case record.DocAdmission:
			anchors = append(anchors, record.Anchor{
				Kind:        record.AnchorAdmission,
				Timestamp:   d.Timestamp,
				Description: "Hospital admission",
				SourceDoc:   d.Name,
				Specialty:   d.Specialty,
			})
		case record.DocOperative:
			desc := "Surgery"
			if m := anchorProcedureRe.FindStringSubmatch(d.Text); m != nil {
				desc = strings.TrimSpace(m[1])
			}
			anchors = append(anchors, record.Anchor{
				Kind:        record.AnchorSurgery,
				Timestamp:   d.Timestamp,
				Description: desc,
				SourceDoc:   d.Name,
				Specialty:   d.Specialty,
			})
		}
	}
	sort.SliceStable(anchors, func(i, j int) bool {
		return anchors[i].Timestamp.Before(anchors[j].Timestamp)
	})
	return anchors
}

// -- Resolution --

// Resolve walks every temporal reference fact and computes its absolute
// timestamp where an anchor or offset rule applies. A reference counts
// as resolved only when the computed time differs from the fact's
// document timestamp; resolution raises confidence by 0.15, capped at
// 0.95. Facts whose expression kind has no resolution rule stay
// unresolved.
func (r *Resolver) Resolve(facts []*record.Fact, anchors []record.Anchor) Stats {
	stats := Stats{ByMethod: make(map[string]int)}
	for _, f := range facts {
		if f.Type != record.FactTemporalRef {
			continue
		}
		stats.Temporal++

		resolved, method, ok := r.compute(f, anchors)
		if !ok || resolved.Equal(f.Timestamp) {
			stats.Unresolved++
			if !ok {
				r.log.Warn().
					Str("kind", f.Clinical.TemporalKind).
					Str("text", f.Text).
					Str("document", f.SourceDoc).
					Msg("temporal reference not resolvable")
			}
			continue
		}

		t := resolved
		f.ResolvedTime = &t
		f.Resolution = record.Resolution{Resolved: true, Method: method}
		f.Confidence += 0.15
		if f.Confidence > 0.95 {
			f.Confidence = 0.95
		}
		stats.Resolved++
		stats.ByMethod[method]++
	}
	return stats
}

func (r *Resolver) compute(f *record.Fact, anchors []record.Anchor) (time.Time, string, bool) {
	n := 0
	if f.NumericValue != nil {
		n = int(*f.NumericValue)
	}
	ts := f.Timestamp

	switch f.Clinical.TemporalKind {
	case "post_operative_day":
		// latest surgery at or before the fact keeps its clock time
		var surgery *record.Anchor
		for i := range anchors {
			a := anchors[i]
			if a.Kind == record.AnchorSurgery && !a.Timestamp.After(ts) {
				surgery = &a
			}
		}
		if surgery == nil {
			return time.Time{}, "", false
		}
		return surgery.Timestamp.AddDate(0, 0, n), "POD_anchor_based", true

	case "hospital_day":
		for _, a := range anchors {
			if a.Kind == record.AnchorAdmission {
				return a.Timestamp.AddDate(0, 0, n-1), "HD_anchor_based", true
			}
		}
		return time.Time{}, "", false

	case "hours_after":
		return ts.Add(time.Duration(n) * time.Hour), "relative_hours", true

	case "days_after":
		return ts.AddDate(0, 0, n), "relative_days", true

	case "previous_day":
		return ts.AddDate(0, 0, -1), "relative_previous", true

	case "next_morning":
		next := ts.AddDate(0, 0, 1)
		return time.Date(next.Year(), next.Month(), next.Day(), 8, 0, 0, 0, next.Location()), "relative_next_morning", true

	case "same_day":
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location()), "same_day_normalization", true

	case "same_evening":
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 18, 0, 0, 0, ts.Location()), "same_day_normalization", true

	case "next_day":
		return ts.AddDate(0, 0, 1), "relative_next_day", true
	}

	return time.Time{}, "", false
}

// -- Conflicts --

// DetectConflicts reports facts that sit outside the stay's anchor
// structure. Conflicts never block the pipeline.
func (r *Resolver) DetectConflicts(facts []*record.Fact, anchors []record.Anchor) []Conflict {
	var admission *record.Anchor
	var hasSurgery bool
	for i := range anchors {
		switch anchors[i].Kind {
		case record.AnchorAdmission:
			if admission == nil {
				admission = &anchors[i]
			}
		case record.AnchorSurgery:
			hasSurgery = true
		}
	}

	var conflicts []Conflict
	for _, f := range facts {
		if f.Type != record.FactTemporalRef {
			if admission != nil && f.EffectiveTime().Before(admission.Timestamp) {
				conflicts = append(conflicts, Conflict{
					Type:        ConflictBeforeAdmission,
					Description: "fact timestamped before hospital admission: " + f.Text,
					FactID:      f.ID,
					Severity:    record.SeverityHigh,
				})
			}
			continue
		}
		switch f.Clinical.TemporalKind {
		case "post_operative_day":
			if !hasSurgery {
				conflicts = append(conflicts, Conflict{
					Type:        ConflictPODWithoutSurgery,
					Description: "post-operative day reference without any operative note: " + f.Text,
					FactID:      f.ID,
					Severity:    record.SeverityHigh,
				})
			}
		case "hospital_day":
			if admission == nil {
				conflicts = append(conflicts, Conflict{
					Type:        ConflictHDWithoutAdmission,
					Description: "hospital day reference without an admission note: " + f.Text,
					FactID:      f.ID,
					Severity:    record.SeverityHigh,
				})
			}
		}
	}
	return conflicts
}
