// Package validation runs the six-stage safety pipeline over extracted
// facts and their timeline. Every stage always runs; issues accumulate
// and never abort the pass.
package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chartline/chartline/internal/domain/record"
	"github.com/chartline/chartline/internal/kb"
)

// Issue types raised by the stages.
const (
	IssueInvalidFormat        = "INVALID_FACT_FORMAT"
	IssueCriticalLab          = "CRITICAL_LAB_VALUE"
	IssueInvalidScoreRange    = "INVALID_SCORE_RANGE"
	IssueExcessiveDose        = "EXCESSIVE_MEDICATION_DOSE"
	IssueTemporal             = "TEMPORAL_INCONSISTENCY"
	IssueDocumentationGap     = "DOCUMENTATION_GAP"
	IssueConflictingInfo      = "CONFLICTING_INFORMATION"
	IssueMedicationInteraction = "MEDICATION_INTERACTION"
	IssueContradictoryStmts   = "CONTRADICTORY_STATEMENTS"
	IssueContradictoryOutcome = "CONTRADICTORY_OUTCOMES"
	IssueDischargeStatus      = "DISCHARGE_STATUS_CONTRADICTION"
	IssueMissingInfo          = "MISSING_INFORMATION"
)

// Validator applies the clinical safety stages.
type Validator struct {
	kb  *kb.KnowledgeBase
	log zerolog.Logger
}

func NewValidator(knowledge *kb.KnowledgeBase, log zerolog.Logger) *Validator {
	return &Validator{kb: knowledge, log: log.With().Str("component", "validator").Logger()}
}

// Validate runs all six stages. It returns the facts that survived
// format validation and every uncertainty raised anywhere in the
// pipeline.
func (v *Validator) Validate(facts []*record.Fact, tl *record.Timeline) ([]*record.Fact, []record.Uncertainty) {
	validated, issues := v.validateFormat(facts)
	issues = append(issues, v.validateClinicalRules(validated)...)
	issues = append(issues, v.validateTemporal(tl)...)
	issues = append(issues, v.validateCrossFacts(validated)...)
	issues = append(issues, v.detectContradictions(validated)...)
	issues = append(issues, v.checkCompleteness(validated, tl)...)

	v.log.Debug().
		Int("facts_in", len(facts)).
		Int("validated", len(validated)).
		Int("issues", len(issues)).
		Msg("validation complete")
	return validated, issues
}

// -- Stage 1: format --

func (v *Validator) validateFormat(facts []*record.Fact) ([]*record.Fact, []record.Uncertainty) {
	var validated []*record.Fact
	var issues []record.Uncertainty
	for _, f := range facts {
		if strings.TrimSpace(f.Text) == "" {
			u := record.NewUncertainty(IssueInvalidFormat,
				fmt.Sprintf("fact from %s line %d has empty text", f.SourceDoc, f.SourceLine),
				record.SeverityMedium)
			u.FactIDs = []uuid.UUID{f.ID}
			issues = append(issues, u)
			continue
		}
		validated = append(validated, f)
	}
	return validated, issues
}

// -- Stage 2: clinical rules --

func (v *Validator) validateClinicalRules(facts []*record.Fact) []record.Uncertainty {
	var issues []record.Uncertainty
	for _, f := range facts {
		switch f.Type {
		case record.FactLabValue:
			if f.Severity == record.SeverityCritical {
				u := record.NewUncertainty(IssueCriticalLab,
					"Critical lab value requires immediate review: "+f.Text,
					record.SeverityHigh)
				u.FactIDs = []uuid.UUID{f.ID}
				u.SourceDocs = []string{f.SourceDoc}
				u.SuggestedResolution = "Verify value and confirm clinical response is documented"
				issues = append(issues, u)
			}
		case record.FactScore:
			if f.NumericValue == nil || f.StringValue == "" {
				continue
			}
			if !v.kb.ValidateScore(f.StringValue, *f.NumericValue) {
				desc := fmt.Sprintf("%s value %g outside valid range", f.StringValue, *f.NumericValue)
				if r, ok := v.kb.ScoreRange(f.StringValue); ok {
					desc = fmt.Sprintf("%s value %g outside valid range %g-%g", f.StringValue, *f.NumericValue, r.Low, r.High)
				}
				u := record.NewUncertainty(IssueInvalidScoreRange, desc, record.SeverityHigh)
				u.FactIDs = []uuid.UUID{f.ID}
				u.SourceDocs = []string{f.SourceDoc}
				u.SuggestedResolution = "Re-check the source note for a transcription error"
				issues = append(issues, u)
			}
		case record.FactMedication:
			if f.NumericValue == nil {
				continue
			}
			limit, ok := v.kb.DoseCeiling(f.StringValue)
			if ok && *f.NumericValue > limit.Max {
				u := record.NewUncertainty(IssueExcessiveDose,
					fmt.Sprintf("%s dose %g exceeds maximum %g %s", f.StringValue, *f.NumericValue, limit.Max, limit.Unit),
					record.SeverityHigh)
				u.FactIDs = []uuid.UUID{f.ID}
				u.SourceDocs = []string{f.SourceDoc}
				issues = append(issues, u)
			}
		}
	}
	return issues
}

// -- Stage 3: temporal consistency --

func (v *Validator) validateTemporal(tl *record.Timeline) []record.Uncertainty {
	if tl == nil {
		return nil
	}
	var issues []record.Uncertainty

	if tl.AdmissionTime != nil && tl.DischargeTime != nil && tl.DischargeTime.Before(*tl.AdmissionTime) {
		issues = append(issues, record.NewUncertainty(IssueTemporal,
			fmt.Sprintf("discharge %s is before admission %s",
				tl.DischargeTime.Format("2006-01-02"), tl.AdmissionTime.Format("2006-01-02")),
			record.SeverityHigh))
	}

	dates := make([]string, 0, len(tl.Days))
	for d := range tl.Days {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for i := 1; i < len(dates); i++ {
		prev, err1 := time.Parse("2006-01-02", dates[i-1])
		cur, err2 := time.Parse("2006-01-02", dates[i])
		if err1 != nil || err2 != nil {
			continue
		}
		gap := int(cur.Sub(prev).Hours() / 24)
		if gap > 3 {
			issues = append(issues, record.NewUncertainty(IssueDocumentationGap,
				fmt.Sprintf("%d-day gap in documentation between %s and %s", gap, dates[i-1], dates[i]),
				record.SeverityMedium))
		}
	}
	return issues
}

// -- Stage 4: cross-fact --

const conflictWindow = time.Hour

func (v *Validator) validateCrossFacts(facts []*record.Fact) []record.Uncertainty {
	var issues []record.Uncertainty

	scores := make(map[string][]*record.Fact)
	var medNames []string
	var medDocs []string
	for _, f := range facts {
		switch f.Type {
		case record.FactScore:
			if f.NumericValue != nil && f.StringValue != "" {
				scores[f.StringValue] = append(scores[f.StringValue], f)
			}
		case record.FactMedication:
			medNames = append(medNames, f.StringValue)
			medDocs = append(medDocs, f.SourceDoc)
		}
	}

	for metric, group := range scores {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if *a.NumericValue == *b.NumericValue {
					continue
				}
				dt := a.EffectiveTime().Sub(b.EffectiveTime())
				if dt < 0 {
					dt = -dt
				}
				if dt <= conflictWindow {
					u := record.NewUncertainty(IssueConflictingInfo,
						fmt.Sprintf("%s documented as both %g and %g within one hour", metric, *a.NumericValue, *b.NumericValue),
						record.SeverityHigh)
					u.FactIDs = []uuid.UUID{a.ID, b.ID}
					u.SourceDocs = []string{a.SourceDoc, b.SourceDoc}
					u.SuggestedResolution = "Confirm which assessment is correct"
					issues = append(issues, u)
				}
			}
		}
	}

	for _, inter := range v.kb.MedicationInteractions(medNames) {
		u := record.NewUncertainty(IssueMedicationInteraction, inter.Description+": "+strings.Join(inter.Drugs, ", "), inter.Severity)
		u.SourceDocs = medDocs
		issues = append(issues, u)
	}
	return issues
}

// -- Stage 5: contradictions --

var noComplicationRe = regexp.MustCompile(`(?i)\b(?:no|without)\b[^.;]*complication`)

func (v *Validator) detectContradictions(facts []*record.Fact) []record.Uncertainty {
	var issues []record.Uncertainty

	var complications []*record.Fact
	var noComplicationStmts []*record.Fact
	var procedures []*record.Fact
	var stableStmts []*record.Fact
	var criticalLabs []*record.Fact
	for _, f := range facts {
		lower := strings.ToLower(f.Text)
		switch f.Type {
		case record.FactComplication:
			complications = append(complications, f)
		case record.FactProcedure:
			procedures = append(procedures, f)
		case record.FactFinding:
			if noComplicationRe.MatchString(f.Text) {
				noComplicationStmts = append(noComplicationStmts, f)
			}
			if strings.Contains(lower, "stable") && strings.Contains(lower, "discharge") {
				stableStmts = append(stableStmts, f)
			}
		case record.FactLabValue:
			if f.Severity == record.SeverityCritical {
				criticalLabs = append(criticalLabs, f)
			}
		}
	}

	for _, c := range complications {
		for _, stmt := range noComplicationStmts {
			if !stmt.EffectiveTime().Before(c.EffectiveTime()) {
				continue
			}
			u := record.NewUncertainty(IssueContradictoryStmts,
				`"no complications" statement conflicts with a later documented complication: `+c.Text,
				record.SeverityHigh)
			u.FactIDs = []uuid.UUID{stmt.ID, c.ID}
			u.SourceDocs = []string{stmt.SourceDoc, c.SourceDoc}
			issues = append(issues, u)
			break
		}
	}

	sort.SliceStable(procedures, func(i, j int) bool {
		return procedures[i].EffectiveTime().Before(procedures[j].EffectiveTime())
	})
	for i, p := range procedures {
		if !strings.Contains(strings.ToLower(p.Text), "success") {
			continue
		}
		for _, later := range procedures[i+1:] {
			if isRevision(later.Text) {
				u := record.NewUncertainty(IssueContradictoryOutcome,
					"revision procedure follows a reportedly successful one: "+later.Text,
					record.SeverityMedium)
				u.FactIDs = []uuid.UUID{p.ID, later.ID}
				u.SourceDocs = []string{p.SourceDoc, later.SourceDoc}
				issues = append(issues, u)
			}
		}
	}

	for _, s := range stableStmts {
		for _, lab := range criticalLabs {
			lead := s.EffectiveTime().Sub(lab.EffectiveTime())
			if lead >= 0 && lead <= 48*time.Hour {
				u := record.NewUncertainty(IssueDischargeStatus,
					fmt.Sprintf("patient documented stable for discharge despite critical lab within 48 hours: %s", lab.Text),
					record.SeverityHigh)
				u.FactIDs = []uuid.UUID{s.ID, lab.ID}
				u.SourceDocs = []string{s.SourceDoc, lab.SourceDoc}
				issues = append(issues, u)
			}
		}
	}
	return issues
}

var revisionWords = []string{"revision", "repair", "re-do", "redo"}

func isRevision(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range revisionWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// -- Stage 6: completeness --

func (v *Validator) checkCompleteness(facts []*record.Fact, tl *record.Timeline) []record.Uncertainty {
	var hasDiagnosis, hasProcedure, hasDischargeMeds, hasFollowUp, hasInstructions bool
	for _, f := range facts {
		lower := strings.ToLower(f.Text)
		switch f.Type {
		case record.FactDiagnosis:
			hasDiagnosis = true
		case record.FactProcedure:
			hasProcedure = true
		case record.FactMedication:
			if strings.Contains(strings.ToLower(f.SourceDoc), "discharge") {
				hasDischargeMeds = true
			}
		}
		if strings.Contains(lower, "follow-up") || strings.Contains(lower, "follow up") {
			hasFollowUp = true
		}
		if strings.Contains(lower, "instruction") {
			hasInstructions = true
		}
	}

	var issues []record.Uncertainty
	if !hasDiagnosis {
		issues = append(issues, record.NewUncertainty(IssueMissingInfo,
			"no diagnosis documented for this stay", record.SeverityHigh))
	}
	if !hasProcedure {
		// a surgery anchor without an operative procedure fact is worse
		sev := record.SeverityMedium
		if tl != nil {
			for _, a := range tl.Anchors {
				if a.Kind == record.AnchorSurgery {
					sev = record.SeverityHigh
				}
			}
		}
		issues = append(issues, record.NewUncertainty(IssueMissingInfo,
			"no procedure documented", sev))
	}
	if !hasDischargeMeds {
		issues = append(issues, record.NewUncertainty(IssueMissingInfo,
			"no discharge medications documented", record.SeverityHigh))
	}
	if !hasFollowUp {
		issues = append(issues, record.NewUncertainty(IssueMissingInfo,
			"no follow-up plan documented", record.SeverityLow))
	}
	if !hasInstructions {
		issues = append(issues, record.NewUncertainty(IssueMissingInfo,
			"no discharge instructions documented", record.SeverityLow))
	}
	return issues
}

// -- Summary --

// Summary aggregates the issues raised by one validation pass.
type Summary struct {
	Total  int            `json:"total"`
	High   int            `json:"high"`
	Medium int            `json:"medium"`
	Low    int            `json:"low"`
	ByType map[string]int `json:"by_type"`
}

func Summarize(issues []record.Uncertainty) Summary {
	s := Summary{ByType: make(map[string]int)}
	for _, u := range issues {
		s.Total++
		s.ByType[u.Type]++
		switch u.Severity {
		case record.SeverityHigh, record.SeverityCritical:
			s.High++
		case record.SeverityMedium:
			s.Medium++
		case record.SeverityLow:
			s.Low++
		}
	}
	return s
}

// RequiresReview reports whether any issue is HIGH severity or worse.
func RequiresReview(issues []record.Uncertainty) bool {
	for _, u := range issues {
		if u.Severity == record.SeverityHigh || u.Severity == record.SeverityCritical {
			return true
		}
	}
	return false
}
