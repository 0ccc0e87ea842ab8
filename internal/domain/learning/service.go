package learning

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chartline/chartline/internal/domain/record"
)

const (
	// ApplyThreshold gates both pattern health and match quality.
	ApplyThreshold = 0.70
	// emaWeight keeps the success rate dominated by history.
	emaWeight = 0.9
)

// Service manages the correction pattern lifecycle: submission, review,
// application and outcome tracking.
type Service struct {
	repo Repository
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "learning").Logger(),
		now:  time.Now,
	}
}

// SubmitCorrection records a reviewer's correction. Resubmitting the
// same correction merges context onto the existing pattern and never
// disturbs its review state.
func (s *Service) SubmitCorrection(factType record.FactType, original, corrected string, ctx Context) (*Pattern, error) {
	if original == "" || corrected == "" {
		return nil, fmt.Errorf("original and corrected text are required")
	}
	if original == corrected {
		return nil, fmt.Errorf("correction must differ from the original text")
	}

	id := PatternID(factType, original, corrected)
	existing, ok, err := s.repo.Find(id)
	if err != nil {
		return nil, err
	}
	if ok {
		existing.SubmitCount++
		existing.Contexts = append(existing.Contexts, ctx)
		existing.UpdatedAt = s.now()
		if err := s.repo.Save(existing); err != nil {
			return nil, err
		}
		s.log.Info().Str("pattern", id).Int("submissions", existing.SubmitCount).Msg("correction resubmitted")
		return existing, nil
	}

	p := NewPattern(factType, original, corrected, ctx, s.now())
	if err := s.repo.Save(p); err != nil {
		return nil, err
	}
	s.log.Info().Str("pattern", id).Str("fact_type", string(factType)).Msg("correction pattern created")
	return p, nil
}

// Approve moves a pending pattern to approved. Review decisions are
// final.
func (s *Service) Approve(id, reviewer string) (*Pattern, error) {
	return s.review(id, reviewer, "", StateApproved)
}

// Reject moves a pending pattern to rejected, recording the reviewer's
// reason. Review decisions are final.
func (s *Service) Reject(id, reviewer, reason string) (*Pattern, error) {
	return s.review(id, reviewer, reason, StateRejected)
}

func (s *Service) review(id, reviewer, reason string, state ApprovalState) (*Pattern, error) {
	p, ok, err := s.repo.Find(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("pattern %s not found", id)
	}
	if p.State != StatePending {
		return nil, fmt.Errorf("pattern %s already %s", id, p.State)
	}
	now := s.now()
	p.State = state
	p.ReviewedAt = &now
	p.ReviewedBy = reviewer
	p.ReviewReason = reason
	p.UpdatedAt = now
	if err := s.repo.Save(p); err != nil {
		return nil, err
	}
	s.log.Info().Str("pattern", id).Str("state", string(state)).Str("reviewer", reviewer).Msg("pattern reviewed")
	return p, nil
}

// Apply rewrites facts that match an approved, healthy pattern. The
// original text is preserved on the fact and the fact's confidence is
// scaled by the pattern's success rate. Returns the number of facts
// corrected.
func (s *Service) Apply(facts []*record.Fact) (int, error) {
	patterns, err := s.repo.List()
	if err != nil {
		return 0, err
	}
	var eligible []*Pattern
	for _, p := range patterns {
		if p.State == StateApproved && p.SuccessRate >= ApplyThreshold {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return 0, nil
	}

	applied := 0
	for _, f := range facts {
		if f.CorrectionApplied {
			continue
		}
		var best *Pattern
		var bestConf float64
		for _, p := range eligible {
			if conf := MatchConfidence(p, f); conf >= ApplyThreshold && conf > bestConf {
				best, bestConf = p, conf
			}
		}
		if best == nil {
			continue
		}

		f.Learning.OriginalText = f.Text
		f.Text = best.CorrectedText
		f.Confidence *= best.SuccessRate
		f.CorrectionApplied = true
		f.CorrectionPattern = best.ID
		best.AppliedCount++
		applied++
		s.log.Debug().Str("pattern", best.ID).Str("document", f.SourceDoc).Float64("match", bestConf).Msg("correction applied")
	}

	for _, p := range eligible {
		if p.AppliedCount > 0 {
			if err := s.repo.Save(p); err != nil {
				return applied, err
			}
		}
	}
	return applied, nil
}

// RecordOutcome folds a reviewer verdict about an applied correction
// into the pattern's success rate. A pattern that sinks below the apply
// threshold stops being applied but is never auto-disabled.
func (s *Service) RecordOutcome(id string, success bool) (*Pattern, error) {
	p, ok, err := s.repo.Find(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("pattern %s not found", id)
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	p.SuccessRate = emaWeight*p.SuccessRate + (1-emaWeight)*outcome
	p.UpdatedAt = s.now()
	if err := s.repo.Save(p); err != nil {
		return nil, err
	}
	if p.SuccessRate < ApplyThreshold {
		s.log.Warn().Str("pattern", id).Float64("success_rate", p.SuccessRate).Msg("pattern below apply threshold")
	}
	return p, nil
}

// List returns every stored pattern.
func (s *Service) List() ([]*Pattern, error) {
	return s.repo.List()
}
