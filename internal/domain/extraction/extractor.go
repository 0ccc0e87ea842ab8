// Package extraction turns free-text clinical documents into typed,
// confidence-scored facts. Extraction is deterministic: ordered rule
// units scan every line and each emits zero or more facts.
package extraction

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/chartline/chartline/internal/domain/record"
	"github.com/chartline/chartline/internal/kb"
)

// Extractor applies the rule units against documents. Safe for
// concurrent use; all state lives in the knowledge base snapshot.
type Extractor struct {
	kb  *kb.KnowledgeBase
	log zerolog.Logger
}

func New(knowledge *kb.KnowledgeBase, log zerolog.Logger) *Extractor {
	return &Extractor{kb: knowledge, log: log.With().Str("component", "extractor").Logger()}
}

// Extract runs every rule unit over each line of the document. Source
// line numbers are 1-based. Facts come back in reading order.
func (x *Extractor) Extract(doc record.Document) ([]*record.Fact, error) {
	var facts []*record.Fact
	lines := strings.Split(doc.Text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lineNo := i + 1
		for _, rule := range ruleUnits {
			got, err := rule.extract(x, doc, trimmed, lineNo)
			if err != nil {
				return nil, err
			}
			facts = append(facts, got...)
		}
	}

	x.log.Debug().
		Str("document", doc.Name).
		Int("facts", len(facts)).
		Msg("extraction complete")
	return facts, nil
}

// Deduplicate collapses facts with identical text, keeping the first
// occurrence's position and the highest confidence seen. Merge counts
// record how many raw facts fed each survivor.
func Deduplicate(facts []*record.Fact) []*record.Fact {
	seen := make(map[string]*record.Fact, len(facts))
	out := make([]*record.Fact, 0, len(facts))
	for _, f := range facts {
		prev, ok := seen[f.Text]
		if !ok {
			seen[f.Text] = f
			out = append(out, f)
			continue
		}
		if f.Confidence > prev.Confidence {
			prev.Confidence = f.Confidence
		}
		if prev.Clinical.MergedCount == 0 {
			prev.Clinical.MergedCount = 2
		} else {
			prev.Clinical.MergedCount++
		}
	}
	return out
}

// Stats summarizes one extraction pass.
type Stats struct {
	Total          int              `json:"total"`
	ByType         map[string]int   `json:"by_type"`
	AvgConfidence  float64          `json:"avg_confidence"`
	RequiresReview int              `json:"requires_review"`
}

func Summarize(facts []*record.Fact) Stats {
	s := Stats{ByType: make(map[string]int)}
	var sum float64
	for _, f := range facts {
		s.Total++
		s.ByType[string(f.Type)]++
		sum += f.Confidence
		if f.RequiresReview {
			s.RequiresReview++
		}
	}
	if s.Total > 0 {
		s.AvgConfidence = sum / float64(s.Total)
	}
	return s
}
