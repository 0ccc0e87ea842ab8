package learning

import (
	"testing"
	"time"

	"github.com/chartline/chartline/internal/domain/record"
)

func matchFact(t *testing.T, text string, ft record.FactType) *record.Fact {
	t.Helper()
	f, err := record.NewFact(text, "progress.txt", 1, time.Date(2024, 11, 2, 6, 0, 0, 0, time.UTC), 0.90, ft)
	if err != nil {
		t.Fatalf("NewFact error: %v", err)
	}
	return f
}

func TestMatchConfidence_TypeMismatch(t *testing.T) {
	p := NewPattern(record.FactScore, "GCS: 99", "GCS: 9", Context{}, time.Now())
	f := matchFact(t, "GCS: 99", record.FactLabValue)
	if got := MatchConfidence(p, f); got != 0 {
		t.Errorf("expected 0 across types, got %v", got)
	}
}

func TestMatchConfidence_Containment(t *testing.T) {
	p := NewPattern(record.FactScore, "GCS: 99", "GCS: 9", Context{}, time.Now())
	f := matchFact(t, "Exam notable for GCS: 99 this morning", record.FactScore)
	if got := MatchConfidence(p, f); got != 1.0 {
		t.Errorf("expected full match on containment, got %v", got)
	}
}

func TestMatchConfidence_NearMatch(t *testing.T) {
	p := NewPattern(record.FactMedication, "Medication: nimodipine 60mg q4h", "Medication: nimodipine 60mg PO q4h", Context{}, time.Now())
	f := matchFact(t, "Medication: nimodipine 30mg q4h", record.FactMedication)
	got := MatchConfidence(p, f)
	if got < 0.70 || got >= 1.0 {
		t.Errorf("expected a strong partial match, got %v", got)
	}
}

func TestMatchConfidence_Unrelated(t *testing.T) {
	p := NewPattern(record.FactFinding, "Patient ambulating independently", "Patient ambulating with assistance", Context{}, time.Now())
	f := matchFact(t, "Wound edges clean and dry", record.FactFinding)
	if got := MatchConfidence(p, f); got >= 0.70 {
		t.Errorf("expected unrelated text below the apply threshold, got %v", got)
	}
}

func TestMatchConfidence_ContextBonus(t *testing.T) {
	p := NewPattern(record.FactFinding, "Finding: drain output serosanguinous overnight", "Finding: drain output serous overnight", Context{SourceDoc: "progress"}, time.Now())
	near := "Finding: drain output purulent overnight"

	noCtx := matchFact(t, near, record.FactFinding)
	noCtx.SourceDoc = "consult.txt"
	withCtx := matchFact(t, near, record.FactFinding)

	base := MatchConfidence(p, noCtx)
	boosted := MatchConfidence(p, withCtx)
	if base >= 1.0 {
		t.Fatalf("expected a partial base match, got %v", base)
	}
	diff := boosted - base
	if diff < 0.099 || diff > 0.101 {
		t.Errorf("expected a 0.10 context bonus, got base %v boosted %v", base, boosted)
	}
}

func TestMatchConfidence_CappedAtOne(t *testing.T) {
	p := NewPattern(record.FactScore, "GCS: 99", "GCS: 9", Context{SourceDoc: "progress"}, time.Now())
	f := matchFact(t, "GCS: 99", record.FactScore)
	if got := MatchConfidence(p, f); got != 1.0 {
		t.Errorf("expected cap at 1.0 with the context bonus, got %v", got)
	}
}
