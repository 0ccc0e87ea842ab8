package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chartline/chartline/internal/domain/learning"
	"github.com/chartline/chartline/internal/domain/record"
	"github.com/chartline/chartline/internal/domain/validation"
	"github.com/chartline/chartline/internal/kb"
)

func newEngine(t *testing.T, svc *learning.Service, opts Options) *Engine {
	t.Helper()
	knowledge, err := kb.Load()
	if err != nil {
		t.Fatalf("kb.Load() error: %v", err)
	}
	return New(knowledge, svc, opts, zerolog.Nop())
}

func sahCase() []record.Document {
	return []record.Document{
		{
			Name: "admission.txt", Type: record.DocAdmission,
			Timestamp: time.Date(2024, 11, 1, 8, 0, 0, 0, time.UTC),
			Text: "Diagnosis: Aneurysmal subarachnoid hemorrhage\n" +
				"Exam: GCS 14, NIHSS 6\n" +
				"Hunt and Hess grade 3, Fisher grade 3\n" +
				"Started nimodipine 60mg PO q4h",
		},
		{
			Name: "operative.txt", Type: record.DocOperative,
			Timestamp: time.Date(2024, 11, 2, 14, 0, 0, 0, time.UTC),
			Text: "Procedure: Right pterional craniotomy for aneurysm clipping\n" +
				"The procedure was completed without complications.",
		},
		{
			Name: "progress.txt", Type: record.DocProgress,
			Timestamp: time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC),
			Text: "POD#3: patient more somnolent\n" +
				"Exam: GCS 12, NIHSS 12\n" +
				"Sodium: 131",
		},
	}
}

func TestProcess_SAHCase(t *testing.T) {
	e := newEngine(t, nil, Options{Workers: 4})

	rec, err := e.Process(context.Background(), sahCase())
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if len(rec.Diagnostics) != 0 {
		t.Errorf("expected no diagnostics, got %+v", rec.Diagnostics)
	}
	if len(rec.Timeline.Days) < 3 {
		t.Errorf("expected at least 3 documented days, got %d", len(rec.Timeline.Days))
	}
	if len(rec.Timeline.Anchors) != 2 {
		t.Fatalf("expected admission and surgery anchors, got %d", len(rec.Timeline.Anchors))
	}

	var pod *record.Fact
	for _, f := range rec.Facts {
		if f.Type == record.FactTemporalRef {
			pod = f
		}
	}
	if pod == nil {
		t.Fatal("expected a temporal reference fact")
	}
	want := time.Date(2024, 11, 5, 14, 0, 0, 0, time.UTC)
	if pod.ResolvedTime == nil || !pod.ResolvedTime.Equal(want) {
		t.Errorf("expected POD#3 resolved to %v, got %v", want, pod.ResolvedTime)
	}
	if rec.Metrics.TemporalResolved != 1 {
		t.Errorf("expected 1 resolved reference, got %d", rec.Metrics.TemporalResolved)
	}

	var nihssTrend string
	for _, st := range rec.Timeline.Progression.Neurological {
		if st.Metric == "NIHSS" {
			nihssTrend = st.Trend
		}
	}
	if nihssTrend != "worsening" {
		t.Errorf("expected NIHSS trend worsening, got %q", nihssTrend)
	}
}

func TestProcess_ReviewFlagFollowsHighIssues(t *testing.T) {
	e := newEngine(t, nil, Options{Workers: 2})

	// nimodipine is high risk so facts carry review flags, and the
	// missing discharge medications raise a HIGH completeness issue
	rec, err := e.Process(context.Background(), sahCase())
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if !rec.RequiresReview {
		t.Error("expected the record to require review")
	}
	if rec.Metrics.Validation.High == 0 {
		t.Error("expected HIGH validation issues in the metrics")
	}
}

func TestProcess_Idempotent(t *testing.T) {
	e := newEngine(t, nil, Options{Workers: 3})

	first, err := e.Process(context.Background(), sahCase())
	if err != nil {
		t.Fatalf("first Process error: %v", err)
	}
	second, err := e.Process(context.Background(), sahCase())
	if err != nil {
		t.Fatalf("second Process error: %v", err)
	}
	if len(first.Facts) != len(second.Facts) {
		t.Errorf("expected stable fact count, got %d then %d", len(first.Facts), len(second.Facts))
	}
	if first.Metrics.FactsExtracted != second.Metrics.FactsExtracted {
		t.Errorf("expected stable extraction count, got %d then %d",
			first.Metrics.FactsExtracted, second.Metrics.FactsExtracted)
	}
	if len(first.Issues) != len(second.Issues) {
		t.Errorf("expected stable issue count, got %d then %d", len(first.Issues), len(second.Issues))
	}
}

func TestProcess_AppliesApprovedCorrections(t *testing.T) {
	svc := learning.NewService(learning.NewMemoryRepository(), zerolog.Nop())
	p, err := svc.SubmitCorrection(record.FactLabValue, "Lab: Sodium = 131 mmol/L", "Lab: Sodium = 131.5 mmol/L", learning.Context{SourceDoc: "progress"})
	if err != nil {
		t.Fatalf("SubmitCorrection error: %v", err)
	}
	if _, err := svc.Approve(p.ID, "dr.smith"); err != nil {
		t.Fatalf("Approve error: %v", err)
	}

	e := newEngine(t, svc, Options{Workers: 2, ApplyLearning: true})
	rec, err := e.Process(context.Background(), sahCase())
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if rec.Metrics.CorrectionsApplied != 1 {
		t.Fatalf("expected 1 correction applied, got %d", rec.Metrics.CorrectionsApplied)
	}
	var found bool
	for _, f := range rec.Facts {
		if f.CorrectionApplied {
			found = true
			if f.Text != "Lab: Sodium = 131.5 mmol/L" {
				t.Errorf("unexpected corrected text %q", f.Text)
			}
			if f.Learning.OriginalText != "Lab: Sodium = 131 mmol/L" {
				t.Errorf("expected original preserved, got %q", f.Learning.OriginalText)
			}
		}
	}
	if !found {
		t.Error("expected a corrected fact in the record")
	}
}

func TestProcess_PendingCorrectionsNotApplied(t *testing.T) {
	svc := learning.NewService(learning.NewMemoryRepository(), zerolog.Nop())
	if _, err := svc.SubmitCorrection(record.FactLabValue, "Lab: Sodium = 131 mmol/L", "Lab: Sodium = 131.5 mmol/L", learning.Context{}); err != nil {
		t.Fatalf("SubmitCorrection error: %v", err)
	}

	e := newEngine(t, svc, Options{Workers: 2, ApplyLearning: true})
	rec, err := e.Process(context.Background(), sahCase())
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if rec.Metrics.CorrectionsApplied != 0 {
		t.Errorf("expected no pending corrections applied, got %d", rec.Metrics.CorrectionsApplied)
	}
}

func TestProcess_DischargeContradictionFromNotes(t *testing.T) {
	e := newEngine(t, nil, Options{Workers: 2})
	docs := append(sahCase(),
		record.Document{
			Name: "lab_report.txt", Type: record.DocLab,
			Timestamp: time.Date(2024, 11, 9, 8, 0, 0, 0, time.UTC),
			Text:      "Sodium: 124",
		},
		record.Document{
			Name: "discharge_summary.txt", Type: record.DocDischarge,
			Timestamp: time.Date(2024, 11, 10, 10, 0, 0, 0, time.UTC),
			Text: "Patient stable for discharge.\n" +
				"Discharge instructions: follow up in neurosurgery clinic in 2 weeks",
		},
	)

	rec, err := e.Process(context.Background(), docs)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	var found bool
	for _, u := range rec.Issues {
		if u.Type == validation.IssueDischargeStatus {
			found = true
		}
	}
	if !found {
		t.Error("expected a discharge status contradiction from the extracted notes")
	}
}

func TestProcess_ContextCancelled(t *testing.T) {
	e := newEngine(t, nil, Options{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Process(ctx, sahCase()); err == nil {
		t.Error("expected error from a cancelled context")
	}
}

func TestProcess_EmptyDocumentSet(t *testing.T) {
	e := newEngine(t, nil, Options{Workers: 2})

	rec, err := e.Process(context.Background(), nil)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if len(rec.Facts) != 0 {
		t.Errorf("expected no facts, got %d", len(rec.Facts))
	}
	// completeness still reports what an empty record is missing
	if len(rec.Issues) == 0 {
		t.Error("expected completeness issues for an empty record")
	}
}
