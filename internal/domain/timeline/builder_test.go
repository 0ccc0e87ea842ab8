package timeline

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chartline/chartline/internal/domain/record"
	"github.com/chartline/chartline/internal/kb"
)

func newBuilder(t *testing.T) *Builder {
	t.Helper()
	knowledge, err := kb.Load()
	if err != nil {
		t.Fatalf("kb.Load() error: %v", err)
	}
	return NewBuilder(knowledge, zerolog.Nop())
}

func mustFact(t *testing.T, text, doc string, ts time.Time, conf float64, ft record.FactType) *record.Fact {
	t.Helper()
	f, err := record.NewFact(text, doc, 1, ts, conf, ft)
	if err != nil {
		t.Fatalf("NewFact error: %v", err)
	}
	return f
}

func stayDocs() []record.Document {
	return []record.Document{
		{Name: "admission.txt", Type: record.DocAdmission, Timestamp: time.Date(2024, 11, 1, 8, 0, 0, 0, time.UTC), Text: "Admitted with SAH"},
		{Name: "operative.txt", Type: record.DocOperative, Timestamp: time.Date(2024, 11, 2, 14, 0, 0, 0, time.UTC),
			Text: "Procedure: craniotomy for aneurysm clipping"},
		{Name: "progress.txt", Type: record.DocProgress, Timestamp: time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC), Text: "POD#3"},
	}
}

func TestBuild_GroupsByResolvedDate(t *testing.T) {
	b := newBuilder(t)
	progTS := time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC)

	pod := mustFact(t, "Temporal reference: POD#3", "progress.txt", progTS, 0.80, record.FactTemporalRef)
	pod.Clinical.TemporalKind = "post_operative_day"
	v := 3.0
	pod.NumericValue = &v
	score := mustFact(t, "GCS: 12", "progress.txt", progTS, 0.95, record.FactScore)
	sv := 12.0
	score.NumericValue = &sv
	score.StringValue = "GCS"

	tl, conflicts := b.Build([]*record.Fact{pod, score}, stayDocs())
	if len(conflicts) != 0 {
		t.Errorf("expected no conflicts, got %+v", conflicts)
	}
	day, ok := tl.Days["2024-11-05"]
	if !ok || len(day) != 2 {
		t.Fatalf("expected both facts on 2024-11-05, got %v", tl.Days)
	}
	if pod.ResolvedTime == nil || !pod.ResolvedTime.Equal(time.Date(2024, 11, 5, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("expected POD#3 resolved against the surgery anchor, got %v", pod.ResolvedTime)
	}
	if len(tl.Anchors) != 2 {
		t.Errorf("expected 2 anchors, got %d", len(tl.Anchors))
	}
}

func TestBuild_DaySortOrder(t *testing.T) {
	b := newBuilder(t)
	day := time.Date(2024, 11, 3, 0, 0, 0, 0, time.UTC)

	late := mustFact(t, "GCS: 13", "evening.txt", day.Add(18*time.Hour), 0.95, record.FactScore)
	earlyLow := mustFact(t, "BP: 130/80", "morning.txt", day.Add(8*time.Hour), 0.90, record.FactVitalSign)
	earlyHigh := mustFact(t, "Lab: Sodium = 138 mmol/L", "morning_labs.txt", day.Add(8*time.Hour), 0.97, record.FactLabValue)

	tl, _ := b.Build([]*record.Fact{late, earlyLow, earlyHigh}, nil)
	got := tl.Days["2024-11-03"]
	if len(got) != 3 {
		t.Fatalf("expected 3 facts, got %d", len(got))
	}
	if got[0] != earlyHigh || got[1] != earlyLow || got[2] != late {
		t.Errorf("expected time-then-confidence ordering, got %q %q %q", got[0].Text, got[1].Text, got[2].Text)
	}
}

func TestBuild_ScoreTrends(t *testing.T) {
	b := newBuilder(t)
	d1 := time.Date(2024, 11, 1, 8, 0, 0, 0, time.UTC)
	d5 := time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC)

	n1 := mustFact(t, "NIHSS: 6", "admission.txt", d1, 0.95, record.FactScore)
	n2 := mustFact(t, "NIHSS: 12", "progress.txt", d5, 0.95, record.FactScore)
	g1 := mustFact(t, "GCS: 14", "admission.txt", d1, 0.95, record.FactScore)
	g2 := mustFact(t, "GCS: 12", "progress.txt", d5, 0.95, record.FactScore)
	for f, v := range map[*record.Fact]float64{n1: 6, n2: 12, g1: 14, g2: 12} {
		val := v
		f.NumericValue = &val
	}
	n1.StringValue, n2.StringValue = "NIHSS", "NIHSS"
	g1.StringValue, g2.StringValue = "GCS", "GCS"

	tl, _ := b.Build([]*record.Fact{n1, n2, g1, g2}, nil)
	trends := map[string]string{}
	for _, st := range tl.Progression.Neurological {
		trends[st.Metric] = st.Trend
	}
	if trends["NIHSS"] != "worsening" {
		t.Errorf("rising NIHSS: expected worsening, got %q", trends["NIHSS"])
	}
	if trends["GCS"] != "worsening" {
		t.Errorf("falling GCS: expected worsening, got %q", trends["GCS"])
	}
}

func TestBuild_ScoreTrendStableAndSparse(t *testing.T) {
	b := newBuilder(t)
	d1 := time.Date(2024, 11, 1, 8, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 11, 2, 8, 0, 0, 0, time.UTC)

	s1 := mustFact(t, "GCS: 14", "a.txt", d1, 0.95, record.FactScore)
	s2 := mustFact(t, "GCS: 15", "b.txt", d2, 0.95, record.FactScore)
	one := mustFact(t, "mRS: 2", "a.txt", d1, 0.95, record.FactScore)
	for f, v := range map[*record.Fact]float64{s1: 14, s2: 15, one: 2} {
		val := v
		f.NumericValue = &val
	}
	s1.StringValue, s2.StringValue, one.StringValue = "GCS", "GCS", "mRS"

	tl, _ := b.Build([]*record.Fact{s1, s2, one}, nil)
	trends := map[string]string{}
	for _, st := range tl.Progression.Neurological {
		trends[st.Metric] = st.Trend
	}
	if trends["GCS"] != "stable" {
		t.Errorf("one-point rise: expected stable, got %q", trends["GCS"])
	}
	if trends["mRS"] != "insufficient_data" {
		t.Errorf("single observation: expected insufficient_data, got %q", trends["mRS"])
	}
}

func TestBuild_LabTrendImproving(t *testing.T) {
	b := newBuilder(t)
	d1 := time.Date(2024, 11, 2, 6, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 11, 4, 6, 0, 0, 0, time.UTC)

	l1 := mustFact(t, "Lab: Sodium = 128 mmol/L", "labs1.txt", d1, 0.97, record.FactLabValue)
	l2 := mustFact(t, "Lab: Sodium = 138 mmol/L", "labs2.txt", d2, 0.97, record.FactLabValue)
	for f, v := range map[*record.Fact]float64{l1: 128, l2: 138} {
		val := v
		f.NumericValue = &val
		f.StringValue = "sodium"
	}
	l1.Severity = record.SeverityLow
	l2.Severity = record.SeverityNormal

	tl, _ := b.Build([]*record.Fact{l1, l2}, nil)
	if len(tl.Progression.Laboratory) != 1 {
		t.Fatalf("expected 1 lab trend, got %d", len(tl.Progression.Laboratory))
	}
	lt := tl.Progression.Laboratory[0]
	// under 10% movement reads stable, but the value re-entered range
	if lt.Trend != "stable" {
		t.Errorf("expected stable trend, got %q", lt.Trend)
	}
	if lt.Significance != "improving_to_normal" {
		t.Errorf("expected improving_to_normal significance, got %q", lt.Significance)
	}
	if lt.FirstValue != 128 || lt.LastValue != 138 {
		t.Errorf("unexpected endpoints %v..%v", lt.FirstValue, lt.LastValue)
	}
}

func TestBuild_StayFrame(t *testing.T) {
	b := newBuilder(t)
	docs := []record.Document{
		{Name: "admission.txt", Type: record.DocAdmission, Timestamp: time.Date(2024, 11, 1, 8, 0, 0, 0, time.UTC), Text: "Admitted"},
		{Name: "discharge.txt", Type: record.DocDischarge, Timestamp: time.Date(2024, 11, 10, 11, 0, 0, 0, time.UTC), Text: "Discharged home"},
	}
	med := mustFact(t, "Medication: levetiracetam 500mg BID", "discharge.txt", docs[1].Timestamp, 0.92, record.FactMedication)

	tl, _ := b.Build([]*record.Fact{med}, docs)
	if tl.AdmissionTime == nil || !tl.AdmissionTime.Equal(docs[0].Timestamp) {
		t.Errorf("expected admission time from the admission anchor, got %v", tl.AdmissionTime)
	}
	if tl.DischargeTime == nil || !tl.DischargeTime.Equal(docs[1].Timestamp) {
		t.Errorf("expected discharge time from discharge-note facts, got %v", tl.DischargeTime)
	}
	if tl.HospitalDays != 10 {
		t.Errorf("expected 10 hospital days, got %d", tl.HospitalDays)
	}
}

func TestBuild_NoDischargeNote(t *testing.T) {
	b := newBuilder(t)
	docs := []record.Document{
		{Name: "admission.txt", Type: record.DocAdmission, Timestamp: time.Date(2024, 11, 1, 8, 0, 0, 0, time.UTC), Text: "Admitted"},
	}

	tl, _ := b.Build(nil, docs)
	if tl.DischargeTime != nil {
		t.Errorf("expected no discharge time, got %v", tl.DischargeTime)
	}
	if tl.HospitalDays != 0 {
		t.Errorf("expected 0 hospital days without a discharge, got %d", tl.HospitalDays)
	}
}

func TestBuild_KeyEvents(t *testing.T) {
	b := newBuilder(t)
	docs := stayDocs()

	crit := mustFact(t, "Lab: Sodium = 120 mmol/L", "labs.txt", time.Date(2024, 11, 3, 6, 0, 0, 0, time.UTC), 0.97, record.FactLabValue)
	crit.Severity = record.SeverityCritical
	crit.StringValue = "sodium"
	v := 120.0
	crit.NumericValue = &v
	comp := mustFact(t, "Complication: vasospasm", "progress.txt", time.Date(2024, 11, 4, 9, 0, 0, 0, time.UTC), 0.90, record.FactComplication)
	normal := mustFact(t, "BP: 130/80", "nursing.txt", time.Date(2024, 11, 4, 12, 0, 0, 0, time.UTC), 0.90, record.FactVitalSign)

	tl, _ := b.Build([]*record.Fact{crit, comp, normal}, docs)
	if len(tl.KeyEvents) != 4 {
		t.Fatalf("expected 4 key events (2 anchors, critical lab, complication), got %d", len(tl.KeyEvents))
	}
	for i := 1; i < len(tl.KeyEvents); i++ {
		if tl.KeyEvents[i].Timestamp.Before(tl.KeyEvents[i-1].Timestamp) {
			t.Fatal("expected key events sorted by timestamp")
		}
	}
	if tl.KeyEvents[0].Category != "milestone" {
		t.Errorf("expected admission milestone first, got %q", tl.KeyEvents[0].Category)
	}
}

func TestSummarize(t *testing.T) {
	b := newBuilder(t)
	f := mustFact(t, "GCS: 14", "a.txt", time.Date(2024, 11, 1, 8, 0, 0, 0, time.UTC), 0.95, record.FactScore)
	v := 14.0
	f.NumericValue = &v
	f.StringValue = "GCS"

	tl, _ := b.Build([]*record.Fact{f}, nil)
	s := Summarize(tl)
	if s.Days != 1 || s.Facts != 1 {
		t.Errorf("unexpected summary %+v", s)
	}
}
