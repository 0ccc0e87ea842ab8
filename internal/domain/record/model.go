package record

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentType identifies the kind of clinical note a document holds.
type DocumentType string

const (
	DocAdmission      DocumentType = "admission"
	DocOperative      DocumentType = "operative"
	DocProgress       DocumentType = "progress"
	DocConsult        DocumentType = "consult"
	DocLab            DocumentType = "lab"
	DocDischarge      DocumentType = "discharge"
	DocNursing        DocumentType = "nursing"
	DocImaging        DocumentType = "imaging"
	DocMedicationList DocumentType = "medication_list"
)

var validDocumentTypes = map[DocumentType]bool{
	DocAdmission: true, DocOperative: true, DocProgress: true,
	DocConsult: true, DocLab: true, DocDischarge: true,
	DocNursing: true, DocImaging: true, DocMedicationList: true,
}

// ParseDocumentType maps an ingestion type tag to a DocumentType.
func ParseDocumentType(s string) (DocumentType, error) {
	dt := DocumentType(s)
	if !validDocumentTypes[dt] {
		return "", fmt.Errorf("unknown document type: %q", s)
	}
	return dt, nil
}

// Document is one immutable clinical note as received at ingestion.
type Document struct {
	Name      string       `json:"name"`
	Type      DocumentType `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Author    string       `json:"author,omitempty"`
	Specialty string       `json:"specialty,omitempty"`
	Text      string       `json:"text"`
}

// FactType classifies an extracted fact.
type FactType string

const (
	FactMedication  FactType = "medication"
	FactLabValue    FactType = "lab_value"
	FactScore       FactType = "clinical_score"
	FactVitalSign   FactType = "vital_sign"
	FactTemporalRef FactType = "temporal_reference"
	FactProcedure   FactType = "procedure"
	FactFinding     FactType = "finding"
	FactComplication FactType = "complication"
	FactRecommendation FactType = "recommendation"
	FactDiagnosis   FactType = "diagnosis"
)

// Severity grades a fact or uncertainty.
type Severity string

const (
	SeverityNormal   Severity = "NORMAL"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
	SeverityUnknown  Severity = "UNKNOWN"
)

// Range is an inclusive numeric reference interval.
type Range struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// Contains reports whether v falls inside the interval.
func (r Range) Contains(v float64) bool {
	return v >= r.Low && v <= r.High
}

// Concept is a normalized interpretation of a lab value or score.
type Concept struct {
	Kind         string   `json:"kind"`
	Name         string   `json:"name"`
	Value        float64  `json:"value"`
	Unit         string   `json:"unit,omitempty"`
	NormalRange  *Range   `json:"normal_range,omitempty"`
	Severity     Severity `json:"severity"`
	Implications []string `json:"implications,omitempty"`
}

// Resolution records how a temporal reference was (or was not) resolved.
type Resolution struct {
	Resolved bool   `json:"resolved"`
	Method   string `json:"method,omitempty"`
}

// Learning records correction provenance on a fact.
type Learning struct {
	OriginalText string `json:"original_text,omitempty"`
}

// Clinical carries optional per-concern extraction metadata. It replaces a
// free-form context map with typed fields.
type Clinical struct {
	DrugClass     string   `json:"drug_class,omitempty"`
	Monitoring    []string `json:"monitoring,omitempty"`
	Indications   []string `json:"indications,omitempty"`
	NormalRange   *Range   `json:"normal_range,omitempty"`
	SeverityLabel string   `json:"severity_label,omitempty"`
	TemporalKind  string   `json:"temporal_kind,omitempty"`
	RawText       string   `json:"raw_text,omitempty"`
	Surrounding   string   `json:"surrounding,omitempty"`
	Specialty     string   `json:"specialty,omitempty"`
	MergedCount   int      `json:"merged_count,omitempty"`
}

// Fact is one atomic extracted clinical statement with provenance and
// confidence. Only temporal resolution and approved learning corrections
// mutate a fact after extraction.
type Fact struct {
	ID           uuid.UUID  `json:"id"`
	Text         string     `json:"text"`
	SourceDoc    string     `json:"source_doc"`
	SourceLine   int        `json:"source_line"`
	Timestamp    time.Time  `json:"timestamp"`
	ResolvedTime *time.Time `json:"resolved_time,omitempty"`
	Confidence   float64    `json:"confidence"`
	Type         FactType   `json:"type"`
	Severity     Severity   `json:"severity,omitempty"`
	Significance Severity   `json:"significance,omitempty"`

	NumericValue *float64 `json:"numeric_value,omitempty"`
	StringValue  string   `json:"string_value,omitempty"`
	Concept      *Concept `json:"concept,omitempty"`

	RequiresReview    bool   `json:"requires_review"`
	CorrectionApplied bool   `json:"correction_applied,omitempty"`
	CorrectionPattern string `json:"correction_pattern,omitempty"`

	Resolution Resolution `json:"resolution"`
	Learning   Learning   `json:"learning,omitempty"`
	Clinical   Clinical   `json:"clinical,omitempty"`
}

// NewFact constructs a fact, enforcing the confidence invariant. Out-of-range
// confidence is an error, never coerced.
func NewFact(text string, sourceDoc string, sourceLine int, ts time.Time, confidence float64, factType FactType) (*Fact, error) {
	if confidence < 0.0 || confidence > 1.0 {
		return nil, fmt.Errorf("confidence must be between 0.0 and 1.0, got %v", confidence)
	}
	return &Fact{
		ID:         uuid.New(),
		Text:       text,
		SourceDoc:  sourceDoc,
		SourceLine: sourceLine,
		Timestamp:  ts,
		Confidence: confidence,
		Type:       factType,
	}, nil
}

// EffectiveTime returns the resolved timestamp when present, otherwise the
// original one.
func (f *Fact) EffectiveTime() time.Time {
	if f.ResolvedTime != nil {
		return *f.ResolvedTime
	}
	return f.Timestamp
}

// DateKey returns the calendar date of the effective time as YYYY-MM-DD.
func (f *Fact) DateKey() string {
	return f.EffectiveTime().Format("2006-01-02")
}

// AnchorKind is the type of a document-derived reference timestamp.
type AnchorKind string

const (
	AnchorSurgery   AnchorKind = "surgery"
	AnchorAdmission AnchorKind = "admission"
)

// Anchor is a reference event used to resolve relative time references.
// Anchors are recomputed on every run and never persisted.
type Anchor struct {
	Kind        AnchorKind `json:"kind"`
	Timestamp   time.Time  `json:"timestamp"`
	Description string     `json:"description"`
	SourceDoc   string     `json:"source_doc"`
	Specialty   string     `json:"specialty,omitempty"`
}

// ScoreObservation is one dated score value inside a trend.
type ScoreObservation struct {
	Date       string  `json:"date"`
	Value      float64 `json:"value"`
	SourceDoc  string  `json:"source_doc"`
	Confidence float64 `json:"confidence"`
}

// ScoreTrend summarizes the course of one clinical score.
type ScoreTrend struct {
	Metric string             `json:"metric"`
	Trend  string             `json:"trend"`
	Values []ScoreObservation `json:"values"`
}

// LabObservation is one dated lab value inside a trend.
type LabObservation struct {
	Date      string   `json:"date"`
	Value     float64  `json:"value"`
	Severity  Severity `json:"severity"`
	SourceDoc string   `json:"source_doc"`
}

// LabTrend summarizes the course of one lab analyte.
type LabTrend struct {
	Lab           string           `json:"lab"`
	Trend         string           `json:"trend"`
	Significance  string           `json:"significance"`
	FirstValue    float64          `json:"first_value"`
	LastValue     float64          `json:"last_value"`
	ChangePercent float64          `json:"change_percent"`
	Values        []LabObservation `json:"values"`
}

// ProgressionEvent is a dated complication or intervention entry.
type ProgressionEvent struct {
	Date        string   `json:"date"`
	Description string   `json:"description"`
	Type        FactType `json:"type"`
	Severity    Severity `json:"severity,omitempty"`
	SourceDoc   string   `json:"source_doc"`
}

// Progression groups per-concern course summaries.
type Progression struct {
	Neurological  []ScoreTrend       `json:"neurological"`
	Laboratory    []LabTrend         `json:"laboratory"`
	Complications []ProgressionEvent `json:"complications"`
	Interventions []ProgressionEvent `json:"interventions"`
}

// KeyEvent is one ranked milestone on the timeline.
type KeyEvent struct {
	Date         string    `json:"date"`
	Timestamp    time.Time `json:"timestamp"`
	Kind         string    `json:"kind"`
	Description  string    `json:"description"`
	Significance Severity  `json:"significance"`
	Category     string    `json:"category"`
}

// Timeline is the chronologically ordered clinical record. It is built once
// and read-only afterwards.
type Timeline struct {
	Days          map[string][]*Fact `json:"days"`
	Progression   Progression        `json:"progression"`
	KeyEvents     []KeyEvent         `json:"key_events"`
	Anchors       []Anchor           `json:"anchors"`
	AdmissionTime *time.Time         `json:"admission_time,omitempty"`
	DischargeTime *time.Time         `json:"discharge_time,omitempty"`
	HospitalDays  int                `json:"hospital_days"`
}

// Uncertainty is a validator finding that needs human attention. Findings are
// data, not errors.
type Uncertainty struct {
	ID                  uuid.UUID   `json:"id"`
	Type                string      `json:"type"`
	Description         string      `json:"description"`
	Severity            Severity    `json:"severity"`
	FactIDs             []uuid.UUID `json:"fact_ids,omitempty"`
	SuggestedResolution string      `json:"suggested_resolution,omitempty"`
	SourceDocs          []string    `json:"source_docs,omitempty"`
}

// NewUncertainty constructs an uncertainty with a fresh id.
func NewUncertainty(uncType, description string, severity Severity) Uncertainty {
	return Uncertainty{
		ID:          uuid.New(),
		Type:        uncType,
		Description: description,
		Severity:    severity,
	}
}
