// Package kb holds the clinical knowledge base: lab reference ranges,
// medication profiles, score bounds, temporal expression patterns and
// dosing ceilings. The tables are data, embedded as YAML, so the
// subspecialty content can evolve without code changes.
package kb

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chartline/chartline/internal/domain/record"
)

//go:embed data/knowledge.yaml
var embeddedKnowledge []byte

// -- YAML schema --

type labEntry struct {
	Range        record.Range      `yaml:"range"`
	Unit         string            `yaml:"unit"`
	CriticalLow  float64           `yaml:"critical_low"`
	CriticalHigh float64           `yaml:"critical_high"`
	Implications map[string]string `yaml:"implications"`
}

type medicationEntry struct {
	Class             string   `yaml:"class"`
	Subclass          string   `yaml:"subclass"`
	Indications       []string `yaml:"indications"`
	Contraindications []string `yaml:"contraindications"`
	Monitoring        []string `yaml:"monitoring"`
	HighRisk          bool     `yaml:"high_risk"`
}

type temporalPattern struct {
	Pattern string `yaml:"pattern"`
	Kind    string `yaml:"kind"`
}

type doseCeiling struct {
	Max  float64 `yaml:"max"`
	Unit string  `yaml:"unit"`
}

type knowledgeFile struct {
	Version          int                        `yaml:"version"`
	Labs             map[string]labEntry        `yaml:"labs"`
	Medications      map[string]medicationEntry `yaml:"medications"`
	HighRiskPatterns []string                   `yaml:"high_risk_patterns"`
	Scores           map[string]record.Range    `yaml:"scores"`
	TemporalPatterns []temporalPattern          `yaml:"temporal_patterns"`
	DoseCeilings     map[string]doseCeiling     `yaml:"dose_ceilings"`
}

// -- Knowledge base --

// LabProfile describes the reference data for one laboratory test.
type LabProfile struct {
	Name         string
	Range        record.Range
	Unit         string
	CriticalLow  float64
	CriticalHigh float64
	Implications map[string]string
}

// MedicationProfile describes one known medication.
type MedicationProfile struct {
	Name              string
	Class             string
	Subclass          string
	Indications       []string
	Contraindications []string
	Monitoring        []string
	HighRisk          bool
}

// CompiledTemporalPattern pairs a taxonomy kind with its compiled regexp.
// Order matters: callers must try patterns in slice order.
type CompiledTemporalPattern struct {
	Kind string
	Re   *regexp.Regexp
}

// DoseLimit is the ceiling above which an ordered dose is flagged.
type DoseLimit struct {
	Max  float64
	Unit string
}

// KnowledgeBase is an immutable snapshot of the clinical tables. It is
// safe for concurrent use.
type KnowledgeBase struct {
	labs             map[string]LabProfile
	medications      map[string]MedicationProfile
	highRiskPatterns []string
	scores           map[string]record.Range
	temporal         []CompiledTemporalPattern
	doseCeilings     map[string]DoseLimit
}

// Load builds the knowledge base from the embedded tables.
func Load() (*KnowledgeBase, error) {
	return parse(embeddedKnowledge)
}

// LoadFile builds the knowledge base from an external YAML file,
// overriding the embedded tables entirely.
func LoadFile(path string) (*KnowledgeBase, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) (*KnowledgeBase, error) {
	var f knowledgeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse knowledge tables: %w", err)
	}
	if len(f.Labs) == 0 {
		return nil, fmt.Errorf("knowledge tables contain no labs")
	}

	kb := &KnowledgeBase{
		labs:             make(map[string]LabProfile, len(f.Labs)),
		medications:      make(map[string]MedicationProfile, len(f.Medications)),
		highRiskPatterns: f.HighRiskPatterns,
		scores:           f.Scores,
		doseCeilings:     make(map[string]DoseLimit, len(f.DoseCeilings)),
	}
	for name, e := range f.Labs {
		kb.labs[strings.ToLower(name)] = LabProfile{
			Name:         strings.ToLower(name),
			Range:        e.Range,
			Unit:         e.Unit,
			CriticalLow:  e.CriticalLow,
			CriticalHigh: e.CriticalHigh,
			Implications: e.Implications,
		}
	}
	for name, e := range f.Medications {
		kb.medications[strings.ToLower(name)] = MedicationProfile{
			Name:              strings.ToLower(name),
			Class:             e.Class,
			Subclass:          e.Subclass,
			Indications:       e.Indications,
			Contraindications: e.Contraindications,
			Monitoring:        e.Monitoring,
			HighRisk:          e.HighRisk,
		}
	}
	for _, p := range f.TemporalPatterns {
		re, err := regexp.Compile(`(?i)` + p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile temporal pattern %q: %w", p.Pattern, err)
		}
		kb.temporal = append(kb.temporal, CompiledTemporalPattern{Kind: p.Kind, Re: re})
	}
	for name, c := range f.DoseCeilings {
		kb.doseCeilings[strings.ToLower(name)] = DoseLimit{Max: c.Max, Unit: c.Unit}
	}
	return kb, nil
}

// -- Labs --

// LabAssessment is the result of normalizing one lab value against the
// reference tables.
type LabAssessment struct {
	Known       bool
	Severity    record.Severity
	NormalRange record.Range
	Unit        string
	Implication string
}

// NormalizeLab grades value against the named lab's reference bands.
// Unknown labs come back with Known=false and UNKNOWN severity.
func (kb *KnowledgeBase) NormalizeLab(name string, value float64) LabAssessment {
	p, ok := kb.labs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return LabAssessment{Severity: record.SeverityUnknown}
	}
	a := LabAssessment{Known: true, NormalRange: p.Range, Unit: p.Unit}
	switch {
	case value <= p.CriticalLow:
		a.Severity = record.SeverityCritical
		a.Implication = p.Implications["critical_low"]
	case value >= p.CriticalHigh:
		a.Severity = record.SeverityCritical
		a.Implication = p.Implications["critical_high"]
	case value < p.Range.Low:
		a.Severity = record.SeverityLow
		a.Implication = p.Implications["low"]
	case value > p.Range.High:
		a.Severity = record.SeverityHigh
		a.Implication = p.Implications["high"]
	default:
		a.Severity = record.SeverityNormal
	}
	return a
}

// LabRange returns the normal range for a known lab.
func (kb *KnowledgeBase) LabRange(name string) (record.Range, bool) {
	p, ok := kb.labs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return record.Range{}, false
	}
	return p.Range, true
}

// LabTrendKind classifies the movement between two values of the same lab.
type LabTrendKind string

const (
	TrendStable             LabTrendKind = "stable"
	TrendImprovingToNormal  LabTrendKind = "improving_to_normal"
	TrendWorseningFromRange LabTrendKind = "worsening_from_normal"
	TrendIncreasing         LabTrendKind = "increasing"
	TrendDecreasing         LabTrendKind = "decreasing"
)

// TrendAssessment separates raw direction from clinical meaning: a lab
// can drift "stable" by magnitude yet still cross back into its normal
// range.
type TrendAssessment struct {
	Trend        LabTrendKind
	Significance LabTrendKind
}

// LabTrend compares the first and last values of one lab. Movement
// under ten percent of the earlier value counts as stable. Crossing the
// normal range boundary sets the clinical significance independently of
// the magnitude rule.
func (kb *KnowledgeBase) LabTrend(name string, earlier, later float64) TrendAssessment {
	var trend LabTrendKind
	switch {
	case earlier != 0 && abs(later-earlier)/abs(earlier) < 0.10:
		trend = TrendStable
	case later > earlier:
		trend = TrendIncreasing
	default:
		trend = TrendDecreasing
	}

	a := TrendAssessment{Trend: trend, Significance: trend}
	p, ok := kb.labs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return a
	}
	wasNormal := p.Range.Contains(earlier)
	isNormal := p.Range.Contains(later)
	switch {
	case !wasNormal && isNormal:
		a.Significance = TrendImprovingToNormal
	case wasNormal && !isNormal:
		a.Significance = TrendWorseningFromRange
	}
	return a
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// -- Medications --

// ClassifyMedication finds the profile whose name is contained in the
// given medication text (case-insensitive substring).
func (kb *KnowledgeBase) ClassifyMedication(name string) (MedicationProfile, bool) {
	lower := strings.ToLower(name)
	for key, p := range kb.medications {
		if strings.Contains(lower, key) {
			return p, true
		}
	}
	return MedicationProfile{}, false
}

// IsHighRisk reports whether the medication text names a high-risk drug,
// either by profile flag or by the extra pattern list.
func (kb *KnowledgeBase) IsHighRisk(name string) bool {
	if p, ok := kb.ClassifyMedication(name); ok && p.HighRisk {
		return true
	}
	lower := strings.ToLower(name)
	for _, pat := range kb.highRiskPatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// Interaction is a drug-combination concern detected across a medication
// list.
type Interaction struct {
	Description string
	Severity    record.Severity
	Drugs       []string
}

// MedicationInteractions scans a medication list for combination
// concerns: any anticoagulant in a neurosurgical context, and stacked
// opioids.
func (kb *KnowledgeBase) MedicationInteractions(names []string) []Interaction {
	var anticoagulants, opioids []string
	for _, n := range names {
		p, ok := kb.ClassifyMedication(n)
		if !ok {
			continue
		}
		switch {
		case strings.EqualFold(p.Class, "Anticoagulant"):
			anticoagulants = append(anticoagulants, n)
		case strings.EqualFold(p.Class, "Opioid analgesic"):
			opioids = append(opioids, n)
		}
	}
	var out []Interaction
	if len(anticoagulants) > 0 {
		out = append(out, Interaction{
			Description: "Anticoagulant in neurosurgical patient - bleeding risk",
			Severity:    record.SeverityHigh,
			Drugs:       anticoagulants,
		})
	}
	if len(opioids) > 1 {
		out = append(out, Interaction{
			Description: "Multiple opioids - additive respiratory depression risk",
			Severity:    record.SeverityMedium,
			Drugs:       opioids,
		})
	}
	return out
}

// DoseCeiling returns the flag threshold for a drug, matched by
// substring the same way ClassifyMedication matches.
func (kb *KnowledgeBase) DoseCeiling(name string) (DoseLimit, bool) {
	lower := strings.ToLower(name)
	for key, c := range kb.doseCeilings {
		if strings.Contains(lower, key) {
			return c, true
		}
	}
	return DoseLimit{}, false
}

// -- Scores --

// ScoreRange returns the valid range for a clinical score name.
func (kb *KnowledgeBase) ScoreRange(name string) (record.Range, bool) {
	r, ok := kb.scores[name]
	return r, ok
}

// ValidateScore reports whether a score value lies within the valid
// range for its scale. Unknown scales cannot be checked and validate
// as true.
func (kb *KnowledgeBase) ValidateScore(name string, value float64) bool {
	r, ok := kb.scores[name]
	if !ok {
		return true
	}
	return r.Contains(value)
}

// ScoreNames lists the known score scales.
func (kb *KnowledgeBase) ScoreNames() []string {
	names := make([]string, 0, len(kb.scores))
	for n := range kb.scores {
		names = append(names, n)
	}
	return names
}

// -- Temporal expressions --

// TemporalMatch is a recognized temporal expression inside free text.
type TemporalMatch struct {
	Kind    string
	Matched string
	Value   int // captured number for counted kinds, zero otherwise
}

// MatchTemporal returns the first temporal pattern that matches the
// text, honoring table order so specific patterns win over generic ones.
func (kb *KnowledgeBase) MatchTemporal(text string) (TemporalMatch, bool) {
	for _, p := range kb.temporal {
		m := p.Re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		match := TemporalMatch{Kind: p.Kind, Matched: m[0]}
		if len(m) > 1 {
			fmt.Sscanf(m[1], "%d", &match.Value)
		}
		return match, true
	}
	return TemporalMatch{}, false
}

// TemporalPatterns exposes the compiled pattern table in match order.
func (kb *KnowledgeBase) TemporalPatterns() []CompiledTemporalPattern {
	return kb.temporal
}
