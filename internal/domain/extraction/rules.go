package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/chartline/chartline/internal/domain/record"
)

// ruleUnit is one deterministic extraction rule. Units run in slice
// order on every non-empty line.
type ruleUnit struct {
	name    string
	extract func(x *Extractor, doc record.Document, line string, lineNo int) ([]*record.Fact, error)
}

var ruleUnits = []ruleUnit{
	{"lab_values", extractLabs},
	{"clinical_scores", extractScores},
	{"medications", extractMedications},
	{"vital_signs", extractVitals},
	{"temporal_references", extractTemporal},
	{"diagnoses", extractDiagnoses},
	{"procedures", extractProcedures},
	{"operative_events", extractOperativeEvents},
	{"recommendations", extractRecommendations},
	{"discharge_statements", extractDischargeStatements},
}

// -- Labs --

var labRe = regexp.MustCompile(`(?i)\b(sodium|na|potassium|glucose|hemoglobin|hgb|platelets|plt|inr|wbc|creatinine)\b\s*[:=]?\s*(\d+(?:\.\d+)?)`)

var labAliases = map[string]string{
	"na":  "sodium",
	"hgb": "hemoglobin",
	"plt": "platelets",
}

var labDisplay = map[string]string{
	"sodium":     "Sodium",
	"potassium":  "Potassium",
	"glucose":    "Glucose",
	"hemoglobin": "Hemoglobin",
	"platelets":  "Platelets",
	"inr":        "INR",
	"wbc":        "WBC",
	"creatinine": "Creatinine",
}

func extractLabs(x *Extractor, doc record.Document, line string, lineNo int) ([]*record.Fact, error) {
	var out []*record.Fact
	for _, m := range labRe.FindAllStringSubmatch(line, -1) {
		name := strings.ToLower(m[1])
		if canonical, ok := labAliases[name]; ok {
			name = canonical
		}
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		a := x.kb.NormalizeLab(name, value)

		conf := 0.95
		if doc.Type == record.DocLab {
			conf = 0.97
		}
		if conf > 0.98 {
			conf = 0.98
		}

		text := fmt.Sprintf("Lab: %s = %s", labDisplay[name], formatNumber(value))
		if a.Unit != "" {
			text += " " + a.Unit
		}
		f, err := record.NewFact(text, doc.Name, lineNo, doc.Timestamp, conf, record.FactLabValue)
		if err != nil {
			return nil, err
		}
		f.NumericValue = &value
		f.StringValue = name
		f.Severity = a.Severity
		f.Clinical.Surrounding = line
		if a.Known {
			nr := a.NormalRange
			f.Clinical.NormalRange = &nr
			f.Concept = &record.Concept{
				Kind:        "lab",
				Name:        name,
				Value:       value,
				Unit:        a.Unit,
				NormalRange: &nr,
				Severity:    a.Severity,
			}
			if a.Implication != "" {
				f.Concept.Implications = []string{a.Implication}
			}
		}
		switch a.Severity {
		case record.SeverityNormal, record.SeverityUnknown:
		default:
			f.RequiresReview = true
		}
		if a.Severity == record.SeverityCritical {
			f.Significance = record.SeverityHigh
		}
		out = append(out, f)
	}
	return out, nil
}

// -- Clinical scores --

var scoreRes = []struct {
	name string
	re   *regexp.Regexp
}{
	{"NIHSS", regexp.MustCompile(`(?i)\bNIHSS\b[:\s#]*(\d+)`)},
	{"GCS", regexp.MustCompile(`(?i)\bGCS\b[:\s]*(\d+)`)},
	{"mRS", regexp.MustCompile(`(?i)\bmRS\b[:\s]*(\d+)`)},
	{"Hunt-Hess", regexp.MustCompile(`(?i)\bhunt[\s-]*(?:and[\s-]*)?hess\b(?:\s*grade)?[:\s]*(\d+)`)},
	{"Fisher", regexp.MustCompile(`(?i)\bfisher\b(?:\s*grade)?[:\s]*(\d+)`)},
	{"WFNS", regexp.MustCompile(`(?i)\bWFNS\b(?:\s*grade)?[:\s]*(\d+)`)},
	{"Spetzler-Martin", regexp.MustCompile(`(?i)\bspetzler[\s-]*martin\b(?:\s*grade)?[:\s]*(\d+)`)},
}

func extractScores(x *Extractor, doc record.Document, line string, lineNo int) ([]*record.Fact, error) {
	var out []*record.Fact
	for _, sr := range scoreRes {
		m := sr.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}

		conf := 0.95
		valid := x.kb.ValidateScore(sr.name, value)
		if !valid {
			conf = 0.70
		}

		f, err := record.NewFact(fmt.Sprintf("%s: %s", sr.name, formatNumber(value)), doc.Name, lineNo, doc.Timestamp, conf, record.FactScore)
		if err != nil {
			return nil, err
		}
		f.NumericValue = &value
		f.StringValue = sr.name
		f.Clinical.Surrounding = line
		if r, ok := x.kb.ScoreRange(sr.name); ok {
			f.Clinical.NormalRange = &r
		}
		if !valid {
			f.RequiresReview = true
			x.log.Warn().
				Str("document", doc.Name).
				Str("score", sr.name).
				Float64("value", value).
				Msg("score outside valid range")
		}
		out = append(out, f)
	}
	return out, nil
}

// -- Medications --

var medicationRe = regexp.MustCompile(`(?i)\b([a-z][a-z-]{3,})\s+(\d+(?:\.\d+)?)\s*(mg|mcg|g|units|mEq)\b(?:\s*(?:PO|IV|SQ|IM|SL)\b)?\s*(q\d+h|daily|BID|TID|QID|PRN|nightly)?`)

// words that look like "name dose unit" but are never medications
var medicationStop = map[string]bool{
	"sodium": true, "potassium": true, "glucose": true, "hemoglobin": true,
	"platelets": true, "creatinine": true, "temperature": true, "oxygen": true,
}

func extractMedications(x *Extractor, doc record.Document, line string, lineNo int) ([]*record.Fact, error) {
	var out []*record.Fact
	for _, m := range medicationRe.FindAllStringSubmatch(line, -1) {
		name := strings.ToLower(m[1])
		if medicationStop[name] {
			continue
		}
		dose, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		unit := strings.ToLower(m[3])
		if unit == "meq" {
			unit = "mEq"
		}
		freq := m[4]

		conf := 0.85
		profile, known := x.kb.ClassifyMedication(name)
		if known {
			conf = 0.92
		}
		highRisk := x.kb.IsHighRisk(name)
		if highRisk && conf > 0.75 {
			conf = 0.75
		}

		text := fmt.Sprintf("Medication: %s %s%s", name, formatNumber(dose), unit)
		if freq != "" {
			text += " " + freq
		}
		f, err := record.NewFact(text, doc.Name, lineNo, doc.Timestamp, conf, record.FactMedication)
		if err != nil {
			return nil, err
		}
		f.NumericValue = &dose
		f.StringValue = name
		f.Clinical.Surrounding = line
		f.Concept = &record.Concept{Kind: "medication", Name: name, Value: dose, Unit: unit}
		if known {
			f.Clinical.DrugClass = profile.Class
			f.Clinical.Monitoring = profile.Monitoring
			f.Clinical.Indications = profile.Indications
		}
		if highRisk {
			f.Severity = record.SeverityHigh
			f.RequiresReview = true
		}
		out = append(out, f)
	}
	return out, nil
}

// -- Vital signs --

var vitalRes = []struct {
	label string
	re    *regexp.Regexp
}{
	{"BP", regexp.MustCompile(`(?i)\bBP\b[:\s]*(\d{2,3}/\d{2,3})`)},
	{"HR", regexp.MustCompile(`(?i)\bHR\b[:\s]*(\d{2,3})\b`)},
	{"Temp", regexp.MustCompile(`(?i)\b(?:temp|temperature)\b[:\s]*(\d{2,3}(?:\.\d+)?)`)},
	{"RR", regexp.MustCompile(`(?i)\bRR\b[:\s]*(\d{1,2})\b`)},
	{"SpO2", regexp.MustCompile(`(?i)\b(?:SpO2|O2\s*sat(?:uration)?)\b[:\s]*(\d{2,3})`)},
}

func extractVitals(x *Extractor, doc record.Document, line string, lineNo int) ([]*record.Fact, error) {
	var out []*record.Fact
	for _, vr := range vitalRes {
		m := vr.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		f, err := record.NewFact(fmt.Sprintf("%s: %s", vr.label, m[1]), doc.Name, lineNo, doc.Timestamp, 0.90, record.FactVitalSign)
		if err != nil {
			return nil, err
		}
		f.StringValue = vr.label
		f.Clinical.Surrounding = line
		if !strings.Contains(m[1], "/") {
			if v, perr := strconv.ParseFloat(m[1], 64); perr == nil {
				f.NumericValue = &v
			}
		}
		out = append(out, f)
	}
	return out, nil
}

// -- Temporal references --

func extractTemporal(x *Extractor, doc record.Document, line string, lineNo int) ([]*record.Fact, error) {
	m, ok := x.kb.MatchTemporal(line)
	if !ok {
		return nil, nil
	}
	f, err := record.NewFact("Temporal reference: "+m.Matched, doc.Name, lineNo, doc.Timestamp, 0.80, record.FactTemporalRef)
	if err != nil {
		return nil, err
	}
	f.Clinical.TemporalKind = m.Kind
	f.Clinical.RawText = m.Matched
	f.Clinical.Surrounding = line
	if m.Value > 0 {
		v := float64(m.Value)
		f.NumericValue = &v
	}
	return []*record.Fact{f}, nil
}

// -- Diagnoses --

var diagnosisRe = regexp.MustCompile(`(?i)^(?:diagnosis|dx|impression)[:\s]+(.+)$`)

func extractDiagnoses(x *Extractor, doc record.Document, line string, lineNo int) ([]*record.Fact, error) {
	m := diagnosisRe.FindStringSubmatch(line)
	if m == nil {
		return nil, nil
	}
	f, err := record.NewFact("Diagnosis: "+strings.TrimSpace(m[1]), doc.Name, lineNo, doc.Timestamp, 0.90, record.FactDiagnosis)
	if err != nil {
		return nil, err
	}
	f.Clinical.Surrounding = line
	return []*record.Fact{f}, nil
}

// -- Procedures --

var procedureLineRe = regexp.MustCompile(`(?i)^procedure[:\s]+(.+)$`)
var procedureKeywordRe = regexp.MustCompile(`(?i)\b(craniotomy|craniectomy|clipping|coiling|embolization|evacuation|resection|ventriculostomy|EVD placement|shunt placement|angiogram)\b`)

func extractProcedures(x *Extractor, doc record.Document, line string, lineNo int) ([]*record.Fact, error) {
	var desc string
	if m := procedureLineRe.FindStringSubmatch(line); m != nil {
		desc = strings.TrimSpace(m[1])
	} else if doc.Type == record.DocOperative && procedureKeywordRe.MatchString(line) && !complicationWordRe.MatchString(line) {
		desc = strings.TrimSuffix(line, ".")
	} else {
		return nil, nil
	}
	f, err := record.NewFact("Procedure: "+desc, doc.Name, lineNo, doc.Timestamp, 0.95, record.FactProcedure)
	if err != nil {
		return nil, err
	}
	f.Significance = record.SeverityHigh
	f.Clinical.Surrounding = line
	return []*record.Fact{f}, nil
}

// -- Operative findings and complications --

var complicationWordRe = regexp.MustCompile(`(?i)complication`)
var negatedComplicationRe = regexp.MustCompile(`(?i)\b(?:no|without|denies|den(?:ied|ying))\b[^.;]*complication`)
var findingsLineRe = regexp.MustCompile(`(?i)^findings?[:\s]+(.+)$`)

func extractOperativeEvents(x *Extractor, doc record.Document, line string, lineNo int) ([]*record.Fact, error) {
	var out []*record.Fact

	if m := findingsLineRe.FindStringSubmatch(line); m != nil && !complicationWordRe.MatchString(line) {
		f, err := record.NewFact("Finding: "+strings.TrimSpace(m[1]), doc.Name, lineNo, doc.Timestamp, 0.92, record.FactFinding)
		if err != nil {
			return nil, err
		}
		f.Clinical.Surrounding = line
		out = append(out, f)
	}

	if !complicationWordRe.MatchString(line) {
		return out, nil
	}
	if negatedComplicationRe.MatchString(line) {
		f, err := record.NewFact("Finding: no complications", doc.Name, lineNo, doc.Timestamp, 0.92, record.FactFinding)
		if err != nil {
			return nil, err
		}
		f.Clinical.Surrounding = line
		out = append(out, f)
		return out, nil
	}

	desc := line
	if i := strings.Index(strings.ToLower(line), "complication"); i >= 0 {
		rest := line[i:]
		if j := strings.IndexAny(rest, ":"); j >= 0 && j < len(rest)-1 {
			desc = strings.TrimSpace(rest[j+1:])
		}
	}
	f, err := record.NewFact("Complication: "+strings.TrimSuffix(desc, "."), doc.Name, lineNo, doc.Timestamp, 0.90, record.FactComplication)
	if err != nil {
		return nil, err
	}
	f.Severity = record.SeverityHigh
	f.Significance = record.SeverityCritical
	f.RequiresReview = true
	f.Clinical.Surrounding = line
	out = append(out, f)
	return out, nil
}

// -- Consult recommendations --

var recommendationRe = regexp.MustCompile(`(?i)^recommend(?:ations?)?[:\s]+(.+)$`)

func extractRecommendations(x *Extractor, doc record.Document, line string, lineNo int) ([]*record.Fact, error) {
	if doc.Type != record.DocConsult {
		return nil, nil
	}
	m := recommendationRe.FindStringSubmatch(line)
	if m == nil {
		return nil, nil
	}
	f, err := record.NewFact("Recommendation: "+strings.TrimSpace(m[1]), doc.Name, lineNo, doc.Timestamp, 0.88, record.FactRecommendation)
	if err != nil {
		return nil, err
	}
	f.Clinical.Specialty = doc.Specialty
	f.Clinical.Surrounding = line
	return []*record.Fact{f}, nil
}

// -- Discharge statements --

var dischargeStatusLineRe = regexp.MustCompile(`(?i)^(?:disposition|discharge condition|condition at discharge)[:\s]+(.+)$`)
var dischargeStableRe = regexp.MustCompile(`(?i)\bstable (?:for|at) discharge\b|\bdischarged? (?:home )?in stable condition\b`)
var instructionsLineRe = regexp.MustCompile(`(?i)^(?:discharge\s+)?instructions?[:\s]+(.+)$`)

func extractDischargeStatements(x *Extractor, doc record.Document, line string, lineNo int) ([]*record.Fact, error) {
	if doc.Type != record.DocDischarge {
		return nil, nil
	}
	var out []*record.Fact

	if m := dischargeStatusLineRe.FindStringSubmatch(line); m != nil {
		f, err := record.NewFact("Discharge status: "+strings.TrimSpace(m[1]), doc.Name, lineNo, doc.Timestamp, 0.90, record.FactFinding)
		if err != nil {
			return nil, err
		}
		f.Clinical.Surrounding = line
		out = append(out, f)
	} else if dischargeStableRe.MatchString(line) {
		f, err := record.NewFact("Finding: stable for discharge", doc.Name, lineNo, doc.Timestamp, 0.90, record.FactFinding)
		if err != nil {
			return nil, err
		}
		f.Clinical.Surrounding = line
		out = append(out, f)
	}

	if m := instructionsLineRe.FindStringSubmatch(line); m != nil {
		f, err := record.NewFact("Discharge instructions: "+strings.TrimSpace(m[1]), doc.Name, lineNo, doc.Timestamp, 0.88, record.FactRecommendation)
		if err != nil {
			return nil, err
		}
		f.Clinical.Surrounding = line
		out = append(out, f)
	}
	return out, nil
}

// formatNumber prints a value without a trailing ".0" for whole numbers.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
