// Package timeline assembles resolved facts into a day-by-day hospital
// course: daily fact groups, score and lab progressions, key events and
// the admission/discharge frame.
package timeline

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/chartline/chartline/internal/domain/record"
	"github.com/chartline/chartline/internal/domain/temporal"
	"github.com/chartline/chartline/internal/kb"
)

// Builder groups facts into a clinical timeline. Resolution runs inside
// Build exactly once, so confidence boosts are never applied twice.
type Builder struct {
	kb       *kb.KnowledgeBase
	resolver *temporal.Resolver
	log      zerolog.Logger
}

func NewBuilder(knowledge *kb.KnowledgeBase, log zerolog.Logger) *Builder {
	return &Builder{
		kb:       knowledge,
		resolver: temporal.NewResolver(log),
		log:      log.With().Str("component", "timeline").Logger(),
	}
}

// Build resolves temporal references against the documents' anchors and
// arranges the facts by day. Conflicts found along the way come back
// alongside the timeline and never abort the build.
func (b *Builder) Build(facts []*record.Fact, docs []record.Document) (*record.Timeline, []temporal.Conflict) {
	anchors := temporal.BuildAnchors(docs)
	b.resolver.Resolve(facts, anchors)
	conflicts := b.resolver.DetectConflicts(facts, anchors)

	tl := &record.Timeline{
		Days:    make(map[string][]*record.Fact),
		Anchors: anchors,
	}
	for _, f := range facts {
		key := f.DateKey()
		tl.Days[key] = append(tl.Days[key], f)
	}
	for _, day := range tl.Days {
		sort.SliceStable(day, func(i, j int) bool {
			ti, tj := day[i].EffectiveTime(), day[j].EffectiveTime()
			if !ti.Equal(tj) {
				return ti.Before(tj)
			}
			return day[i].Confidence > day[j].Confidence
		})
	}

	tl.Progression = b.buildProgression(facts)
	b.frameStay(tl, facts, docs)
	tl.KeyEvents = b.keyEvents(facts, anchors)

	b.log.Debug().
		Int("days", len(tl.Days)).
		Int("key_events", len(tl.KeyEvents)).
		Int("conflicts", len(conflicts)).
		Msg("timeline built")
	return tl, conflicts
}

// -- Progression --

func (b *Builder) buildProgression(facts []*record.Fact) record.Progression {
	var p record.Progression

	byTime := make([]*record.Fact, len(facts))
	copy(byTime, facts)
	sort.SliceStable(byTime, func(i, j int) bool {
		return byTime[i].EffectiveTime().Before(byTime[j].EffectiveTime())
	})

	scoreObs := make(map[string][]record.ScoreObservation)
	labObs := make(map[string][]record.LabObservation)
	for _, f := range byTime {
		switch f.Type {
		case record.FactScore:
			if f.NumericValue == nil {
				continue
			}
			scoreObs[f.StringValue] = append(scoreObs[f.StringValue], record.ScoreObservation{
				Date:       f.DateKey(),
				Value:      *f.NumericValue,
				SourceDoc:  f.SourceDoc,
				Confidence: f.Confidence,
			})
		case record.FactLabValue:
			if f.NumericValue == nil {
				continue
			}
			labObs[f.StringValue] = append(labObs[f.StringValue], record.LabObservation{
				Date:      f.DateKey(),
				Value:     *f.NumericValue,
				Severity:  f.Severity,
				SourceDoc: f.SourceDoc,
			})
		case record.FactComplication:
			p.Complications = append(p.Complications, record.ProgressionEvent{
				Date:        f.DateKey(),
				Description: f.Text,
				Type:        f.Type,
				Severity:    f.Severity,
				SourceDoc:   f.SourceDoc,
			})
		case record.FactProcedure:
			p.Interventions = append(p.Interventions, record.ProgressionEvent{
				Date:        f.DateKey(),
				Description: f.Text,
				Type:        f.Type,
				SourceDoc:   f.SourceDoc,
			})
		}
	}

	metrics := make([]string, 0, len(scoreObs))
	for m := range scoreObs {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	for _, m := range metrics {
		obs := scoreObs[m]
		p.Neurological = append(p.Neurological, record.ScoreTrend{
			Metric: m,
			Trend:  scoreTrend(m, obs),
			Values: obs,
		})
	}

	labs := make([]string, 0, len(labObs))
	for l := range labObs {
		labs = append(labs, l)
	}
	sort.Strings(labs)
	for _, l := range labs {
		obs := labObs[l]
		p.Laboratory = append(p.Laboratory, b.labTrend(l, obs))
	}
	return p
}

// lowerIsBetter holds the scales where a falling value means recovery.
var lowerIsBetter = map[string]bool{"NIHSS": true, "mRS": true}

func scoreTrend(metric string, obs []record.ScoreObservation) string {
	if len(obs) < 2 {
		return "insufficient_data"
	}
	first, last := obs[0].Value, obs[len(obs)-1].Value
	delta := last - first
	if delta >= -1 && delta <= 1 {
		return "stable"
	}
	switch {
	case lowerIsBetter[metric]:
		if delta < 0 {
			return "improving"
		}
		return "worsening"
	case metric == "GCS":
		if delta > 0 {
			return "improving"
		}
		return "worsening"
	case delta > 0:
		return "increasing"
	default:
		return "decreasing"
	}
}

func (b *Builder) labTrend(lab string, obs []record.LabObservation) record.LabTrend {
	lt := record.LabTrend{
		Lab:        lab,
		Trend:      "insufficient_data",
		FirstValue: obs[0].Value,
		LastValue:  obs[len(obs)-1].Value,
		Values:     obs,
	}
	if len(obs) >= 2 {
		a := b.kb.LabTrend(lab, lt.FirstValue, lt.LastValue)
		lt.Trend = string(a.Trend)
		lt.Significance = string(a.Significance)
		if lt.FirstValue != 0 {
			pct := (lt.LastValue - lt.FirstValue) / lt.FirstValue * 100
			if pct < 0 {
				pct = -pct
			}
			lt.ChangePercent = pct
		}
	}
	return lt
}

// -- Stay frame --

func (b *Builder) frameStay(tl *record.Timeline, facts []*record.Fact, docs []record.Document) {
	for _, a := range tl.Anchors {
		if a.Kind == record.AnchorAdmission {
			t := a.Timestamp
			tl.AdmissionTime = &t
			break
		}
	}

	dischargeDocs := make(map[string]bool)
	for _, d := range docs {
		if d.Type == record.DocDischarge {
			dischargeDocs[d.Name] = true
		}
	}
	var discharge time.Time
	for _, f := range facts {
		if f.Type == record.FactTemporalRef || !dischargeDocs[f.SourceDoc] {
			continue
		}
		if et := f.EffectiveTime(); et.After(discharge) {
			discharge = et
		}
	}
	if !discharge.IsZero() {
		tl.DischargeTime = &discharge
	}

	if tl.AdmissionTime != nil && tl.DischargeTime != nil {
		days := int(tl.DischargeTime.Sub(*tl.AdmissionTime).Hours()/24) + 1
		if days > 0 {
			tl.HospitalDays = days
		}
	}
}

// -- Key events --

func (b *Builder) keyEvents(facts []*record.Fact, anchors []record.Anchor) []record.KeyEvent {
	var events []record.KeyEvent
	for _, a := range anchors {
		events = append(events, record.KeyEvent{
			Date:         a.Timestamp.Format("2006-01-02"),
			Timestamp:    a.Timestamp,
			Kind:         string(a.Kind),
			Description:  a.Description,
			Significance: record.SeverityHigh,
			Category:     "milestone",
		})
	}
	for _, f := range facts {
		var category string
		switch {
		case f.Type == record.FactComplication:
			category = "complication"
		case f.Type == record.FactProcedure:
			category = "procedure"
		case f.Type == record.FactLabValue && f.Severity == record.SeverityCritical:
			category = "critical_lab"
		default:
			continue
		}
		events = append(events, record.KeyEvent{
			Date:         f.DateKey(),
			Timestamp:    f.EffectiveTime(),
			Kind:         string(f.Type),
			Description:  f.Text,
			Significance: record.SeverityHigh,
			Category:     category,
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

// -- Summary --

// Summary condenses a timeline for logs and CLI output.
type Summary struct {
	Days          int `json:"days"`
	Facts         int `json:"facts"`
	KeyEvents     int `json:"key_events"`
	Complications int `json:"complications"`
	HospitalDays  int `json:"hospital_days"`
}

func Summarize(tl *record.Timeline) Summary {
	s := Summary{
		Days:          len(tl.Days),
		KeyEvents:     len(tl.KeyEvents),
		Complications: len(tl.Progression.Complications),
		HospitalDays:  tl.HospitalDays,
	}
	for _, day := range tl.Days {
		s.Facts += len(day)
	}
	return s
}
