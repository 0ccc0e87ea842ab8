// Package engine wires the full pipeline: parallel per-document
// extraction, learned-correction application, deduplication, timeline
// assembly and the six-stage validation pass.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chartline/chartline/internal/domain/extraction"
	"github.com/chartline/chartline/internal/domain/learning"
	"github.com/chartline/chartline/internal/domain/record"
	"github.com/chartline/chartline/internal/domain/temporal"
	"github.com/chartline/chartline/internal/domain/timeline"
	"github.com/chartline/chartline/internal/domain/validation"
	"github.com/chartline/chartline/internal/kb"
)

// Diagnostic reports a document that failed extraction. Failures are
// isolated per document and never abort the run.
type Diagnostic struct {
	Document string `json:"document"`
	Error    string `json:"error"`
}

// Metrics aggregates counters from one processing run.
type Metrics struct {
	Documents          int                `json:"documents"`
	FactsExtracted     int                `json:"facts_extracted"`
	FactsAfterDedup    int                `json:"facts_after_dedup"`
	CorrectionsApplied int                `json:"corrections_applied"`
	TemporalResolved   int                `json:"temporal_resolved"`
	Extraction         extraction.Stats   `json:"extraction"`
	Validation         validation.Summary `json:"validation"`
	DurationMS         int64              `json:"duration_ms"`
}

// Record is the processed result for one hospital stay.
type Record struct {
	Facts          []*record.Fact       `json:"facts"`
	Timeline       *record.Timeline     `json:"timeline"`
	Conflicts      []temporal.Conflict  `json:"conflicts,omitempty"`
	Issues         []record.Uncertainty `json:"issues,omitempty"`
	RequiresReview bool                 `json:"requires_review"`
	Diagnostics    []Diagnostic         `json:"diagnostics,omitempty"`
	Metrics        Metrics              `json:"metrics"`
}

// Options tunes a processing engine.
type Options struct {
	// Workers bounds extraction parallelism. Zero means one worker.
	Workers int
	// ApplyLearning enables approved-pattern application before
	// deduplication.
	ApplyLearning bool
}

// Engine runs the pipeline. Extraction fans out across documents; all
// later phases are strictly sequential.
type Engine struct {
	extractor *extraction.Extractor
	builder   *timeline.Builder
	validator *validation.Validator
	learning  *learning.Service
	opts      Options
	log       zerolog.Logger
}

func New(knowledge *kb.KnowledgeBase, learningSvc *learning.Service, opts Options, log zerolog.Logger) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Engine{
		extractor: extraction.New(knowledge, log),
		builder:   timeline.NewBuilder(knowledge, log),
		validator: validation.NewValidator(knowledge, log),
		learning:  learningSvc,
		opts:      opts,
		log:       log.With().Str("component", "engine").Logger(),
	}
}

// Process turns a document set into a validated clinical record.
func (e *Engine) Process(ctx context.Context, docs []record.Document) (*Record, error) {
	start := time.Now()
	facts, diagnostics, err := e.extractAll(ctx, docs)
	if err != nil {
		return nil, err
	}
	extracted := len(facts)

	var corrected int
	if e.opts.ApplyLearning && e.learning != nil {
		corrected, err = e.learning.Apply(facts)
		if err != nil {
			return nil, err
		}
	}

	facts = extraction.Deduplicate(facts)
	tl, conflicts := e.builder.Build(facts, docs)
	validated, issues := e.validator.Validate(facts, tl)

	resolved := 0
	for _, f := range validated {
		if f.Resolution.Resolved {
			resolved++
		}
	}

	rec := &Record{
		Facts:          validated,
		Timeline:       tl,
		Conflicts:      conflicts,
		Issues:         issues,
		RequiresReview: validation.RequiresReview(issues),
		Diagnostics:    diagnostics,
		Metrics: Metrics{
			Documents:          len(docs),
			FactsExtracted:     extracted,
			FactsAfterDedup:    len(facts),
			CorrectionsApplied: corrected,
			TemporalResolved:   resolved,
			Extraction:         extraction.Summarize(validated),
			Validation:         validation.Summarize(issues),
			DurationMS:         time.Since(start).Milliseconds(),
		},
	}

	e.log.Info().
		Int("documents", len(docs)).
		Int("facts", len(rec.Facts)).
		Int("issues", len(rec.Issues)).
		Bool("requires_review", rec.RequiresReview).
		Msg("record processed")
	return rec, nil
}

type docResult struct {
	index int
	facts []*record.Fact
	err   error
	name  string
}

// extractAll fans extraction out over a bounded worker pool and
// reassembles the results in document order.
func (e *Engine) extractAll(ctx context.Context, docs []record.Document) ([]*record.Fact, []Diagnostic, error) {
	jobs := make(chan int)
	results := make(chan docResult, len(docs))

	var wg sync.WaitGroup
	workers := e.opts.Workers
	if workers > len(docs) && len(docs) > 0 {
		workers = len(docs)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				facts, err := e.extractor.Extract(docs[i])
				results <- docResult{index: i, facts: facts, err: err, name: docs[i].Name}
			}
		}()
	}

feed:
	for i := range docs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ordered := make([]docResult, 0, len(docs))
	for r := range results {
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })

	var facts []*record.Fact
	var diagnostics []Diagnostic
	for _, r := range ordered {
		if r.err != nil {
			e.log.Error().Err(r.err).Str("document", r.name).Msg("document extraction failed")
			diagnostics = append(diagnostics, Diagnostic{Document: r.name, Error: r.err.Error()})
			continue
		}
		facts = append(facts, r.facts...)
	}
	return facts, diagnostics, nil
}
