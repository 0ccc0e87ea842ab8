package learning

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/chartline/chartline/internal/domain/record"
)

var wordRe = regexp.MustCompile(`\w+`)

func tokens(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		set[w] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// fuzzyRatio is a character-level similarity in [0,1].
func fuzzyRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// MatchConfidence scores how well a pattern fits a fact. A fact of a
// different type never matches. Containment either way is a full match;
// otherwise the better of token overlap and character similarity
// applies, with a small bonus when the fact shares the pattern's
// source-document or surrounding-text context.
func MatchConfidence(p *Pattern, f *record.Fact) float64 {
	if p.FactType != f.Type {
		return 0
	}

	pText := strings.ToLower(p.OriginalText)
	fText := strings.ToLower(f.Text)

	var conf float64
	if strings.Contains(fText, pText) || strings.Contains(pText, fText) {
		conf = 1.0
	} else {
		tj := jaccard(tokens(p.OriginalText), tokens(f.Text))
		fr := fuzzyRatio(pText, fText)
		conf = tj
		if fr > conf {
			conf = fr
		}
	}

	if conf > 0 && matchesContext(p, f) {
		conf += 0.10
	}
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

func matchesContext(p *Pattern, f *record.Fact) bool {
	for _, ctx := range p.Contexts {
		if ctx.SourceDoc != "" && strings.Contains(strings.ToLower(f.SourceDoc), strings.ToLower(ctx.SourceDoc)) {
			return true
		}
		if ctx.Surrounding != "" && f.Clinical.Surrounding != "" {
			if jaccard(tokens(ctx.Surrounding), tokens(f.Clinical.Surrounding)) > 0.5 {
				return true
			}
		}
	}
	return false
}
