package detect

import (
	"fmt"
	"regexp"
)

// patternDefault is the fixed confidence assigned to every regex match,
// per the fixed-confidence pattern detector design (no per-pattern
// confidence tuning — that distinction lives in the fusion threshold and
// the LLM detector instead).
const patternDefault = 0.9

type compiledPattern struct {
	entityType EntityType
	re         *regexp.Regexp
}

// PatternDetector finds candidate spans using a fixed set of compiled
// regular expressions, one (or more) per entity type. Patterns compile
// once at startup; a bad pattern fails the constructor rather than
// surfacing at detection time. Overlapping same-type matches collapse to
// the longest.
type PatternDetector struct {
	patterns []compiledPattern
}

// builtinPatterns are the patterns required by every configuration — one
// per closed-set entity type, so the pattern detector alone (mode "regex",
// no LLM) still covers every type on its own. address and credit_card
// match a street-suffix keyword and a 16-digit block respectively; person
// and date_of_birth are a two-capitalized-word heuristic and an ISO/US
// date shape. None of these claim semantic understanding, only a
// structural marker worth flagging for review.
var builtinPatterns = map[EntityType]string{
	TypeEmail:       `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
	TypePhone:       `\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`,
	TypePerson:      `\b[A-Z][a-z]+\s[A-Z][a-z]+\b`,
	TypeSSN:         `\d{3}-\d{2}-\d{4}`,
	TypeAddress:     `(?i)\d+\s+[A-Za-z\s]+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct)\b`,
	TypeDateOfBirth: `\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{4}\b`,
	TypeCreditCard:  `\b(?:\d{4}[\-\s]?){3}\d{4}\b`,
	TypeIPAddress:   `(?:(?:25[0-5]|2[0-4]\d|1?\d{1,2})\.){3}(?:25[0-5]|2[0-4]\d|1?\d{1,2})`,
	TypeURL:         `https?://[A-Za-z0-9\-._~%]+(?:\.[A-Za-z0-9\-._~%]+)+(?:/[^\s"']*)?`,
}

// NewPatternDetector compiles the built-in patterns plus any operator
// overrides/additions from extra (entity type name → regex source).
// extra entries with the same entity type as a builtin replace it, rather
// than adding a second alternative — operators own the final regex for a
// type once they supply one. A malformed pattern anywhere returns a
// non-nil error: pattern compile failure at startup is fatal per the
// error handling design, unlike a detection-time failure.
func NewPatternDetector(extra map[string]string) (*PatternDetector, error) {
	merged := make(map[EntityType]string, len(builtinPatterns)+len(extra))
	for t, expr := range builtinPatterns {
		merged[t] = expr
	}
	for name, expr := range extra {
		merged[EntityType(name)] = expr
	}

	d := &PatternDetector{}
	for t, expr := range merged {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("detect: compile pattern for %q: %w", t, err)
		}
		d.patterns = append(d.patterns, compiledPattern{entityType: t, re: re})
	}
	return d, nil
}

// Detect returns every pattern match in text as a Span, with overlapping
// matches of the *same* type reduced to the longest. Matches of differing
// types are left for Fuse to resolve.
func (d *PatternDetector) Detect(text string) []Span {
	var spans []Span
	for _, p := range d.patterns {
		locs := p.re.FindAllStringIndex(text, -1)
		for _, loc := range locs {
			spans = append(spans, Span{
				Start:      loc[0],
				Length:     loc[1] - loc[0],
				Type:       p.entityType,
				Confidence: patternDefault,
				Provenance: ProvenancePattern,
			})
		}
	}
	return keepLongestPerType(spans)
}

// keepLongestPerType drops same-type overlapping spans, keeping the
// longest of each overlapping cluster.
func keepLongestPerType(spans []Span) []Span {
	byType := make(map[EntityType][]Span)
	for _, s := range spans {
		byType[s.Type] = append(byType[s.Type], s)
	}

	var out []Span
	for _, group := range byType {
		out = append(out, keepLongestOverlap(group)...)
	}
	return out
}

func keepLongestOverlap(spans []Span) []Span {
	if len(spans) <= 1 {
		return spans
	}
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	// Simple insertion sort by (start, -length): input sizes are small
	// (matches within one JSON string leaf), and this keeps the detector
	// free of a second sort-package dependency pattern beyond what fusion
	// already needs.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && less(sorted[j], sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var out []Span
	cur := sorted[0]
	for i := 1; i < len(sorted); i++ {
		next := sorted[i]
		if next.Start < cur.End() { // overlap
			if next.Length > cur.Length {
				cur = next
			}
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

func less(a, b Span) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.Length > b.Length
}
