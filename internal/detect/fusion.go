package detect

import "sort"

// Fuse merges spans from any number of detectors for one source string
// into a non-overlapping, left-to-right ordered set.
//
// Steps: drop spans under threshold; sort by (start, -length); sweep left
// to right keeping the higher-confidence span on overlap, breaking ties
// by provenance priority pattern > llm, then by longer length.
func Fuse(spans []Span, confidenceThreshold float64) []Span {
	var kept []Span
	for _, s := range spans {
		if s.Confidence >= confidenceThreshold {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Start != kept[j].Start {
			return kept[i].Start < kept[j].Start
		}
		return kept[i].Length > kept[j].Length
	})

	var out []Span
	cur := kept[0]
	for i := 1; i < len(kept); i++ {
		next := kept[i]
		if next.Start < cur.End() {
			if winner(next, cur) {
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

// winner reports whether candidate should replace incumbent when their
// spans overlap.
func winner(candidate, incumbent Span) bool {
	if candidate.Confidence != incumbent.Confidence {
		return candidate.Confidence > incumbent.Confidence
	}
	if candidate.Provenance != incumbent.Provenance {
		return provenancePriority(candidate.Provenance) > provenancePriority(incumbent.Provenance)
	}
	return candidate.Length > incumbent.Length
}

func provenancePriority(p Provenance) int {
	if p == ProvenancePattern {
		return 1
	}
	return 0
}
