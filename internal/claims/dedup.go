package claims

import "strings"

// Existing is a previously adopted claim eligible to dedup against.
type Existing struct {
	ID        string
	Text      string
	Embedding []float32 // L2-normalized; nil if not yet embedded
}

// DedupThreshold is the cosine-similarity floor above which two claims
// are considered duplicates when an exact text match isn't found.
const DedupThreshold = 0.92

// FindDuplicate looks for an existing claim equivalent to (text,
// embedding), per spec C11 "duplicates are merged using embedding
// similarity + exact-text fallback". Exact-text match (case/space
// normalized) is checked first since it is cheaper and unambiguous;
// embedding similarity catches paraphrases.
func FindDuplicate(text string, embedding []float32, existing []Existing) (Existing, bool) {
	normalized := normalizeClaimText(text)
	for _, e := range existing {
		if normalizeClaimText(e.Text) == normalized {
			return e, true
		}
	}
	if len(embedding) == 0 {
		return Existing{}, false
	}
	var best Existing
	bestSim := -1.0
	for _, e := range existing {
		if len(e.Embedding) != len(embedding) {
			continue
		}
		sim := cosine(embedding, e.Embedding)
		if sim > bestSim {
			bestSim = sim
			best = e
		}
	}
	if bestSim >= DedupThreshold {
		return best, true
	}
	return Existing{}, false
}

func normalizeClaimText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
