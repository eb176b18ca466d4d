package rank

import (
	"math"
	"strings"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

// bm25Scores scores each document's concatenated text against query using
// BM25, per spec C10's "lexical (BM25-style)" stage.
func bm25Scores(query string, docs []string) []float64 {
	n := len(docs)
	scores := make([]float64, n)
	if n == 0 {
		return scores
	}

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return scores
	}

	tokenized := make([][]string, n)
	docLen := make([]int, n)
	avgLen := 0.0
	df := map[string]int{}
	for i, d := range docs {
		terms := tokenize(d)
		tokenized[i] = terms
		docLen[i] = len(terms)
		avgLen += float64(len(terms))
		seen := map[string]bool{}
		for _, t := range terms {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	if n > 0 {
		avgLen /= float64(n)
	}
	if avgLen == 0 {
		avgLen = 1
	}

	idf := map[string]float64{}
	for _, t := range queryTerms {
		if _, ok := idf[t]; ok {
			continue
		}
		ni := df[t]
		idf[t] = math.Log(1 + (float64(n)-float64(ni)+0.5)/(float64(ni)+0.5))
	}

	for i, terms := range tokenized {
		tf := map[string]int{}
		for _, t := range terms {
			tf[t]++
		}
		var score float64
		dl := float64(docLen[i])
		for _, qt := range queryTerms {
			f := float64(tf[qt])
			if f == 0 {
				continue
			}
			num := f * (bm25K1 + 1)
			denom := f + bm25K1*(1-bm25B+bm25B*dl/avgLen)
			score += idf[qt] * num / denom
		}
		scores[i] = score
	}
	return scores
}
