// Package rank implements C10's two-stage ranking: a BM25-style lexical
// pass followed by a dense-embedding composite with an adaptive cutoff,
// a scored, two-stage pipeline with a data-driven cutoff instead of a
// fixed cap.
package rank

import (
	"math"
	"sort"

	"github.com/lyra-research/lyra/internal/kneedle"
)

// Candidate is one item eligible for ranking: its lexical text (title +
// snippet + leading body, already concatenated by the caller) and its
// L2-normalized dense embedding.
type Candidate struct {
	ID        string
	Text      string
	Embedding []float32
}

// Scored pairs a candidate with its composite score.
type Scored struct {
	Candidate
	BM25      float64
	Embed     float64
	Composite float64
}

// Options tunes the pipeline; zero values fall back to defaults.
type Options struct {
	BM25TopK     int
	MinResults   int
	MaxResults   int
	KneedleSense float64
}

func (o Options) filled() Options {
	if o.BM25TopK <= 0 {
		o.BM25TopK = 50
	}
	if o.MinResults <= 0 {
		o.MinResults = 3
	}
	if o.MaxResults <= 0 {
		o.MaxResults = 20
	}
	if o.KneedleSense <= 0 {
		o.KneedleSense = 1.0
	}
	if o.MaxResults < o.MinResults {
		o.MaxResults = o.MinResults
	}
	return o
}

// Rank runs the two-stage pipeline and returns an ordered subset bounded
// by [min_results, max_results], per spec C10.
func Rank(query string, queryEmbedding []float32, candidates []Candidate, opt Options) []Scored {
	opt = opt.filled()
	if len(candidates) == 0 {
		return nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	bm25 := bm25Scores(query, texts)

	type stage1 struct {
		idx  int
		bm25 float64
	}
	s1 := make([]stage1, len(candidates))
	for i := range candidates {
		s1[i] = stage1{idx: i, bm25: bm25[i]}
	}
	sort.SliceStable(s1, func(i, j int) bool { return s1[i].bm25 > s1[j].bm25 })
	if len(s1) > opt.BM25TopK {
		s1 = s1[:opt.BM25TopK]
	}

	minBM25, maxBM25 := math.Inf(1), math.Inf(-1)
	for _, s := range s1 {
		if s.bm25 < minBM25 {
			minBM25 = s.bm25
		}
		if s.bm25 > maxBM25 {
			maxBM25 = s.bm25
		}
	}
	bm25Range := maxBM25 - minBM25

	scored := make([]Scored, 0, len(s1))
	for _, s := range s1 {
		c := candidates[s.idx]
		embed := cosine(queryEmbedding, c.Embedding)
		normBM25 := 0.0
		if bm25Range > 0 {
			normBM25 = (s.bm25 - minBM25) / bm25Range
		}
		composite := 0.3*normBM25 + 0.7*embed
		scored = append(scored, Scored{Candidate: c, BM25: s.bm25, Embed: embed, Composite: composite})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Composite > scored[j].Composite })

	return applyCutoff(scored, opt)
}

// applyCutoff finds the knee in the sorted composite-score curve and
// keeps the top-k up to the knee, bounded by [MinResults, MaxResults].
// With no knee detected (monotonic/flat tail), it keeps MaxResults.
func applyCutoff(scored []Scored, opt Options) []Scored {
	if len(scored) <= opt.MinResults {
		return scored
	}

	scores := make([]float64, len(scored))
	for i, s := range scored {
		scores[i] = s.Composite
	}

	keep := opt.MaxResults
	if idx, found := kneedle.Find(scores, opt.KneedleSense); found {
		keep = idx + 1
	}
	if keep < opt.MinResults {
		keep = opt.MinResults
	}
	if keep > opt.MaxResults {
		keep = opt.MaxResults
	}
	if keep > len(scored) {
		keep = len(scored)
	}
	return scored[:keep]
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
