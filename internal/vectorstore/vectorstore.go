// Package vectorstore implements C14's put_embedding/search operations
// over the C13 store's vec0-backed embeddings table, adding task scoping
// and similarity thresholding on top of the store's raw KNN query.
package vectorstore

import (
	"fmt"

	"github.com/lyra-research/lyra/internal/store"
)

// Store wraps store.DB with C14's task-scoped search semantics.
type Store struct {
	DB *store.DB
}

func New(db *store.DB) *Store {
	return &Store{DB: db}
}

// PutEmbedding persists a vector for (targetType, targetID, modelID).
func (s *Store) PutEmbedding(targetType, targetID, modelID string, vec []float32) error {
	return s.DB.PutEmbedding(targetType, targetID, modelID, vec)
}

// Hit is one search result: a target id with its cosine similarity.
type Hit struct {
	TargetID   string
	Similarity float64
}

// Search runs put_embedding's counterpart: nearest-neighbour search
// against queryVec, restricted to targetType, optionally scoped to a
// task via taskID, filtered by minSimilarity, and capped at topK. Per
// spec C14, "claim" scopes via a direct task_id join and "fragment"
// scopes via a CTE through edges -> claims.
func (s *Store) Search(targetType string, queryVec []float32, taskID string, topK int, minSimilarity float64) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}

	var scope map[string]bool
	if taskID != "" {
		var err error
		switch targetType {
		case "claim":
			scope, err = s.DB.TaskScopedClaimIDs(taskID)
		case "fragment":
			scope, err = s.DB.TaskScopedFragmentIDs(taskID)
		default:
			return nil, fmt.Errorf("vectorstore: unsupported target_type %q for task scoping", targetType)
		}
		if err != nil {
			return nil, fmt.Errorf("vectorstore: resolve task scope: %w", err)
		}
	}

	// Over-fetch past topK since task-scope/threshold filtering happens
	// after the KNN query; the store searches brute-force up to ~10k
	// rows per spec C14, so a modest multiplier keeps this cheap.
	fetchK := topK * 4
	if scope != nil && fetchK < len(scope) {
		fetchK = len(scope)
	}
	if fetchK < topK {
		fetchK = topK
	}

	candidates, err := s.DB.VectorSearchRaw(targetType, queryVec, fetchK)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}

	out := make([]Hit, 0, topK)
	for _, c := range candidates {
		if scope != nil && !scope[c.TargetID] {
			continue
		}
		// c.Distance is vec0's L2 distance; for L2-normalized vectors the
		// cosine similarity is 1 - d²/2.
		similarity := 1 - c.Distance*c.Distance/2
		if similarity < minSimilarity {
			continue
		}
		out = append(out, Hit{TargetID: c.TargetID, Similarity: similarity})
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}
