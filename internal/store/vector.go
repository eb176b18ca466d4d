package store

import (
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	sqlite_vec.Auto()
}

// EmbeddingDim is the fixed vector width of the vec0 index. Vectors of a
// different width are rejected by sqlite-vec at insert time.
const EmbeddingDim = 1536

func createVecTable(conn *sql.DB) error {
	_, err := conn.Exec(fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS embeddings_vec USING vec0(
		row_id INTEGER PRIMARY KEY,
		embedding float[%d]
	)`, EmbeddingDim))
	return err
}

// PutEmbedding persists a vector for (target_type, target_id, model_id) in
// both the relational embeddings table (for joins/task-scoping) and the
// vec0 index (for KNN search), keyed by the same synthetic row id.
func (db *DB) PutEmbedding(targetType, targetID, modelID string, vec []float32) error {
	if len(vec) != EmbeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d want %d", len(vec), EmbeddingDim)
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}

	tx, err := db.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO embeddings (target_type, target_id, model_id, blob, dimension)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(target_type, target_id, model_id) DO UPDATE SET blob = excluded.blob`,
		targetType, targetID, modelID, blob, EmbeddingDim,
	)
	if err != nil {
		return fmt.Errorf("upsert embedding row: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if rowID == 0 {
		// update path: look up existing rowid via the relational table
		if err := tx.QueryRow(`SELECT rowid FROM embeddings WHERE target_type=? AND target_id=? AND model_id=?`,
			targetType, targetID, modelID).Scan(&rowID); err != nil {
			return fmt.Errorf("lookup embedding rowid: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO embeddings_vec (row_id, embedding) VALUES (?, ?)
		ON CONFLICT(row_id) DO UPDATE SET embedding = excluded.embedding`, rowID, blob); err != nil {
		return fmt.Errorf("upsert vec row: %w", err)
	}
	return tx.Commit()
}

// VectorCandidate is a raw nearest-neighbour hit joined back to its owning
// fragment/claim row, before task scoping or threshold filtering.
type VectorCandidate struct {
	TargetType string
	TargetID   string
	Distance   float64
}

// VectorSearchRaw runs a brute-force KNN query over the vec0 index,
// restricted to targetType, returning up to fetchK nearest neighbours.
// The returned distance is vec0's default L2 distance; vectors are assumed
// L2-normalized at embedding time, so it orders hits the same way cosine
// similarity does.
func (db *DB) VectorSearchRaw(targetType string, queryVec []float32, fetchK int) ([]VectorCandidate, error) {
	if len(queryVec) != EmbeddingDim {
		return nil, fmt.Errorf("query embedding dimension mismatch: got %d want %d", len(queryVec), EmbeddingDim)
	}
	vecData, err := sqlite_vec.SerializeFloat32(queryVec)
	if err != nil {
		return nil, fmt.Errorf("serialize query: %w", err)
	}
	rows, err := db.reader.Query(`
		SELECT v.distance, e.target_type, e.target_id
		FROM embeddings_vec v
		JOIN embeddings e ON e.rowid = v.row_id
		WHERE v.embedding MATCH ? AND k = ? AND e.target_type = ?
		ORDER BY v.distance`,
		vecData, fetchK, targetType,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []VectorCandidate
	for rows.Next() {
		var c VectorCandidate
		if err := rows.Scan(&c.Distance, &c.TargetType, &c.TargetID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TaskScopedClaimIDs returns the set of claim ids belonging to taskID,
// per spec C14 "for claim, join to claims on task_id".
func (db *DB) TaskScopedClaimIDs(taskID string) (map[string]bool, error) {
	rows, err := db.reader.Query(`SELECT id FROM claims WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// TaskScopedFragmentIDs computes the fragment set reachable from taskID via
// edges → claims, per spec C14 "for fragment, compute task set via CTE
// through edges → claims filtered by task_id" (fragments carry no direct
// task_id).
func (db *DB) TaskScopedFragmentIDs(taskID string) (map[string]bool, error) {
	rows, err := db.reader.Query(`
		WITH task_claims AS (SELECT id FROM claims WHERE task_id = ?)
		SELECT DISTINCT e.source_id
		FROM edges e
		JOIN task_claims c ON c.id = e.target_id
		WHERE e.relation IN ('supports','refutes','neutral')`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
