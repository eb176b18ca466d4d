package store

import "fmt"

// NLICorrection mirrors one row of nli_corrections: a human-supplied
// correct_label recorded against what the NLI service predicted, per
// CorrectEdge.
type NLICorrection struct {
	ID                  string
	EdgeID              string
	Premise             string
	Hypothesis          string
	PredictedLabel      string
	PredictedConfidence float64
	CorrectLabel        string
	Reason              string
	CorrectedAt         string
}

// ListNLICorrections returns the most recent corrections, newest first,
// capped at limit (0 means unbounded).
func (db *DB) ListNLICorrections(limit int) ([]NLICorrection, error) {
	query := `SELECT id, edge_id, premise, hypothesis, predicted_label, predicted_confidence, correct_label, reason, corrected_at
		FROM nli_corrections ORDER BY corrected_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.reader.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list nli corrections: %w", err)
	}
	defer rows.Close()

	var out []NLICorrection
	for rows.Next() {
		var c NLICorrection
		if err := rows.Scan(&c.ID, &c.EdgeID, &c.Premise, &c.Hypothesis, &c.PredictedLabel, &c.PredictedConfidence, &c.CorrectLabel, &c.Reason, &c.CorrectedAt); err != nil {
			return nil, fmt.Errorf("scan nli correction: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CalibrationStats is the aggregate accuracy summary over all recorded
// NLI corrections: how often the service's predicted_label matched the
// human-supplied correct_label, per spec C17's calibration_metrics
// get_stats action.
type CalibrationStats struct {
	TotalCorrections int
	Agreements       int
	Accuracy         float64
	ConfusionCounts  map[string]int // "predicted->correct" -> count
}

// CalibrationStats computes CalibrationStats over the full nli_corrections
// history. Since every row is a human correction (the model disagreed with
// or merely confirmed a human reviewer), this is a sample of reviewed
// decisions, not a population-wide accuracy figure.
func (db *DB) CalibrationStats() (CalibrationStats, error) {
	rows, err := db.reader.Query(`SELECT predicted_label, correct_label FROM nli_corrections`)
	if err != nil {
		return CalibrationStats{}, fmt.Errorf("calibration stats: %w", err)
	}
	defer rows.Close()

	stats := CalibrationStats{ConfusionCounts: map[string]int{}}
	for rows.Next() {
		var predicted, correct string
		if err := rows.Scan(&predicted, &correct); err != nil {
			return CalibrationStats{}, fmt.Errorf("scan calibration row: %w", err)
		}
		stats.TotalCorrections++
		if predicted == correct {
			stats.Agreements++
		}
		stats.ConfusionCounts[predicted+"->"+correct]++
	}
	if err := rows.Err(); err != nil {
		return CalibrationStats{}, err
	}
	if stats.TotalCorrections > 0 {
		stats.Accuracy = float64(stats.Agreements) / float64(stats.TotalCorrections)
	}
	return stats, nil
}

// RollbackCorrections reverts every edge whose correction was recorded at
// or after targetVersion (an ISO8601 corrected_at cutoff, since the system
// tracks no separate NLI model version) back to the service's original
// predicted_label/predicted_confidence, clearing edge_human_corrected and
// deleting the superseded correction rows. It returns the number of edges
// reverted. Per spec §7, NLI retraining itself stays an offline process;
// this only undoes human corrections applied since the cutoff.
func (db *DB) RollbackCorrections(targetVersion string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id, edge_id, predicted_label, predicted_confidence
		FROM nli_corrections WHERE corrected_at >= ?`, targetVersion)
	if err != nil {
		return 0, fmt.Errorf("rollback: select corrections: %w", err)
	}
	type pending struct {
		id, edgeID, label string
		confidence        float64
	}
	var toRevert []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.edgeID, &p.label, &p.confidence); err != nil {
			rows.Close()
			return 0, fmt.Errorf("rollback: scan correction: %w", err)
		}
		toRevert = append(toRevert, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, p := range toRevert {
		if _, err := tx.Exec(`UPDATE edges SET relation = ?, nli_confidence = ?, edge_human_corrected = 0, edge_correction_reason = '' WHERE id = ?`,
			p.label, p.confidence, p.edgeID); err != nil {
			return 0, fmt.Errorf("rollback: revert edge %s: %w", p.edgeID, err)
		}
		if _, err := tx.Exec(`DELETE FROM nli_corrections WHERE id = ?`, p.id); err != nil {
			return 0, fmt.Errorf("rollback: delete correction %s: %w", p.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(toRevert), nil
}
