package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Edge mirrors the `edges` table (spec §3). Relation "cites" is used only
// for page→page edges with CitationSource set; fragment→claim edges use
// supports/refutes/neutral and NLILabel/NLIConfidence.
type Edge struct {
	ID                   string
	SourceID             string
	TargetID             string
	Relation             string // supports | refutes | neutral | cites
	NLILabel             string
	NLIConfidence        float64
	SourceDomainCategory string
	TargetDomainCategory string
	CitationSource       string // semantic_scholar | openalex | extraction
	HumanCorrected       bool
	CorrectionReason     string
}

// PutEdge inserts an edge, or is a no-op (except for citation_source
// precedence, see below) when (source_id, target_id, relation) already
// exists, per the edge dedup invariant. Re-observation does not update
// confidence; only an explicit human correction (CorrectEdge) does.
func (db *DB) PutEdge(e Edge) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var existingID, existingSource string
	err := db.writer.QueryRow(`SELECT id, COALESCE(citation_source,'') FROM edges WHERE source_id = ? AND target_id = ? AND relation = ?`,
		e.SourceID, e.TargetID, e.Relation).Scan(&existingID, &existingSource)
	if err == nil {
		// citation edges from multiple academic sources: semantic_scholar,
		// first observed, takes precedence over openalex (spec C11).
		if e.Relation == "cites" && existingSource == "openalex" && e.CitationSource == "semantic_scholar" {
			if _, err := db.writer.Exec(`UPDATE edges SET citation_source = ? WHERE id = ?`, e.CitationSource, existingID); err != nil {
				return "", err
			}
		}
		return existingID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup existing edge: %w", err)
	}

	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	var citationSource sql.NullString
	if e.CitationSource != "" {
		citationSource = sql.NullString{String: e.CitationSource, Valid: true}
	}
	_, err = db.writer.Exec(`INSERT INTO edges
		(id, source_id, target_id, relation, nli_label, nli_confidence, source_domain_category, target_domain_category, citation_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.SourceID, e.TargetID, e.Relation, e.NLILabel, e.NLIConfidence, e.SourceDomainCategory, e.TargetDomainCategory, citationSource)
	if err != nil {
		return "", fmt.Errorf("insert edge: %w", err)
	}
	return id, nil
}

// CorrectEdge applies a human correction to an existing edge in place: the
// relation is updated, nli_confidence forced to 1.0, edge_human_corrected
// set, and an NLI correction sample recorded for calibration, per spec
// scenario 5.
func (db *DB) CorrectEdge(edgeID, correctRelation, reason string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var premise, hypothesis, predictedLabel string
	var predictedConfidence float64
	err = tx.QueryRow(`SELECT f.text_content, c.claim_text, COALESCE(NULLIF(e.nli_label, ''), e.relation), e.nli_confidence
		FROM edges e JOIN fragments f ON f.id = e.source_id JOIN claims c ON c.id = e.target_id
		WHERE e.id = ?`, edgeID).Scan(&premise, &hypothesis, &predictedLabel, &predictedConfidence)
	if err != nil {
		return fmt.Errorf("load edge for correction: %w", err)
	}

	if _, err := tx.Exec(`UPDATE edges SET relation = ?, nli_confidence = 1.0, edge_human_corrected = 1, edge_correction_reason = ? WHERE id = ?`,
		correctRelation, reason, edgeID); err != nil {
		return fmt.Errorf("update edge: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO nli_corrections (id, edge_id, premise, hypothesis, predicted_label, predicted_confidence, correct_label, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), edgeID, premise, hypothesis, predictedLabel, predictedConfidence, correctRelation, reason); err != nil {
		return fmt.Errorf("insert correction sample: %w", err)
	}
	return tx.Commit()
}

// ClaimConfidence is the result of on-read Bayesian aggregation (C13/C11
// "derived on read, never cached as the source of truth").
type ClaimConfidence struct {
	Confidence     float64
	Uncertainty    float64
	Controversy    float64
	Alpha          float64
	Beta           float64
	EvidenceCount  int
	PerEvidence    []EvidenceSummary
}

// EvidenceSummary is one row of per-evidence detail for get_claim_confidence.
type EvidenceSummary struct {
	EdgeID               string
	FragmentID           string
	Relation             string
	NLIConfidence        float64
	SourceDomainCategory string
}

// GetClaimConfidence recomputes confidence/uncertainty/controversy from the
// claim's current edge set, per spec §4.13. Starts from Beta(1,1); supports
// edges add nli_confidence to alpha, refutes add to beta, neutral is
// ignored. This is a pure function of the current edges — re-running it
// without new edges yields an identical result.
func (db *DB) GetClaimConfidence(claimID string) (ClaimConfidence, error) {
	rows, err := db.reader.Query(`SELECT id, source_id, relation, nli_confidence, source_domain_category
		FROM edges WHERE target_id = ? AND relation IN ('supports','refutes','neutral')`, claimID)
	if err != nil {
		return ClaimConfidence{}, err
	}
	defer rows.Close()

	alpha, beta := 1.0, 1.0
	var evidence []EvidenceSummary
	for rows.Next() {
		var ev EvidenceSummary
		if err := rows.Scan(&ev.EdgeID, &ev.FragmentID, &ev.Relation, &ev.NLIConfidence, &ev.SourceDomainCategory); err != nil {
			return ClaimConfidence{}, err
		}
		switch ev.Relation {
		case "supports":
			alpha += ev.NLIConfidence
		case "refutes":
			beta += ev.NLIConfidence
		case "neutral":
			// ignored per invariant
		}
		evidence = append(evidence, ev)
	}
	if err := rows.Err(); err != nil {
		return ClaimConfidence{}, err
	}

	confidence := alpha / (alpha + beta)
	uncertainty := math.Sqrt((alpha * beta) / (math.Pow(alpha+beta, 2) * (alpha + beta + 1)))
	n := alpha + beta - 2
	controversy := 0.0
	if n > 0 {
		controversy = math.Min(alpha-1, beta-1) / n
	}

	return ClaimConfidence{
		Confidence:    confidence,
		Uncertainty:   uncertainty,
		Controversy:   controversy,
		Alpha:         alpha,
		Beta:          beta,
		EvidenceCount: len(evidence),
		PerEvidence:   evidence,
	}, nil
}
