package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Claim mirrors the `claims` table (spec §3).
type Claim struct {
	ID                   string
	TaskID               string
	ClaimText            string
	AdoptionStatus       string // adopted | not_adopted
	RejectionReason      string
	RejectedAt           string
}

// PutClaim inserts a claim row. Exact-text dedup within a task is the
// caller's responsibility (internal/claims performs embedding-similarity
// dedup before calling this); the store itself does not enforce claim_text
// uniqueness since two distinct claims may legitimately share wording
// across tasks.
func (db *DB) PutClaim(c Claim) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	if c.AdoptionStatus == "" {
		c.AdoptionStatus = "adopted"
	}
	_, err := db.writer.Exec(`INSERT INTO claims (id, task_id, claim_text, claim_adoption_status)
		VALUES (?, ?, ?, ?)`, id, c.TaskID, c.ClaimText, c.AdoptionStatus)
	if err != nil {
		return "", fmt.Errorf("insert claim: %w", err)
	}
	return id, nil
}

// ListClaimsByTask returns all claims for a task, exact text match allowed
// for dedup probing by internal/claims.
func (db *DB) ListClaimsByTask(taskID string) ([]Claim, error) {
	rows, err := db.reader.Query(`SELECT id, task_id, claim_text, claim_adoption_status, COALESCE(claim_rejection_reason,''), COALESCE(claim_rejected_at,'')
		FROM claims WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Claim
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.ID, &c.TaskID, &c.ClaimText, &c.AdoptionStatus, &c.RejectionReason, &c.RejectedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RejectClaim marks a claim not_adopted with a reason, used by C17 and by
// feedback(action=claim_reject).
func (db *DB) RejectClaim(claimID, reason string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.writer.Exec(`UPDATE claims SET claim_adoption_status = 'not_adopted', claim_rejection_reason = ?, claim_rejected_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		reason, claimID)
	return err
}

// RestoreClaim reverses a rejection, used by feedback(action=claim_restore).
func (db *DB) RestoreClaim(claimID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.writer.Exec(`UPDATE claims SET claim_adoption_status = 'adopted', claim_rejection_reason = NULL, claim_rejected_at = NULL WHERE id = ?`, claimID)
	return err
}

// GetClaim returns a claim by id.
func (db *DB) GetClaim(id string) (*Claim, error) {
	var c Claim
	err := db.reader.QueryRow(`SELECT id, task_id, claim_text, claim_adoption_status, COALESCE(claim_rejection_reason,''), COALESCE(claim_rejected_at,'')
		FROM claims WHERE id = ?`, id).Scan(&c.ID, &c.TaskID, &c.ClaimText, &c.AdoptionStatus, &c.RejectionReason, &c.RejectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
