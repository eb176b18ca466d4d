package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DomainOverrideRule mirrors `domain_override_rules` (spec §3).
type DomainOverrideRule struct {
	ID            string
	DomainPattern string
	Decision      string // block | unblock
	Reason        string
	CreatedAt     string
	UpdatedAt     string
	IsActive      bool
}

// PutDomainOverrideRule inserts a new override rule and records a create
// event in the audit log, per the "append-only source-of-truth row" design.
func (db *DB) PutDomainOverrideRule(r DomainOverrideRule) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := tx.Exec(`INSERT INTO domain_override_rules (id, domain_pattern, decision, reason, is_active)
		VALUES (?, ?, ?, ?, 1)`, id, r.DomainPattern, r.Decision, r.Reason); err != nil {
		return "", fmt.Errorf("insert override rule: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO domain_override_events (id, rule_id, event) VALUES (?, ?, 'create')`, uuid.NewString(), id); err != nil {
		return "", fmt.Errorf("insert override event: %w", err)
	}
	return id, tx.Commit()
}

// ClearDomainOverrideRule deactivates a rule (feedback action
// domain_clear_override) and records a clear event.
func (db *DB) ClearDomainOverrideRule(ruleID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE domain_override_rules SET is_active = 0, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`, ruleID); err != nil {
		return fmt.Errorf("deactivate override rule: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO domain_override_events (id, rule_id, event) VALUES (?, ?, 'clear')`, uuid.NewString(), ruleID); err != nil {
		return fmt.Errorf("insert override event: %w", err)
	}
	return tx.Commit()
}

// ActiveDomainOverrideRules returns all currently active override rules,
// used by internal/domainpolicy to build the resolver's highest-precedence
// layer.
func (db *DB) ActiveDomainOverrideRules() ([]DomainOverrideRule, error) {
	rows, err := db.reader.Query(`SELECT id, domain_pattern, decision, reason, created_at, updated_at, is_active
		FROM domain_override_rules WHERE is_active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DomainOverrideRule
	for rows.Next() {
		var r DomainOverrideRule
		var active int
		if err := rows.Scan(&r.ID, &r.DomainPattern, &r.Decision, &r.Reason, &r.CreatedAt, &r.UpdatedAt, &active); err != nil {
			return nil, err
		}
		r.IsActive = active != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// DomainState mirrors the `domain_state` table (spec §3, C17).
type DomainState struct {
	Domain                 string
	Category               string
	SecurityRejectedClaims int
	ManualRejectedClaims   int
	TotalClaims            int
	DangerousPattern       bool
	BlockedAt              string
	BlockReason            string // dangerous_pattern | high_rejection_rate | denylist | manual | unknown
}

// GetDomainState returns the state row for domain, creating a zero-value
// row on first access.
func (db *DB) GetDomainState(domain string) (DomainState, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var s DomainState
	var dangerous int
	var blockedAt, blockReason sql.NullString
	err := db.writer.QueryRow(`SELECT domain, category, security_rejected_claims, manual_rejected_claims, total_claims, dangerous_pattern, blocked_at, domain_block_reason
		FROM domain_state WHERE domain = ?`, domain).Scan(&s.Domain, &s.Category, &s.SecurityRejectedClaims, &s.ManualRejectedClaims, &s.TotalClaims, &dangerous, &blockedAt, &blockReason)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := db.writer.Exec(`INSERT INTO domain_state (domain) VALUES (?)`, domain); err != nil {
			return DomainState{}, fmt.Errorf("init domain state: %w", err)
		}
		return DomainState{Domain: domain, Category: "unverified"}, nil
	}
	if err != nil {
		return DomainState{}, err
	}
	s.DangerousPattern = dangerous != 0
	s.BlockedAt = blockedAt.String
	s.BlockReason = blockReason.String
	return s, nil
}

// RecordClaimRejection increments the domain's rejection counters, used by
// C17 bookkeeping after a claim rejection decision.
func (db *DB) RecordClaimRejection(domain string, security, manual bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.writer.Exec(`INSERT INTO domain_state (domain) VALUES (?) ON CONFLICT(domain) DO NOTHING`, domain); err != nil {
		return err
	}
	secInc, manInc := 0, 0
	if security {
		secInc = 1
	}
	if manual {
		manInc = 1
	}
	_, err := db.writer.Exec(`UPDATE domain_state SET
		security_rejected_claims = security_rejected_claims + ?,
		manual_rejected_claims = manual_rejected_claims + ?,
		total_claims = total_claims + 1
		WHERE domain = ?`, secInc, manInc, domain)
	return err
}

// RecordClaimObservation increments total_claims without a rejection, for
// claims that clear verification.
func (db *DB) RecordClaimObservation(domain string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.writer.Exec(`INSERT INTO domain_state (domain) VALUES (?) ON CONFLICT(domain) DO NOTHING`, domain); err != nil {
		return err
	}
	_, err := db.writer.Exec(`UPDATE domain_state SET total_claims = total_claims + 1 WHERE domain = ?`, domain)
	return err
}

// BlockDomain sets blocked_at/domain_block_reason.
func (db *DB) BlockDomain(domain, reason string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.writer.Exec(`INSERT INTO domain_state (domain) VALUES (?) ON CONFLICT(domain) DO NOTHING`, domain); err != nil {
		return err
	}
	_, err := db.writer.Exec(`UPDATE domain_state SET blocked_at = strftime('%Y-%m-%dT%H:%M:%fZ','now'), domain_block_reason = ? WHERE domain = ?`, reason, domain)
	return err
}

// SetDangerousPattern flips the dangerous-pattern flag for a domain.
func (db *DB) SetDangerousPattern(domain string, dangerous bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.writer.Exec(`INSERT INTO domain_state (domain) VALUES (?) ON CONFLICT(domain) DO NOTHING`, domain); err != nil {
		return err
	}
	v := 0
	if dangerous {
		v = 1
	}
	_, err := db.writer.Exec(`UPDATE domain_state SET dangerous_pattern = ? WHERE domain = ?`, v, domain)
	return err
}

// ListBlockedDomains returns every domain with a non-empty block reason,
// for get_status's blocked_domains[].
func (db *DB) ListBlockedDomains() ([]DomainState, error) {
	rows, err := db.reader.Query(`SELECT domain, category, security_rejected_claims, manual_rejected_claims, total_claims, dangerous_pattern, blocked_at, domain_block_reason
		FROM domain_state WHERE blocked_at IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DomainState
	for rows.Next() {
		var s DomainState
		var dangerous int
		var blockedAt, blockReason sql.NullString
		if err := rows.Scan(&s.Domain, &s.Category, &s.SecurityRejectedClaims, &s.ManualRejectedClaims, &s.TotalClaims, &dangerous, &blockedAt, &blockReason); err != nil {
			return nil, err
		}
		s.DangerousPattern = dangerous != 0
		s.BlockedAt = blockedAt.String
		s.BlockReason = blockReason.String
		out = append(out, s)
	}
	return out, rows.Err()
}
