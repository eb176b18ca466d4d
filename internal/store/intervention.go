package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// InterventionItem mirrors the `intervention_items` table (spec §3, C6).
type InterventionItem struct {
	ID               string
	TaskID           string
	Domain           string
	URL              string
	InterventionType string // captcha | login | domain_blocked
	Status           string // pending | in_progress | solved | skipped | expired
	CreatedAt        string
	ResolvedAt       string
	SessionDataJSON  string
	Diagnostic       string
}

// EnqueueIntervention inserts a pending item, or coalesces into the
// existing pending item for (task_id, domain, type) per the uniqueness
// rule — duplicates coalesce rather than creating a second row.
func (db *DB) EnqueueIntervention(item InterventionItem) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var existingID string
	err := db.writer.QueryRow(`SELECT id FROM intervention_items WHERE task_id = ? AND domain = ? AND intervention_type = ? AND status = 'pending'`,
		item.TaskID, item.Domain, item.InterventionType).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup pending intervention: %w", err)
	}

	id := item.ID
	if id == "" {
		id = uuid.NewString()
	}
	if item.SessionDataJSON == "" {
		item.SessionDataJSON = "{}"
	}
	if item.Status == "" {
		item.Status = "pending"
	}
	_, err = db.writer.Exec(`INSERT INTO intervention_items (id, task_id, domain, url, intervention_type, status, session_data, diagnostic)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, item.TaskID, item.Domain, item.URL, item.InterventionType, item.Status, item.SessionDataJSON, item.Diagnostic)
	if err != nil {
		return "", fmt.Errorf("insert intervention item: %w", err)
	}
	return id, nil
}

// ListPendingInterventions lists pending items, optionally scoped to a task.
func (db *DB) ListPendingInterventions(taskID string) ([]InterventionItem, error) {
	query := `SELECT id, task_id, domain, url, intervention_type, status, created_at, COALESCE(resolved_at,''), session_data, diagnostic
		FROM intervention_items WHERE status = 'pending'`
	args := []any{}
	if taskID != "" {
		query += ` AND task_id = ?`
		args = append(args, taskID)
	}
	rows, err := db.reader.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InterventionItem
	for rows.Next() {
		var it InterventionItem
		if err := rows.Scan(&it.ID, &it.TaskID, &it.Domain, &it.URL, &it.InterventionType, &it.Status, &it.CreatedAt, &it.ResolvedAt, &it.SessionDataJSON, &it.Diagnostic); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// StartIntervention marks a pending item in_progress and returns its URL,
// per C6's start_session(id) -> {url}: the caller navigates the shared
// browser to this URL for the human to act on.
func (db *DB) StartIntervention(id string) (url string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if err := tx.QueryRow(`SELECT url FROM intervention_items WHERE id = ?`, id).Scan(&url); err != nil {
		return "", fmt.Errorf("lookup intervention item: %w", err)
	}
	if _, err := tx.Exec(`UPDATE intervention_items SET status = 'in_progress' WHERE id = ? AND status = 'pending'`, id); err != nil {
		return "", fmt.Errorf("start intervention item: %w", err)
	}
	return url, tx.Commit()
}

// LatestSessionDataForDomain returns the most recently solved item's
// captured session_data for domain, if any, per C6's
// get_session_for_domain(domain).
func (db *DB) LatestSessionDataForDomain(domain string) (string, bool, error) {
	var data string
	err := db.reader.QueryRow(`SELECT session_data FROM intervention_items
		WHERE domain = ? AND status = 'solved' AND session_data IS NOT NULL AND session_data != '{}'
		ORDER BY resolved_at DESC LIMIT 1`, domain).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return data, true, nil
}

// ResolveIntervention resolves a single item by id: action is one of
// solved, skipped, expired. On solved, sessionData (captured cookies) is
// stored. Returns the resolved item's domain so the caller (scheduler) can
// re-queue awaiting_auth jobs for that domain.
func (db *DB) ResolveIntervention(id, action, sessionDataJSON string) (domain string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if sessionDataJSON == "" {
		sessionDataJSON = "{}"
	}
	tx, err := db.writer.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if err := tx.QueryRow(`SELECT domain FROM intervention_items WHERE id = ?`, id).Scan(&domain); err != nil {
		return "", fmt.Errorf("lookup intervention item: %w", err)
	}
	_, err = tx.Exec(`UPDATE intervention_items SET status = ?, resolved_at = strftime('%Y-%m-%dT%H:%M:%fZ','now'), session_data = ? WHERE id = ?`,
		action, sessionDataJSON, id)
	if err != nil {
		return "", fmt.Errorf("update intervention item: %w", err)
	}
	return domain, tx.Commit()
}

// ResolveInterventionsForDomain resolves every pending item sharing domain
// in one pass — the "domain-based single-unlock" rule (spec C6, scenario
// 3): session_data is captured exactly once, attached to every item.
func (db *DB) ResolveInterventionsForDomain(domain, action, sessionDataJSON string) (itemIDs []string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if sessionDataJSON == "" {
		sessionDataJSON = "{}"
	}
	tx, err := db.writer.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id FROM intervention_items WHERE domain = ? AND status = 'pending'`, domain)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		itemIDs = append(itemIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`UPDATE intervention_items SET status = ?, resolved_at = strftime('%Y-%m-%dT%H:%M:%fZ','now'), session_data = ? WHERE domain = ? AND status = 'pending'`,
		action, sessionDataJSON, domain); err != nil {
		return nil, fmt.Errorf("update intervention items for domain: %w", err)
	}
	return itemIDs, tx.Commit()
}
