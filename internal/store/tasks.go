package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Task mirrors the `tasks` table (spec §3).
type Task struct {
	ID              string
	IdempotencyKey  string
	Hypothesis      string
	BudgetPages     int
	PriorityDomains string // JSON array
	Status          string // active | stopped
	CreatedAt       string
}

// CreateTask inserts a task, or returns the existing task_id when
// idempotencyKey was already used with the same hypothesis, per the
// idempotence testable property.
func (db *DB) CreateTask(t Task) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if t.IdempotencyKey != "" {
		var existingID, existingHypothesis string
		err := db.writer.QueryRow(`SELECT id, hypothesis FROM tasks WHERE idempotency_key = ?`, t.IdempotencyKey).Scan(&existingID, &existingHypothesis)
		if err == nil {
			if existingHypothesis == t.Hypothesis {
				return existingID, nil
			}
			return "", fmt.Errorf("idempotency key %q already used with a different hypothesis", t.IdempotencyKey)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
	}

	id := t.ID
	if id == "" {
		id = uuid.NewString()
	}
	if t.PriorityDomains == "" {
		t.PriorityDomains = "[]"
	}
	if t.Status == "" {
		t.Status = "active"
	}
	var idem sql.NullString
	if t.IdempotencyKey != "" {
		idem = sql.NullString{String: t.IdempotencyKey, Valid: true}
	}
	_, err := db.writer.Exec(`INSERT INTO tasks (id, idempotency_key, hypothesis, budget_pages, priority_domains, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, idem, t.Hypothesis, t.BudgetPages, t.PriorityDomains, t.Status)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

// GetTask returns a task by id.
func (db *DB) GetTask(id string) (*Task, error) {
	var t Task
	var idem sql.NullString
	err := db.reader.QueryRow(`SELECT id, idempotency_key, hypothesis, budget_pages, priority_domains, status, created_at FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &idem, &t.Hypothesis, &t.BudgetPages, &t.PriorityDomains, &t.Status, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.IdempotencyKey = idem.String
	return &t, nil
}

// SetTaskStatus updates a task's status, used by stop_task.
func (db *DB) SetTaskStatus(id, status string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.writer.Exec(`UPDATE tasks SET status = ? WHERE id = ?`, status, id)
	return err
}

// Query mirrors the `queries` table (a submitted search within a task).
type Query struct {
	ID          string
	TaskID      string
	QueryText   string
	Engine      string
	OptionsJSON string
	Status      string
	HarvestRate float64
}

// PutQuery inserts a new query row.
func (db *DB) PutQuery(q Query) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	id := q.ID
	if id == "" {
		id = uuid.NewString()
	}
	if q.OptionsJSON == "" {
		q.OptionsJSON = "{}"
	}
	if q.Status == "" {
		q.Status = "queued"
	}
	_, err := db.writer.Exec(`INSERT INTO queries (id, task_id, query_text, engine, options_json, status, harvest_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, q.TaskID, q.QueryText, q.Engine, q.OptionsJSON, q.Status, q.HarvestRate)
	if err != nil {
		return "", fmt.Errorf("insert query: %w", err)
	}
	return id, nil
}

// SetQueryStatus updates a query's status and harvest rate.
func (db *DB) SetQueryStatus(id, status string, harvestRate float64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.writer.Exec(`UPDATE queries SET status = ?, harvest_rate = ? WHERE id = ?`, status, harvestRate, id)
	return err
}

// ListQueriesByTask returns every query submitted under a task, most
// recent first, used by get_status to report per-query progress.
func (db *DB) ListQueriesByTask(taskID string) ([]Query, error) {
	rows, err := db.reader.Query(`SELECT id, task_id, query_text, engine, options_json, status, harvest_rate
		FROM queries WHERE task_id = ? ORDER BY created_at DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Query
	for rows.Next() {
		var q Query
		if err := rows.Scan(&q.ID, &q.TaskID, &q.QueryText, &q.Engine, &q.OptionsJSON, &q.Status, &q.HarvestRate); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// CountQueriesByStatus returns per-status counts for a task, used by
// get_status progress counters.
func (db *DB) CountQueriesByStatus(taskID string) (map[string]int, error) {
	rows, err := db.reader.Query(`SELECT status, COUNT(*) FROM queries WHERE task_id = ? GROUP BY status`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}
