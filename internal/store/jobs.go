package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Job mirrors the `jobs` table (spec §3, C8).
type Job struct {
	ID         string
	Kind       string // serp | fetch | extract | embed | rank | llm_extract | nli | compose
	Priority   int
	InputJSON  string
	State      string // queued | running | awaiting_auth | done | failed | cancelled
	EnqueuedAt string
	StartedAt  string
	OutputJSON string
	CauseID    string
	ParentID   string
	TaskID     string
	Domain     string
}

// EnqueueJob inserts a new job row in the queued state, preserving caller-
// supplied EnqueuedAt when set. Re-queueing awaiting_auth jobs does not go
// through here: RequeueAwaitingAuthForDomain flips their state in place,
// which keeps their original priority and enqueue timestamp.
func (db *DB) EnqueueJob(j Job) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	id := j.ID
	if id == "" {
		id = uuid.NewString()
	}
	if j.InputJSON == "" {
		j.InputJSON = "{}"
	}
	if j.OutputJSON == "" {
		j.OutputJSON = "{}"
	}
	if j.State == "" {
		j.State = "queued"
	}
	var cause, parent sql.NullString
	if j.CauseID != "" {
		cause = sql.NullString{String: j.CauseID, Valid: true}
	}
	if j.ParentID != "" {
		parent = sql.NullString{String: j.ParentID, Valid: true}
	}
	if j.EnqueuedAt != "" {
		_, err := db.writer.Exec(`INSERT INTO jobs (id, kind, priority, input_json, state, enqueued_at, output_json, cause_id, parent_id, task_id, domain)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, j.Kind, j.Priority, j.InputJSON, j.State, j.EnqueuedAt, j.OutputJSON, cause, parent, j.TaskID, j.Domain)
		if err != nil {
			return "", fmt.Errorf("insert job: %w", err)
		}
		return id, nil
	}
	_, err := db.writer.Exec(`INSERT INTO jobs (id, kind, priority, input_json, state, output_json, cause_id, parent_id, task_id, domain)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, j.Kind, j.Priority, j.InputJSON, j.State, j.OutputJSON, cause, parent, j.TaskID, j.Domain)
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// NextQueuedJobs returns up to limit queued jobs ordered by priority desc,
// enqueue time asc (FIFO within a priority), restricted to kinds. The
// scheduler applies concurrency/mutex-group admission control on top of
// this ordering; this method only reflects persisted ordering guarantees.
func (db *DB) NextQueuedJobs(limit int, kinds []string) ([]Job, error) {
	query := `SELECT id, kind, priority, input_json, state, enqueued_at, COALESCE(started_at,''), output_json, COALESCE(cause_id,''), COALESCE(parent_id,''), COALESCE(task_id,''), domain
		FROM jobs WHERE state = 'queued'`
	args := []any{}
	if len(kinds) > 0 {
		query += ` AND kind IN (` + placeholders(len(kinds)) + `)`
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	query += ` ORDER BY priority DESC, enqueued_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := db.reader.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.Priority, &j.InputJSON, &j.State, &j.EnqueuedAt, &j.StartedAt, &j.OutputJSON, &j.CauseID, &j.ParentID, &j.TaskID, &j.Domain); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "?"
	}
	return s
}

// MarkJobRunning transitions a job queued -> running.
func (db *DB) MarkJobRunning(id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.writer.Exec(`UPDATE jobs SET state = 'running', started_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`, id)
	return err
}

// FinishJob transitions a job to a terminal or awaiting_auth state,
// recording output and, on failure, a cause_id.
func (db *DB) FinishJob(id, state, outputJSON, causeID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if outputJSON == "" {
		outputJSON = "{}"
	}
	var cause sql.NullString
	if causeID != "" {
		cause = sql.NullString{String: causeID, Valid: true}
	}
	_, err := db.writer.Exec(`UPDATE jobs SET state = ?, output_json = ?, cause_id = ? WHERE id = ?`, state, outputJSON, cause, id)
	return err
}

// RequeueAwaitingAuthForDomain re-queues every awaiting_auth job for
// domain, preserving priority and original enqueue timestamp, per spec
// "on resolution, the scheduler re-queues jobs in awaiting_auth that were
// blocked by this domain."
func (db *DB) RequeueAwaitingAuthForDomain(domain string) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.writer.Query(`SELECT id FROM jobs WHERE state = 'awaiting_auth' AND domain = ?`, domain)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := db.writer.Exec(`UPDATE jobs SET state = 'queued' WHERE state = 'awaiting_auth' AND domain = ?`, domain); err != nil {
		return nil, fmt.Errorf("requeue awaiting_auth jobs: %w", err)
	}
	return ids, nil
}

// CancelJobsForTask cancels every job belonging to taskID that is not
// already terminal, used by stop_task(immediate|full).
func (db *DB) CancelJobsForTask(taskID string, removeQueued bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if removeQueued {
		if _, err := db.writer.Exec(`DELETE FROM jobs WHERE task_id = ? AND state = 'queued'`, taskID); err != nil {
			return fmt.Errorf("remove queued jobs: %w", err)
		}
	}
	_, err := db.writer.Exec(`UPDATE jobs SET state = 'cancelled' WHERE task_id = ? AND state IN ('queued','running','awaiting_auth')`, taskID)
	return err
}

// CountJobsByState returns per-state job counts for a task, used by
// get_status progress counters alongside CountQueriesByStatus.
func (db *DB) CountJobsByState(taskID string) (map[string]int, error) {
	rows, err := db.reader.Query(`SELECT state, COUNT(*) FROM jobs WHERE task_id = ? GROUP BY state`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		out[state] = count
	}
	return out, rows.Err()
}

// GetJob returns a job by id.
func (db *DB) GetJob(id string) (*Job, error) {
	var j Job
	err := db.reader.QueryRow(`SELECT id, kind, priority, input_json, state, enqueued_at, COALESCE(started_at,''), output_json, COALESCE(cause_id,''), COALESCE(parent_id,''), COALESCE(task_id,''), domain
		FROM jobs WHERE id = ?`, id).Scan(&j.ID, &j.Kind, &j.Priority, &j.InputJSON, &j.State, &j.EnqueuedAt, &j.StartedAt, &j.OutputJSON, &j.CauseID, &j.ParentID, &j.TaskID, &j.Domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}
