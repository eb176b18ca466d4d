package toolserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lyra-research/lyra/internal/store"
)

const (
	defaultWaitSeconds = 0
	maxWaitSeconds     = 30
	pollInterval       = 200 * time.Millisecond
)

// StatusSnapshot is the long-pollable view get_status returns: a task's
// status, its queries' status/harvest_rate, and job-state counts, plus
// an opaque Since token a client echoes back to ask "has this changed".
type StatusSnapshot struct {
	TaskID    string         `json:"task_id"`
	Status    string         `json:"status"`
	Queries   []QueryStatus  `json:"queries"`
	JobCounts map[string]int `json:"job_counts"`
	Since     string         `json:"since"`
}

type QueryStatus struct {
	ID           string  `json:"id"`
	QueryText    string  `json:"query_text"`
	Status       string  `json:"status"`
	HarvestRate  float64 `json:"harvest_rate"`
}

// StatusProvider reads the durable state get_status reports on.
type StatusProvider struct {
	DB *store.DB
}

// GetStatus returns the first snapshot that either differs from since or
// arrives once wait_seconds (bounded to [0, maxWaitSeconds]) elapses,
// per spec's long-poll get_status(task_id, wait_seconds?).
func (p *StatusProvider) GetStatus(ctx context.Context, taskID, since string, waitSeconds int) (StatusSnapshot, error) {
	deadline := time.Now().Add(boundedWait(waitSeconds))
	for {
		snap, err := p.snapshot(taskID)
		if err != nil {
			return StatusSnapshot{}, err
		}
		if snap.Since != since || !time.Now().Before(deadline) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return StatusSnapshot{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func boundedWait(seconds int) time.Duration {
	if seconds < 0 {
		seconds = defaultWaitSeconds
	}
	if seconds > maxWaitSeconds {
		seconds = maxWaitSeconds
	}
	return time.Duration(seconds) * time.Second
}

func (p *StatusProvider) snapshot(taskID string) (StatusSnapshot, error) {
	task, err := p.DB.GetTask(taskID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	if task == nil {
		return StatusSnapshot{}, fmt.Errorf("toolserver: unknown task %q", taskID)
	}
	queries, err := p.DB.ListQueriesByTask(taskID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	jobCounts, err := p.DB.CountJobsByState(taskID)
	if err != nil {
		return StatusSnapshot{}, err
	}

	snap := StatusSnapshot{
		TaskID:    taskID,
		Status:    task.Status,
		Queries:   make([]QueryStatus, 0, len(queries)),
		JobCounts: jobCounts,
	}
	for _, q := range queries {
		snap.Queries = append(snap.Queries, QueryStatus{
			ID:          q.ID,
			QueryText:   q.QueryText,
			Status:      q.Status,
			HarvestRate: q.HarvestRate,
		})
	}
	snap.Since = snap.fingerprint()
	return snap, nil
}

// fingerprint hashes the observable fields of the snapshot (excluding
// Since itself) into the opaque token a client compares across polls.
func (s StatusSnapshot) fingerprint() string {
	type without struct {
		Status    string
		Queries   []QueryStatus
		JobCounts map[string]int
	}
	raw, _ := json.Marshal(without{Status: s.Status, Queries: s.Queries, JobCounts: s.JobCounts})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
