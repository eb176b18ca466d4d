package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyra-research/lyra/internal/sqlsurface"
	"github.com/lyra-research/lyra/internal/store"
	"github.com/lyra-research/lyra/internal/toolserver"
)

// registerTools binds the C16 tool table to this App's collaborators.
func (a *App) registerTools() {
	status := &toolserver.StatusProvider{DB: a.DB}

	a.Tools.Register(toolserver.Tool{Name: "create_task", Handler: a.toolCreateTask})
	a.Tools.Register(toolserver.Tool{Name: "queue_searches", Handler: a.toolQueueSearches})
	a.Tools.Register(toolserver.Tool{Name: "get_status", Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
		var in struct {
			TaskID      string `json:"task_id"`
			Since       string `json:"since"`
			WaitSeconds int    `json:"wait_seconds"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
		return status.GetStatus(ctx, in.TaskID, in.Since, in.WaitSeconds)
	}})
	a.Tools.Register(toolserver.Tool{Name: "stop_task", Handler: a.toolStopTask})
	a.Tools.Register(toolserver.Tool{Name: "query_sql", Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
		var in struct {
			SQL     string            `json:"sql"`
			Options sqlsurface.Options `json:"options"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
		return a.SQLSurface.Query(ctx, in.SQL, in.Options)
	}})
	a.Tools.Register(toolserver.Tool{Name: "query_view", Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
		var in struct {
			ViewName string             `json:"view_name"`
			Params   map[string]any     `json:"params"`
			Options  sqlsurface.Options `json:"options"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
		return a.SQLSurface.QueryView(ctx, in.ViewName, in.Params, in.Options)
	}})
	a.Tools.Register(toolserver.Tool{Name: "list_views", Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
		return map[string]any{"views": sqlsurface.ListViews()}, nil
	}})
	a.Tools.Register(toolserver.Tool{Name: "vector_search", Handler: a.toolVectorSearch})
	a.Tools.Register(toolserver.Tool{Name: "get_auth_queue", Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
		var in struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
		return a.Intervention.ListPending(in.TaskID)
	}})
	a.Tools.Register(toolserver.Tool{Name: "resolve_auth", Handler: a.toolResolveAuth})
	a.Tools.Register(toolserver.Tool{Name: "feedback", Handler: a.toolFeedback})
	a.Tools.Register(toolserver.Tool{Name: "calibration_metrics", Handler: a.toolCalibrationMetrics})
	a.Tools.Register(toolserver.Tool{Name: "calibration_rollback", Handler: a.toolCalibrationRollback})
}

func (a *App) toolCreateTask(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		Hypothesis     string `json:"hypothesis"`
		IdempotencyKey string `json:"idempotency_key"`
		Config         struct {
			BudgetPages     int      `json:"budget_pages"`
			PriorityDomains []string `json:"priority_domains"`
		} `json:"config"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	priority, _ := json.Marshal(in.Config.PriorityDomains)
	taskID, err := a.DB.CreateTask(store.Task{
		IdempotencyKey:  in.IdempotencyKey,
		Hypothesis:      in.Hypothesis,
		BudgetPages:     in.Config.BudgetPages,
		PriorityDomains: string(priority),
		Status:          "active",
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"task_id": taskID}, nil
}

func (a *App) toolQueueSearches(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		TaskID  string   `json:"task_id"`
		Queries []string `json:"queries"`
		Options struct {
			Engines []string `json:"engines"`
		} `json:"options"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	engine := ""
	if len(in.Options.Engines) > 0 {
		engine = in.Options.Engines[0]
	}
	queuedIDs := make([]string, 0, len(in.Queries))
	for _, q := range in.Queries {
		queryID, err := a.DB.PutQuery(store.Query{TaskID: in.TaskID, QueryText: q, Status: "queued"})
		if err != nil {
			return nil, fmt.Errorf("put query: %w", err)
		}
		payload, _ := json.Marshal(serpInput{TaskID: in.TaskID, QueryID: queryID, Query: q, EngineName: engine})
		jobID, err := a.DB.EnqueueJob(store.Job{Kind: "serp", Priority: 5, InputJSON: string(payload), TaskID: in.TaskID})
		if err != nil {
			return nil, fmt.Errorf("enqueue serp job: %w", err)
		}
		queuedIDs = append(queuedIDs, jobID)
	}
	return map[string]any{"queued_ids": queuedIDs}, nil
}

func (a *App) toolStopTask(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		TaskID string `json:"task_id"`
		Mode   string `json:"mode"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	if err := a.Scheduler.StopTask(in.TaskID, in.Mode); err != nil {
		return nil, err
	}
	if err := a.DB.SetTaskStatus(in.TaskID, "stopped"); err != nil {
		return nil, err
	}
	counts, err := a.DB.CountJobsByState(in.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"job_counts": counts}, nil
}

func (a *App) toolVectorSearch(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		Query        string  `json:"query"`
		Target       string  `json:"target"`
		TaskID       string  `json:"task_id"`
		TopK         int     `json:"top_k"`
		MinSimilarity float64 `json:"min_similarity"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	vec, err := a.embed(ctx, in.Query)
	if err != nil {
		return nil, err
	}
	topK := in.TopK
	if topK <= 0 {
		topK = 10
	}
	hits, err := a.Vectors.Search(in.Target, vec, in.TaskID, topK, in.MinSimilarity)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": hits}, nil
}

func (a *App) toolResolveAuth(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		QueueID string `json:"queue_id"`
		Action  string `json:"action"`
		Domain  string `json:"domain"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	success := in.Action == "solved"
	if in.Domain != "" {
		ids, err := a.Intervention.CompleteDomain(in.Domain, success, "")
		if err != nil {
			return nil, err
		}
		return map[string]any{"requeued": ids}, nil
	}
	if err := a.Intervention.Complete(in.QueueID, success, ""); err != nil {
		return nil, err
	}
	return map[string]any{"resolved": true}, nil
}

func (a *App) toolFeedback(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		Action        string `json:"action"`
		Domain        string `json:"domain"`
		Reason        string `json:"reason"`
		DomainPattern string `json:"domain_pattern"`
		RuleID        string `json:"rule_id"`
		ClaimID       string `json:"claim_id"`
		EdgeID        string `json:"edge_id"`
		CorrectRelation string `json:"correct_relation"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	switch in.Action {
	case "domain_block":
		if _, err := a.DB.PutDomainOverrideRule(store.DomainOverrideRule{DomainPattern: in.DomainPattern, Decision: "block", Reason: in.Reason, IsActive: true}); err != nil {
			return nil, err
		}
	case "domain_unblock":
		if _, err := a.DB.PutDomainOverrideRule(store.DomainOverrideRule{DomainPattern: in.DomainPattern, Decision: "unblock", Reason: in.Reason, IsActive: true}); err != nil {
			return nil, err
		}
	case "domain_clear_override":
		if err := a.DB.ClearDomainOverrideRule(in.RuleID); err != nil {
			return nil, err
		}
	case "claim_reject":
		if err := a.DB.RejectClaim(in.ClaimID, in.Reason); err != nil {
			return nil, err
		}
	case "claim_restore":
		if err := a.DB.RestoreClaim(in.ClaimID); err != nil {
			return nil, err
		}
	case "edge_correct":
		if err := a.DB.CorrectEdge(in.EdgeID, in.CorrectRelation, in.Reason); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("feedback: unknown action %q", in.Action)
	}
	switch in.Action {
	case "domain_block", "domain_unblock", "domain_clear_override":
		if err := a.Policy.ReloadOverrides(); err != nil {
			return nil, err
		}
	}
	return map[string]any{"acknowledged": true}, nil
}

// toolCalibrationMetrics reports NLI correction accuracy and history, per
// spec C17's calibration_metrics tool: get_stats summarizes agreement
// between predicted and human-corrected labels, get_evaluations returns
// the underlying correction samples, and evaluate recomputes get_stats
// fresh (the stats are always derived on read, so evaluate and get_stats
// coincide).
func (a *App) toolCalibrationMetrics(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		Action string `json:"action"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	switch in.Action {
	case "get_stats", "evaluate":
		stats, err := a.DB.CalibrationStats()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"total_corrections": stats.TotalCorrections,
			"agreements":        stats.Agreements,
			"accuracy":          stats.Accuracy,
			"confusion":         stats.ConfusionCounts,
		}, nil
	case "get_evaluations":
		corrections, err := a.DB.ListNLICorrections(in.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"evaluations": corrections}, nil
	default:
		return nil, fmt.Errorf("calibration_metrics: unknown action %q", in.Action)
	}
}

// toolCalibrationRollback reverts human NLI corrections recorded at or
// after target_version, restoring their edges to the service's original
// predicted label, per spec C17's calibration_rollback tool. target_version
// is an ISO8601 corrected_at cutoff rather than a model version, since
// retraining itself stays an offline process outside this system.
func (a *App) toolCalibrationRollback(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		TargetVersion string `json:"target_version"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	reverted, err := a.DB.RollbackCorrections(in.TargetVersion)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reverted_edges": reverted}, nil
}
