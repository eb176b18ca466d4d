package sqlsurface

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"
)

// View is one entry in the query_view template library: a fixed SQL
// statement with positional parameters, named for a client to reference
// without writing SQL of its own.
type View struct {
	Name        string
	Description string
	SQL         string
	// Params lists the named parameters in the order they appear as '?'
	// placeholders in SQL.
	Params []string
}

var views = []View{
	{
		Name:        "contradictions",
		Description: "claims with both supporting and refuting evidence",
		SQL: `SELECT c.id, c.claim_text, COUNT(DISTINCT CASE WHEN e.relation = 'supports' THEN e.id END) AS supports,
			COUNT(DISTINCT CASE WHEN e.relation = 'refutes' THEN e.id END) AS refutes
			FROM claims c JOIN edges e ON e.target_id = c.id
			WHERE c.task_id = ?
			GROUP BY c.id
			HAVING supports > 0 AND refutes > 0
			ORDER BY refutes DESC`,
		Params: []string{"task_id"},
	},
	{
		Name:        "hub_pages",
		Description: "pages with the most fragments cited as evidence",
		SQL: `SELECT p.id, p.url, p.domain, COUNT(DISTINCT f.id) AS fragment_count, COUNT(e.id) AS edge_count
			FROM pages p JOIN fragments f ON f.page_id = p.id
			LEFT JOIN edges e ON e.source_id = f.id
			GROUP BY p.id
			ORDER BY edge_count DESC
			LIMIT ?`,
		Params: []string{"limit"},
	},
	{
		Name:        "citation_flow",
		Description: "page-to-page citation edges and their source",
		SQL: `SELECT src.domain AS citing_domain, tgt.domain AS cited_domain, e.citation_source, COUNT(*) AS edge_count
			FROM edges e
			JOIN pages src ON src.id = e.source_id
			JOIN pages tgt ON tgt.id = e.target_id
			WHERE e.relation = 'cites'
			GROUP BY src.domain, tgt.domain, e.citation_source
			ORDER BY edge_count DESC`,
	},
	{
		Name:        "evidence_timeline",
		Description: "evidence edges for a claim in arrival order",
		SQL: `SELECT e.id, e.relation, e.nli_confidence, e.source_domain_category, e.created_at
			FROM edges e
			WHERE e.target_id = ?
			ORDER BY e.created_at ASC`,
		Params: []string{"claim_id"},
	},
	{
		Name:        "outdated_evidence",
		Description: "evidence fragments fetched before a cutoff timestamp",
		SQL: `SELECT c.id AS claim_id, p.url, p.fetched_at
			FROM claims c
			JOIN edges e ON e.target_id = c.id
			JOIN fragments f ON f.id = e.source_id
			JOIN pages p ON p.id = f.page_id
			WHERE c.task_id = ? AND p.fetched_at < ?
			ORDER BY p.fetched_at ASC`,
		Params: []string{"task_id", "before"},
	},
	{
		Name:        "controversy_by_era",
		Description: "evidence volume bucketed by month, as a controversy proxy",
		SQL: `SELECT substr(e.created_at, 1, 7) AS era,
			SUM(CASE WHEN e.relation = 'supports' THEN 1 ELSE 0 END) AS supports,
			SUM(CASE WHEN e.relation = 'refutes' THEN 1 ELSE 0 END) AS refutes
			FROM edges e
			JOIN claims c ON c.id = e.target_id
			WHERE c.task_id = ?
			GROUP BY era
			ORDER BY era ASC`,
		Params: []string{"task_id"},
	},
	{
		Name:        "source_authority",
		Description: "domains ranked by distinct claims they carry supporting evidence for",
		SQL: `SELECT p.domain, COUNT(DISTINCT e.target_id) AS claims_supported
			FROM edges e
			JOIN fragments f ON f.id = e.source_id
			JOIN pages p ON p.id = f.page_id
			WHERE e.relation = 'supports'
			GROUP BY p.domain
			ORDER BY claims_supported DESC
			LIMIT ?`,
		Params: []string{"limit"},
	},
}

// ListViews enumerates the query_view template library.
func ListViews() []View {
	return views
}

func findView(name string) (View, bool) {
	for _, v := range views {
		if v.Name == name {
			return v, true
		}
	}
	return View{}, false
}

// QueryView renders the named template against params (outside the
// client's own SQL text, so the authorizer and single-statement check
// never see client-authored SQL here) and runs it with the same
// guardrails as Query.
func (s *Surface) QueryView(ctx context.Context, name string, params map[string]any, opt Options) (Result, error) {
	v, ok := findView(name)
	if !ok {
		return Result{}, fmt.Errorf("sqlsurface: unknown view %q", name)
	}
	args := make([]driver.Value, len(v.Params))
	for i, p := range v.Params {
		val, ok := params[p]
		if !ok {
			return Result{}, fmt.Errorf("sqlsurface: view %q missing parameter %q", name, p)
		}
		dv, err := toDriverValue(val)
		if err != nil {
			return Result{}, fmt.Errorf("sqlsurface: view %q parameter %q: %w", name, p, err)
		}
		args[i] = dv
	}
	return s.run(ctx, v.SQL, args, opt.filled())
}

// toDriverValue coerces a JSON-shaped parameter value into one of the
// types database/sql/driver.Value accepts.
func toDriverValue(v any) (driver.Value, error) {
	switch x := v.(type) {
	case nil, int64, float64, bool, []byte, string, time.Time:
		return x, nil
	case int:
		return int64(x), nil
	case float32:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %T", v)
	}
}
