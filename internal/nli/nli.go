// Package nli implements C12: a client for the fixed-shape NLI service
// (premise/hypothesis -> label/confidence) and the edge-persistence step
// that follows it. These model services are HTTP services with fixed
// request/response shapes, the same posture internal/llm.Client takes
// toward its chat-completion adapter, here applied to a narrower
// single-purpose endpoint instead of a general chat-completion API.
package nli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lyra-research/lyra/internal/store"
)

// Label is one of the three NLI relation outcomes.
type Label string

const (
	LabelSupports Label = "supports"
	LabelRefutes  Label = "refutes"
	LabelNeutral  Label = "neutral"
)

// Client calls a fixed-shape NLI HTTP service.
type Client struct {
	BaseURL    string // e.g. http://localhost:8090/nli
	HTTPClient *http.Client
}

type nliRequest struct {
	Premise    string `json:"premise"`
	Hypothesis string `json:"hypothesis"`
}

type nliResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classify calls the NLI service with (premise, hypothesis) and returns
// its predicted label and confidence.
func (c *Client) Classify(ctx context.Context, premise, hypothesis string) (Label, float64, error) {
	body, err := json.Marshal(nliRequest{Premise: premise, Hypothesis: hypothesis})
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, fmt.Errorf("nli service status: %d", resp.StatusCode)
	}

	var out nliResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("decode nli response: %w", err)
	}
	switch Label(out.Label) {
	case LabelSupports, LabelRefutes, LabelNeutral:
	default:
		return "", 0, fmt.Errorf("nli service returned unknown label %q", out.Label)
	}
	return Label(out.Label), out.Confidence, nil
}

// EdgeBuilder pairs an NLI Client with the store, turning a
// (fragment, claim) pair under consideration into a persisted edge.
type EdgeBuilder struct {
	Client *Client
	DB     *store.DB
}

// BuildEdge classifies the (fragmentText, claimText) pair and persists
// an edge from fragmentID to claimID, dedup'd by (src,tgt,relation) in
// store.PutEdge. sourceDomainCategory/targetDomainCategory are attached
// as informational-only metadata, per spec C12 — never used here or by
// the store's Bayesian aggregation.
func (b *EdgeBuilder) BuildEdge(ctx context.Context, fragmentID, fragmentText, claimID, claimText, sourceDomainCategory, targetDomainCategory string) (string, error) {
	label, confidence, err := b.Client.Classify(ctx, fragmentText, claimText)
	if err != nil {
		return "", fmt.Errorf("nli: classify: %w", err)
	}
	id, err := b.DB.PutEdge(store.Edge{
		SourceID:             fragmentID,
		TargetID:             claimID,
		Relation:             string(label),
		NLILabel:             string(label),
		NLIConfidence:        confidence,
		SourceDomainCategory: sourceDomainCategory,
		TargetDomainCategory: targetDomainCategory,
	})
	if err != nil {
		return "", fmt.Errorf("nli: persist edge: %w", err)
	}
	return id, nil
}
