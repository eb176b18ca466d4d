// Package claims implements C11: LLM-driven claim extraction from
// fragments, embedding+exact-text dedup, and citation-link
// classification. It follows a synthesis-call shape (a small Client
// interface, an on-disk LLMCache keyed by model+prompt, strict JSON
// contracts validated after the call) generalized from a single
// long-form synthesis call to many small structured calls.
package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lyra-research/lyra/internal/budget"
	"github.com/lyra-research/lyra/internal/cache"
	"github.com/lyra-research/lyra/internal/llm"
)

// ChatClient is an alias of internal/llm.Client, the OpenAI-client
// abstraction shared across this package, so callers keep one shape
// instead of redeclaring it.
type ChatClient = llm.Client

// Extractor pulls normalized claim strings out of a fragment's text.
type Extractor struct {
	Client ChatClient
	Model  string
	Cache  *cache.LLMCache
	// ReservedOutputTokens is subtracted from the model's context window
	// before sizing the passage; 0 falls back to a conservative default.
	ReservedOutputTokens int
}

// boundPassage truncates text so a fixed-overhead system prompt plus the
// passage fits within the model's context window, reserving tokens for the
// model's reply. Truncation never splits a UTF-8 rune, adapting the
// teacher's trimByByteLimitPreservingRunes idiom.
func (e *Extractor) boundPassage(systemOverheadChars int, text string) string {
	reserved := e.ReservedOutputTokens
	if reserved <= 0 {
		reserved = 1500
	}
	maxCtx := budget.ModelContextTokens(e.Model)
	overheadTokens := budget.EstimateTokensFromChars(systemOverheadChars)
	availableTokens := maxCtx - reserved - overheadTokens
	if availableTokens <= 0 {
		return ""
	}
	maxChars := availableTokens * 4
	if maxChars >= len(text) {
		return text
	}
	return trimByByteLimitPreservingRunes(text, maxChars)
}

// trimByByteLimitPreservingRunes returns a prefix of s whose byte length is
// <= maxBytes, never splitting a UTF-8 rune.
func trimByByteLimitPreservingRunes(s string, maxBytes int) string {
	if maxBytes >= len(s) {
		return s
	}
	if maxBytes <= 0 || len(s) == 0 {
		return ""
	}
	var idx int
	for i := range s {
		if i > maxBytes {
			break
		}
		idx = i
	}
	return s[:idx]
}

type claimsResponse struct {
	Claims []string `json:"claims"`
}

// ExtractClaims returns the normalized claim strings an LLM identifies in
// fragmentText, per spec C11 "an LLM call returns a list of normalized
// claim strings".
func (e *Extractor) ExtractClaims(ctx context.Context, fragmentText string) ([]string, error) {
	if e.Client == nil || strings.TrimSpace(e.Model) == "" {
		return nil, errors.New("claims: extractor not configured")
	}
	system := "You extract discrete, self-contained factual claims from a passage of text. " +
		"Each claim must be understandable without the original passage. " +
		"Respond with JSON: {\"claims\": [\"...\", ...]}. If no factual claims are present, respond {\"claims\": []}."
	user := "Passage:\n\n" + e.boundPassage(len(system), fragmentText)

	cacheKey := cache.KeyFrom(e.Model, system+"\n\n"+user)
	if e.Cache != nil {
		if raw, ok, _ := e.Cache.Get(ctx, cacheKey); ok {
			var out claimsResponse
			if err := json.Unmarshal(raw, &out); err == nil {
				return out.Claims, nil
			}
		}
	}

	req := openai.ChatCompletionRequest{
		Model: e.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature:    0,
		N:              1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
	resp, err := e.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("claims: extraction call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("claims: no choices from model")
	}

	var out claimsResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return nil, fmt.Errorf("claims: parse response: %w", err)
	}

	cleaned := make([]string, 0, len(out.Claims))
	for _, c := range out.Claims {
		if c = strings.TrimSpace(c); c != "" {
			cleaned = append(cleaned, c)
		}
	}

	if e.Cache != nil {
		if payload, err := json.Marshal(claimsResponse{Claims: cleaned}); err == nil {
			_ = e.Cache.Save(ctx, cacheKey, payload)
		}
	}
	return cleaned, nil
}
