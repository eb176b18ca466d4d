package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lyra-research/lyra/internal/cache"
)

// CitationClassifier decides whether an in-body link constitutes a
// citation, per spec C11 "a separate prompt determines whether a link in
// text constitutes a citation".
type CitationClassifier struct {
	Client ChatClient
	Model  string
	Cache  *cache.LLMCache
}

type citationResponse struct {
	IsCitation bool `json:"is_citation"`
}

// Classify reports whether linkText, appearing in context, is being used
// as a citation (as opposed to e.g. a navigation link or an ad).
func (c *CitationClassifier) Classify(ctx context.Context, linkText, context string) (bool, error) {
	if c.Client == nil || strings.TrimSpace(c.Model) == "" {
		return false, errors.New("claims: citation classifier not configured")
	}
	system := "You judge whether a hyperlink in a passage of text is being used as a citation " +
		"for a claim (supporting evidence, a reference, a source) as opposed to navigation, " +
		"an advertisement, or an unrelated link. Respond with JSON: {\"is_citation\": true|false}."
	user := fmt.Sprintf("Link text: %q\n\nSurrounding passage:\n\n%s", linkText, context)

	cacheKey := cache.KeyFrom(c.Model, system+"\n\n"+user)
	if c.Cache != nil {
		if raw, ok, _ := c.Cache.Get(ctx, cacheKey); ok {
			var out citationResponse
			if err := json.Unmarshal(raw, &out); err == nil {
				return out.IsCitation, nil
			}
		}
	}

	req := openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature:    0,
		N:              1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
	resp, err := c.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return false, fmt.Errorf("claims: citation call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return false, errors.New("claims: no choices from model")
	}

	var out citationResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return false, fmt.Errorf("claims: parse citation response: %w", err)
	}

	if c.Cache != nil {
		if payload, err := json.Marshal(out); err == nil {
			_ = c.Cache.Save(ctx, cacheKey, payload)
		}
	}
	return out.IsCitation, nil
}
