package claims

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

type fakeChatClient struct {
	response string
	lastReq  openai.ChatCompletionRequest
}

func (f *fakeChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.response},
		}},
	}, nil
}

func TestExtractClaimsParsesJSON(t *testing.T) {
	fc := &fakeChatClient{response: `{"claims": ["Water boils at 100C at sea level.", "Paris is the capital of France."]}`}
	e := &Extractor{Client: fc, Model: "test-model"}

	out, err := e.ExtractClaims(context.Background(), "Water boils at 100C at sea level. Paris is the capital of France.")
	if err != nil {
		t.Fatalf("ExtractClaims: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 claims, got %d: %v", len(out), out)
	}
}

func TestExtractClaimsEmptyList(t *testing.T) {
	fc := &fakeChatClient{response: `{"claims": []}`}
	e := &Extractor{Client: fc, Model: "test-model"}
	out, err := e.ExtractClaims(context.Background(), "no facts here, just vibes")
	if err != nil {
		t.Fatalf("ExtractClaims: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no claims, got %v", out)
	}
}

func TestExtractClaimsNotConfigured(t *testing.T) {
	e := &Extractor{}
	if _, err := e.ExtractClaims(context.Background(), "x"); err == nil {
		t.Fatal("expected error for unconfigured extractor")
	}
}
