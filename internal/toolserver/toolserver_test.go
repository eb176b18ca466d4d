package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type echoResult struct {
	Visible string `json:"visible"`
	Secret  string `json:"secret"`
}

func TestDispatchAllowlistsOutputFields(t *testing.T) {
	s := New(zerolog.Nop())
	s.Register(Tool{
		Name:         "echo",
		OutputFields: []string{"visible"},
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			return echoResult{Visible: "ok", Secret: "internal-only"}, nil
		},
	})

	resp := s.Dispatch(context.Background(), Request{Tool: "echo"})
	if resp.ErrorID != "" {
		t.Fatalf("unexpected error_id: %s", resp.ErrorID)
	}
	var out map[string]any
	if err := json.Unmarshal(resp.Output, &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["secret"]; ok {
		t.Fatal("secret field leaked through the allowlist")
	}
	if out["visible"] != "ok" {
		t.Fatalf("expected visible field to survive, got %+v", out)
	}
}

func TestDispatchUnknownToolReturnsErrorID(t *testing.T) {
	s := New(zerolog.Nop())
	resp := s.Dispatch(context.Background(), Request{Tool: "nonexistent"})
	if resp.ErrorID == "" {
		t.Fatal("expected an error_id for an unknown tool")
	}
	if resp.Output != nil {
		t.Fatal("expected no output alongside an error_id")
	}
}

func TestDispatchHandlerErrorIsOpaque(t *testing.T) {
	s := New(zerolog.Nop())
	s.Register(Tool{
		Name: "boom",
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			return nil, errors.New("leaked internal path: /etc/secret")
		},
	})

	resp := s.Dispatch(context.Background(), Request{Tool: "boom"})
	if resp.ErrorID == "" {
		t.Fatal("expected an error_id")
	}
	raw, _ := json.Marshal(resp)
	if strings.Contains(string(raw), "leaked internal path") {
		t.Fatal("raw handler error text crossed the tool boundary")
	}
	looked, ok := s.LookupError(resp.ErrorID)
	if !ok || looked == nil {
		t.Fatal("expected the real error to be retrievable via LookupError")
	}
}
