// Package toolserver implements C16: the typed request/response surface
// over Lyra's tools. Every response passes through an output-schema
// allowlist sanitizer and a prompt-fragment scrubber before it reaches a
// client, and every handler error is replaced with an opaque error_id
// rather than letting internal messages (which may carry fetched page
// content or raw SQL errors) cross the boundary directly.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler executes one tool call against its raw JSON input.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Tool is one registered entry in the tool protocol surface (spec §6).
// OutputFields is the declared output schema: top-level JSON field names
// the sanitizer keeps. A nil OutputFields passes the handler's result
// through unfiltered (used for tools whose result is already a narrow,
// fully-trusted shape).
type Tool struct {
	Name         string
	Handler      Handler
	OutputFields []string
}

// Request is one client call, keyed by tool name.
type Request struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// Response carries either a sanitized output or an opaque error_id —
// never both, never a raw error message.
type Response struct {
	Output  json.RawMessage `json:"output,omitempty"`
	ErrorID string          `json:"error_id,omitempty"`
}

// Server dispatches Requests to registered Tools.
type Server struct {
	Scrubber *Scrubber

	mu    sync.RWMutex
	tools map[string]Tool

	logMu sync.Mutex
	log   zerolog.Logger
	// errors maps an opaque error_id to the real error, for operators to
	// look up via the secure internal log — never returned to a client.
	errors map[string]error
}

// New returns an empty Server. Register tools with Register before
// calling Dispatch.
func New(log zerolog.Logger) *Server {
	return &Server{
		tools:  make(map[string]Tool),
		errors: make(map[string]error),
		log:    log,
	}
}

// Register adds or replaces a tool by name.
func (s *Server) Register(t Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.Name] = t
}

// LookupError resolves an error_id previously issued to a client back to
// the real error, for operators working the secure internal log. It is
// never exposed through Dispatch.
func (s *Server) LookupError(id string) (error, bool) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	err, ok := s.errors[id]
	return err, ok
}

// Dispatch looks up req.Tool, runs its handler, and returns a sanitized,
// scrubbed Response. Handler errors and unknown tool names both surface
// only as an error_id.
func (s *Server) Dispatch(ctx context.Context, req Request) Response {
	s.mu.RLock()
	tool, ok := s.tools[req.Tool]
	s.mu.RUnlock()
	if !ok {
		return Response{ErrorID: s.fail(fmt.Errorf("toolserver: unknown tool %q", req.Tool))}
	}

	result, err := tool.Handler(ctx, req.Input)
	if err != nil {
		return Response{ErrorID: s.fail(fmt.Errorf("toolserver: tool %q: %w", req.Tool, err))}
	}

	sanitized, err := allowlist(result, tool.OutputFields)
	if err != nil {
		return Response{ErrorID: s.fail(fmt.Errorf("toolserver: tool %q: sanitize: %w", req.Tool, err))}
	}
	if s.Scrubber != nil {
		scrubStrings(sanitized, s.Scrubber)
	}
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return Response{ErrorID: s.fail(fmt.Errorf("toolserver: tool %q: marshal: %w", req.Tool, err))}
	}
	return Response{Output: raw}
}

// fail records err under a fresh opaque id, logs it internally (the
// message never crosses the tool boundary), and returns the id.
func (s *Server) fail(err error) string {
	id := uuid.NewString()
	s.logMu.Lock()
	s.errors[id] = err
	s.logMu.Unlock()
	s.log.Error().Str("error_id", id).Err(err).Msg("tool call failed")
	return id
}

// allowlist round-trips result through JSON and keeps only the declared
// output fields. A nil fields list means "no filtering".
func allowlist(result any, fields []string) (any, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(fields))
	for _, f := range fields {
		allowed[f] = true
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if allowed[k] {
			out[k] = v
		}
	}
	return out, nil
}
