// Command lyra-stub is a local stand-in for the LLM, embedding and NLI
// services Lyra calls, used by integration tests so they never reach the
// public internet. It answers the three fixed-shape request types the
// spec names: OpenAI-compatible chat completions (claim extraction,
// citation classification), OpenAI-compatible embeddings, and the NLI
// service's premise/hypothesis endpoint.
package main

import (
	"crypto/sha256"
	"encoding/json"
	"hash/fnv"
	"log"
	"net/http"
	"os"
	"strings"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func main() {
	model := os.Getenv("MODEL_ID")
	if strings.TrimSpace(model) == "" {
		model = "test-model"
	}
	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8081"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", handleModels(model))
	mux.HandleFunc("/v1/chat/completions", handleChatCompletions)
	mux.HandleFunc("/v1/embeddings", handleEmbeddings)
	mux.HandleFunc("/nli", handleNLI)

	log.Printf("lyra-stub listening on %s (model=%s)", addr, model)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func handleModels(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": model, "object": "model"}},
		})
	}
}

func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req chatRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	sys := ""
	user := ""
	if len(req.Messages) > 0 {
		sys = strings.TrimSpace(req.Messages[0].Content)
	}
	if len(req.Messages) > 1 {
		user = req.Messages[1].Content
	}

	var content string
	switch {
	case strings.Contains(sys, "discrete, self-contained factual claims"):
		content = extractClaimsStub(user)
	case strings.Contains(sys, "judge whether a hyperlink"):
		content = `{"is_citation": true}`
	default:
		http.Error(w, "unexpected system prompt", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
}

// extractClaimsStub turns the passage into one claim per non-empty line,
// so test fixtures can control exactly which claims a fragment yields.
func extractClaimsStub(passage string) string {
	idx := strings.Index(passage, "Passage:\n\n")
	if idx >= 0 {
		passage = passage[idx+len("Passage:\n\n"):]
	}
	var claims []string
	for _, line := range strings.Split(passage, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			claims = append(claims, line)
		}
	}
	if len(claims) > 3 {
		claims = claims[:3]
	}
	b, _ := json.Marshal(map[string]any{"claims": claims})
	return string(b)
}

type embeddingRequest struct {
	Input any    `json:"input"`
	Model string `json:"model"`
}

// handleEmbeddings returns a deterministic low-dimensional vector per
// input string, hashed from its bytes, so byte-identical stub inputs
// always embed identically across calls.
func handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req embeddingRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	var inputs []string
	switch v := req.Input.(type) {
	case string:
		inputs = []string{v}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				inputs = append(inputs, s)
			}
		}
	}

	data := make([]map[string]any, 0, len(inputs))
	for i, text := range inputs {
		data = append(data, map[string]any{
			"index":     i,
			"embedding": deterministicEmbedding(text),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

const embeddingDims = 16

func deterministicEmbedding(text string) []float64 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float64, embeddingDims)
	for i := 0; i < embeddingDims; i++ {
		vec[i] = (float64(sum[i]) - 128) / 128
	}
	return vec
}

type nliRequest struct {
	Premise    string `json:"premise"`
	Hypothesis string `json:"hypothesis"`
}

// handleNLI returns a label deterministically derived from the pair's
// hash, with a fixed confidence, for repeatable test fixtures.
func handleNLI(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req nliRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	h := fnv.New32a()
	_, _ = h.Write([]byte(req.Premise + "||" + req.Hypothesis))
	labels := []string{"supports", "refutes", "neutral"}
	label := labels[int(h.Sum32())%len(labels)]

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"label":      label,
		"confidence": 0.8,
	})
}
