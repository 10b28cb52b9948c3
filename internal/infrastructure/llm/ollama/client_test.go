package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

func TestGeneratorSendsPromptAndTrimsReply(t *testing.T) {
	var capturedPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		capturedPrompt, _ = payload["prompt"].(string)
		_, _ = w.Write([]byte(`{"response":"  hello there  "}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed", 100, nil)
	gen := NewGenerator(client)
	reply, err := gen.GenerateFromPrompt(context.Background(), "what is pending?")
	if err != nil {
		t.Fatalf("GenerateFromPrompt() error = %v", err)
	}
	if reply != "hello there" {
		t.Fatalf("expected trimmed reply, got %q", reply)
	}
	if capturedPrompt != "what is pending?" {
		t.Fatalf("unexpected prompt: %s", capturedPrompt)
	}
}

func TestEmbedWrapsServerFailureAsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed", 100, nil)
	embedder := NewEmbedder(client)
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrLLMUnavailable) {
		t.Fatalf("expected llm unavailable kind, got %v", err)
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestEmbedQueryReturnsFirstVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed", 100, nil)
	embedder := NewEmbedder(client)
	vec, err := embedder.EmbedQuery(context.Background(), "invoices from indisky")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3-dim vector, got %d", len(vec))
	}
}
