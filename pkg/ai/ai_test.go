package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"chapterwise/pkg/domain"
)

func TestBuildPromptExcludesLaterChapters(t *testing.T) {
	chapters := []domain.Chapter{
		{Order: 1, Name: "One", Content: "Alice arrives."},
		{Order: 2, Name: "Two", Content: "Bob leaves."},
		{Order: 3, Name: "Three", Content: "The butler did it."},
	}
	p, err := BuildPrompt("Who is Bob?", 2, chapters, 0)
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	if strings.Contains(p.User, "butler") {
		t.Fatalf("prompt leaks chapter 3: %s", p.User)
	}
	if !strings.Contains(p.System, "chapter 2") {
		t.Fatalf("system prompt missing limit: %s", p.System)
	}
	want := []domain.Source{{Chapter: 1, Name: "One"}, {Chapter: 2, Name: "Two"}}
	if diff := cmp.Diff(want, p.Sources); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}
	if strings.Index(p.User, "Chapter 1") > strings.Index(p.User, "Chapter 2") {
		t.Fatalf("chapters out of order")
	}
}

func TestBuildPromptKeepsNewestWithinBudget(t *testing.T) {
	chapters := []domain.Chapter{
		{Order: 1, Content: strings.Repeat("a", 10)},
		{Order: 2, Content: strings.Repeat("b", 10)},
		{Order: 3, Content: strings.Repeat("c", 10)},
	}
	p, err := BuildPrompt("What now?", 3, chapters, 25)
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	if diff := cmp.Diff([]domain.Source{{Chapter: 2}, {Chapter: 3}}, p.Sources); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildPromptValidates(t *testing.T) {
	if _, err := BuildPrompt(" ", 1, nil, 0); err == nil {
		t.Fatalf("expected error for empty question")
	}
	if _, err := BuildPrompt("Why?", 0, nil, 0); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}

func TestOpenAICompatGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer key" {
			http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
			return
		}
		var req oaiChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": " Hello. "}}},
		})
	}))
	defer srv.Close()

	g := NewOpenAICompatGenerator(srv.URL+"/v1", "key", "m", 0)
	out, err := g.GenerateText(context.Background(), "sys", "user")
	if err != nil || out != "Hello." {
		t.Fatalf("generate = %q, %v", out, err)
	}
}

func TestOllamaGeneratorErrorIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"model loading"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(srv.URL, "llama", 0).GenerateText(context.Background(), "", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Retryable() || apiErr.Message != "model loading" {
		t.Fatalf("expected retryable APIError, got %v", err)
	}
}

func TestNewGeneratorRejectsUnknownProvider(t *testing.T) {
	if _, err := NewGenerator(ProviderConfig{Provider: "carrier-pigeon", Model: "m"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewGenerator(ProviderConfig{Provider: "openai", Model: "m"}); err == nil {
		t.Fatalf("expected error without base url")
	}
}
