package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateMessage(t *testing.T) {
	var gotBody messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k-123" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(Response{
			Content:    []ContentBlock{{Type: "text", Text: "hello"}},
			StopReason: "end_turn",
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "k-123", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := c.CreateMessage(context.Background(), []Message{UserText("hi")}, nil)
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if resp.Text() != "hello" {
		t.Fatalf("unexpected text: %q", resp.Text())
	}
	if gotBody.Model != defaultModel {
		t.Fatalf("default model not applied: %q", gotBody.Model)
	}
	if gotBody.MaxTokens != 8000 {
		t.Fatalf("default max_tokens not applied: %d", gotBody.MaxTokens)
	}
}

func TestCreateMessage_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{APIKey: "k", BaseURL: srv.URL})
	if _, err := c.CreateMessage(context.Background(), []Message{UserText("hi")}, nil); err == nil {
		t.Fatal("want error on 503")
	}
}

func TestResponseText_MultipleBlocks(t *testing.T) {
	r := Response{Content: []ContentBlock{
		{Type: "text", Text: "a"},
		{Type: "tool_use", Name: "x"},
		{Type: "text", Text: "b"},
	}}
	if got := r.Text(); got != "a\nb" {
		t.Fatalf("unexpected text: %q", got)
	}
}
