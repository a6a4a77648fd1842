package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testRequest() ChatRequest {
	return ChatRequest{
		Model:    "openai/gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}
}

func TestComplete_ReturnsFirstChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`)
	}))
	defer srv.Close()

	got, err := NewClientWithBaseURL("test-key", srv.URL).Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"ok":true}` {
		t.Errorf("content = %q", got)
	}
}

func TestComplete_SendsHeadersAndResponseFormat(t *testing.T) {
	var gotAuth string
	var body map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&body)
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"{}"}}]}`)
	}))
	defer srv.Close()

	req := testRequest()
	req.Stream = true
	req.ResponseFormat = &ResponseFormat{
		Type:       "json_schema",
		JSONSchema: &JSONSchema{Name: "proposal", Strict: true, Schema: json.RawMessage(`{"type":"object"}`)},
	}
	if _, err := NewClientWithBaseURL("test-key", srv.URL).Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if _, streamed := body["stream"]; streamed {
		t.Error("Complete must not request streaming")
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_schema" {
		t.Errorf("response_format = %v", body["response_format"])
	}
}

func TestComplete_RateLimitRetry(t *testing.T) {
	var attempt atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"id":"gen-2","choices":[{"message":{"role":"assistant","content":"done"}}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("k", srv.URL)
	c.backoff = time.Millisecond
	got, err := c.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "done" || attempt.Load() != 2 {
		t.Errorf("got %q after %d attempts", got, attempt.Load())
	}
}

func TestComplete_RateLimitExhausted(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("k", srv.URL)
	c.backoff = time.Millisecond
	_, err := c.Complete(context.Background(), testRequest())
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("error = %v, want rate limited", err)
	}
	if attempt.Load() != maxRetries {
		t.Errorf("attempts = %d, want %d", attempt.Load(), maxRetries)
	}
}

func TestComplete_ServerErrorNotRetried(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), testRequest())
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("error = %v, want status 500", err)
	}
	if attempt.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempt.Load())
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"gen-3","choices":[]}`)
	}))
	defer srv.Close()

	if _, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list","data":[{"id":"a/b","object":"model"}]}`)
	}))
	defer srv.Close()

	models, err := NewClientWithBaseURL("k", srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].ID != "a/b" {
		t.Errorf("models = %+v", models)
	}
}
