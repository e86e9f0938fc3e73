package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOllamaChatParsesMessageAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		var payload struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Stream {
			t.Fatal("stream should be disabled")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]string{"content": "SELECT 1"},
			"prompt_eval_count": 120,
			"eval_count":        14,
		})
	}))
	defer srv.Close()

	provider, err := NewOllamaProvider(OllamaConfig{Host: srv.URL, Model: "qwen2.5:7b-instruct"})
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}
	completion, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if completion.Content != "SELECT 1" {
		t.Fatalf("Content = %q", completion.Content)
	}
	if completion.PromptTokens != 120 || completion.CompletionTokens != 14 {
		t.Fatalf("usage = %d/%d", completion.PromptTokens, completion.CompletionTokens)
	}
}

func TestOllamaEmbedReturnsVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	provider, err := NewOllamaProvider(OllamaConfig{Host: srv.URL, Model: "qwen2.5:7b-instruct", EmbedModel: "nomic-embed-text"})
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}
	vec, err := provider.Embed(context.Background(), "total sales by year")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("len(vec) = %d", len(vec))
	}
}

func TestOllamaChatReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	provider, err := NewOllamaProvider(OllamaConfig{Host: srv.URL, Model: "missing"})
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}
	_, err = provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("StatusCode = %d", statusErr.StatusCode)
	}
}

func TestOpenAIChatSendsAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "SELECT 1"}}},
			"usage":   map[string]int{"prompt_tokens": 50, "completion_tokens": 8},
		})
	}))
	defer srv.Close()

	provider, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	completion, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if completion.CompletionTokens != 8 {
		t.Fatalf("CompletionTokens = %d", completion.CompletionTokens)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&StatusError{StatusCode: 429}, true},
		{&StatusError{StatusCode: 503}, true},
		{&StatusError{StatusCode: 400}, false},
		{&StatusError{StatusCode: 404}, false},
		{context.DeadlineExceeded, true},
		{errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

type flakyProvider struct {
	failures int
	calls    int
}

func (p *flakyProvider) Chat(_ context.Context, _ []Message) (Completion, error) {
	p.calls++
	if p.calls <= p.failures {
		return Completion{}, &StatusError{StatusCode: 503, Body: "busy"}
	}
	return Completion{Content: "SELECT 1"}, nil
}

func (p *flakyProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, &StatusError{StatusCode: 429, Body: "slow down"}
	}
	return []float32{1}, nil
}

func (p *flakyProvider) Model() string { return "flaky" }

func TestRetryingProviderRecoversFromTransientFailures(t *testing.T) {
	inner := &flakyProvider{failures: 2}
	retrying := NewRetryingProvider(inner, 5)
	retrying.sleep = func(context.Context, time.Duration) error { return nil }

	completion, err := retrying.Chat(context.Background(), nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if completion.Content != "SELECT 1" {
		t.Fatalf("Content = %q", completion.Content)
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryingProviderGivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyProvider{failures: 10}
	retrying := NewRetryingProvider(inner, 2)
	retrying.sleep = func(context.Context, time.Duration) error { return nil }

	if _, err := retrying.Embed(context.Background(), "x"); err == nil {
		t.Fatal("Embed() expected error")
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryingProviderDoesNotRetryHardErrors(t *testing.T) {
	inner := &hardFailProvider{}
	retrying := NewRetryingProvider(inner, 5)
	retrying.sleep = func(context.Context, time.Duration) error { return nil }

	if _, err := retrying.Chat(context.Background(), nil); err == nil {
		t.Fatal("Chat() expected error")
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want 1", inner.calls)
	}
}

type hardFailProvider struct{ calls int }

func (p *hardFailProvider) Chat(_ context.Context, _ []Message) (Completion, error) {
	p.calls++
	return Completion{}, &StatusError{StatusCode: 401, Body: "unauthorized"}
}

func (p *hardFailProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	p.calls++
	return nil, &StatusError{StatusCode: 401, Body: "unauthorized"}
}

func (p *hardFailProvider) Model() string { return "hardfail" }

func TestBackoffDelayIsBoundedAndJittered(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(attempt)
		if d <= 0 {
			t.Fatalf("backoffDelay(%d) = %v", attempt, d)
		}
		if d > time.Duration(float64(retryMaxDelay)*1.2) {
			t.Fatalf("backoffDelay(%d) = %v exceeds jittered cap", attempt, d)
		}
	}
}
