package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/observability"
)

type OllamaConfig struct {
	Host        string
	Model       string
	EmbedModel  string
	Temperature float64
	Timeout     time.Duration
}

// OllamaProvider talks to a local Ollama daemon over its native HTTP API.
type OllamaProvider struct {
	host        string
	model       string
	embedModel  string
	temperature float64
	client      *http.Client
}

func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, fmt.Errorf("ollama host is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	embedModel := strings.TrimSpace(cfg.EmbedModel)
	if embedModel == "" {
		embedModel = model
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaProvider{
		host:        host,
		model:       model,
		embedModel:  embedModel,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (p *OllamaProvider) Model() string { return p.model }

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (Completion, error) {
	payload := map[string]any{
		"model":    p.model,
		"messages": messages,
		"stream":   false,
		"options": map[string]any{
			"temperature": p.temperature,
		},
	}

	started := time.Now()
	raw, err := p.post(ctx, "/api/chat", payload)
	if err != nil {
		observability.ObserveLLMCall("chat", p.model, time.Since(started), 0, 0, err)
		return Completion{}, err
	}

	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		PromptEvalCount int `json:"prompt_eval_count"`
		EvalCount       int `json:"eval_count"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		err = fmt.Errorf("decode chat response: %w", err)
		observability.ObserveLLMCall("chat", p.model, time.Since(started), 0, 0, err)
		return Completion{}, err
	}
	if strings.TrimSpace(parsed.Message.Content) == "" {
		err = fmt.Errorf("model returned empty content")
		observability.ObserveLLMCall("chat", p.model, time.Since(started), 0, 0, err)
		return Completion{}, err
	}

	observability.ObserveLLMCall("chat", p.model, time.Since(started), parsed.PromptEvalCount, parsed.EvalCount, nil)
	return Completion{
		Content:          parsed.Message.Content,
		Model:            p.model,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
	}, nil
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{
		"model":  p.embedModel,
		"prompt": text,
	}

	started := time.Now()
	raw, err := p.post(ctx, "/api/embeddings", payload)
	if err != nil {
		observability.ObserveLLMCall("embed", p.embedModel, time.Since(started), 0, 0, err)
		return nil, err
	}

	var parsed struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		err = fmt.Errorf("decode embeddings response: %w", err)
		observability.ObserveLLMCall("embed", p.embedModel, time.Since(started), 0, 0, err)
		return nil, err
	}
	if len(parsed.Embedding) == 0 {
		err = fmt.Errorf("model returned empty embedding")
		observability.ObserveLLMCall("embed", p.embedModel, time.Since(started), 0, 0, err)
		return nil, err
	}

	observability.ObserveLLMCall("embed", p.embedModel, time.Since(started), 0, 0, nil)
	return parsed.Embedding, nil
}

func (p *OllamaProvider) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}
