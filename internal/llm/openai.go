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

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	EmbedModel  string
	Temperature float64
	Timeout     time.Duration
}

// OpenAIProvider speaks the OpenAI-compatible chat and embeddings API, which
// covers hosted endpoints as well as local gateways that expose /v1.
type OpenAIProvider struct {
	baseURL     string
	apiKey      string
	model       string
	embedModel  string
	temperature float64
	client      *http.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	embedModel := strings.TrimSpace(cfg.EmbedModel)
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		embedModel:  embedModel,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (Completion, error) {
	payload := map[string]any{
		"model":       p.model,
		"messages":    messages,
		"temperature": p.temperature,
	}

	started := time.Now()
	raw, err := p.post(ctx, "/v1/chat/completions", payload)
	if err != nil {
		observability.ObserveLLMCall("chat", p.model, time.Since(started), 0, 0, err)
		return Completion{}, err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		err = fmt.Errorf("decode chat completion response: %w", err)
		observability.ObserveLLMCall("chat", p.model, time.Since(started), 0, 0, err)
		return Completion{}, err
	}
	if len(parsed.Choices) == 0 {
		err = fmt.Errorf("empty chat completion choices")
		observability.ObserveLLMCall("chat", p.model, time.Since(started), 0, 0, err)
		return Completion{}, err
	}

	observability.ObserveLLMCall("chat", p.model, time.Since(started), parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, nil)
	return Completion{
		Content:          parsed.Choices[0].Message.Content,
		Model:            p.model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{
		"model": p.embedModel,
		"input": text,
	}

	started := time.Now()
	raw, err := p.post(ctx, "/v1/embeddings", payload)
	if err != nil {
		observability.ObserveLLMCall("embed", p.embedModel, time.Since(started), 0, 0, err)
		return nil, err
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		err = fmt.Errorf("decode embeddings response: %w", err)
		observability.ObserveLLMCall("embed", p.embedModel, time.Since(started), 0, 0, err)
		return nil, err
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		err = fmt.Errorf("empty embeddings data")
		observability.ObserveLLMCall("embed", p.embedModel, time.Since(started), 0, 0, err)
		return nil, err
	}

	observability.ObserveLLMCall("embed", p.embedModel, time.Since(started), 0, 0, nil)
	return parsed.Data[0].Embedding, nil
}

func (p *OpenAIProvider) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

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
