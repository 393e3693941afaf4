package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kyzlolabs/weatherbot/internal/observ"
)

// OpenRouterConfig configures the external-reasoning brain.
type OpenRouterConfig struct {
	APIKey         string
	Model          string
	BaseURL        string
	TimeoutSeconds int
	MaxTokens      int
	Temperature    float64
}

// OpenRouter asks a text-completion service for the same verdict shape the
// rules engine produces. Transport failures are errors; unparseable
// completions are a Pass.
type OpenRouter struct {
	cfg        OpenRouterConfig
	httpClient *http.Client
}

func NewOpenRouter(cfg OpenRouterConfig) (*OpenRouter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "moonshotai/kimi-k2.5"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1200
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	return &OpenRouter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}, nil
}

func (o *OpenRouter) Decide(ctx context.Context, dc Context) (Decision, error) {
	body, err := json.Marshal(map[string]any{
		"model":       o.cfg.Model,
		"max_tokens":  o.cfg.MaxTokens,
		"temperature": o.cfg.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": buildPrompt(dc)},
		},
	})
	if err != nil {
		return Decision{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Decision{}, err
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", "https://kyzlolabs.com")
	req.Header.Set("X-Title", "Kalshi Weather Bot")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("openrouter request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("openrouter HTTP %d", resp.StatusCode)
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return Decision{}, fmt.Errorf("openrouter response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Decision{}, fmt.Errorf("no choices in openrouter response")
	}

	decision := ParseVerdict(completion.Choices[0].Message.Content)
	if decision.Action == ActionPass && decision.Rationale == "Failed to parse model response" {
		observ.IncCounter("brain_parse_failures_total", map[string]string{"model": o.cfg.Model})
	}
	return decision, nil
}
