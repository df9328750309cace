package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// jsonFormat selects Ollama's constrained JSON output mode.
var jsonFormat = json.RawMessage(`"json"`)

// OllamaClient generates text through a local Ollama server.
type OllamaClient struct {
	client    *api.Client
	model     string
	system    string
	maxTokens int
}

// NewOllamaClient creates a client for cfg.URL, or for OLLAMA_HOST when
// the URL is empty. The per-call deadline comes from the caller's context
// (see Guard), so the http.Client has none.
func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	var client *api.Client
	if cfg.URL == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to configure ollama client: %w", err)
		}
		client = c
	} else {
		base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
		if err != nil {
			return nil, fmt.Errorf("invalid ollama url %q: %w", cfg.URL, err)
		}
		client = api.NewClient(base, &http.Client{})
	}

	system := SystemPreamble
	if cfg.PromptBaked() {
		system = ""
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultConfig().MaxTokens
	}
	return &OllamaClient{
		client:    client,
		model:     cfg.Model,
		system:    system,
		maxTokens: maxTokens,
	}, nil
}

// GenerateText returns a short free-text answer.
func (c *OllamaClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, "text", &api.GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		System: c.system,
		Options: map[string]any{
			"num_predict":    c.maxTokens,
			"temperature":    0.4,
			"top_p":          0.9,
			"repeat_penalty": 1.1,
		},
	})
}

// GenerateJSON requests Ollama's JSON output mode at a low temperature.
func (c *OllamaClient) GenerateJSON(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	return c.generate(ctx, "json", &api.GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		System: c.system,
		Format: jsonFormat,
		Options: map[string]any{
			"num_predict":    maxTokens,
			"temperature":    0.1,
			"top_p":          0.85,
			"repeat_penalty": 1.05,
		},
	})
}

// Ping checks that the server lists its models.
func (c *OllamaClient) Ping(ctx context.Context) error {
	if _, err := c.client.List(ctx); err != nil {
		return classifyOllamaError(ctx, "ollama ping", err)
	}
	return nil
}

func (c *OllamaClient) generate(ctx context.Context, operation string, req *api.GenerateRequest) (string, error) {
	startTime := time.Now()
	stream := false
	req.Stream = &stream

	var text strings.Builder
	var evalCount int
	err := c.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		text.WriteString(resp.Response)
		evalCount = resp.EvalCount
		return nil
	})
	if err != nil {
		return "", classifyOllamaError(ctx, "ollama "+operation+" call", err)
	}

	slog.Debug("AI call completed",
		"operation", operation,
		"model", c.model,
		"output_tokens", evalCount,
		"duration", time.Since(startTime))

	return text.String(), nil
}

// classifyOllamaError marks transport failures, throttling and 5xx
// responses as ErrUnavailable. Other API errors pass through unwrapped.
func classifyOllamaError(ctx context.Context, operation string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", operation, ctx.Err())
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s failed: %v", ErrUnavailable, operation, err)
		}
		return fmt.Errorf("%s failed: %w", operation, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %s failed: %v", ErrUnavailable, operation, err)
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}
