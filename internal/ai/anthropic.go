package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Hosted model names used when the configured model is not a Claude model.
const (
	// ModelSonnet is the high-end model, unused by default
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model used for enrichment and analysis
	ModelHaiku = "claude-3-5-haiku-20241022"
)

// AnthropicClient runs inference on the hosted Anthropic API instead of a
// local Ollama server.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	system    string
	maxTokens int
}

// NewAnthropicClient creates a client. The API key comes from cfg.APIKey
// or the ANTHROPIC_API_KEY environment variable.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if !strings.HasPrefix(model, "claude") {
		slog.Info("model is not a Claude model, using default", "configured", model, "model", ModelHaiku)
		model = ModelHaiku
	}

	system := SystemPreamble
	if cfg.PromptBaked() {
		system = ""
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultConfig().MaxTokens
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &AnthropicClient{
		client:    &client,
		model:     model,
		system:    system,
		maxTokens: maxTokens,
	}, nil
}

// GenerateText returns a short free-text answer.
func (c *AnthropicClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, "suggestion", prompt, c.maxTokens, 0.4)
}

// GenerateJSON asks for a JSON-only answer. The API has no JSON mode, so
// the instruction rides along with the prompt.
func (c *AnthropicClient) GenerateJSON(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	return c.call(ctx, "json", prompt+"\n\nRespond with JSON only.", maxTokens, 0.1)
}

func (c *AnthropicClient) call(ctx context.Context, operation, prompt string, maxTokens int, temperature float64) (string, error) {
	startTime := time.Now()

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if c.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.system}}
	}

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("anthropic %s call: %w", operation, ctx.Err())
		}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
			return "", fmt.Errorf("anthropic API call failed: %w", err)
		}
		return "", fmt.Errorf("%w: anthropic API call failed: %v", ErrUnavailable, err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	slog.Debug("AI call completed",
		"operation", operation,
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens,
		"duration", time.Since(startTime))

	return text.String(), nil
}
