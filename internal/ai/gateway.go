// Package ai talks to the language model that enriches alerts and runs
// the batch semantic analysis.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Gateway is a text-generation endpoint. Implementations return
// ErrUnavailable (possibly wrapped) when the backend cannot be reached.
type Gateway interface {
	// GenerateText returns free text for the prompt.
	GenerateText(ctx context.Context, prompt string) (string, error)
	// GenerateJSON asks the model for a JSON document of at most maxTokens.
	GenerateJSON(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Pinger is implemented by gateways that can cheaply check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrUnavailable is returned when inference is disabled or unreachable.
var ErrUnavailable = errors.New("inference gateway unavailable")

// Providers accepted by New.
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// productModelPrefix marks models built from the product Modelfile, which
// already carry SystemPreamble.
const productModelPrefix = "signals-poc"

// Config selects and tunes the inference backend.
type Config struct {
	Provider          string        // ollama, anthropic or none
	URL               string        // Ollama base URL
	Model             string        // model name
	APIKey            string        // Anthropic API key (falls back to ANTHROPIC_API_KEY)
	SystemPromptBaked bool          // model already knows SystemPreamble
	Timeout           time.Duration // per-call timeout
	MaxTokens         int           // token budget for GenerateText
	RequestsPerMinute int           // 0 = unlimited
}

// DefaultConfig returns the local-Ollama defaults.
func DefaultConfig() Config {
	return Config{
		Provider:  ProviderOllama,
		URL:       "http://localhost:11434",
		Model:     "llama3",
		Timeout:   30 * time.Second,
		MaxTokens: 500,
	}
}

// PromptBaked reports whether SystemPreamble should be omitted from calls.
func (c Config) PromptBaked() bool {
	return c.SystemPromptBaked || strings.HasPrefix(c.Model, productModelPrefix)
}

// New builds the configured backend wrapped in a Guard. Provider "none"
// yields a gateway that always returns ErrUnavailable, so callers fall
// back to templates.
func New(cfg Config) (Gateway, error) {
	var backend Gateway
	switch cfg.Provider {
	case ProviderOllama, "":
		client, err := NewOllamaClient(cfg)
		if err != nil {
			return nil, err
		}
		backend = client
	case ProviderAnthropic:
		client, err := NewAnthropicClient(cfg)
		if err != nil {
			return nil, err
		}
		backend = client
	case ProviderNone:
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q (want %s, %s or %s)",
			cfg.Provider, ProviderOllama, ProviderAnthropic, ProviderNone)
	}
	return NewGuard(backend, DefaultGuardConfig(cfg)), nil
}

// Disabled is the gateway used when inference is turned off.
type Disabled struct{}

// GenerateText always fails with ErrUnavailable.
func (Disabled) GenerateText(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

// GenerateJSON always fails with ErrUnavailable.
func (Disabled) GenerateJSON(context.Context, string, int) (string, error) {
	return "", ErrUnavailable
}
