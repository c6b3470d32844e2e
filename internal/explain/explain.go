// Package explain asks an LLM to describe a frame's dissection.
//
// The dissection text comes from the tshark engine unchanged; this package
// only builds the prompt and decodes the JSON answer.
package explain

import (
	"context"
	"strings"

	"github.com/timvw/pcap-patrol/internal/config"
	"github.com/timvw/pcap-patrol/internal/model"
	ppotel "github.com/timvw/pcap-patrol/internal/otel"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

// Request is one frame to explain.
type Request struct {
	FrameNumber int
	Detail      string
	Truncated   bool
	Question    string
}

// Explainer sends a frame dissection to an LLM.
type Explainer interface {
	Explain(ctx context.Context, req Request) (*model.Explanation, error)

	// Provider returns the provider name (e.g., "anthropic", "openai").
	Provider() string

	// Model returns the model name used.
	Model() string
}

// Default models per provider.
const (
	DefaultAnthropicModel = "claude-haiku-4-5"
	DefaultOpenAIModel    = "gpt-4o-mini"
)

// New builds the Explainer configured in cfg.
func New(cfg *config.Config, metrics *ppotel.Metrics) (Explainer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMAPIKey == "" && cfg.LLMBaseURL == "" {
		return nil, qerr.WithDetails(qerr.InvalidArgument, "no LLM API key configured", map[string]any{
			"provider": provider,
			"hint":     "set llm_api_key, PCAP_PATROL_LLM_API_KEY or the provider's own API key variable",
		})
	}

	switch provider {
	case "", "anthropic":
		m := cfg.LLMModel
		if m == "" {
			m = DefaultAnthropicModel
		}
		return NewAnthropicExplainer(AnthropicConfig{
			BaseURL:   cfg.LLMBaseURL,
			APIKey:    cfg.LLMAPIKey,
			Model:     m,
			MaxTokens: int64(cfg.LLMMaxTokens),
			Metrics:   metrics,
		}), nil
	case "openai":
		m := cfg.LLMModel
		if m == "" {
			m = DefaultOpenAIModel
		}
		return NewOpenAIExplainer(OpenAIConfig{
			BaseURL:   cfg.LLMBaseURL,
			APIKey:    cfg.LLMAPIKey,
			Model:     m,
			MaxTokens: int64(cfg.LLMMaxTokens),
			Metrics:   metrics,
		}), nil
	}
	return nil, qerr.WithDetails(qerr.InvalidArgument, "unknown LLM provider", map[string]any{
		"provider":  cfg.LLMProvider,
		"available": []string{"anthropic", "openai"},
	})
}
