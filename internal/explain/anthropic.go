package explain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/pcap-patrol/internal/model"
	ppotel "github.com/timvw/pcap-patrol/internal/otel"
)

// AnthropicExplainer explains frames using the Anthropic Messages API.
type AnthropicExplainer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	metrics   *ppotel.Metrics
}

// AnthropicConfig holds configuration for the Anthropic explainer.
type AnthropicConfig struct {
	// BaseURL is the API endpoint; empty uses the SDK default.
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int64
	// ExtraHeaders are additional HTTP headers (e.g., "api-key" for Azure).
	ExtraHeaders map[string]string
	Metrics      *ppotel.Metrics
}

// NewAnthropicExplainer creates a new Anthropic explainer.
func NewAnthropicExplainer(cfg AnthropicConfig) *AnthropicExplainer {
	var opts []option.RequestOption

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	for k, v := range cfg.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	return &AnthropicExplainer{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		metrics:   cfg.Metrics,
	}
}

// Provider returns "anthropic".
func (e *AnthropicExplainer) Provider() string {
	return "anthropic"
}

// Model returns the model name.
func (e *AnthropicExplainer) Model() string {
	return e.model
}

var explainTracer = otel.Tracer("pcap-patrol/explain")

// Explain sends the frame dissection to the Anthropic API.
func (e *AnthropicExplainer) Explain(ctx context.Context, req Request) (*model.Explanation, error) {
	userMessage := BuildUserMessage(req)

	// GenAI semantic conventions: span name is "{operation} {model}".
	ctx, span := explainTracer.Start(ctx, "chat "+e.model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.provider.name", "anthropic"),
			attribute.String("gen_ai.request.model", e.model),
			attribute.Int64("gen_ai.request.max_tokens", e.maxTokens),
			attribute.Int("pcap.frame_number", req.FrameNumber),
		),
	)
	defer span.End()

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(userMessage),
			),
		},
	})
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	if len(resp.Content) == 0 {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, fmt.Errorf("anthropic API returned empty response")
	}

	rawText := resp.Content[0].Text
	span.SetAttributes(
		attribute.String("gen_ai.response.model", string(resp.Model)),
		attribute.Int64("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	if string(resp.StopReason) != "" {
		span.SetAttributes(attribute.StringSlice("gen_ai.response.finish_reasons", []string{string(resp.StopReason)}))
	}
	if outputJSON, err := json.Marshal([]map[string]string{{"role": "assistant", "content": rawText}}); err == nil {
		span.SetAttributes(attribute.String("gen_ai.output.messages", string(outputJSON)))
	}
	e.metrics.RecordTokens(ctx, "anthropic", e.model, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	ex, err := parseExplanation(rawText)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "parse_error"))
		return nil, err
	}
	ex.FrameNumber = req.FrameNumber
	ex.Provider = "anthropic"
	ex.Model = e.model
	ex.Usage = model.TokenUsage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	return ex, nil
}
