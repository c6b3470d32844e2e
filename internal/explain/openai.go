package explain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/pcap-patrol/internal/model"
	ppotel "github.com/timvw/pcap-patrol/internal/otel"
)

// OpenAIExplainer explains frames using the OpenAI Chat Completions API.
// Any OpenAI-compatible endpoint works via BaseURL.
type OpenAIExplainer struct {
	client    openai.Client
	model     string
	maxTokens int64
	metrics   *ppotel.Metrics
}

// OpenAIConfig holds configuration for the OpenAI explainer.
type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	MaxTokens    int64
	ExtraHeaders map[string]string
	Metrics      *ppotel.Metrics
}

// NewOpenAIExplainer creates a new OpenAI explainer.
func NewOpenAIExplainer(cfg OpenAIConfig) *OpenAIExplainer {
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

	return &OpenAIExplainer{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		metrics:   cfg.Metrics,
	}
}

// Provider returns "openai".
func (e *OpenAIExplainer) Provider() string {
	return "openai"
}

// Model returns the model name.
func (e *OpenAIExplainer) Model() string {
	return e.model
}

// Explain sends the frame dissection to the OpenAI API.
func (e *OpenAIExplainer) Explain(ctx context.Context, req Request) (*model.Explanation, error) {
	userMessage := BuildUserMessage(req)

	ctx, span := explainTracer.Start(ctx, "chat "+e.model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.provider.name", "openai"),
			attribute.String("gen_ai.request.model", e.model),
			attribute.Int64("gen_ai.request.max_tokens", e.maxTokens),
			attribute.Int("pcap.frame_number", req.FrameNumber),
		),
	)
	defer span.End()

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: e.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt),
			openai.UserMessage(userMessage),
		},
		MaxCompletionTokens: openai.Int(e.maxTokens),
	})
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, fmt.Errorf("openai API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, fmt.Errorf("openai API returned empty response")
	}

	rawText := resp.Choices[0].Message.Content
	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.String("gen_ai.response.id", resp.ID),
		attribute.Int64("gen_ai.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int64("gen_ai.usage.output_tokens", resp.Usage.CompletionTokens),
	)
	if resp.Choices[0].FinishReason != "" {
		span.SetAttributes(attribute.StringSlice("gen_ai.response.finish_reasons", []string{string(resp.Choices[0].FinishReason)}))
	}
	if outputJSON, err := json.Marshal([]map[string]string{{"role": "assistant", "content": rawText}}); err == nil {
		span.SetAttributes(attribute.String("gen_ai.output.messages", string(outputJSON)))
	}
	e.metrics.RecordTokens(ctx, "openai", e.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	ex, err := parseExplanation(rawText)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "parse_error"))
		return nil, err
	}
	ex.FrameNumber = req.FrameNumber
	ex.Provider = "openai"
	ex.Model = e.model
	ex.Usage = model.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	return ex, nil
}
