package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/itsneelabh/apiflow/core"
)

// NewClient creates an AI client using registered providers
func NewClient(opts ...AIOption) (*LangChainClient, error) {
	config := defaultAIConfig()
	for _, opt := range opts {
		opt(config)
	}
	config.Logger = componentLogger(config.Logger)

	config.Logger.Info("Starting AI client creation", map[string]interface{}{
		"operation":        "ai_client_creation",
		"provider_setting": config.Provider,
		"auto_detect":      config.Provider == string(ProviderAuto) || config.Provider == "",
	})

	provider := config.Provider
	if provider == "" || provider == string(ProviderAuto) {
		detected, err := detectBestProvider(config.Logger)
		if err != nil {
			if config.APIKey == "" {
				return nil, fmt.Errorf("no AI provider available: %w", err)
			}
			// an explicit key without an environment hint is assumed to be Claude's
			detected = string(ProviderAnthropic)
		}
		provider = detected
		config.Provider = detected
	}

	factory, exists := GetProvider(provider)
	if !exists {
		config.Logger.Error("AI provider not registered", map[string]interface{}{
			"operation":           "ai_provider_lookup",
			"requested_provider":  provider,
			"available_providers": ListProviders(),
		})
		return nil, fmt.Errorf("provider '%s' not registered: %w", provider, core.ErrInvalidConfiguration)
	}

	model, err := factory.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", provider, err)
	}

	client := NewLangChainClient(model, config)
	config.Logger.Info("AI client created successfully", map[string]interface{}{
		"operation": "ai_client_creation",
		"provider":  provider,
		"model":     config.Model,
		"status":    "success",
	})
	return client, nil
}

// LangChainClient adapts a langchaingo model to core.AIClient
type LangChainClient struct {
	model  llms.Model
	config *AIConfig

	logger    core.Logger
	telemetry core.Telemetry
}

// NewLangChainClient wraps an already constructed model.
func NewLangChainClient(model llms.Model, config *AIConfig) *LangChainClient {
	if config == nil {
		config = defaultAIConfig()
	}
	c := &LangChainClient{
		model:     model,
		config:    config,
		logger:    componentLogger(config.Logger),
		telemetry: config.Telemetry,
	}
	if c.telemetry == nil {
		c.telemetry = &core.NoOpTelemetry{}
	}
	return c
}

// Provider returns the provider name the client talks to.
func (c *LangChainClient) Provider() string {
	return c.config.Provider
}

// GenerateResponse sends one prompt with an optional system prompt.
// Transport and server failures wrap core.ErrAIUnavailable so callers may
// retry them; rejected requests do not.
func (c *LangChainClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	if options == nil {
		options = &core.AIOptions{}
	}

	ctx, span := c.telemetry.StartSpan(ctx, "apiflow.ai.generate")
	defer span.End()
	span.SetAttribute("ai.provider", c.config.Provider)

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	var messages []llms.MessageContent
	if options.SystemPrompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(options.SystemPrompt)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(prompt)},
	})

	temperature := c.config.Temperature
	if options.Temperature > 0 {
		temperature = options.Temperature
	}
	maxTokens := c.config.MaxTokens
	if options.MaxTokens > 0 {
		maxTokens = options.MaxTokens
	}
	callOpts := []llms.CallOption{
		llms.WithTemperature(float64(temperature)),
		llms.WithMaxTokens(maxTokens),
	}
	if options.Model != "" {
		callOpts = append(callOpts, llms.WithModel(options.Model))
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
	duration := time.Since(start)
	c.telemetry.RecordMetric("apiflow.ai.duration_ms", float64(duration.Milliseconds()), map[string]string{
		"provider": c.config.Provider,
		"status":   statusLabel(err),
	})

	if err != nil {
		span.RecordError(err)
		c.logger.Warn("AI generation failed", map[string]interface{}{
			"operation":   "ai_generate",
			"provider":    c.config.Provider,
			"error":       err.Error(),
			"duration_ms": duration.Milliseconds(),
		})
		return nil, classifyProviderError(c.config.Provider, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices: %w", c.config.Provider, core.ErrAIUnavailable)
	}

	choice := resp.Choices[0]
	usage := tokenUsage(choice.GenerationInfo)
	c.logger.Debug("AI generation finished", map[string]interface{}{
		"operation":     "ai_generate",
		"provider":      c.config.Provider,
		"duration_ms":   duration.Milliseconds(),
		"total_tokens":  usage.TotalTokens,
		"stop_reason":   choice.StopReason,
		"content_bytes": len(choice.Content),
	})

	model := options.Model
	if model == "" {
		model = c.config.Model
	}
	return &core.AIResponse{Content: choice.Content, Model: model, Usage: usage}, nil
}

// classifyProviderError marks transient failures as retryable.
func classifyProviderError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s request timed out: %w: %w", provider, core.ErrTimeout, err)
	}
	if isClientError(err) {
		return fmt.Errorf("%s rejected the request: %w", provider, err)
	}
	return fmt.Errorf("%s: %w: %w", provider, core.ErrAIUnavailable, err)
}

// isClientError checks if the error is a client error (4xx)
// Client errors indicate problems with the request (bad parameters, authentication, etc.)
// and are not retried.
func isClientError(err error) bool {
	clientErrorPatterns := []string{
		"authentication",
		"unauthorized",
		"invalid",
		"bad request",
		"not found",
		"forbidden",
		"api key",
	}

	errLower := strings.ToLower(err.Error())
	for _, pattern := range clientErrorPatterns {
		if strings.Contains(errLower, pattern) {
			return true
		}
	}
	return false
}

// tokenUsage reads token counts from the provider specific generation info.
func tokenUsage(info map[string]any) core.TokenUsage {
	var u core.TokenUsage
	u.PromptTokens = firstInt(info, "PromptTokens", "InputTokens")
	u.CompletionTokens = firstInt(info, "CompletionTokens", "OutputTokens")
	u.TotalTokens = firstInt(info, "TotalTokens")
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func componentLogger(logger core.Logger) core.Logger {
	if logger == nil {
		return &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		return cal.WithComponent("apiflow/ai")
	}
	return logger
}
