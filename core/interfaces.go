package core

import (
	"context"
)

// Telemetry receives spans and metrics from the planner, the interpreter
// and the upstream executor. The OpenTelemetry provider in the telemetry
// package implements it; NoOpTelemetry is the default.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span is one traced unit of work, such as a plan step or an LLM call.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// AIClient sends a single prompt to a language model. The planner builds
// every prompt itself and parses the JSON out of Content.
type AIClient interface {
	GenerateResponse(ctx context.Context, prompt string, options *AIOptions) (*AIResponse, error)
}

// AIOptions overrides the client defaults for one call. Zero values keep
// the default.
type AIOptions struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
}

// AIResponse is the raw completion text plus accounting.
type AIResponse struct {
	Content string
	Model   string
	Usage   TokenUsage
}

// TokenUsage counts tokens as reported by the provider, zero when it
// reports nothing.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type (
	// NoOpTelemetry drops spans and metrics.
	NoOpTelemetry struct{}
	// NoOpSpan is the span NoOpTelemetry hands out.
	NoOpSpan struct{}
)

func (n *NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}

func (n *NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}

func (n *NoOpSpan) End()                                       {}
func (n *NoOpSpan) SetAttribute(key string, value interface{}) {}
func (n *NoOpSpan) RecordError(err error)                      {}
