package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/itsneelabh/apiflow/catalog"
	"github.com/itsneelabh/apiflow/core"
	"github.com/itsneelabh/apiflow/orchestration"
	"github.com/itsneelabh/apiflow/resilience"
)

// Planner turns requests into intents and plans with an LLM. It satisfies
// orchestration.Planner and orchestration.EndpointRewriter.
type Planner struct {
	client      core.AIClient
	retry       *resilience.RetryConfig
	skipPurpose string
	maxTokens   int

	logger    core.Logger
	telemetry core.Telemetry
}

// PlannerOption configures a Planner
type PlannerOption func(*Planner)

// WithPlannerRetry sets the retry policy for intent and plan generation.
// Without a ShouldRetry func only provider outages and timeouts are retried.
func WithPlannerRetry(config *resilience.RetryConfig) PlannerOption {
	return func(p *Planner) {
		if config == nil {
			return
		}
		if config.ShouldRetry == nil {
			config.ShouldRetry = isTransientAIError
		}
		p.retry = config
	}
}

// WithSkipPurpose sets the purpose the plan prompt asks the model to use
// for conditional creation steps.
func WithSkipPurpose(purpose string) PlannerOption {
	return func(p *Planner) {
		if purpose != "" {
			p.skipPurpose = purpose
		}
	}
}

// WithPlanningMaxTokens bounds intent, plan and replan replies.
func WithPlanningMaxTokens(n int) PlannerOption {
	return func(p *Planner) {
		p.maxTokens = n
	}
}

// WithPlannerTelemetry sets the telemetry provider.
func WithPlannerTelemetry(t core.Telemetry) PlannerOption {
	return func(p *Planner) {
		if t != nil {
			p.telemetry = t
		}
	}
}

// NewPlanner creates a planner backed by client.
func NewPlanner(client core.AIClient, opts ...PlannerOption) (*Planner, error) {
	if client == nil {
		return nil, fmt.Errorf("planner requires an AI client: %w", core.ErrMissingConfiguration)
	}
	retry := resilience.DefaultRetryConfig()
	retry.ShouldRetry = isTransientAIError

	p := &Planner{
		client:      client,
		retry:       retry,
		skipPurpose: core.DefaultSkipPurpose,
		maxTokens:   2000,
		logger:      &core.NoOpLogger{},
		telemetry:   &core.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SetLogger sets the logger
func (p *Planner) SetLogger(logger core.Logger) {
	if logger == nil {
		p.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		p.logger = cal.WithComponent("apiflow/planner")
	} else {
		p.logger = logger
	}
}

// isTransientAIError limits retries to provider outages and timeouts.
// Malformed replies are not retried.
func isTransientAIError(err error) bool {
	return errors.Is(err, core.ErrAIUnavailable) || errors.Is(err, core.ErrTimeout)
}

// ExtractIntent reads the request text into an Intent.
func (p *Planner) ExtractIntent(ctx context.Context, text string) (*orchestration.Intent, error) {
	prompt, err := renderPrompt(intentTemplate, struct{ Request string }{Request: text})
	if err != nil {
		return nil, err
	}

	content, err := p.generate(ctx, "extract_intent", prompt, &core.AIOptions{MaxTokens: p.maxTokens})
	if err != nil {
		return nil, err
	}

	raw, ok := extractJSON(content)
	if !ok {
		return nil, &orchestration.MalformedLLMOutputError{Operation: "extract_intent", Content: content}
	}
	var intent orchestration.Intent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return nil, &orchestration.MalformedLLMOutputError{Operation: "extract_intent", Content: content, Err: err}
	}
	if intent.Entities == nil {
		intent.Entities = map[string]orchestration.Entity{}
	}

	p.logger.Info("Intent extracted", map[string]interface{}{
		"operation":      "extract_intent",
		"primary_action": intent.PrimaryAction,
		"entity_types":   intent.EntityTypes(),
	})
	return &intent, nil
}

// GeneratePlan writes a plan for intent restricted to endpoints.
func (p *Planner) GeneratePlan(ctx context.Context, intent *orchestration.Intent, endpoints []catalog.EndpointDescriptor, userEmail string) (*orchestration.Plan, error) {
	if endpoints == nil {
		endpoints = []catalog.EndpointDescriptor{}
	}
	prompt, err := renderPrompt(planTemplate, struct {
		Intent      string
		Endpoints   string
		UserEmail   string
		SkipPurpose string
	}{
		Intent:      indentJSON(intent),
		Endpoints:   indentJSON(endpoints),
		UserEmail:   userEmail,
		SkipPurpose: p.skipPurpose,
	})
	if err != nil {
		return nil, err
	}

	content, err := p.generate(ctx, "generate_plan", prompt, &core.AIOptions{MaxTokens: p.maxTokens})
	if err != nil {
		return nil, err
	}

	raw, ok := extractJSON(content)
	if !ok {
		return nil, &orchestration.MalformedLLMOutputError{Operation: "generate_plan", Content: content}
	}
	plan, err := orchestration.ParsePlan([]byte(raw))
	if err != nil {
		return nil, relabel(err, "generate_plan", content)
	}

	p.logger.Info("Execution plan generated", map[string]interface{}{
		"operation":  "generate_plan",
		"step_count": len(plan.Steps),
		"endpoints":  len(endpoints),
	})
	return plan, nil
}

// Replan asks for an alternative after failed did not succeed. A reply with
// no usable plan, including {"plan": null}, yields (nil, nil).
func (p *Planner) Replan(ctx context.Context, failed *orchestration.Step, plan *orchestration.Plan, cause error) (*orchestration.Plan, error) {
	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}
	prompt, err := renderPrompt(replanTemplate, struct {
		FailedStep string
		Cause      string
		Plan       string
	}{
		FailedStep: indentJSON(failed),
		Cause:      causeText,
		Plan:       indentJSON(plan),
	})
	if err != nil {
		return nil, err
	}

	content, err := p.generate(ctx, "replan", prompt, &core.AIOptions{MaxTokens: p.maxTokens})
	if err != nil {
		return nil, err
	}

	raw, ok := extractJSON(content)
	if !ok {
		p.logger.Warn("Replan reply held no JSON, no alternative plan", map[string]interface{}{
			"operation": "replan",
			"content":   truncate(content, 200),
		})
		return nil, nil
	}

	data, hasSteps := unwrapPlan([]byte(raw))
	if !hasSteps {
		p.logger.Warn("Replan returned no steps", map[string]interface{}{
			"operation": "replan",
		})
		return nil, nil
	}

	alternative, err := orchestration.ParsePlan(data)
	if err != nil {
		return nil, relabel(err, "replan", content)
	}
	p.logger.Info("Alternative plan generated", map[string]interface{}{
		"operation":   "replan",
		"failed_step": stepNumber(failed),
		"step_count":  len(alternative.Steps),
	})
	return alternative, nil
}

// RewriteEndpoint fills the path parameters of step's endpoint from the
// previous result. The reply must be a path or an absolute URL.
func (p *Planner) RewriteEndpoint(ctx context.Context, step *orchestration.Step, prevResult interface{}, prevMapping map[string]string) (string, error) {
	if prevMapping == nil {
		prevMapping = map[string]string{}
	}
	prompt, err := renderPrompt(rewriteTemplate, struct {
		Data     string
		Mapping  string
		Endpoint string
	}{
		Data:     indentJSON(prevResult),
		Mapping:  indentJSON(prevMapping),
		Endpoint: step.Endpoint,
	})
	if err != nil {
		return "", err
	}

	// single attempt; the caller falls back to the unrewritten endpoint
	content, err := p.call(ctx, "rewrite_endpoint", prompt, &core.AIOptions{
		MaxTokens:    100,
		SystemPrompt: rewriteSystemPrompt,
	})
	if err != nil {
		return "", err
	}

	endpoint := cleanEndpoint(content)
	if !strings.HasPrefix(endpoint, "/") && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return "", &orchestration.MalformedLLMOutputError{Operation: "rewrite_endpoint", Content: content}
	}
	p.logger.Info("Endpoint rewritten", map[string]interface{}{
		"operation": "rewrite_endpoint",
		"step":      step.Number,
		"original":  step.Endpoint,
		"rewritten": endpoint,
	})
	return endpoint, nil
}

// generate calls the model under the retry policy.
func (p *Planner) generate(ctx context.Context, operation, prompt string, options *core.AIOptions) (string, error) {
	var content string
	err := resilience.Retry(ctx, p.retry, func() error {
		var callErr error
		content, callErr = p.call(ctx, operation, prompt, options)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", operation, err)
	}
	return content, nil
}

func (p *Planner) call(ctx context.Context, operation, prompt string, options *core.AIOptions) (string, error) {
	ctx, span := p.telemetry.StartSpan(ctx, "apiflow.planner."+operation)
	defer span.End()

	start := time.Now()
	resp, err := p.client.GenerateResponse(ctx, prompt, options)
	if err != nil {
		span.RecordError(err)
		p.logger.Warn("AI call failed", map[string]interface{}{
			"operation":   operation,
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return "", err
	}

	span.SetAttribute("ai.total_tokens", resp.Usage.TotalTokens)
	p.telemetry.RecordMetric("apiflow.planner.tokens", float64(resp.Usage.TotalTokens), map[string]string{
		"operation": operation,
	})
	p.logger.Debug("AI call finished", map[string]interface{}{
		"operation":     operation,
		"model":         resp.Model,
		"total_tokens":  resp.Usage.TotalTokens,
		"duration_ms":   time.Since(start).Milliseconds(),
		"content_bytes": len(resp.Content),
	})
	return resp.Content, nil
}

// unwrapPlan accepts {"execution_plan": [...]}, {"steps": [...]} and the
// same shapes nested under "plan". It reports whether any steps are present.
func unwrapPlan(data []byte) ([]byte, bool) {
	var probe struct {
		Plan          json.RawMessage   `json:"plan"`
		ExecutionPlan []json.RawMessage `json:"execution_plan"`
		Steps         []json.RawMessage `json:"steps"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return data, true // let ParsePlan report it
	}
	if len(probe.ExecutionPlan) > 0 || len(probe.Steps) > 0 {
		return data, true
	}
	nested := bytes.TrimSpace(probe.Plan)
	if len(nested) == 0 || bytes.Equal(nested, []byte("null")) {
		return nil, false
	}
	if nested[0] == '[' {
		wrapped, err := json.Marshal(map[string]json.RawMessage{"execution_plan": nested})
		if err != nil {
			return nil, false
		}
		return unwrapPlan(wrapped)
	}
	return unwrapPlan(nested)
}

// relabel attributes parse failures to the planner operation.
func relabel(err error, operation, content string) error {
	var malformed *orchestration.MalformedLLMOutputError
	if errors.As(err, &malformed) {
		return &orchestration.MalformedLLMOutputError{Operation: operation, Content: content, Err: malformed.Err}
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func stepNumber(s *orchestration.Step) int {
	if s == nil {
		return 0
	}
	return s.Number
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
