package orchestration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/apiflow/catalog"
	"github.com/itsneelabh/apiflow/core"
	"github.com/itsneelabh/apiflow/format"
)

const (
	primaryActionQueryLimit = 10
	entityTypeQueryLimit    = 5
	historyWriteTimeout     = 5 * time.Second
)

// Orchestrator turns natural-language requests into executed plans.
type Orchestrator struct {
	planner     Planner
	searcher    EndpointSearcher
	interpreter *Interpreter
	history     HistoryStore
	maxReplans  int

	logger    core.Logger
	telemetry core.Telemetry
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithMaxReplans bounds how many times a failed run is replanned
func WithMaxReplans(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxReplans = n
		}
	}
}

// WithHistoryStore records every processed request
func WithHistoryStore(store HistoryStore) OrchestratorOption {
	return func(o *Orchestrator) {
		if store != nil {
			o.history = store
		}
	}
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(planner Planner, searcher EndpointSearcher, interpreter *Interpreter, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		planner:     planner,
		searcher:    searcher,
		interpreter: interpreter,
		history:     NewNoOpHistoryStore(),
		maxReplans:  1,
		logger:      &core.NoOpLogger{},
		telemetry:   &core.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetLogger sets the logger
func (o *Orchestrator) SetLogger(logger core.Logger) {
	if logger == nil {
		o.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		o.logger = cal.WithComponent("apiflow/orchestrator")
	} else {
		o.logger = logger
	}
}

// SetTelemetry sets the telemetry provider
func (o *Orchestrator) SetTelemetry(t core.Telemetry) {
	if t == nil {
		o.telemetry = &core.NoOpTelemetry{}
	} else {
		o.telemetry = t
	}
}

// History returns the execution history store
func (o *Orchestrator) History() HistoryStore {
	return o.history
}

// ProcessRequest extracts the intent, plans, runs the plan and formats the
// result. A run failing on an upstream or lookup error is replanned and
// restarted from the first step, at most maxReplans times.
func (o *Orchestrator) ProcessRequest(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("request text is empty: %w", core.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.UserEmail) == "" {
		return nil, fmt.Errorf("userEmail is required: %w", core.ErrInvalidRequest)
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx, span := o.telemetry.StartSpan(ctx, "apiflow.process_request")
	defer span.End()
	span.SetAttribute("request.id", requestID)

	start := time.Now()
	record := &ExecutionRecord{
		RequestID: requestID,
		UserEmail: req.UserEmail,
		Request:   req.Text,
		CreatedAt: start,
	}
	defer func() {
		record.Duration = time.Since(start)
		o.recordHistory(ctx, record)
	}()

	fail := func(err error) (*Result, error) {
		span.RecordError(err)
		record.Status = "error"
		record.Error = err.Error()
		if step := failedStep(err); step != nil {
			record.FailedStep = step.Number
		}
		o.telemetry.RecordMetric("apiflow.requests", 1, map[string]string{"status": "error"})
		o.logger.Error("Request failed", map[string]interface{}{
			"operation":  "process_request",
			"request_id": requestID,
			"error":      err.Error(),
		})
		return nil, err
	}

	o.logger.Info("Processing request", map[string]interface{}{
		"operation":  "process_request",
		"request_id": requestID,
		"user_email": req.UserEmail,
	})

	intent, err := o.planner.ExtractIntent(ctx, req.Text)
	if err != nil {
		return fail(err)
	}
	record.Intent = intent

	endpoints, err := o.DiscoverEndpoints(ctx, intent)
	if err != nil {
		return fail(err)
	}

	plan, err := o.planner.GeneratePlan(ctx, intent, endpoints, req.UserEmail)
	if err != nil {
		return fail(err)
	}
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	record.Plan = plan

	opts := RunOptions{AuthToken: req.AuthToken, UserEmail: req.UserEmail, RequestID: requestID}
	var run *RunResult
	for attempt := 0; ; attempt++ {
		run, err = o.interpreter.Run(ctx, plan, opts)
		if err == nil {
			break
		}
		if !core.IsReplannable(err) || attempt >= o.maxReplans {
			return fail(err)
		}

		next, replanErr := o.planner.Replan(ctx, failedStep(err), plan, err)
		if replanErr != nil {
			o.logger.Warn("Replanning failed", map[string]interface{}{
				"operation":  "replan",
				"request_id": requestID,
				"error":      replanErr.Error(),
			})
			return fail(err)
		}
		if next == nil {
			return fail(err)
		}

		o.logger.Info("Restarting with a new plan", map[string]interface{}{
			"operation":  "replan",
			"request_id": requestID,
			"attempt":    attempt + 1,
			"cause":      err.Error(),
		})
		if next.ID == "" {
			next.ID = uuid.New().String()
		}
		plan = next
		record.Plan = plan
		record.Replans++
	}

	record.Status = "success"
	record.Plan = run.Plan
	record.ExecutedSteps = run.Executed
	record.SkippedSteps = run.Skipped
	o.telemetry.RecordMetric("apiflow.requests", 1, map[string]string{"status": "success"})

	return &Result{
		RequestID:     requestID,
		Status:        "success",
		Intent:        intent,
		ExecutionPlan: run.Plan,
		Results:       o.renderResults(req.OutputFormat, run, requestID),
		Replans:       record.Replans,
	}, nil
}

// ExecutePlan runs a ready-made plan without the LLM.
func (o *Orchestrator) ExecutePlan(ctx context.Context, plan *Plan, opts RunOptions) (*RunResult, error) {
	if opts.RequestID == "" {
		opts.RequestID = uuid.New().String()
	}
	return o.interpreter.Run(ctx, plan, opts)
}

// DiscoverEndpoints collects the catalog entries relevant to an intent:
// matches for the primary action and for every entity type, without search
// endpoints and without duplicates.
func (o *Orchestrator) DiscoverEndpoints(ctx context.Context, intent *Intent) ([]catalog.EndpointDescriptor, error) {
	var out []catalog.EndpointDescriptor
	seen := make(map[string]bool)
	add := func(found []catalog.EndpointDescriptor) {
		for _, d := range found {
			if strings.HasSuffix(d.Path, "/search") || seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			out = append(out, d)
		}
	}

	if intent.PrimaryAction != "" {
		found, err := o.searcher.Query(ctx, intent.PrimaryAction, primaryActionQueryLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to find relevant endpoints: %w", err)
		}
		add(found)
	}
	for _, entityType := range intent.EntityTypes() {
		found, err := o.searcher.Query(ctx, entityType, entityTypeQueryLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to find relevant endpoints: %w", err)
		}
		add(found)
	}

	o.logger.Info("Found relevant endpoints", map[string]interface{}{
		"operation": "discover_endpoints",
		"count":     len(out),
	})
	return out, nil
}

// renderResults returns the raw step map, or the last step's response
// rendered in the requested format.
func (o *Orchestrator) renderResults(outputFormat string, run *RunResult, requestID string) interface{} {
	if outputFormat == "" {
		return run.Values()
	}
	if !format.Supported(outputFormat) {
		o.logger.Warn("Unknown output format, returning raw results", map[string]interface{}{
			"operation":     "render_results",
			"request_id":    requestID,
			"output_format": outputFormat,
		})
		return run.Values()
	}

	last, ok := run.LastResult()
	if !ok {
		return fmt.Sprintf("No results from last step to format as %s.", outputFormat)
	}
	rendered, err := format.Render(outputFormat, last.Value())
	if err != nil {
		return run.Values()
	}
	return rendered
}

func (o *Orchestrator) recordHistory(ctx context.Context, record *ExecutionRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	if err := o.history.Record(ctx, record); err != nil {
		o.logger.Warn("Failed to record execution history", map[string]interface{}{
			"operation":  "history_record",
			"request_id": record.RequestID,
			"error":      err.Error(),
		})
	}
}
