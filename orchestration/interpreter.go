package orchestration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/itsneelabh/apiflow/core"
)

// RunOptions carries the caller identity for one plan run.
type RunOptions struct {
	AuthToken string
	UserEmail string
	RequestID string
}

// RunResult is the outcome of a successful run.
type RunResult struct {
	// Results maps "step_<n>" to the response of every executed step.
	Results map[string]Response
	// Params is the final resolved parameter table.
	Params map[string]interface{}
	// Plan is the executed copy of the plan with resolved endpoints and bodies.
	Plan     *Plan
	Executed []int
	Skipped  []int
	Duration time.Duration
}

// Values returns the results as plain JSON values.
func (r *RunResult) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Results))
	for k, v := range r.Results {
		out[k] = v.Value()
	}
	return out
}

// LastResult returns the response of the plan's final step, if it ran.
func (r *RunResult) LastResult() (Response, bool) {
	if r.Plan == nil || len(r.Plan.Steps) == 0 {
		return Response{}, false
	}
	last := r.Plan.Steps[len(r.Plan.Steps)-1]
	resp, ok := r.Results[last.ID()]
	return resp, ok
}

// Interpreter runs plans step by step in ascending order.
type Interpreter struct {
	executor     *Executor
	skipPurposes map[string]bool

	logger    core.Logger
	telemetry core.Telemetry
}

// InterpreterOption configures an Interpreter
type InterpreterOption func(*Interpreter)

// WithSkipPurposes replaces the purposes that make a step conditional on
// the previous step not having produced an id.
func WithSkipPurposes(purposes ...string) InterpreterOption {
	return func(i *Interpreter) {
		i.skipPurposes = make(map[string]bool, len(purposes))
		for _, p := range purposes {
			if p != "" {
				i.skipPurposes[p] = true
			}
		}
	}
}

// NewInterpreter creates an interpreter on top of an executor
func NewInterpreter(executor *Executor, opts ...InterpreterOption) *Interpreter {
	i := &Interpreter{
		executor:     executor,
		skipPurposes: map[string]bool{core.DefaultSkipPurpose: true},
		logger:       &core.NoOpLogger{},
		telemetry:    &core.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// SetLogger sets the logger
func (i *Interpreter) SetLogger(logger core.Logger) {
	if logger == nil {
		i.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		i.logger = cal.WithComponent("apiflow/interpreter")
	} else {
		i.logger = logger
	}
}

// SetTelemetry sets the telemetry provider
func (i *Interpreter) SetTelemetry(t core.Telemetry) {
	if t == nil {
		i.telemetry = &core.NoOpTelemetry{}
	} else {
		i.telemetry = t
	}
}

// Run executes a copy of plan with fresh per-run state. The first failing
// step aborts the run and is returned as a *StepError; no partial results
// are returned.
func (i *Interpreter) Run(ctx context.Context, plan *Plan, opts RunOptions) (*RunResult, error) {
	exec := plan.Clone()
	if err := exec.Validate(); err != nil {
		return nil, err
	}

	ctx, span := i.telemetry.StartSpan(ctx, "apiflow.plan.run")
	defer span.End()
	span.SetAttribute("plan.steps", len(exec.Steps))
	if opts.RequestID != "" {
		span.SetAttribute("request.id", opts.RequestID)
	}

	start := time.Now()
	state := NewRunState(opts.AuthToken, opts.UserEmail)
	state.RequestID = opts.RequestID
	result := &RunResult{Plan: exec}

	i.logger.Info("Starting plan execution", map[string]interface{}{
		"operation":  "plan_run",
		"request_id": opts.RequestID,
		"plan_id":    exec.ID,
		"steps":      len(exec.Steps),
	})

	for _, step := range exec.Steps {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return nil, &StepError{Step: step, Err: err}
		}

		if i.shouldSkip(step, state) {
			i.applySkip(step, state)
			result.Skipped = append(result.Skipped, step.Number)
			continue
		}

		resp, err := i.runStep(ctx, step, state)
		if err != nil {
			span.RecordError(err)
			i.telemetry.RecordMetric("apiflow.plan.runs", 1, map[string]string{"status": "failed"})
			i.logger.Error("Plan execution aborted", map[string]interface{}{
				"operation":  "plan_run",
				"request_id": opts.RequestID,
				"step":       step.Number,
				"error":      err.Error(),
			})
			return nil, &StepError{Step: step, Err: err}
		}

		state.Results[step.ID()] = resp
		i.applyOutputMapping(step, resp, state)
		i.resolveBodyAgain(step, state)

		state.prevStep = step
		state.prevResponse = &resp
		result.Executed = append(result.Executed, step.Number)
	}

	result.Results = state.Results
	result.Params = state.Params.Snapshot()
	result.Duration = time.Since(start)

	i.telemetry.RecordMetric("apiflow.plan.runs", 1, map[string]string{"status": "success"})
	i.logger.Info("Plan execution finished", map[string]interface{}{
		"operation":   "plan_run",
		"request_id":  opts.RequestID,
		"executed":    len(result.Executed),
		"skipped":     len(result.Skipped),
		"duration_ms": result.Duration.Milliseconds(),
	})
	return result, nil
}

func (i *Interpreter) runStep(ctx context.Context, step *Step, state *RunState) (Response, error) {
	ctx, span := i.telemetry.StartSpan(ctx, "apiflow.plan.step")
	defer span.End()
	span.SetAttribute("step.number", step.Number)
	span.SetAttribute("step.method", step.Method)
	span.SetAttribute("step.endpoint", step.Endpoint)

	i.logger.Debug("Executing step", map[string]interface{}{
		"operation":  "step_execute",
		"request_id": state.RequestID,
		"step":       step.Number,
		"purpose":    step.Purpose,
	})

	outcome, err := i.executor.Execute(ctx, step, state)
	if err != nil {
		span.RecordError(err)
		return Response{}, err
	}
	span.SetAttribute("step.url", outcome.URL)
	span.SetAttribute("step.cache_hit", outcome.CacheHit)
	return outcome.Response, nil
}

// shouldSkip reports whether a conditional step is already satisfied by the
// previous step having produced an id.
func (i *Interpreter) shouldSkip(step *Step, state *RunState) bool {
	if step.Number <= 1 || !i.skipPurposes[step.Purpose] {
		return false
	}
	prev, ok := state.Results[StepKey(step.Number-1)]
	if !ok {
		return false
	}
	id, _ := prev.Field("id")
	return hasValue(id)
}

// hasValue reports whether an id counts as present: not null, not empty,
// not false and not zero.
func hasValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case map[string]interface{}:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	default:
		return true
	}
}

// applySkip applies the skipped step's output mapping to the previous
// step's result so later references still resolve.
func (i *Interpreter) applySkip(step *Step, state *RunState) {
	prev := state.Results[StepKey(step.Number-1)]
	id, _ := prev.Field("id")

	for _, name := range step.OutputNames() {
		value := prev.Extract(step.OutputMapping[name])
		if value == nil {
			value = id
		}
		state.Params.Set(name, value)
	}

	i.logger.Info("Skipping step, entity already exists", map[string]interface{}{
		"operation":  "step_skip",
		"request_id": state.RequestID,
		"step":       step.Number,
		"purpose":    step.Purpose,
		"id":         Stringify(id),
	})
}

func (i *Interpreter) applyOutputMapping(step *Step, resp Response, state *RunState) {
	for _, name := range step.OutputNames() {
		value := resp.Extract(step.OutputMapping[name])
		if value == nil {
			i.logger.Warn("Output mapping extracted nothing", map[string]interface{}{
				"operation": "output_mapping",
				"step":      step.Number,
				"name":      name,
				"path":      step.OutputMapping[name],
			})
		}
		state.Params.Set(name, value)
	}
}

// resolveBodyAgain runs after the output mapping. A body entry still holding
// a placeholder whose reference is now in the table publishes that value
// under the body key, so later steps can refer to it by that name.
func (i *Interpreter) resolveBodyAgain(step *Step, state *RunState) {
	for key, value := range step.RequestBody {
		s, ok := value.(string)
		if !ok {
			continue
		}
		ref, ok := ParsePlaceholder(s)
		if !ok {
			continue
		}
		if v, found := state.Params.Lookup(referenceName(ref), LookupFold); found {
			state.Params.Set(key, v)
		}
	}
}
