package orchestration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/itsneelabh/apiflow/core"
)

// MalformedLLMOutputError is returned when an LLM response does not contain
// a parseable JSON object.
type MalformedLLMOutputError struct {
	Operation string
	Content   string
	Err       error
}

func (e *MalformedLLMOutputError) Error() string {
	preview := e.Content
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed llm output: %v (content: %q)", e.Operation, e.Err, preview)
	}
	return fmt.Sprintf("%s: malformed llm output (content: %q)", e.Operation, preview)
}

func (e *MalformedLLMOutputError) Unwrap() error { return e.Err }

func (e *MalformedLLMOutputError) Is(target error) bool { return target == core.ErrMalformedLLMOutput }

// EndpointNotFoundError means the catalog had no descriptor for a required lookup.
type EndpointNotFoundError struct {
	Query string
}

func (e *EndpointNotFoundError) Error() string {
	return fmt.Sprintf("no endpoint found for %q", e.Query)
}

func (e *EndpointNotFoundError) Is(target error) bool { return target == core.ErrEndpointNotFound }

// UnresolvedReferenceError describes a placeholder that had no value.
// It is recorded and logged, never returned from a run.
type UnresolvedReferenceError struct {
	Placeholder string
	Step        int
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("step %d: unresolved reference %s", e.Step, e.Placeholder)
}

func (e *UnresolvedReferenceError) Is(target error) bool { return target == core.ErrUnresolvedReference }

// HTTPError carries an upstream response with status >= 400.
type HTTPError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.URL, e.Status, strings.TrimSpace(e.Body))
}

func (e *HTTPError) Is(target error) bool { return target == core.ErrUpstreamHTTP }

// StatusCode lets the circuit breaker tell client errors from server errors.
func (e *HTTPError) StatusCode() int { return e.Status }

// NotFoundError is returned by the local entity filter when nothing matches.
type NotFoundError struct {
	EntityType string
	Criteria   map[string]interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s found matching %v", e.EntityType, e.Criteria)
}

func (e *NotFoundError) Is(target error) bool { return target == core.ErrNotFound }

// UnsupportedMethodError indicates a malformed plan step.
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("unsupported http method: %q", e.Method)
}

func (e *UnsupportedMethodError) Is(target error) bool { return target == core.ErrUnsupportedMethod }

// TimeoutError is returned when an upstream call exceeds its deadline. It is retryable.
type TimeoutError struct {
	Method  string
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s timed out after %s", e.Method, e.URL, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == core.ErrTimeout }

// InvalidPlanError is returned by plan validation.
type InvalidPlanError struct {
	Reason string
}

func (e *InvalidPlanError) Error() string {
	return "invalid plan: " + e.Reason
}

func (e *InvalidPlanError) Is(target error) bool { return target == core.ErrInvalidPlan }

// StepError wraps the error that aborted a run with the failing step.
type StepError struct {
	Step *Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s %s) failed: %v", e.Step.Number, e.Step.Method, e.Step.Endpoint, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// failedStep extracts the failing step from a run error, if any.
func failedStep(err error) *Step {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return nil
}
