package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/itsneelabh/apiflow/core"
	"github.com/itsneelabh/apiflow/resilience"
)

const (
	// DefaultCallTimeout bounds every upstream call.
	DefaultCallTimeout = 30 * time.Second

	// DefaultRewriteTimeout bounds the optional LLM endpoint rewrite.
	DefaultRewriteTimeout = 15 * time.Second

	maxResponseSize = 10 << 20
)

var pathPlaceholder = regexp.MustCompile(`\{([^{}/]+)\}`)

// RunState is the per-run mutable state. A fresh one is created for every
// plan execution and never shared across requests.
type RunState struct {
	Params    *ParamTable
	Results   map[string]Response
	Cache     *CallCache
	AuthToken string
	UserEmail string
	RequestID string

	// last executed step, used by the endpoint rewrite
	prevStep     *Step
	prevResponse *Response
}

// NewRunState creates empty per-run state for one caller.
func NewRunState(authToken, userEmail string) *RunState {
	return &RunState{
		Params:    NewParamTable(),
		Results:   make(map[string]Response),
		Cache:     NewCallCache(),
		AuthToken: authToken,
		UserEmail: userEmail,
	}
}

// StepOutcome is the result of executing one step.
type StepOutcome struct {
	Response Response
	URL      string
	CacheHit bool
}

// Executor performs the upstream call of a single step.
type Executor struct {
	baseURL        string
	client         *http.Client
	timeout        time.Duration
	breaker        *resilience.CircuitBreaker
	shared         *SharedCache
	rewriter       EndpointRewriter
	rewriteTimeout time.Duration
	filter         *EntityFilter

	logger    core.Logger
	telemetry core.Telemetry
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithHTTPClient sets the client used for upstream calls
func WithHTTPClient(client *http.Client) ExecutorOption {
	return func(e *Executor) {
		if client != nil {
			e.client = client
		}
	}
}

// WithCallTimeout sets the per-call deadline
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithCircuitBreaker protects upstream calls with a breaker
func WithCircuitBreaker(cb *resilience.CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.breaker = cb
	}
}

// WithSharedCache enables the cross-request cache for GET calls
func WithSharedCache(cache *SharedCache) ExecutorOption {
	return func(e *Executor) {
		e.shared = cache
	}
}

// WithEndpointRewriter enables the LLM fallback for path parameters that
// placeholders could not fill.
func WithEndpointRewriter(r EndpointRewriter, timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.rewriter = r
		if timeout > 0 {
			e.rewriteTimeout = timeout
		}
	}
}

// WithEndpointSearcher sets the catalog used by local-filter steps
func WithEndpointSearcher(s EndpointSearcher) ExecutorOption {
	return func(e *Executor) {
		e.filter = newEntityFilter(s, e)
	}
}

// NewExecutor creates an executor for the upstream service at baseURL
func NewExecutor(baseURL string, opts ...ExecutorOption) *Executor {
	e := &Executor{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         &http.Client{},
		timeout:        DefaultCallTimeout,
		rewriteTimeout: DefaultRewriteTimeout,
		logger:         &core.NoOpLogger{},
		telemetry:      &core.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetLogger sets the logger
func (e *Executor) SetLogger(logger core.Logger) {
	if logger == nil {
		e.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		e.logger = cal.WithComponent("apiflow/executor")
	} else {
		e.logger = logger
	}
}

// SetTelemetry sets the telemetry provider
func (e *Executor) SetTelemetry(t core.Telemetry) {
	if t == nil {
		e.telemetry = &core.NoOpTelemetry{}
	} else {
		e.telemetry = t
	}
}

// Execute runs one step against the upstream service. The step is updated
// in place with its resolved endpoint and request body.
func (e *Executor) Execute(ctx context.Context, step *Step, state *RunState) (*StepOutcome, error) {
	if step.LocalFilter != nil && !step.LocalFilter.isEmpty() {
		if e.filter == nil {
			return nil, &EndpointNotFoundError{Query: "local filter for " + step.LocalFilter.EntityType}
		}
		resolver := NewResolver(state.Params, step.Number, e.logger)
		criteria := resolver.ResolveMap(step.LocalFilter.Criteria)
		step.LocalFilter.Criteria = criteria
		entity, listURL, err := e.filter.Filter(ctx, step.LocalFilter.EntityType, criteria, state)
		if err != nil {
			return nil, err
		}
		return &StepOutcome{Response: entity, URL: listURL}, nil
	}

	method := strings.ToUpper(strings.TrimSpace(step.Method))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return nil, &UnsupportedMethodError{Method: step.Method}
	}
	step.Method = method

	resolver := NewResolver(state.Params, step.Number, e.logger)
	path, resolvedParams, pathParams := e.resolvePath(step, resolver)
	if pathPlaceholder.MatchString(path) {
		path = e.rewriteEndpoint(ctx, step, path, state)
	}
	step.Endpoint = path

	var query map[string]interface{}
	var body map[string]interface{}
	switch method {
	case http.MethodGet, http.MethodDelete:
		query = make(map[string]interface{})
		for name, value := range resolvedParams {
			if pathParams[name] || value == nil {
				continue
			}
			if s, ok := value.(string); ok {
				if _, isRef := ParsePlaceholder(s); isRef {
					continue
				}
			}
			query[name] = value
		}
	default:
		if step.RequestBody != nil {
			body = resolver.ResolveMap(step.RequestBody)
			step.RequestBody = body
		} else {
			body = resolvedParams
		}
	}

	target := e.endpointURL(path)
	keyParams := body
	if method == http.MethodGet || method == http.MethodDelete {
		keyParams = query
	}
	key := CallKey(method, target, keyParams)

	if cached, ok := state.Cache.Get(key); ok {
		e.logger.Debug("Using cached response", map[string]interface{}{
			"operation": "step_cache_hit",
			"step":      step.Number,
			"method":    method,
			"url":       target,
		})
		return &StepOutcome{Response: cached, URL: target, CacheHit: true}, nil
	}

	call := func(ctx context.Context) (Response, error) {
		return e.send(ctx, method, target, query, body, state.AuthToken)
	}

	var resp Response
	var err error
	sharedHit := false
	if method == http.MethodGet && e.shared != nil {
		resp, sharedHit, err = e.shared.Fetch(ctx, key, state.AuthToken, call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return nil, err
	}

	state.Cache.Put(key, resp)
	return &StepOutcome{Response: resp, URL: target, CacheHit: sharedHit}, nil
}

// resolvePath substitutes declared parameters into the endpoint template.
// It returns the path, every parameter after resolution and the names of
// the parameters that are path segments.
func (e *Executor) resolvePath(step *Step, resolver *Resolver) (string, map[string]interface{}, map[string]bool) {
	path := step.Endpoint
	resolved := make(map[string]interface{}, len(step.Parameters))
	pathParams := make(map[string]bool)

	for _, name := range sortedKeys(step.Parameters) {
		value, err := resolver.Resolve(step.Parameters[name], LookupExact)
		resolved[name] = value

		token := "{" + name + "}"
		if !strings.Contains(step.Endpoint, token) {
			continue
		}
		pathParams[name] = true
		if err != nil || value == nil {
			continue
		}
		path = strings.ReplaceAll(path, token, url.PathEscape(Stringify(value)))
	}

	// template segments with no declared parameter are looked up directly
	path = pathPlaceholder.ReplaceAllStringFunc(path, func(token string) string {
		name := token[1 : len(token)-1]
		if pathParams[name] {
			return token
		}
		if v, ok := resolver.table.Lookup(referenceName(name), LookupExact); ok {
			return url.PathEscape(Stringify(v))
		}
		return token
	})
	return path, resolved, pathParams
}

func (e *Executor) rewriteEndpoint(ctx context.Context, step *Step, path string, state *RunState) string {
	if e.rewriter == nil || state.prevResponse == nil || step.Number <= 1 {
		return path
	}

	rctx, cancel := context.WithTimeout(ctx, e.rewriteTimeout)
	defer cancel()

	candidate := *step
	candidate.Endpoint = path
	var prevMapping map[string]string
	if state.prevStep != nil {
		prevMapping = state.prevStep.OutputMapping
	}

	rewritten, err := e.rewriter.RewriteEndpoint(rctx, &candidate, state.prevResponse.Value(), prevMapping)
	rewritten = strings.TrimSpace(rewritten)
	if err != nil || rewritten == "" {
		fields := map[string]interface{}{
			"operation": "endpoint_rewrite",
			"step":      step.Number,
			"endpoint":  path,
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		e.logger.Warn("Endpoint rewrite failed, keeping endpoint", fields)
		return path
	}

	if strings.HasPrefix(rewritten, e.baseURL+"/") {
		rewritten = strings.TrimPrefix(rewritten, e.baseURL)
	}
	e.logger.Info("Endpoint rewritten", map[string]interface{}{
		"operation": "endpoint_rewrite",
		"step":      step.Number,
		"from":      path,
		"to":        rewritten,
	})
	return rewritten
}

func (e *Executor) endpointURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return e.baseURL + path
}

// send issues one HTTP call through the circuit breaker with a deadline.
func (e *Executor) send(ctx context.Context, method, target string, query, body map[string]interface{}, authToken string) (Response, error) {
	var resp Response
	call := func() error {
		var err error
		resp, err = e.doRequest(ctx, method, target, query, body, authToken)
		return err
	}

	var err error
	if e.breaker != nil {
		err = e.breaker.Execute(ctx, call)
	} else {
		err = call()
	}
	return resp, err
}

func (e *Executor) doRequest(ctx context.Context, method, target string, query, body map[string]interface{}, authToken string) (Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	fullURL := target
	if len(query) > 0 {
		values := url.Values{}
		for _, name := range sortedKeys(query) {
			values.Set(name, Stringify(query[name]))
		}
		sep := "?"
		if strings.Contains(fullURL, "?") {
			sep = "&"
		}
		fullURL += sep + values.Encode()
	}

	var reader io.Reader
	if method == http.MethodPost || method == http.MethodPut {
		if body == nil {
			body = map[string]interface{}{}
		}
		data, err := json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(callCtx, method, fullURL, reader)
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request for %s: %w", fullURL, err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	start := time.Now()
	e.logger.Debug("Calling upstream", map[string]interface{}{
		"operation": "upstream_call",
		"method":    method,
		"url":       fullURL,
	})

	httpResp, err := e.client.Do(req)
	if err != nil {
		return Response{}, e.callError(ctx, callCtx, method, target, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return Response{}, e.callError(ctx, callCtx, method, target, err)
	}

	duration := time.Since(start)
	e.telemetry.RecordMetric("apiflow.upstream.duration_ms", float64(duration.Milliseconds()), map[string]string{
		"method": method,
		"status": strconv.Itoa(httpResp.StatusCode),
	})
	e.logger.Debug("Upstream responded", map[string]interface{}{
		"operation":   "upstream_call",
		"method":      method,
		"url":         fullURL,
		"status":      httpResp.StatusCode,
		"duration_ms": duration.Milliseconds(),
	})

	if httpResp.StatusCode >= 400 {
		e.logger.Warn("Upstream call failed", map[string]interface{}{
			"operation": "upstream_call",
			"method":    method,
			"url":       fullURL,
			"status":    httpResp.StatusCode,
		})
		return Response{}, &HTTPError{Method: method, URL: target, Status: httpResp.StatusCode, Body: string(data)}
	}
	return ParseResponse(data), nil
}

// callError maps a transport failure to the error taxonomy.
func (e *Executor) callError(parent, callCtx context.Context, method, target string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("Upstream call timed out", map[string]interface{}{
			"operation": "upstream_call",
			"method":    method,
			"url":       target,
			"timeout":   e.timeout.String(),
		})
		return &TimeoutError{Method: method, URL: target, Timeout: e.timeout}
	}
	return fmt.Errorf("%s %s: %w: %w", method, target, core.ErrConnectionFailed, err)
}
