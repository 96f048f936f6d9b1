package orchestration

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/apiflow/core"
	"github.com/itsneelabh/apiflow/resilience"
)

func TestExecutor_PathTemplatingAndHeaders(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.json("GET /api/companies/7", http.StatusOK, map[string]interface{}{"id": "7", "name": "Acme"})

	exec := NewExecutor(upstream.URL + "/")
	state := NewRunState("secret", "a@x.com")
	state.Params.Set("companyId", "7")

	step := &Step{
		Number:     2,
		Endpoint:   "/api/companies/{companyId}",
		Method:     "get",
		Parameters: map[string]interface{}{"companyId": "{{step_1.companyId}}", "expand": "projects"},
	}
	outcome, err := exec.Execute(context.Background(), step, state)
	require.NoError(t, err)

	assert.Equal(t, upstream.URL+"/api/companies/7", outcome.URL)
	assert.Equal(t, "/api/companies/7", step.Endpoint)
	assert.Equal(t, "GET", step.Method)
	assert.Equal(t, "Acme", outcome.Response.Object["name"])

	calls := upstream.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "Bearer secret", calls[0].Auth)
	assert.Equal(t, "expand=projects", calls[0].Query)
}

func TestExecutor_UndeclaredPathSegmentFromTable(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.json("DELETE /api/contacts/c 1", http.StatusOK, map[string]interface{}{"deleted": true})

	exec := NewExecutor(upstream.URL)
	state := NewRunState("", "a@x.com")
	state.Params.Set("contactId", "c 1")

	step := &Step{Number: 2, Endpoint: "/api/contacts/{contactId}", Method: "DELETE"}
	_, err := exec.Execute(context.Background(), step, state)
	require.NoError(t, err)
	assert.Equal(t, "/api/contacts/c%201", step.Endpoint)
	assert.Empty(t, upstream.recorded()[0].Auth)
}

func TestExecutor_PostBody(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.json("POST /api/companies/7/projects", http.StatusCreated, map[string]interface{}{"id": "p1"})
	upstream.json("PUT /api/companies/7", http.StatusOK, map[string]interface{}{"id": "7"})

	exec := NewExecutor(upstream.URL)
	state := NewRunState("t", "a@x.com")
	state.Params.Set("companyId", "7")

	post := &Step{
		Number:      2,
		Endpoint:    "/api/companies/{companyId}/projects",
		Method:      "POST",
		Parameters:  map[string]interface{}{"companyId": "{{companyId}}"},
		RequestBody: map[string]interface{}{"name": "NewProj", "companyId": "{{COMPANYID}}"},
	}
	_, err := exec.Execute(context.Background(), post, state)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "NewProj", "companyId": "7"}, post.RequestBody)

	// without a request body the resolved parameters are sent
	put := &Step{
		Number:     3,
		Endpoint:   "/api/companies/{companyId}",
		Method:     "PUT",
		Parameters: map[string]interface{}{"companyId": "{companyId}", "name": "Acme Ltd"},
	}
	_, err = exec.Execute(context.Background(), put, state)
	require.NoError(t, err)

	calls := upstream.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, map[string]interface{}{"name": "NewProj", "companyId": "7"}, calls[0].Body)
	assert.Equal(t, map[string]interface{}{"name": "Acme Ltd", "companyId": "7"}, calls[1].Body)
}

func TestExecutor_CallCache(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.json("GET /api/companies", http.StatusOK, []interface{}{})

	exec := NewExecutor(upstream.URL)
	state := NewRunState("t", "a@x.com")

	for i := 0; i < 3; i++ {
		step := &Step{Number: 1, Endpoint: "/api/companies", Method: "GET"}
		outcome, err := exec.Execute(context.Background(), step, state)
		require.NoError(t, err)
		assert.Equal(t, i > 0, outcome.CacheHit)
	}
	assert.Equal(t, 1, upstream.count("GET", "/api/companies"))

	// a fresh run state has a fresh cache
	_, err := exec.Execute(context.Background(), &Step{Number: 1, Endpoint: "/api/companies", Method: "GET"}, NewRunState("t", "a@x.com"))
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.count("GET", "/api/companies"))
}

func TestExecutor_SharedCache(t *testing.T) {
	_, client := setupTestRedis(t)
	upstream := newFakeUpstream(t)
	upstream.json("GET /api/companies", http.StatusOK, []interface{}{map[string]interface{}{"id": "1"}})

	exec := NewExecutor(upstream.URL, WithSharedCache(NewSharedCache(client)))

	for i := 0; i < 2; i++ {
		outcome, err := exec.Execute(context.Background(), &Step{Number: 1, Endpoint: "/api/companies", Method: "GET"}, NewRunState("t", "a@x.com"))
		require.NoError(t, err)
		assert.Equal(t, i == 1, outcome.CacheHit)
	}
	assert.Equal(t, 1, upstream.count("GET", "/api/companies"))
}

func TestExecutor_RawResponse(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.handle("DELETE /api/companies/7", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("Deleted"))
	})

	exec := NewExecutor(upstream.URL)
	outcome, err := exec.Execute(context.Background(), &Step{Number: 1, Endpoint: "/api/companies/7", Method: "DELETE"}, NewRunState("t", "a@x.com"))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"raw_response": "Deleted"}, outcome.Response.Value())
}

func TestExecutor_HTTPError(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.json("GET /api/companies/404", http.StatusNotFound, map[string]interface{}{"message": "Company not found"})

	exec := NewExecutor(upstream.URL)
	_, err := exec.Execute(context.Background(), &Step{Number: 1, Endpoint: "/api/companies/404", Method: "GET"}, NewRunState("t", "a@x.com"))
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Contains(t, httpErr.Body, "Company not found")
	assert.True(t, errors.Is(err, core.ErrUpstreamHTTP))
	assert.True(t, core.IsReplannable(err))
}

func TestExecutor_UnsupportedMethod(t *testing.T) {
	exec := NewExecutor("http://127.0.0.1:1")
	_, err := exec.Execute(context.Background(), &Step{Number: 1, Endpoint: "/api/x", Method: "PATCH"}, NewRunState("", "a@x.com"))
	assert.True(t, errors.Is(err, core.ErrUnsupportedMethod))
}

func TestExecutor_Timeout(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.handle("GET /api/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	exec := NewExecutor(upstream.URL, WithCallTimeout(50*time.Millisecond))
	_, err := exec.Execute(context.Background(), &Step{Number: 1, Endpoint: "/api/slow", Method: "GET"}, NewRunState("", "a@x.com"))
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.True(t, core.IsRetryable(err))
}

func TestExecutor_ConnectionFailed(t *testing.T) {
	upstream := newFakeUpstream(t)
	base := upstream.URL
	upstream.Close()

	exec := NewExecutor(base)
	_, err := exec.Execute(context.Background(), &Step{Number: 1, Endpoint: "/api/companies", Method: "GET"}, NewRunState("", "a@x.com"))
	assert.True(t, errors.Is(err, core.ErrConnectionFailed))
}

func TestExecutor_CircuitBreakerOpens(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.json("GET /api/broken", http.StatusInternalServerError, map[string]interface{}{"error": "boom"})

	cb, err := resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		SleepWindow:      time.Minute,
	})
	require.NoError(t, err)
	exec := NewExecutor(upstream.URL, WithCircuitBreaker(cb))

	for i := 0; i < 2; i++ {
		_, err := exec.Execute(context.Background(), &Step{Number: 1, Endpoint: "/api/broken", Method: "GET"}, NewRunState("", "a@x.com"))
		assert.True(t, errors.Is(err, core.ErrUpstreamHTTP))
	}

	_, err = exec.Execute(context.Background(), &Step{Number: 1, Endpoint: "/api/broken", Method: "GET"}, NewRunState("", "a@x.com"))
	assert.True(t, errors.Is(err, core.ErrCircuitBreakerOpen))
	assert.Equal(t, 2, upstream.count("GET", "/api/broken"))
}

func TestExecutor_EndpointRewrite(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.json("GET /api/companies/7/contacts", http.StatusOK, []interface{}{})

	rewriter := &fakeRewriter{endpoint: upstream.URL + "/api/companies/7/contacts"}
	exec := NewExecutor(upstream.URL, WithEndpointRewriter(rewriter, time.Second))

	state := NewRunState("", "a@x.com")
	prev := ResponseFromValue(map[string]interface{}{"companyId": "7"})
	state.prevStep = &Step{Number: 1, OutputMapping: map[string]string{"id": "$.id"}}
	state.prevResponse = &prev

	step := &Step{Number: 2, Endpoint: "/api/companies/{id}/contacts", Method: "GET"}
	_, err := exec.Execute(context.Background(), step, state)
	require.NoError(t, err)
	assert.Equal(t, 1, rewriter.calls)
	assert.Equal(t, "/api/companies/7/contacts", step.Endpoint)
}

func TestExecutor_EndpointRewriteFailureIsNotFatal(t *testing.T) {
	upstream := newFakeUpstream(t)
	rewriter := &fakeRewriter{err: errors.New("llm down")}
	exec := NewExecutor(upstream.URL, WithEndpointRewriter(rewriter, time.Second))

	state := NewRunState("", "a@x.com")
	prev := ResponseFromValue(map[string]interface{}{})
	state.prevResponse = &prev

	step := &Step{Number: 2, Endpoint: "/api/companies/{id}", Method: "GET"}
	_, err := exec.Execute(context.Background(), step, state)

	// the unresolved placeholder reaches the upstream, which rejects it
	assert.True(t, errors.Is(err, core.ErrUpstreamHTTP))
	assert.Equal(t, 1, rewriter.calls)
	assert.Equal(t, "/api/companies/{id}", step.Endpoint)
}

func TestExecutor_LocalFilterWithoutCatalog(t *testing.T) {
	exec := NewExecutor("http://127.0.0.1:1")
	step := &Step{Number: 1, LocalFilter: &LocalFilter{EntityType: "company"}}
	_, err := exec.Execute(context.Background(), step, NewRunState("", "a@x.com"))
	assert.True(t, errors.Is(err, core.ErrEndpointNotFound))
}
