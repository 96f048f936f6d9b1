package orchestration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/itsneelabh/apiflow/catalog"
)

// staticSearcher returns its descriptors whose document mentions any word
// of the query, in declaration order.
type staticSearcher struct {
	descriptors []catalog.EndpointDescriptor
	err         error
	queries     []string
}

func (s *staticSearcher) Query(ctx context.Context, text string, k int) ([]catalog.EndpointDescriptor, error) {
	s.queries = append(s.queries, text)
	if s.err != nil {
		return nil, s.err
	}
	var out []catalog.EndpointDescriptor
	for _, d := range s.descriptors {
		doc := strings.ToLower(d.Document())
		for _, word := range strings.Fields(strings.ToLower(text)) {
			if strings.Contains(doc, word) {
				out = append(out, d)
				break
			}
		}
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func descriptor(method, path string) catalog.EndpointDescriptor {
	return catalog.EndpointDescriptor{ID: catalog.DescriptorID(method, path), Method: method, Path: path}
}

func companySearcher() *staticSearcher {
	return &staticSearcher{descriptors: []catalog.EndpointDescriptor{
		descriptor("GET", "/api/companies/{companyId}"),
		descriptor("GET", "/api/companies"),
		descriptor("POST", "/api/companies"),
		descriptor("GET", "/api/companies/search"),
		descriptor("POST", "/api/companies/{companyId}/projects"),
		descriptor("GET", "/api/contacts"),
	}}
}

// recordedCall is one request seen by the fake upstream.
type recordedCall struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]interface{}
}

// fakeUpstream is a scripted REST service that records every call.
type fakeUpstream struct {
	*httptest.Server

	mu     sync.Mutex
	calls  []recordedCall
	routes map[string]http.HandlerFunc
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	u := &fakeUpstream{routes: make(map[string]http.HandlerFunc)}
	u.Server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.Close)
	return u
}

// handle registers a handler for "METHOD /path".
func (u *fakeUpstream) handle(route string, h http.HandlerFunc) {
	u.routes[route] = h
}

// json registers a fixed JSON response for "METHOD /path".
func (u *fakeUpstream) json(route string, status int, body interface{}) {
	u.handle(route, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
}

func (u *fakeUpstream) serve(w http.ResponseWriter, r *http.Request) {
	call := recordedCall{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
	}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &call.Body)
	}
	u.mu.Lock()
	u.calls = append(u.calls, call)
	h, ok := u.routes[r.Method+" "+r.URL.Path]
	u.mu.Unlock()

	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	h(w, r)
}

func (u *fakeUpstream) recorded() []recordedCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]recordedCall(nil), u.calls...)
}

func (u *fakeUpstream) count(method, path string) int {
	n := 0
	for _, c := range u.recorded() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

// fakePlanner is a scripted Planner.
type fakePlanner struct {
	intent     *Intent
	intentErr  error
	plan       *Plan
	planErr    error
	replans    []*Plan
	replanErr  error
	replanned  []*Step
	endpoints  []catalog.EndpointDescriptor
	userEmails []string
}

func (p *fakePlanner) ExtractIntent(ctx context.Context, text string) (*Intent, error) {
	if p.intentErr != nil {
		return nil, p.intentErr
	}
	if p.intent != nil {
		return p.intent, nil
	}
	return &Intent{PrimaryAction: "get_company", Entities: map[string]Entity{"company": {Name: "Acme"}}}, nil
}

func (p *fakePlanner) GeneratePlan(ctx context.Context, intent *Intent, endpoints []catalog.EndpointDescriptor, userEmail string) (*Plan, error) {
	p.endpoints = endpoints
	p.userEmails = append(p.userEmails, userEmail)
	if p.planErr != nil {
		return nil, p.planErr
	}
	return p.plan.Clone(), nil
}

func (p *fakePlanner) Replan(ctx context.Context, failed *Step, plan *Plan, cause error) (*Plan, error) {
	p.replanned = append(p.replanned, failed)
	if p.replanErr != nil {
		return nil, p.replanErr
	}
	if len(p.replans) == 0 {
		return nil, nil
	}
	next := p.replans[0]
	p.replans = p.replans[1:]
	return next.Clone(), nil
}

// fakeRewriter returns a fixed endpoint.
type fakeRewriter struct {
	endpoint string
	err      error
	calls    int
}

func (r *fakeRewriter) RewriteEndpoint(ctx context.Context, step *Step, prevResult interface{}, prevMapping map[string]string) (string, error) {
	r.calls++
	return r.endpoint, r.err
}
