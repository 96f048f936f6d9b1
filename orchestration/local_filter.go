package orchestration

import (
	"context"
	"net/http"
	"strings"

	"github.com/itsneelabh/apiflow/catalog"
)

// baseEndpointQueryLimit is how many catalog hits are inspected when looking
// for the list endpoint of an entity type.
const baseEndpointQueryLimit = 10

var entityPlurals = map[string]string{
	"company": "companies",
	"contact": "contacts",
	"project": "projects",
	"task":    "tasks",
}

// PluralEntity returns the collection name used in list endpoint paths.
func PluralEntity(entityType string) string {
	entityType = strings.ToLower(strings.TrimSpace(entityType))
	if plural, ok := entityPlurals[entityType]; ok {
		return plural
	}
	for _, plural := range entityPlurals {
		if plural == entityType {
			return plural
		}
	}
	return entityType + "s"
}

// EntityFilter lists every entity of a type and searches it client side.
// Results are always restricted to entities owned by the caller.
type EntityFilter struct {
	searcher EndpointSearcher
	executor *Executor
}

func newEntityFilter(searcher EndpointSearcher, executor *Executor) *EntityFilter {
	return &EntityFilter{searcher: searcher, executor: executor}
}

// BaseEndpoint finds the "list all" endpoint of an entity type. An exact
// "/api/<plural>" GET wins, otherwise the first GET without path parameters.
func (f *EntityFilter) BaseEndpoint(ctx context.Context, entityType string) (*catalog.EndpointDescriptor, error) {
	plural := PluralEntity(entityType)
	query := "GET /api/" + plural
	want := "/api/" + plural

	candidates, err := f.searcher.Query(ctx, query, baseEndpointQueryLimit)
	if err != nil {
		return nil, err
	}

	var fallback *catalog.EndpointDescriptor
	for i := range candidates {
		d := &candidates[i]
		if !strings.EqualFold(d.Method, http.MethodGet) {
			continue
		}
		if strings.TrimRight(d.Path, "/") == want {
			return d, nil
		}
		if fallback == nil && !d.HasPathParameters() {
			fallback = d
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, &EndpointNotFoundError{Query: query}
}

// Filter returns the first entity owned by the caller that matches every
// non-empty criterion. The list call bypasses the call cache.
func (f *EntityFilter) Filter(ctx context.Context, entityType string, criteria map[string]interface{}, state *RunState) (Response, string, error) {
	endpoint, err := f.BaseEndpoint(ctx, entityType)
	if err != nil {
		return Response{}, "", err
	}

	target := f.executor.endpointURL(endpoint.Path)
	list, err := f.executor.send(ctx, http.MethodGet, target, nil, nil, state.AuthToken)
	if err != nil {
		return Response{}, target, err
	}

	entities := EntityList(list.Value())
	for _, entity := range entities {
		if MatchEntity(entity, state.UserEmail, criteria) {
			f.executor.logger.Info("Local filter matched entity", map[string]interface{}{
				"operation":   "local_filter",
				"entity_type": entityType,
				"candidates":  len(entities),
			})
			return ResponseFromValue(entity), target, nil
		}
	}

	f.executor.logger.Warn("Local filter found no entity", map[string]interface{}{
		"operation":   "local_filter",
		"entity_type": entityType,
		"candidates":  len(entities),
	})
	return Response{}, target, &NotFoundError{EntityType: entityType, Criteria: criteria}
}

// EntityList normalizes a list response: a "content" pagination envelope is
// unwrapped, a single object becomes a one-element list and anything else
// an empty list.
func EntityList(v interface{}) []map[string]interface{} {
	if obj, ok := v.(map[string]interface{}); ok {
		if content, has := obj["content"]; has {
			v = content
		}
	}

	switch t := v.(type) {
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]interface{}:
		return []map[string]interface{}{t}
	default:
		return nil
	}
}

// MatchEntity applies the tenancy check and the criteria to one entity.
// userEmail must equal the caller exactly; criteria are case-insensitive
// substring matches and empty criteria are ignored.
func MatchEntity(entity map[string]interface{}, userEmail string, criteria map[string]interface{}) bool {
	if userEmail == "" {
		return false
	}
	owner, ok := entity["userEmail"].(string)
	if !ok || owner != userEmail {
		return false
	}

	for key, want := range criteria {
		needle := strings.ToLower(Stringify(want))
		if needle == "" {
			continue
		}
		if !strings.Contains(strings.ToLower(Stringify(entity[key])), needle) {
			return false
		}
	}
	return true
}
