package orchestration

import (
	"context"

	"github.com/itsneelabh/apiflow/catalog"
)

// Intent is the structured reading of a natural-language request.
type Intent struct {
	PrimaryAction string            `json:"primary_action"`
	Entities      map[string]Entity `json:"entities"`
	Dependencies  []interface{}     `json:"dependencies"`
}

// Entity is one entity mentioned in a request, keyed by its type in Intent.Entities.
type Entity struct {
	Name           string                 `json:"name,omitempty"`
	IdentifierType string                 `json:"identifier_type,omitempty"`
	Attributes     map[string]interface{} `json:"attributes,omitempty"`
}

// EntityTypes returns the entity type names of the intent in a stable order.
func (i *Intent) EntityTypes() []string {
	return sortedKeys(i.Entities)
}

// Planner is the LLM collaborator that understands requests and writes plans.
type Planner interface {
	// ExtractIntent reads the request text.
	ExtractIntent(ctx context.Context, text string) (*Intent, error)

	// GeneratePlan writes a plan for the intent using only the given endpoints.
	GeneratePlan(ctx context.Context, intent *Intent, endpoints []catalog.EndpointDescriptor, userEmail string) (*Plan, error)

	// Replan proposes an alternative plan after a step failed. A nil plan
	// with a nil error means no alternative exists.
	Replan(ctx context.Context, failed *Step, plan *Plan, cause error) (*Plan, error)
}

// EndpointRewriter fills path parameters of an endpoint template from the
// previous step's result when structured placeholders could not.
type EndpointRewriter interface {
	RewriteEndpoint(ctx context.Context, step *Step, prevResult interface{}, prevMapping map[string]string) (string, error)
}

// EndpointSearcher is the part of the catalog the orchestrator queries.
type EndpointSearcher interface {
	Query(ctx context.Context, text string, k int) ([]catalog.EndpointDescriptor, error)
}

// Request is an inbound natural-language request.
type Request struct {
	Text         string `json:"text"`
	AuthToken    string `json:"authToken,omitempty"`
	UserEmail    string `json:"userEmail"`
	OutputFormat string `json:"outputFormat,omitempty"`
	RequestID    string `json:"-"`
}

// Result is returned for a successfully processed request.
type Result struct {
	RequestID     string      `json:"request_id"`
	Status        string      `json:"status"`
	Intent        *Intent     `json:"intent,omitempty"`
	ExecutionPlan *Plan       `json:"execution_plan"`
	Results       interface{} `json:"results"`
	Replans       int         `json:"replans,omitempty"`
}
