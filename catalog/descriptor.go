// Package catalog holds the searchable collection of upstream endpoint
// descriptors that plans are generated against.
package catalog

import (
	"fmt"
	"strings"
)

// EndpointDescriptor describes one upstream operation.
type EndpointDescriptor struct {
	ID                   string             `json:"id"`
	Path                 string             `json:"path"`
	Method               string             `json:"method"`
	Description          string             `json:"description"`
	Summary              string             `json:"summary,omitempty"`
	OperationID          string             `json:"operation_id,omitempty"`
	Parameters           []Parameter        `json:"parameters"`
	RequestBody          *RequestBodySchema `json:"request_body,omitempty"`
	SemanticTags         []string           `json:"semantic_tags"`
	Provides             []string           `json:"provides"`
	UseCases             []string           `json:"use_cases"`
	ComplexityScore      int                `json:"complexity_score"`
	DependencyLikelihood float64            `json:"dependency_likelihood"`

	// Embedding is the vector used for similarity search. It is persisted by
	// the stores but never rendered to API clients.
	Embedding []float32 `json:"-"`
}

// Parameter describes a path, query or header parameter
type Parameter struct {
	Name        string `json:"name"`
	In          string `json:"in"`
	Required    bool   `json:"required"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// RequestBodySchema is the flattened JSON body schema of an operation
type RequestBodySchema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property is a single body field
type Property struct {
	Type        string `json:"type,omitempty"`
	Format      string `json:"format,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// DescriptorID builds the stable identifier of an operation, e.g. "GET_/api/companies".
func DescriptorID(method, path string) string {
	return strings.ToUpper(method) + "_" + path
}

// HasPathParameters reports whether the path contains a "{name}" segment.
func (d *EndpointDescriptor) HasPathParameters() bool {
	return strings.Contains(d.Path, "{")
}

// Document renders the descriptor as the text that is embedded and matched
// lexically.
func (d *EndpointDescriptor) Document() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", d.Method, d.Path)
	if d.Description != "" {
		b.WriteString(" ")
		b.WriteString(d.Description)
	}
	if len(d.SemanticTags) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(d.SemanticTags, " "))
	}
	if len(d.UseCases) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(d.UseCases, " "))
	}
	return b.String()
}

func (d EndpointDescriptor) clone() EndpointDescriptor {
	out := d
	out.Parameters = append([]Parameter(nil), d.Parameters...)
	out.SemanticTags = append([]string(nil), d.SemanticTags...)
	out.Provides = append([]string(nil), d.Provides...)
	out.UseCases = append([]string(nil), d.UseCases...)
	out.Embedding = append([]float32(nil), d.Embedding...)
	if d.RequestBody != nil {
		rb := &RequestBodySchema{
			Properties: make(map[string]Property, len(d.RequestBody.Properties)),
			Required:   append([]string(nil), d.RequestBody.Required...),
		}
		for k, v := range d.RequestBody.Properties {
			rb.Properties[k] = v
		}
		out.RequestBody = rb
	}
	return out
}
