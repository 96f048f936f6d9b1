package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/itsneelabh/apiflow/core"
)

// methodOrder is the set of operations ingested from each path, in output order.
var methodOrder = []string{"get", "post", "put", "delete"}

type openAPIDocument struct {
	OpenAPI    string              `json:"openapi" yaml:"openapi"`
	Paths      map[string]pathItem `json:"paths" yaml:"paths"`
	Components struct {
		Schemas map[string]*schemaObject `json:"schemas" yaml:"schemas"`
	} `json:"components" yaml:"components"`
}

type pathItem struct {
	Get        *operationObject  `json:"get" yaml:"get"`
	Post       *operationObject  `json:"post" yaml:"post"`
	Put        *operationObject  `json:"put" yaml:"put"`
	Delete     *operationObject  `json:"delete" yaml:"delete"`
	Parameters []parameterObject `json:"parameters" yaml:"parameters"`
}

func (p pathItem) operation(method string) *operationObject {
	switch method {
	case "get":
		return p.Get
	case "post":
		return p.Post
	case "put":
		return p.Put
	case "delete":
		return p.Delete
	}
	return nil
}

type operationObject struct {
	Summary     string             `json:"summary" yaml:"summary"`
	Description string             `json:"description" yaml:"description"`
	OperationID string             `json:"operationId" yaml:"operationId"`
	Tags        []string           `json:"tags" yaml:"tags"`
	Parameters  []parameterObject  `json:"parameters" yaml:"parameters"`
	RequestBody *requestBodyObject `json:"requestBody" yaml:"requestBody"`
}

type parameterObject struct {
	Name        string        `json:"name" yaml:"name"`
	In          string        `json:"in" yaml:"in"`
	Required    bool          `json:"required" yaml:"required"`
	Description string        `json:"description" yaml:"description"`
	Schema      *schemaObject `json:"schema" yaml:"schema"`
}

type requestBodyObject struct {
	Required bool                       `json:"required" yaml:"required"`
	Content  map[string]mediaTypeObject `json:"content" yaml:"content"`
}

type mediaTypeObject struct {
	Schema *schemaObject `json:"schema" yaml:"schema"`
}

type schemaObject struct {
	Ref         string                   `json:"$ref" yaml:"$ref"`
	Type        string                   `json:"type" yaml:"type"`
	Format      string                   `json:"format" yaml:"format"`
	Description string                   `json:"description" yaml:"description"`
	Properties  map[string]*schemaObject `json:"properties" yaml:"properties"`
	Required    []string                 `json:"required" yaml:"required"`
}

// ParseSwagger converts an OpenAPI 3 document, JSON or YAML, into endpoint
// descriptors sorted by path and method.
func ParseSwagger(data []byte) ([]EndpointDescriptor, error) {
	var doc openAPIDocument
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty swagger document: %w", core.ErrInvalidConfiguration)
	}

	var err error
	if trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &doc)
	} else {
		err = yaml.Unmarshal(trimmed, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse swagger document: %w", err)
	}
	if len(doc.Paths) == 0 {
		return nil, fmt.Errorf("swagger document has no paths: %w", core.ErrInvalidConfiguration)
	}

	paths := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []EndpointDescriptor
	for _, path := range paths {
		item := doc.Paths[path]
		for _, method := range methodOrder {
			op := item.operation(method)
			if op == nil {
				continue
			}
			out = append(out, buildDescriptor(&doc, path, method, item, op))
		}
	}
	return out, nil
}

func buildDescriptor(doc *openAPIDocument, path, method string, item pathItem, op *operationObject) EndpointDescriptor {
	upper := strings.ToUpper(method)
	d := EndpointDescriptor{
		ID:          DescriptorID(upper, path),
		Path:        path,
		Method:      upper,
		Description: op.Description,
		Summary:     op.Summary,
		OperationID: op.OperationID,
	}
	if d.Description == "" {
		d.Description = op.Summary
	}

	// operation parameters override path-level ones with the same name and location
	seen := make(map[string]bool)
	for _, p := range op.Parameters {
		d.Parameters = append(d.Parameters, toParameter(p))
		seen[p.In+":"+p.Name] = true
	}
	for _, p := range item.Parameters {
		if !seen[p.In+":"+p.Name] {
			d.Parameters = append(d.Parameters, toParameter(p))
		}
	}

	if op.RequestBody != nil {
		if media, ok := op.RequestBody.Content["application/json"]; ok && media.Schema != nil {
			d.RequestBody = flattenSchema(doc, media.Schema)
		}
	}

	hasPathParam := strings.Contains(path, "{")
	d.SemanticTags = semanticTags(path, method, op.Tags)
	switch upper {
	case "GET":
		if hasPathParam {
			d.Provides = []string{"entity_details"}
		} else {
			d.Provides = []string{"search_results"}
		}
		d.UseCases = []string{"entity_lookup"}
	case "POST":
		d.Provides = []string{"created_entity"}
		d.UseCases = []string{"entity_creation"}
	case "PUT":
		d.Provides = []string{"updated_entity"}
		d.UseCases = []string{"entity_update"}
	case "DELETE":
		d.Provides = []string{"deleted_entity"}
		d.UseCases = []string{"entity_deletion"}
	}

	d.ComplexityScore = len(d.Parameters)
	if d.RequestBody != nil {
		d.ComplexityScore++
	}
	d.DependencyLikelihood = 0.5
	if upper == "POST" || upper == "PUT" {
		d.DependencyLikelihood = 1.0
	}
	return d
}

func toParameter(p parameterObject) Parameter {
	param := Parameter{
		Name:        p.Name,
		In:          p.In,
		Required:    p.Required || p.In == "path",
		Description: p.Description,
	}
	if p.Schema != nil {
		param.Type = p.Schema.Type
	}
	return param
}

// flattenSchema resolves one level of "#/components/schemas/X" and marks
// required properties.
func flattenSchema(doc *openAPIDocument, s *schemaObject) *RequestBodySchema {
	if s.Ref != "" {
		name := strings.TrimPrefix(s.Ref, "#/components/schemas/")
		resolved, ok := doc.Components.Schemas[name]
		if !ok || resolved == nil {
			return &RequestBodySchema{Properties: map[string]Property{}}
		}
		s = resolved
	}

	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}

	rb := &RequestBodySchema{
		Properties: make(map[string]Property, len(s.Properties)),
		Required:   append([]string(nil), s.Required...),
	}
	for name, prop := range s.Properties {
		if prop == nil {
			continue
		}
		typ := prop.Type
		if typ == "" && prop.Ref != "" {
			typ = "object"
		}
		rb.Properties[name] = Property{
			Type:        typ,
			Format:      prop.Format,
			Description: prop.Description,
			Required:    required[name],
		}
	}
	return rb
}

func semanticTags(path, method string, tags []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		out = append(out, tag)
	}

	for _, t := range tags {
		add(t)
	}
	add(method)
	for _, segment := range strings.Split(path, "/") {
		if strings.HasPrefix(segment, "{") {
			continue
		}
		add(segment)
	}
	return out
}
