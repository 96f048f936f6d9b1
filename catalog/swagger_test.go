package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/apiflow/core"
)

func TestParseSwagger_JSON(t *testing.T) {
	descriptors, err := ParseSwagger([]byte(testSwaggerJSON))
	require.NoError(t, err)

	ids := make([]string, len(descriptors))
	for i, d := range descriptors {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{
		"GET_/api/companies",
		"POST_/api/companies",
		"GET_/api/companies/search",
		"GET_/api/companies/{companyId}",
		"PUT_/api/companies/{companyId}",
		"DELETE_/api/companies/{companyId}",
		"GET_/api/companies/{companyId}/projects",
	}, ids)

	list := descriptors[0]
	assert.Equal(t, "GET", list.Method)
	assert.Equal(t, "List companies", list.Description)
	assert.Equal(t, "listCompanies", list.OperationID)
	assert.Equal(t, []string{"company", "get", "api", "companies"}, list.SemanticTags)
	assert.Equal(t, []string{"search_results"}, list.Provides)
	assert.Equal(t, []string{"entity_lookup"}, list.UseCases)
	assert.Equal(t, 0, list.ComplexityScore)
	assert.Equal(t, 0.5, list.DependencyLikelihood)

	create := descriptors[1]
	require.NotNil(t, create.RequestBody)
	assert.Equal(t, []string{"name"}, create.RequestBody.Required)
	assert.True(t, create.RequestBody.Properties["name"].Required)
	assert.False(t, create.RequestBody.Properties["industry"].Required)
	assert.Equal(t, "Industry sector", create.RequestBody.Properties["industry"].Description)
	assert.Equal(t, []string{"created_entity"}, create.Provides)
	assert.Equal(t, []string{"entity_creation"}, create.UseCases)
	assert.Equal(t, 1, create.ComplexityScore)
	assert.Equal(t, 1.0, create.DependencyLikelihood)

	details := descriptors[3]
	require.Len(t, details.Parameters, 1)
	assert.Equal(t, Parameter{Name: "companyId", In: "path", Required: true, Type: "integer"}, details.Parameters[0])
	assert.Equal(t, []string{"entity_details"}, details.Provides)
	assert.NotContains(t, details.SemanticTags, "{companyId}")

	assert.Equal(t, []string{"updated_entity"}, descriptors[4].Provides)
	assert.Equal(t, []string{"entity_deletion"}, descriptors[5].UseCases)
	assert.Equal(t, 1.0, descriptors[4].DependencyLikelihood)
	assert.Equal(t, 0.5, descriptors[5].DependencyLikelihood)
}

func TestParseSwagger_YAML(t *testing.T) {
	descriptors, err := ParseSwagger([]byte(testSwaggerYAML))
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	assert.Equal(t, "GET_/api/contacts", descriptors[0].ID)
	post := descriptors[1]
	assert.Equal(t, "Create a contact", post.Description)
	require.NotNil(t, post.RequestBody)
	assert.Equal(t, Property{Type: "string", Format: "email", Required: true}, post.RequestBody.Properties["email"])
}

func TestParseSwagger_Invalid(t *testing.T) {
	_, err := ParseSwagger(nil)
	assert.True(t, errors.Is(err, core.ErrInvalidConfiguration))

	_, err = ParseSwagger([]byte(`{"openapi": "3.0.1", "paths": {}}`))
	assert.True(t, errors.Is(err, core.ErrInvalidConfiguration))

	_, err = ParseSwagger([]byte(`{"paths": [`))
	assert.Error(t, err)
}

func TestParseSwagger_MissingSchemaRef(t *testing.T) {
	doc := `{"paths": {"/api/tasks": {"post": {"requestBody": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/Missing"}}}}}}}}`
	descriptors, err := ParseSwagger([]byte(doc))
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	require.NotNil(t, descriptors[0].RequestBody)
	assert.Empty(t, descriptors[0].RequestBody.Properties)
}
