package catalog

const testSwaggerJSON = `{
  "openapi": "3.0.1",
  "paths": {
    "/api/companies": {
      "get": {"summary": "List companies", "tags": ["Company"], "operationId": "listCompanies"},
      "post": {
        "summary": "Create company",
        "tags": ["Company"],
        "requestBody": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/CompanyRequest"}}}}
      }
    },
    "/api/companies/search": {
      "get": {
        "summary": "Search companies",
        "parameters": [{"name": "name", "in": "query", "schema": {"type": "string"}}]
      }
    },
    "/api/companies/{companyId}": {
      "parameters": [{"name": "companyId", "in": "path", "required": true, "schema": {"type": "integer"}}],
      "get": {"summary": "Get company"},
      "put": {"summary": "Update company"},
      "delete": {"summary": "Delete company"}
    },
    "/api/companies/{companyId}/projects": {
      "get": {
        "summary": "List projects of a company",
        "parameters": [{"name": "companyId", "in": "path", "required": true, "schema": {"type": "integer"}}]
      }
    }
  },
  "components": {
    "schemas": {
      "CompanyRequest": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "industry": {"type": "string", "description": "Industry sector"}
        }
      }
    }
  }
}`

const testSwaggerYAML = `
openapi: 3.0.1
paths:
  /api/contacts:
    get:
      summary: List contacts
    post:
      description: Create a contact
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required: [email]
              properties:
                email:
                  type: string
                  format: email
`
