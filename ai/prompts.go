package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
)

// Prompt templates are compiled in; they never come from user input.
var (
	intentTemplate = template.Must(template.New("intent").Parse(`Given this user request: "{{.Request}}"

Extract the intent and entities in this JSON format:
{
    "primary_action": "action_type",
    "entities": {
        "entity_type": {
            "name": "entity_name",
            "identifier_type": "name|id",
            "attributes": {
                "key": "value"
            }
        }
    },
    "dependencies": []
}

primary_action is a short verb phrase such as create_contact or update_company.
dependencies lists the sub-actions the request needs first.

Return ONLY the JSON object.`))

	planTemplate = template.Must(template.New("plan").Parse(`Given this intent:
{{.Intent}}

And these available endpoints:
{{.Endpoints}}

The request is made on behalf of {{.UserEmail}}.

Create an execution plan in this format:
{
    "execution_plan": [
        {
            "step": 1,
            "endpoint": "/api/endpoint",
            "method": "GET|POST|PUT|DELETE",
            "purpose": "purpose_of_step",
            "parameters": {
                "param": "value"
            },
            "request_body": {
                "field": "value"
            },
            "output_mapping": {
                "output_key": "$.path.to.value"
            },
            "depends_on": [],
            "local_filter": {
                "entity_type": "company|contact|project|task",
                "criteria": {
                    "name": "entity_name",
                    "email": "entity_email"
                }
            }
        }
    ]
}

Rules:
1. Include all necessary steps to fulfill the intent
2. Handle dependencies between steps
3. Map outputs from one step to inputs of dependent steps with output_mapping
4. Reference earlier outputs as "{step_N.key}" in endpoints and parameters
5. For entity lookups by name or other criteria:
   - If there's a direct search endpoint, use it
   - If not, use local_filter to fetch all entities and filter them
   - Omit local_filter on steps that call an endpoint directly
6. Always include user_email in local filtering
7. Use the purpose "{{.SkipPurpose}}" for a creation step that must only run when the entity was not found

Return ONLY the JSON object.`))

	rewriteTemplate = template.Must(template.New("rewrite").Parse(`Using this data:
{{.Data}}

And this output mapping:
{{.Mapping}}

Replace the parameter in this URL:
{{.Endpoint}}

Return only the final URL with the parameter replaced.`))

	replanTemplate = template.Must(template.New("replan").Parse(`Given this failed step:
{{.FailedStep}}

It failed with this error:
{{.Cause}}

And the original execution plan:
{{.Plan}}

Generate an alternative plan that achieves the same goal.
Consider:
1. Different endpoints that provide similar functionality
2. Alternative approaches to get required data
3. Breaking down the step into smaller steps

Return the new execution plan in the same format as the original.
If no alternative exists return {"plan": null}.
Return ONLY the JSON object.`))
)

const rewriteSystemPrompt = "You are a helpful assistant that replaces URL parameters with values from previous step results."

func renderPrompt(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// indentJSON renders v for inclusion in a prompt.
func indentJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
