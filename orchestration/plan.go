package orchestration

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Plan is an ordered sequence of steps produced by the plan generator.
// Call Validate before running it; the interpreter does so itself.
type Plan struct {
	ID    string  `json:"plan_id,omitempty" yaml:"plan_id,omitempty"`
	Steps []*Step `json:"execution_plan" yaml:"execution_plan"`

	// step number -> position in Steps, built by Validate
	index map[int]int
}

// Step is one unit of work: a direct HTTP call or a local-filter lookup.
type Step struct {
	Number        int                    `json:"step" yaml:"step"`
	Endpoint      string                 `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Method        string                 `json:"method,omitempty" yaml:"method,omitempty"`
	Purpose       string                 `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Parameters    map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody   map[string]interface{} `json:"request_body,omitempty" yaml:"request_body,omitempty"`
	OutputMapping map[string]string      `json:"output_mapping,omitempty" yaml:"output_mapping,omitempty"`
	DependsOn     []int                  `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	LocalFilter   *LocalFilter           `json:"local_filter,omitempty" yaml:"local_filter,omitempty"`
}

// LocalFilter asks for a client-side search over every entity of a type.
type LocalFilter struct {
	EntityType string                 `json:"entity_type" yaml:"entity_type"`
	Criteria   map[string]interface{} `json:"criteria,omitempty" yaml:"criteria,omitempty"`
}

// isEmpty reports a filter with neither an entity type nor criteria. Such a
// filter is treated as absent so the step makes its direct call.
func (f *LocalFilter) isEmpty() bool {
	return f != nil && strings.TrimSpace(f.EntityType) == "" && len(f.Criteria) == 0
}

// ID returns the result key of the step, e.g. "step_2".
func (s *Step) ID() string {
	return StepKey(s.Number)
}

// StepKey formats the result table key for a step number.
func StepKey(n int) string {
	return fmt.Sprintf("step_%d", n)
}

// OutputNames returns the output mapping names in a stable order.
func (s *Step) OutputNames() []string {
	return sortedKeys(s.OutputMapping)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate orders the steps and checks the numbering: numbers must be
// unique and contiguous starting at 1. It builds the number lookup table.
func (p *Plan) Validate() error {
	if p == nil || len(p.Steps) == 0 {
		return &InvalidPlanError{Reason: "plan has no steps"}
	}

	for i, s := range p.Steps {
		if s == nil {
			return &InvalidPlanError{Reason: fmt.Sprintf("step at position %d is null", i)}
		}
	}

	sort.SliceStable(p.Steps, func(i, j int) bool {
		return p.Steps[i].Number < p.Steps[j].Number
	})

	index := make(map[int]int, len(p.Steps))
	for i, s := range p.Steps {
		if _, dup := index[s.Number]; dup {
			return &InvalidPlanError{Reason: fmt.Sprintf("duplicate step number %d", s.Number)}
		}
		if s.Number != i+1 {
			return &InvalidPlanError{Reason: fmt.Sprintf("step numbers must be contiguous from 1, found %d at position %d", s.Number, i+1)}
		}
		index[s.Number] = i

		if s.LocalFilter.isEmpty() {
			s.LocalFilter = nil
		}
		if s.LocalFilter != nil {
			if strings.TrimSpace(s.LocalFilter.EntityType) == "" {
				return &InvalidPlanError{Reason: fmt.Sprintf("step %d: local filter has no entity type", s.Number)}
			}
		} else if strings.TrimSpace(s.Endpoint) == "" {
			return &InvalidPlanError{Reason: fmt.Sprintf("step %d: no endpoint and no local filter", s.Number)}
		}

		for _, dep := range s.DependsOn {
			if dep < 1 || dep >= s.Number {
				return &InvalidPlanError{Reason: fmt.Sprintf("step %d depends on step %d which does not run before it", s.Number, dep)}
			}
		}
	}

	p.index = index
	return nil
}

// Step returns the step with the given number, if present.
func (p *Plan) Step(n int) (*Step, bool) {
	if p.index == nil {
		for _, s := range p.Steps {
			if s.Number == n {
				return s, true
			}
		}
		return nil, false
	}
	i, ok := p.index[n]
	if !ok {
		return nil, false
	}
	return p.Steps[i], true
}

// Clone returns a deep copy so a run can rewrite endpoints and bodies
// without touching the caller's plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{ID: p.ID, Steps: make([]*Step, len(p.Steps))}
	for i, s := range p.Steps {
		if s == nil {
			continue
		}
		c := *s
		c.Parameters = cloneMap(s.Parameters)
		c.RequestBody = cloneMap(s.RequestBody)
		if s.OutputMapping != nil {
			c.OutputMapping = make(map[string]string, len(s.OutputMapping))
			for k, v := range s.OutputMapping {
				c.OutputMapping[k] = v
			}
		}
		if s.DependsOn != nil {
			c.DependsOn = append([]int(nil), s.DependsOn...)
		}
		if s.LocalFilter != nil {
			lf := *s.LocalFilter
			lf.Criteria = cloneMap(s.LocalFilter.Criteria)
			c.LocalFilter = &lf
		}
		out.Steps[i] = &c
	}
	if p.index != nil {
		out.index = make(map[int]int, len(p.index))
		for k, v := range p.index {
			out.index[k] = v
		}
	}
	return out
}

// ParsePlan decodes a plan from JSON. Both {"execution_plan": [...]} and
// {"steps": [...]} are accepted. The plan is validated.
func ParsePlan(data []byte) (*Plan, error) {
	var raw struct {
		ID            string  `json:"plan_id"`
		ExecutionPlan []*Step `json:"execution_plan"`
		Steps         []*Step `json:"steps"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedLLMOutputError{Operation: "parse_plan", Content: string(data), Err: err}
	}

	plan := &Plan{ID: raw.ID, Steps: raw.ExecutionPlan}
	if len(plan.Steps) == 0 {
		plan.Steps = raw.Steps
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
