package orchestration

import (
	"strings"
	"sync"

	"github.com/itsneelabh/apiflow/core"
)

// LookupMode selects how placeholder names are matched against the table.
type LookupMode int

const (
	// LookupExact matches names case-sensitively (URL path parameters).
	LookupExact LookupMode = iota
	// LookupFold matches names case-insensitively (request bodies).
	LookupFold
)

// ParamTable holds the values produced by output mappings during one run.
// Tables are flat: a step qualifier in a reference does not partition them.
type ParamTable struct {
	mu     sync.RWMutex
	values map[string]interface{}
	// folded maps a lowercased name to the most recently written key
	folded map[string]string
}

// NewParamTable creates an empty table.
func NewParamTable() *ParamTable {
	return &ParamTable{
		values: make(map[string]interface{}),
		folded: make(map[string]string),
	}
}

// Set stores a value. Later writes overwrite earlier ones, including
// case-insensitive lookups of names that differ only by case.
func (t *ParamTable) Set(name string, value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[name] = value
	t.folded[strings.ToLower(name)] = name
}

// Lookup finds a non-nil value under name.
func (t *ParamTable) Lookup(name string, mode LookupMode) (interface{}, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if v, ok := t.values[name]; ok && v != nil {
		return v, true
	}
	if mode != LookupFold {
		return nil, false
	}
	if k, ok := t.folded[strings.ToLower(name)]; ok {
		if v := t.values[k]; v != nil {
			return v, true
		}
	}
	return nil, false
}

// Snapshot returns a copy of the table.
func (t *ParamTable) Snapshot() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]interface{}, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// ParsePlaceholder reports whether s is a placeholder and returns the
// reference inside it. "{{ref}}" is tried before "{ref}".
func ParsePlaceholder(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= 4 && strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") {
		ref := strings.TrimSpace(s[2 : len(s)-2])
		if ref != "" && !strings.ContainsAny(ref, "{}") {
			return ref, true
		}
	}
	if len(s) >= 2 && strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		ref := strings.TrimSpace(s[1 : len(s)-1])
		if ref != "" && !strings.ContainsAny(ref, "{}") {
			return ref, true
		}
	}
	return "", false
}

// referenceName drops the documentation-only step qualifier: "step_1.id" -> "id".
func referenceName(ref string) string {
	if i := strings.LastIndex(ref, "."); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// Resolver substitutes placeholders for one step. Unresolved placeholders
// are left as literal text, logged at warn level and recorded.
type Resolver struct {
	table  *ParamTable
	step   int
	logger core.Logger

	unresolved []*UnresolvedReferenceError
}

// NewResolver creates a resolver bound to a table and a step number.
func NewResolver(table *ParamTable, step int, logger core.Logger) *Resolver {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Resolver{table: table, step: step, logger: logger}
}

// Resolve returns the value a placeholder refers to. Non-placeholder values
// are returned unchanged. On a miss the original value is returned together
// with an *UnresolvedReferenceError, which callers treat as non-fatal.
func (r *Resolver) Resolve(value interface{}, mode LookupMode) (interface{}, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	ref, ok := ParsePlaceholder(s)
	if !ok {
		return value, nil
	}

	if v, found := r.table.Lookup(referenceName(ref), mode); found {
		return v, nil
	}
	// a fully qualified key may have been written verbatim by an output mapping
	if v, found := r.table.Lookup(ref, mode); found {
		return v, nil
	}

	unresolved := &UnresolvedReferenceError{Placeholder: s, Step: r.step}
	r.unresolved = append(r.unresolved, unresolved)
	r.logger.Warn("Unresolved placeholder left in place", map[string]interface{}{
		"operation":   "resolve_reference",
		"step":        r.step,
		"placeholder": s,
		"reference":   ref,
	})
	return value, unresolved
}

// ResolveMap resolves every value of a body-like map, descending into nested
// maps and lists. Lookups are case-insensitive.
func (r *Resolver) ResolveMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = r.resolveNested(v)
	}
	return out
}

func (r *Resolver) resolveNested(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return r.ResolveMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = r.resolveNested(e)
		}
		return out
	default:
		resolved, _ := r.Resolve(v, LookupFold)
		return resolved
	}
}

// Unresolved returns the placeholders this resolver could not fill.
func (r *Resolver) Unresolved() []*UnresolvedReferenceError {
	return r.unresolved
}
