package orchestration

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/apiflow/core"
)

func TestParsePlaceholder(t *testing.T) {
	tests := []struct {
		in   string
		ref  string
		isOK bool
	}{
		{"{{step_1.companyId}}", "step_1.companyId", true},
		{"{{ companyId }}", "companyId", true},
		{"{companyId}", "companyId", true},
		{"companyId", "", false},
		{"{}", "", false},
		{"{{}}", "", false},
		{"/api/{id}/x", "", false},
		{"{a}{b}", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref, ok := ParsePlaceholder(tt.in)
			assert.Equal(t, tt.isOK, ok)
			assert.Equal(t, tt.ref, ref)
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	table := NewParamTable()
	table.Set("companyId", "42")
	r := NewResolver(table, 2, nil)

	v, err := r.Resolve("{{step_1.companyId}}", LookupExact)
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	v, err = r.Resolve("{companyId}", LookupExact)
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	v, err = r.Resolve("literal", LookupExact)
	require.NoError(t, err)
	assert.Equal(t, "literal", v)

	v, err = r.Resolve(7, LookupExact)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestResolver_UnresolvedIsLeftInPlace(t *testing.T) {
	r := NewResolver(NewParamTable(), 3, nil)

	v, err := r.Resolve("{{missing}}", LookupFold)
	assert.Equal(t, "{{missing}}", v)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnresolvedReference))

	var unresolved *UnresolvedReferenceError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, 3, unresolved.Step)
	assert.Len(t, r.Unresolved(), 1)
}

func TestResolver_CaseSensitivity(t *testing.T) {
	table := NewParamTable()
	table.Set("companyId", "42")
	r := NewResolver(table, 2, nil)

	_, err := r.Resolve("{{COMPANYID}}", LookupExact)
	assert.Error(t, err)

	v, err := r.Resolve("{{COMPANYID}}", LookupFold)
	require.NoError(t, err)
	assert.Equal(t, "42", v)
}

func TestParamTable_FoldedLookupPrefersLatestWrite(t *testing.T) {
	table := NewParamTable()
	table.Set("id", "1")
	table.Set("ID", "2")

	for i := 0; i < 20; i++ {
		v, ok := table.Lookup("Id", LookupFold)
		require.True(t, ok)
		assert.Equal(t, "2", v)
	}

	table.Set("id", "3")
	v, ok := table.Lookup("Id", LookupFold)
	require.True(t, ok)
	assert.Equal(t, "3", v)

	// exact matches still win over the folded index
	v, ok = table.Lookup("ID", LookupFold)
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestResolver_NilValuesDoNotResolve(t *testing.T) {
	table := NewParamTable()
	table.Set("companyId", nil)
	r := NewResolver(table, 2, nil)

	v, err := r.Resolve("{{companyId}}", LookupFold)
	assert.Error(t, err)
	assert.Equal(t, "{{companyId}}", v)
}

func TestResolver_QualifiedKeyWrittenVerbatim(t *testing.T) {
	table := NewParamTable()
	table.Set("step_1.id", "7")
	r := NewResolver(table, 2, nil)

	v, err := r.Resolve("{{step_1.id}}", LookupExact)
	require.NoError(t, err)
	assert.Equal(t, "7", v)
}

func TestResolver_ResolveMap(t *testing.T) {
	table := NewParamTable()
	table.Set("companyId", "42")
	table.Set("Owner", "a@x.com")
	r := NewResolver(table, 2, nil)

	body := map[string]interface{}{
		"name":      "NewProj",
		"companyId": "{{step_1.companyId}}",
		"meta": map[string]interface{}{
			"owner": "{owner}",
			"tags":  []interface{}{"{{companyId}}", "fixed"},
		},
		"later": "{{notYet}}",
	}

	out := r.ResolveMap(body)
	assert.Equal(t, "NewProj", out["name"])
	assert.Equal(t, "42", out["companyId"])
	meta := out["meta"].(map[string]interface{})
	assert.Equal(t, "a@x.com", meta["owner"])
	assert.Equal(t, []interface{}{"42", "fixed"}, meta["tags"])
	assert.Equal(t, "{{notYet}}", out["later"])

	// the input is not modified
	assert.Equal(t, "{{step_1.companyId}}", body["companyId"])
	assert.Nil(t, r.ResolveMap(nil))
}

func TestParamTable_Snapshot(t *testing.T) {
	table := NewParamTable()
	table.Set("a", 1)
	table.Set("a", 2)

	snap := table.Snapshot()
	snap["b"] = 3

	assert.Equal(t, map[string]interface{}{"a": 2}, table.Snapshot())
}
