package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	doc := map[string]interface{}{
		"a": map[string]interface{}{"b": []interface{}{1, 2, 3}},
		"data": map[string]interface{}{
			"items": []interface{}{
				map[string]interface{}{"id": "x1"},
			},
		},
		"empty": nil,
	}

	tests := []struct {
		name string
		path string
		want interface{}
	}{
		{"list index", "$.a.b.1", 2},
		{"nested object in list", "$.data.items.0.id", "x1"},
		{"without dollar prefix", "a.b.0", 1},
		{"missing key", "$.x.y", nil},
		{"index out of range", "$.a.b.5", nil},
		{"non integer list segment", "$.a.b.first", nil},
		{"negative index", "$.a.b.-1", nil},
		{"indexing a scalar", "$.a.b.0.z", nil},
		{"null value stops", "$.empty.x", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(doc, tt.path))
		})
	}
}

func TestExtract_Root(t *testing.T) {
	doc := map[string]interface{}{"id": "7"}
	assert.Equal(t, doc, Extract(doc, "$"))
	assert.Nil(t, Extract(map[string]interface{}{}, "$.x.y"))
	assert.Nil(t, Extract(nil, "$.x"))
	assert.Equal(t, "s", Extract("s", "$"))
}
