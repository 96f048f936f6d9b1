package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDescriptors() []EndpointDescriptor {
	return []EndpointDescriptor{
		{ID: "GET_/api/companies", Path: "/api/companies", Method: "GET", Embedding: []float32{1, 0}},
		{ID: "POST_/api/companies", Path: "/api/companies", Method: "POST",
			RequestBody: &RequestBodySchema{Properties: map[string]Property{"name": {Type: "string", Required: true}}}},
		{ID: "GET_/api/contacts", Path: "/api/contacts", Method: "GET", SemanticTags: []string{"contacts"}},
	}
}

func testStoreContract(t *testing.T, store Store) {
	ctx := t.Context()

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, store.Upsert(ctx, sampleDescriptors()))
	all, err = store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "GET_/api/companies", all[0].ID)
	assert.Equal(t, []float32{1, 0}, all[0].Embedding)
	assert.True(t, all[1].RequestBody.Properties["name"].Required)

	// replacing an existing id keeps its position
	updated := EndpointDescriptor{ID: "GET_/api/companies", Path: "/api/companies", Method: "GET", Description: "List companies"}
	require.NoError(t, store.Upsert(ctx, []EndpointDescriptor{updated}))
	all, err = store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "List companies", all[0].Description)
	assert.Empty(t, all[0].Embedding)

	require.NoError(t, store.Clear(ctx))
	all, err = store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(t.Context(), sampleDescriptors()))

	all, err := store.GetAll(t.Context())
	require.NoError(t, err)
	all[2].SemanticTags[0] = "mutated"

	again, err := store.GetAll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"contacts"}, again[2].SemanticTags)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer store.Close()

	testStoreContract(t, store)
}

func TestSQLiteStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(t.Context(), sampleDescriptors()))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.GetAll(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "GET_/api/contacts", all[2].ID)
}

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	_, err := NewSQLiteStore("")
	assert.Error(t, err)
}
