package orchestration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/apiflow/core"
)

func testRecord(id, email, status string, at time.Time) *ExecutionRecord {
	return &ExecutionRecord{
		RequestID: id,
		UserEmail: email,
		Request:   "find Acme",
		Status:    status,
		Plan:      &Plan{ID: "plan-" + id, Steps: []*Step{{Number: 1, Endpoint: "/api/companies", Method: "GET"}}},
		CreatedAt: at,
	}
}

// historyStoreContract runs the behavior every HistoryStore must share.
func historyStoreContract(t *testing.T, store HistoryStore) {
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	require.NoError(t, store.Record(ctx, testRecord("r1", "a@x.com", "success", base)))
	require.NoError(t, store.Record(ctx, testRecord("r2", "a@x.com", "error", base.Add(time.Second))))
	require.NoError(t, store.Record(ctx, testRecord("r3", "b@x.com", "success", base.Add(2*time.Second))))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got.UserEmail)
	require.NotNil(t, got.Plan)
	assert.Equal(t, "plan-r1", got.Plan.ID)

	_, err = store.Get(ctx, "missing")
	assert.True(t, core.IsNotFound(err))

	list, err := store.ListByUser(ctx, "a@x.com", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r2", list[0].RequestID)
	assert.Equal(t, "r1", list[1].RequestID)

	list, err = store.ListByUser(ctx, "a@x.com", 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = store.ListByUser(ctx, "nobody@x.com", 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.Error(t, store.Record(ctx, &ExecutionRecord{}))
}

func TestMemoryHistoryStore(t *testing.T) {
	historyStoreContract(t, NewMemoryHistoryStore(time.Hour))
}

func TestMemoryHistoryStore_Expiry(t *testing.T) {
	store := NewMemoryHistoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Record(context.Background(), testRecord("r1", "a@x.com", "success", now)))

	now = now.Add(2 * time.Minute)
	_, err := store.Get(context.Background(), "r1")
	assert.True(t, core.IsNotFound(err))
}

func TestMemoryHistoryStore_CopiesRecords(t *testing.T) {
	store := NewMemoryHistoryStore(0)
	record := testRecord("r1", "a@x.com", "success", time.Now())
	require.NoError(t, store.Record(context.Background(), record))

	record.Status = "mutated"
	got, err := store.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "success", got.Status)
}

func TestRedisHistoryStore(t *testing.T) {
	_, client := setupTestRedis(t)
	historyStoreContract(t, NewRedisHistoryStore(client, WithHistoryKeyPrefix("test:history")))
}

func TestRedisHistoryStore_TTLByStatus(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisHistoryStore(client,
		WithHistoryKeyPrefix("test:history"),
		WithHistoryTTL(time.Hour),
		WithHistoryErrorTTL(48*time.Hour),
	)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, testRecord("ok", "a@x.com", "success", time.Now())))
	require.NoError(t, store.Record(ctx, testRecord("bad", "a@x.com", "error", time.Now())))

	assert.Equal(t, time.Hour, mr.TTL("test:history:ok"))
	assert.Equal(t, 48*time.Hour, mr.TTL("test:history:bad"))
}

func TestRedisHistoryStore_PrunesExpiredIndexEntries(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisHistoryStore(client, WithHistoryKeyPrefix("test:history"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("r%d", i)
		require.NoError(t, store.Record(ctx, testRecord(id, "a@x.com", "success", time.Now().Add(time.Duration(i)*time.Second))))
	}
	mr.Del("test:history:r1")

	list, err := store.ListByUser(ctx, "a@x.com", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r2", list[0].RequestID)
	assert.Equal(t, "r0", list[1].RequestID)

	members, err := mr.ZMembers("test:history:user:a@x.com")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestNoOpHistoryStore(t *testing.T) {
	store := NewNoOpHistoryStore()
	ctx := context.Background()

	assert.NoError(t, store.Record(ctx, testRecord("r1", "a@x.com", "success", time.Now())))
	_, err := store.Get(ctx, "r1")
	assert.True(t, core.IsNotFound(err))
	list, err := store.ListByUser(ctx, "a@x.com", 5)
	require.NoError(t, err)
	assert.Empty(t, list)
}
