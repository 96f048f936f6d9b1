package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/apiflow/core"
)

const (
	defaultHistoryKeyPrefix = "apiflow:history"
	defaultHistoryTTL       = 24 * time.Hour
	defaultHistoryErrorTTL  = 7 * 24 * time.Hour
)

// RedisHistoryStore keeps execution records in Redis. Each record is a JSON
// value with a TTL and every user has a sorted-set index ordered by time.
type RedisHistoryStore struct {
	client    *redis.Client
	logger    core.Logger
	keyPrefix string
	ttl       time.Duration
	errorTTL  time.Duration
}

// RedisHistoryStoreOption configures a RedisHistoryStore
type RedisHistoryStoreOption func(*RedisHistoryStore)

// WithHistoryTTL sets the retention of successful records
func WithHistoryTTL(ttl time.Duration) RedisHistoryStoreOption {
	return func(s *RedisHistoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithHistoryErrorTTL sets the retention of failed records
func WithHistoryErrorTTL(ttl time.Duration) RedisHistoryStoreOption {
	return func(s *RedisHistoryStore) {
		if ttl > 0 {
			s.errorTTL = ttl
		}
	}
}

// WithHistoryKeyPrefix sets the Redis key prefix
func WithHistoryKeyPrefix(prefix string) RedisHistoryStoreOption {
	return func(s *RedisHistoryStore) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithHistoryLogger sets the logger
func WithHistoryLogger(logger core.Logger) RedisHistoryStoreOption {
	return func(s *RedisHistoryStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisHistoryStore creates a history store on an existing client
func NewRedisHistoryStore(client *redis.Client, opts ...RedisHistoryStoreOption) *RedisHistoryStore {
	s := &RedisHistoryStore{
		client:    client,
		logger:    &core.NoOpLogger{},
		keyPrefix: defaultHistoryKeyPrefix,
		ttl:       defaultHistoryTTL,
		errorTTL:  defaultHistoryErrorTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record saves a record and indexes it under its user
func (s *RedisHistoryStore) Record(ctx context.Context, record *ExecutionRecord) error {
	if record == nil || record.RequestID == "" {
		return fmt.Errorf("history record without request id: %w", core.ErrInvalidConfiguration)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("serialization failed: %w", err)
	}

	ttl := s.ttl
	if record.Status != "success" {
		ttl = s.errorTTL
	}

	if err := s.client.Set(ctx, s.recordKey(record.RequestID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	// the index is a convenience, a failure here does not lose the record
	indexKey := s.userKey(record.UserEmail)
	if err := s.client.ZAdd(ctx, indexKey, &redis.Z{
		Score:  float64(record.CreatedAt.UnixNano()),
		Member: record.RequestID,
	}).Err(); err != nil {
		s.logger.Warn("Failed to update history index", map[string]interface{}{
			"operation":  "history_record",
			"request_id": record.RequestID,
			"error":      err.Error(),
		})
		return nil
	}
	s.client.Expire(ctx, indexKey, s.errorTTL)
	return nil
}

// Get returns a record by request ID
func (s *RedisHistoryStore) Get(ctx context.Context, requestID string) (*ExecutionRecord, error) {
	data, err := s.client.Get(ctx, s.recordKey(requestID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("execution %s: %w", requestID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var record ExecutionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt history record %s: %w", requestID, err)
	}
	return &record, nil
}

// ListByUser returns a user's records, newest first. Index entries whose
// record expired are pruned.
func (s *RedisHistoryStore) ListByUser(ctx context.Context, userEmail string, limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	indexKey := s.userKey(userEmail)
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange failed: %w", err)
	}

	out := make([]*ExecutionRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				s.client.ZRem(ctx, indexKey, id)
				continue
			}
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *RedisHistoryStore) recordKey(requestID string) string {
	return s.keyPrefix + ":" + requestID
}

func (s *RedisHistoryStore) userKey(userEmail string) string {
	return s.keyPrefix + ":user:" + userEmail
}

var _ HistoryStore = (*RedisHistoryStore)(nil)
