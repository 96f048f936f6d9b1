package orchestration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/itsneelabh/apiflow/core"
)

// ExecutionRecord is the history entry of one processed request.
type ExecutionRecord struct {
	RequestID     string        `json:"request_id"`
	UserEmail     string        `json:"user_email"`
	Request       string        `json:"request"`
	Intent        *Intent       `json:"intent,omitempty"`
	Plan          *Plan         `json:"plan,omitempty"`
	Status        string        `json:"status"`
	Error         string        `json:"error,omitempty"`
	FailedStep    int           `json:"failed_step,omitempty"`
	Replans       int           `json:"replans"`
	ExecutedSteps []int         `json:"executed_steps,omitempty"`
	SkippedSteps  []int         `json:"skipped_steps,omitempty"`
	Duration      time.Duration `json:"duration"`
	CreatedAt     time.Time     `json:"created_at"`
}

// HistoryStore keeps execution records for later inspection.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Record saves a record. Callers log failures and carry on.
	Record(ctx context.Context, record *ExecutionRecord) error

	// Get returns a record by request ID or an error wrapping core.ErrNotFound.
	Get(ctx context.Context, requestID string) (*ExecutionRecord, error)

	// ListByUser returns a user's records, newest first.
	ListByUser(ctx context.Context, userEmail string, limit int) ([]*ExecutionRecord, error)
}

// NoOpHistoryStore is used when history is disabled.
type NoOpHistoryStore struct{}

// NewNoOpHistoryStore creates a new no-op history store.
func NewNoOpHistoryStore() *NoOpHistoryStore {
	return &NoOpHistoryStore{}
}

func (s *NoOpHistoryStore) Record(ctx context.Context, record *ExecutionRecord) error {
	return nil
}

func (s *NoOpHistoryStore) Get(ctx context.Context, requestID string) (*ExecutionRecord, error) {
	return nil, fmt.Errorf("execution history not enabled: %w", core.ErrNotFound)
}

func (s *NoOpHistoryStore) ListByUser(ctx context.Context, userEmail string, limit int) ([]*ExecutionRecord, error) {
	return []*ExecutionRecord{}, nil
}

// MemoryHistoryStore keeps records in process with a TTL.
type MemoryHistoryStore struct {
	mu      sync.RWMutex
	records map[string]*ExecutionRecord
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryHistoryStore creates an in-memory store. A zero ttl keeps records forever.
func NewMemoryHistoryStore(ttl time.Duration) *MemoryHistoryStore {
	return &MemoryHistoryStore{
		records: make(map[string]*ExecutionRecord),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryHistoryStore) Record(ctx context.Context, record *ExecutionRecord) error {
	if record == nil || record.RequestID == "" {
		return fmt.Errorf("history record without request id: %w", core.ErrInvalidConfiguration)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.records[record.RequestID] = &copied
	s.evictLocked()
	return nil
}

func (s *MemoryHistoryStore) Get(ctx context.Context, requestID string) (*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[requestID]
	if !ok || s.expired(record) {
		return nil, fmt.Errorf("execution %s: %w", requestID, core.ErrNotFound)
	}
	copied := *record
	return &copied, nil
}

func (s *MemoryHistoryStore) ListByUser(ctx context.Context, userEmail string, limit int) ([]*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ExecutionRecord
	for _, r := range s.records {
		if r.UserEmail == userEmail && !s.expired(r) {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryHistoryStore) expired(r *ExecutionRecord) bool {
	return s.ttl > 0 && s.now().Sub(r.CreatedAt) > s.ttl
}

func (s *MemoryHistoryStore) evictLocked() {
	for id, r := range s.records {
		if s.expired(r) {
			delete(s.records, id)
		}
	}
}

var (
	_ HistoryStore = (*NoOpHistoryStore)(nil)
	_ HistoryStore = (*MemoryHistoryStore)(nil)
)
