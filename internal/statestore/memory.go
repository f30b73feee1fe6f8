package statestore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rendis/stride/pkg/schema"
)

// MemoryStore is the in-process ContextStore used by tests and single-node
// deployments. Entries expire after the configured TTL; expiry is enforced
// lazily on Load and eagerly by Prune.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryTTL overrides the default TTL. Zero disables expiry.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.ttl = ttl }
}

// withClock substitutes the time source, for tests.
func withClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty MemoryStore with the default TTL.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored context, or ErrNotFound when absent or expired.
func (s *MemoryStore) Load(ctx context.Context, workflowID string) (*schema.ExecutionContext, error) {
	s.mu.RLock()
	entry, ok := s.entries[workflowID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, workflowID)
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	var ec schema.ExecutionContext
	if err := json.Unmarshal(entry.data, &ec); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"decode context %s: %s", workflowID, err.Error()).WithCause(err)
	}
	return &ec, nil
}

// Store persists the context and refreshes its TTL. Encoding happens before
// the map write, so a marshal failure leaves the previous entry intact.
func (s *MemoryStore) Store(ctx context.Context, ec *schema.ExecutionContext) error {
	if ec == nil || ec.WorkflowID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution context has no workflow id")
	}

	data, err := json.Marshal(ec)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"encode context %s: %s", ec.WorkflowID, err.Error()).WithCause(err)
	}

	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[ec.WorkflowID] = &memoryEntry{data: data, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

// Delete removes the context. Absent ids are a no-op.
func (s *MemoryStore) Delete(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	delete(s.entries, workflowID)
	s.mu.Unlock()
	return nil
}

// Prune removes all expired entries, returning how many were dropped.
func (s *MemoryStore) Prune(ctx context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, entry := range s.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.entries, id)
			pruned++
		}
	}
	return pruned, nil
}

// Len returns the number of live entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

var (
	_ ContextStore = (*MemoryStore)(nil)
	_ Pruner       = (*MemoryStore)(nil)
)
