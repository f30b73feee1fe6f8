package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/rendis/stride/pkg/schema"
)

// RedisStore is the ContextStore backed by Redis. TTL enforcement is native
// (SET with expiration); an index ZSET scored by expiry supports Prune for
// callers that want eager index cleanup.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL overrides the default TTL. Zero disables expiry.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithRedisPrefix overrides the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a RedisStore connecting to the given address.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient creates a RedisStore from an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "stride:context:",
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(workflowID string) string {
	return s.prefix + workflowID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Load returns the stored context, or ErrNotFound when absent or expired.
func (s *RedisStore) Load(ctx context.Context, workflowID string) (*schema.ExecutionContext, error) {
	val, err := s.client.Get(ctx, s.key(workflowID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"redis get %s: %s", workflowID, err.Error()).WithCause(err)
	}

	var ec schema.ExecutionContext
	if err := json.Unmarshal([]byte(val), &ec); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"decode context %s: %s", workflowID, err.Error()).WithCause(err)
	}
	return &ec, nil
}

// Store persists the context with the configured TTL and updates the
// expiry-scored index in a single pipeline.
func (s *RedisStore) Store(ctx context.Context, ec *schema.ExecutionContext) error {
	if ec == nil || ec.WorkflowID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution context has no workflow id")
	}

	data, err := json.Marshal(ec)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"encode context %s: %s", ec.WorkflowID, err.Error()).WithCause(err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(ec.WorkflowID), data, s.ttl)

	// Index score is the expiry instant; no TTL means effectively never.
	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: ec.WorkflowID})

	if _, err := pipe.Exec(ctx); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"redis store %s: %s", ec.WorkflowID, err.Error()).WithCause(err)
	}
	return nil
}

// Delete removes the context and its index entry.
func (s *RedisStore) Delete(ctx context.Context, workflowID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(workflowID))
	pipe.ZRem(ctx, s.indexKey(), workflowID)

	if _, err := pipe.Exec(ctx); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"redis delete %s: %s", workflowID, err.Error()).WithCause(err)
	}
	return nil
}

// Prune drops expired ids from the index. The values themselves expire via
// native Redis TTL; this only keeps the index tight.
func (s *RedisStore) Prune(ctx context.Context) (int, error) {
	now := float64(time.Now().Unix())
	n, err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Result()
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeStore,
			"redis prune index: %s", err.Error()).WithCause(err)
	}
	return int(n), nil
}

// List returns the workflow ids currently tracked in the index.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"redis list contexts: %s", err.Error()).WithCause(err)
	}
	return ids, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var (
	_ ContextStore = (*RedisStore)(nil)
	_ Pruner       = (*RedisStore)(nil)
)
