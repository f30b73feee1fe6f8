package statestore

import (
	"context"
	"time"

	"github.com/rendis/stride/pkg/schema"
)

// DefaultTTL is how long an execution context is retained before expiry.
// Expiry is advisory cleanup, not correctness-critical: a missing context
// simply means the workflow is unknown to this engine instance.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned by Load when no context exists for the id.
// Typed, never a panic: absence is a normal condition.
var ErrNotFound = schema.NewError(schema.ErrCodeNotFound, "execution context not found")

// ContextStore holds one ExecutionContext per workflow id. Implementations
// must be safe for concurrent use across distinct workflow ids; concurrent
// mutation of the same id is serialized by the caller.
type ContextStore interface {
	// Load returns the context for a workflow id, or ErrNotFound.
	Load(ctx context.Context, workflowID string) (*schema.ExecutionContext, error)

	// Store persists the context, refreshing its TTL. A store failure never
	// discards a previously persisted context.
	Store(ctx context.Context, ec *schema.ExecutionContext) error

	// Delete removes the context. Deleting an absent id is not an error.
	Delete(ctx context.Context, workflowID string) error

	Close() error
}

// Pruner is implemented by stores that support explicit expired-entry
// cleanup, driven by the Sweeper.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}
