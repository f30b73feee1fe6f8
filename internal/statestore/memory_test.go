package statestore

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/rendis/stride/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ec := schema.NewExecutionContext("wf-1")
	ec.CompletedSteps = []int{1, 2}
	ec.MarkPhase(1, schema.PhaseStatusCompleted)

	require.NoError(t, s.Store(context.Background(), ec))

	loaded, err := s.Load(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, loaded.CompletedSteps)
	assert.True(t, loaded.PhaseCompleted(1))
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Load(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_LazyExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewMemoryStore(WithMemoryTTL(time.Minute), withClock(clock))

	require.NoError(t, s.Store(context.Background(), schema.NewExecutionContext("wf-ttl")))

	_, err := s.Load(context.Background(), "wf-ttl")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Load(context.Background(), "wf-ttl")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_Prune(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewMemoryStore(WithMemoryTTL(time.Minute), withClock(clock))

	require.NoError(t, s.Store(context.Background(), schema.NewExecutionContext("old")))
	now = now.Add(2 * time.Minute)
	require.NoError(t, s.Store(context.Background(), schema.NewExecutionContext("fresh")))

	pruned, err := s.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_ZeroTTLNeverExpires(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewMemoryStore(WithMemoryTTL(0), withClock(clock))

	require.NoError(t, s.Store(context.Background(), schema.NewExecutionContext("wf")))
	now = now.Add(1000 * time.Hour)

	_, err := s.Load(context.Background(), "wf")
	assert.NoError(t, err)
}

func TestMemoryStore_DeleteAbsentIsNoop(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Delete(context.Background(), "missing"))
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	s := NewSweeper(NewMemoryStore(), "not a cron spec", slog.Default())
	err := s.Start(context.Background())
	require.Error(t, err)
}
