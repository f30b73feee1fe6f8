package statestore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule prunes expired contexts once an hour.
const DefaultSweepSchedule = "@every 1h"

// Sweeper runs scheduled Prune passes over a store. Pruning is advisory;
// a failed sweep is logged and retried on the next tick.
type Sweeper struct {
	store    Pruner
	schedule string
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a Sweeper for the given store. An empty schedule uses
// DefaultSweepSchedule.
func NewSweeper(store Pruner, schedule string, logger *slog.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		store:    store,
		schedule: schedule,
		logger:   logger,
	}
}

// Start launches the sweep schedule. It fails on an invalid cron spec.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() { s.sweep(ctx) })
	if err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron = c
	s.logger.Info("context sweeper started", slog.String("schedule", s.schedule))
	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	pruned, err := s.store.Prune(ctx)
	if err != nil {
		s.logger.Error("context sweep failed", slog.String("error", err.Error()))
		return
	}
	if pruned > 0 {
		s.logger.Info("pruned expired contexts", slog.Int("count", pruned))
	}
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("context sweeper stopped")
}
