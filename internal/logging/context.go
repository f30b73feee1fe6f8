package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	planIDKey ctxKey = iota
	phaseIDKey
	stepIDKey
)

// WithPlanID returns a context with the plan ID set.
func WithPlanID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, planIDKey, id)
}

// WithPhaseID returns a context with the phase ID set.
func WithPhaseID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, phaseIDKey, id)
}

// WithStepID returns a context with the step ID set.
func WithStepID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, stepIDKey, id)
}

// PlanID extracts the plan ID from the context, or "" if absent.
func PlanID(ctx context.Context) string {
	v, _ := ctx.Value(planIDKey).(string)
	return v
}

// PhaseID extracts the phase ID from the context; ok is false if absent.
func PhaseID(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(phaseIDKey).(int)
	return v, ok
}

// StepID extracts the step ID from the context; ok is false if absent.
func StepID(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(stepIDKey).(int)
	return v, ok
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only values present on the context are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := PlanID(ctx); id != "" {
		logger = logger.With(slog.String("plan_id", id))
	}
	if id, ok := PhaseID(ctx); ok {
		logger = logger.With(slog.Int("phase_id", id))
	}
	if id, ok := StepID(ctx); ok {
		logger = logger.With(slog.Int("step_id", id))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := PlanID(ctx); v != "" {
		r.AddAttrs(slog.String("plan_id", v))
	}
	if v, ok := PhaseID(ctx); ok {
		r.AddAttrs(slog.Int("phase_id", v))
	}
	if v, ok := StepID(ctx); ok {
		r.AddAttrs(slog.Int("step_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
