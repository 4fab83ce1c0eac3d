package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldUnitID is the standardized structured logging key for content unit identifiers.
	FieldUnitID = "unit_id"
	// FieldRunID is the standardized structured logging key for import run identifiers.
	FieldRunID = "run_id"
	// FieldStep is the standardized structured logging key for import step names.
	FieldStep = "step"
	// FieldState is the standardized structured logging key for lifecycle states.
	FieldState = "state"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested next step for a failure.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey int

const (
	runIDKey contextKey = iota
	unitIDKey
	stepKey
)

// WithRunID annotates ctx with an import run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, strings.TrimSpace(runID))
}

// WithUnitID annotates ctx with a content unit identifier.
func WithUnitID(ctx context.Context, unitID string) context.Context {
	return context.WithValue(ctx, unitIDKey, strings.TrimSpace(unitID))
}

// WithStep annotates ctx with the current import step.
func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, stepKey, strings.TrimSpace(step))
}

// RunIDFromContext returns the run identifier stored in ctx, if any.
func RunIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, runIDKey)
}

func stringFromContext(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := stringFromContext(ctx, runIDKey); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if id, ok := stringFromContext(ctx, unitIDKey); ok {
		fields = append(fields, slog.String(FieldUnitID, id))
	}
	if step, ok := stringFromContext(ctx, stepKey); ok {
		fields = append(fields, slog.String(FieldStep, step))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
