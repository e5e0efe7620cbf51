package agent

import (
	"context"

	"go.uber.org/zap"
)

type logEffect struct {
	logger *zap.Logger
}

// LogEffect writes every outcome to the structured log.
func LogEffect(logger *zap.Logger) Effect {
	return &logEffect{logger: logger}
}

func (e *logEffect) Name() string {
	return "log"
}

func (e *logEffect) Apply(_ context.Context, o Outcome) error {
	e.logger.Info("decision",
		zap.String("id", o.ID),
		zap.Float64("attendance", o.Features.Attendance),
		zap.Float64("marks", o.Features.Marks),
		zap.Float64("assignments", o.Features.Assignments),
		zap.Float64("classes_missed", o.Features.ClassesMissed),
		zap.String("risk_label", o.Label.String()),
		zap.String("action", string(o.Decision.Action)),
		zap.Bool("cached", o.Cached))
	return nil
}

type effectFunc struct {
	name string
	fn   func(context.Context, Outcome) error
}

// EffectFunc adapts a function to the Effect interface.
func EffectFunc(name string, fn func(context.Context, Outcome) error) Effect {
	return &effectFunc{name: name, fn: fn}
}

func (e *effectFunc) Name() string {
	return e.name
}

func (e *effectFunc) Apply(ctx context.Context, o Outcome) error {
	return e.fn(ctx, o)
}
