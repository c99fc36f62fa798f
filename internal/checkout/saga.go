package checkout

import (
	"context"
	"log/slog"
)

// Step is one locally committing unit of a seller group's order creation.
// Compensate undoes a committed Execute.
type Step interface {
	Name() string
	Execute(ctx context.Context) StepResult
	Compensate(ctx context.Context) error
}

// runSteps executes steps in order. On the first non-success it compensates
// the steps that already ran, newest first, and returns that result. A failed
// step is compensated too, since it may have committed part of its work.
func runSteps(ctx context.Context, log *slog.Logger, steps ...Step) StepResult {
	var ran []Step

	for _, step := range steps {
		ran = append(ran, step)
		res := step.Execute(ctx)
		if res.Outcome == Success {
			continue
		}

		log.WarnContext(ctx, "saga step failed, compensating",
			slog.String("step", step.Name()),
			slog.String("outcome", res.Outcome.String()),
			slog.Any("error", res.Err))
		rollback(ctx, log, ran)
		return res
	}
	return succeeded()
}

func rollback(ctx context.Context, log *slog.Logger, steps []Step) {
	// Compensation must run even when the request context is already done.
	ctx = context.WithoutCancel(ctx)
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i].Compensate(ctx); err != nil {
			log.ErrorContext(ctx, "failed to compensate saga step",
				slog.String("step", steps[i].Name()),
				slog.Any("error", err))
		}
	}
}
