package contribution

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Trigger names what started a generation pass.
type Trigger string

const (
	TriggerScheduler Trigger = "scheduler"
	TriggerManual    Trigger = "manual"
)

// Pass describes one completed generation pass.
type Pass struct {
	ID         string
	Trigger    Trigger
	Result     Result
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (p Pass) Outcome() string {
	if p.Err != nil {
		return OutcomeFailed
	}
	return p.Result.Outcome()
}

// Runner executes generation passes, logs one structured event per pass
// and forwards the outcome to its observers.
type Runner struct {
	generator *Generator
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time
}

func NewRunner(generator *Generator, logger *slog.Logger, observers ...Observer) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		generator: generator,
		observers: observers,
		logger:    logger.With("component", "contribution"),
		now:       time.Now,
	}
}

// Generator returns the underlying generator.
func (r *Runner) Generator() *Generator { return r.generator }

// Run executes one pass. The returned values are the generator's; observer
// failures are logged only.
//
// A started pass is not cancellable: it runs on a context detached from the
// caller's cancellation, so shutdown or a dropped HTTP client cannot cut a
// pass short or lose its audit row.
func (r *Runner) Run(ctx context.Context, pop Population, period Period, trigger Trigger) (Result, error) {
	ctx = context.WithoutCancel(ctx)

	pass := Pass{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: r.now().UTC(),
	}

	result, err := r.generator.Generate(ctx, pop, period)
	if result.Population == "" {
		result.Population = pop
		result.Period = PeriodOf(period.Key())
	}
	pass.Result = result
	pass.Err = err
	pass.FinishedAt = r.now().UTC()

	r.log(ctx, pass)

	for _, o := range r.observers {
		if oerr := o.PassCompleted(ctx, pass); oerr != nil {
			r.logger.WarnContext(ctx, "generation observer failed",
				"pass_id", pass.ID,
				"population", pop,
				"error", oerr)
		}
	}

	return result, err
}

func (r *Runner) log(ctx context.Context, pass Pass) {
	attrs := []any{
		"pass_id", pass.ID,
		"outcome", pass.Outcome(),
		"trigger", pass.Trigger,
		"population", pass.Result.Population,
		"period", pass.Result.Period.String(),
		"created", pass.Result.Created,
		"expected_total", pass.Result.ExpectedTotal.String(),
		"duration_ms", pass.FinishedAt.Sub(pass.StartedAt).Milliseconds(),
	}

	switch {
	case pass.Err != nil:
		r.logger.ErrorContext(ctx, "contribution generation failed", append(attrs, "error", pass.Err)...)
	case pass.Result.WasSkipped():
		r.logger.InfoContext(ctx, "contribution generation skipped", append(attrs, "skip_reason", pass.Result.Skipped)...)
	default:
		r.logger.InfoContext(ctx, "contribution generation completed", attrs...)
	}
}
