package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/club-ledger/contribution"
)

// runTimeLayout is fixed-width so started_at sorts chronologically as text.
const runTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// =============================================================================
// GENERATION RUN HISTORY (contribution.Observer)
// =============================================================================

// GenerationRun is one persisted generation pass.
type GenerationRun struct {
	ID            string
	Population    contribution.Population
	Period        contribution.Period
	Trigger       contribution.Trigger
	Outcome       string
	Created       int
	ExpectedTotal decimal.Decimal
	SkipReason    contribution.SkipReason
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// RunFromPass converts a completed pass into its history row.
func RunFromPass(pass contribution.Pass) GenerationRun {
	run := GenerationRun{
		ID:            pass.ID,
		Population:    pass.Result.Population,
		Period:        pass.Result.Period,
		Trigger:       pass.Trigger,
		Outcome:       pass.Outcome(),
		Created:       pass.Result.Created,
		ExpectedTotal: pass.Result.ExpectedTotal,
		SkipReason:    pass.Result.Skipped,
		StartedAt:     pass.StartedAt,
		FinishedAt:    pass.FinishedAt,
	}
	if pass.Err != nil {
		run.Error = pass.Err.Error()
	}
	return run
}

// PassCompleted records the pass in the generation history.
func (s *Store) PassCompleted(ctx context.Context, pass contribution.Pass) error {
	return s.SaveGenerationRun(ctx, RunFromPass(pass))
}

// SaveGenerationRun persists a generation run.
func (s *Store) SaveGenerationRun(ctx context.Context, run GenerationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_runs
		(id, population, period, trigger_source, outcome, created, expected_total,
		 skip_reason, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Population,
		run.Period.KeyString(),
		run.Trigger,
		run.Outcome,
		run.Created,
		run.ExpectedTotal.String(),
		nullString(string(run.SkipReason)),
		nullString(run.Error),
		run.StartedAt.UTC().Format(runTimeLayout),
		run.FinishedAt.UTC().Format(runTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save generation run: %w", err)
	}
	return nil
}

// ListGenerationRuns returns the most recent runs first. An empty population
// lists every population; limit <= 0 means no limit.
func (s *Store) ListGenerationRuns(ctx context.Context, pop contribution.Population, limit int) ([]GenerationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, population, period, trigger_source, outcome, created, expected_total,
		       skip_reason, error, started_at, finished_at
		FROM generation_runs
	`
	var args []any
	if pop != "" {
		query += " WHERE population = ?"
		args = append(args, pop)
	}
	query += " ORDER BY started_at DESC, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation runs: %w", err)
	}
	defer rows.Close()

	var runs []GenerationRun
	for rows.Next() {
		var (
			run                   GenerationRun
			period, total         string
			skipReason, errText   sql.NullString
			startedAt, finishedAt string
		)
		if err := rows.Scan(&run.ID, &run.Population, &period, &run.Trigger, &run.Outcome,
			&run.Created, &total, &skipReason, &errText, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan generation run: %w", err)
		}

		run.Period, _ = contribution.ParsePeriod(period)
		run.ExpectedTotal = parseDecimal(total)
		run.SkipReason = contribution.SkipReason(skipReason.String)
		run.Error = errText.String
		run.StartedAt, _ = time.Parse(runTimeLayout, startedAt)
		run.FinishedAt, _ = time.Parse(runTimeLayout, finishedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
