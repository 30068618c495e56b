package contribution_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/club-ledger/contribution"
	"github.com/warp/club-ledger/store/memory"
)

type failingObserver struct{}

func (failingObserver) PassCompleted(context.Context, contribution.Pass) error {
	return errors.New("broker unreachable")
}

// ctxStore fails like a real driver once its context is done.
type ctxStore struct {
	*memory.Memory
}

func (s ctxStore) ListActiveMembers(ctx context.Context, pop contribution.Population) ([]contribution.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Memory.ListActiveMembers(ctx, pop)
}

func (s ctxStore) CountRecords(ctx context.Context, pop contribution.Population, period contribution.Period) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Memory.CountRecords(ctx, pop, period)
}

func (s ctxStore) InsertRecords(ctx context.Context, records []contribution.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.InsertRecords(ctx, records)
}

// ctxObserver records the context state each pass was delivered with.
type ctxObserver struct {
	passRecorder
	ctxErrs []error
}

func (o *ctxObserver) PassCompleted(ctx context.Context, pass contribution.Pass) error {
	o.mu.Lock()
	o.ctxErrs = append(o.ctxErrs, ctx.Err())
	o.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.passRecorder.PassCompleted(ctx, pass)
}

func TestRunner_CancelledCallerStillCompletesPass(t *testing.T) {
	// GIVEN: A store that honours cancellation and a caller whose context is already done
	store := ctxStore{memory.NewMemory()}
	addMember(t, store.Memory, contribution.PopulationTeam, "A", "A", true)
	gen := contribution.NewGenerator(store, store,
		contribution.PopulationConfig{Population: contribution.PopulationTeam, DefaultAmount: teamDefault},
	)
	observer := &ctxObserver{}
	runner := contribution.NewRunner(gen, quietLogger(), observer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN: A pass is run
	result, err := runner.Run(ctx, contribution.PopulationTeam, contribution.NewPeriod(2025, time.June), contribution.TriggerManual)

	// THEN: The pass completes and the observer still sees it
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Len(t, store.Records(contribution.PopulationTeam), 1)

	require.Len(t, observer.Passes(), 1)
	assert.Equal(t, contribution.OutcomeCreated, observer.Passes()[0].Outcome())
	assert.Equal(t, []error{nil}, observer.ctxErrs)
}

func TestRunner_ObserverFailureDoesNotChangeResult(t *testing.T) {
	gen, store := newTestGenerator(t)
	addMember(t, store, contribution.PopulationTeam, "A", "A", true)
	recorder := &passRecorder{}
	runner := contribution.NewRunner(gen, quietLogger(), failingObserver{}, recorder)

	result, err := runner.Run(context.Background(), contribution.PopulationTeam, contribution.NewPeriod(2025, time.June), contribution.TriggerManual)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	passes := recorder.Passes()
	require.Len(t, passes, 1, "observers after a failing one still run")
	assert.Equal(t, contribution.TriggerManual, passes[0].Trigger)
	assert.NotEmpty(t, passes[0].ID)
	assert.False(t, passes[0].FinishedAt.Before(passes[0].StartedAt))
}

func TestRunner_LogsOneStructuredEventPerPass(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	gen, store := newTestGenerator(t)
	addMember(t, store, contribution.PopulationAdherent, "X", "X", true)
	runner := contribution.NewRunner(gen, logger)
	ctx := context.Background()
	period := contribution.NewPeriod(2025, time.June)

	_, err := runner.Run(ctx, contribution.PopulationAdherent, period, contribution.TriggerManual)
	require.NoError(t, err)
	_, err = runner.Run(ctx, contribution.PopulationAdherent, period, contribution.TriggerManual)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"outcome":"created"`)
	assert.Contains(t, out, `"outcome":"skipped"`)
	assert.Contains(t, out, `"skip_reason":"already_generated"`)
	assert.Contains(t, out, `"population":"adherent"`)
	assert.Contains(t, out, `"period":"2025-06"`)
}

func TestRunner_FailedPassReportsPopulationAndPeriod(t *testing.T) {
	gen, store := newTestGenerator(t)
	store.FailCount(errors.New("no such table"))
	recorder := &passRecorder{}
	runner := contribution.NewRunner(gen, quietLogger(), recorder)

	_, err := runner.Run(context.Background(), contribution.PopulationTeam, contribution.NewPeriod(2025, time.February), contribution.TriggerScheduler)

	require.ErrorIs(t, err, contribution.ErrGenerationStorageFailure)
	passes := recorder.Passes()
	require.Len(t, passes, 1)
	assert.Equal(t, contribution.OutcomeFailed, passes[0].Outcome())
	assert.Equal(t, contribution.PopulationTeam, passes[0].Result.Population)
	assert.Equal(t, "2025-02", passes[0].Result.Period.String())
}
