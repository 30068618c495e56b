package contribution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// GENERATOR - One idempotent generation pass per (population, period)
// =============================================================================

// PopulationConfig parameterises the shared generation algorithm.
type PopulationConfig struct {
	Population    Population
	DefaultAmount decimal.Decimal
}

// Generator creates the pending contribution records of a period.
//
// Idempotency is period-level: if any record exists for the population
// and period the whole population is skipped. A member activated after
// the pass ran is therefore not picked up until the next period.
type Generator struct {
	directory Directory
	records   RecordStore
	configs   map[Population]PopulationConfig

	newID func() RecordID
	now   func() time.Time
}

// NewGenerator creates a generator for the given populations.
func NewGenerator(directory Directory, records RecordStore, configs ...PopulationConfig) *Generator {
	g := &Generator{
		directory: directory,
		records:   records,
		configs:   make(map[Population]PopulationConfig, len(configs)),
		newID:     func() RecordID { return RecordID(uuid.NewString()) },
		now:       time.Now,
	}
	for _, c := range configs {
		g.configs[c.Population] = c
	}
	return g
}

// Config returns the configuration of a population.
func (g *Generator) Config(pop Population) (PopulationConfig, bool) {
	c, ok := g.configs[pop]
	return c, ok
}

// Generate runs one generation pass.
//
// Skips are reported through Result.Skipped. Every storage failure is a
// *StorageError; nothing is retried here.
func (g *Generator) Generate(ctx context.Context, pop Population, period Period) (Result, error) {
	cfg, ok := g.configs[pop]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q has no configuration", ErrUnknownPopulation, pop)
	}

	period = PeriodOf(period.Key())
	result := Result{Population: pop, Period: period, ExpectedTotal: decimal.Zero}

	existing, err := g.records.CountRecords(ctx, pop, period)
	if err != nil {
		return result, &StorageError{Population: pop, Period: period, Op: "count_records", Err: err}
	}
	if existing > 0 {
		result.Skipped = SkipAlreadyGenerated
		return result, nil
	}

	members, err := g.directory.ListActiveMembers(ctx, pop)
	if err != nil {
		return result, &StorageError{Population: pop, Period: period, Op: "list_active_members", Err: err}
	}
	if len(members) == 0 {
		result.Skipped = SkipEmptyPopulation
		return result, nil
	}

	createdAt := g.now().UTC()
	batch := make([]Record, 0, len(members))
	for _, m := range members {
		batch = append(batch, Record{
			ID:            g.newID(),
			Population:    pop,
			MemberID:      m.ID,
			MemberName:    m.Name,
			Period:        period,
			AmountDue:     cfg.DefaultAmount,
			AmountPaid:    decimal.Zero,
			PenaltyAmount: decimal.Zero,
			Status:        StatusPending,
			CreatedAt:     createdAt,
		})
	}

	if err := g.records.InsertRecords(ctx, batch); err != nil {
		return result, &StorageError{Population: pop, Period: period, Op: "insert_records", Err: err}
	}

	result.Created = len(batch)
	result.ExpectedTotal = cfg.DefaultAmount.Mul(decimal.NewFromInt(int64(len(batch))))
	return result, nil
}
