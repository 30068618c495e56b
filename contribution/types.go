/*
Package contribution implements the monthly contribution series of the club.

PURPOSE:
  Every calendar month each active member of a population owes a fixed
  contribution. This package creates those obligations (the Generator),
  decides when to create them without external triggering (the
  MonthlyScheduler) and reports every generation pass (the Runner).

KEY CONCEPTS IN THIS FILE (types.go):
  - Population: team members or adherents, two independent series
  - Member: who owes a contribution (only the active subset is read)
  - Record: one member's obligation for one period
  - Result: what a generation pass did (created, or skipped and why)

DESIGN PRINCIPLES:
  1. One algorithm for both populations, parameterised by PopulationConfig
  2. Amounts are decimal.Decimal, never float64
  3. Records are created pending and only payments move them to paid

SEE ALSO:
  - period.go: Period normalisation (the natural key of a record)
  - generator.go: The idempotent generation pass
  - scheduler.go: The day-of-month gate and in-process guard
*/
package contribution

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POPULATION - Tagged variant selecting the member set and contribution series
// =============================================================================

type Population string

const (
	PopulationTeam     Population = "team"
	PopulationAdherent Population = "adherent"
)

// Populations lists every population in generation order.
var Populations = []Population{PopulationTeam, PopulationAdherent}

// ParsePopulation converts an external name into a Population.
func ParsePopulation(s string) (Population, error) {
	switch Population(s) {
	case PopulationTeam, PopulationAdherent:
		return Population(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPopulation, s)
	}
}

func (p Population) Valid() bool {
	return p == PopulationTeam || p == PopulationAdherent
}

func (p Population) String() string { return string(p) }

// =============================================================================
// MEMBER
// =============================================================================

type MemberID string

// Member is a team member or an adherent. Members are created and
// deactivated by administrative actions; generation only reads them.
type Member struct {
	ID         MemberID
	Population Population
	Name       string
	Email      string
	Active     bool
	CreatedAt  time.Time
}

// =============================================================================
// RECORD - One member's obligation for one period
// =============================================================================

type RecordID string

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

type Record struct {
	ID            RecordID
	Population    Population
	MemberID      MemberID
	MemberName    string
	Period        Period
	AmountDue     decimal.Decimal
	AmountPaid    decimal.Decimal
	PenaltyAmount decimal.Decimal
	Status        Status
	CreatedAt     time.Time
	PaidAt        *time.Time
}

// Outstanding returns what is still owed, penalties included.
func (r Record) Outstanding() decimal.Decimal {
	rest := r.AmountDue.Add(r.PenaltyAmount).Sub(r.AmountPaid)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// =============================================================================
// RESULT - Outcome of one generation pass
// =============================================================================

type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipAlreadyGenerated SkipReason = "already_generated"
	SkipEmptyPopulation  SkipReason = "empty_population"
)

type Result struct {
	Population    Population
	Period        Period
	Created       int
	ExpectedTotal decimal.Decimal
	Skipped       SkipReason
}

func (r Result) WasSkipped() bool { return r.Skipped != SkipNone }

// Outcome is the log/event label for the result.
func (r Result) Outcome() string {
	if r.WasSkipped() {
		return OutcomeSkipped
	}
	return OutcomeCreated
}

const (
	OutcomeCreated = "created"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)
