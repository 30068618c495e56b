/*
store.go - Collaborator interfaces consumed by the contribution core

KEY INTERFACES:
  Directory:   The member directory. Only the active subset is read.
  RecordStore: Contribution persistence. Creation only; payments are a
               disjoint write path owned by the storage implementation.
  Observer:    Receives the outcome of every generation pass.

ATOMIC BATCHES:
  InsertRecords is all-or-nothing. Either every record of the batch is
  durably created or none is, and a partial set is never observable.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store (also an Observer)
  - store/memory: in-memory store with fault injection for tests
  - events: AMQP publisher (Observer only)
*/
package contribution

import "context"

// Directory lists members of a population.
type Directory interface {
	// ListActiveMembers returns the members whose active flag is set.
	// Ordering is irrelevant to generation.
	ListActiveMembers(ctx context.Context, pop Population) ([]Member, error)
}

// RecordStore persists contribution records.
type RecordStore interface {
	// CountRecords returns how many records exist for the population and period.
	CountRecords(ctx context.Context, pop Population, period Period) (int, error)

	// InsertRecords persists the records atomically.
	InsertRecords(ctx context.Context, records []Record) error
}

// Observer is notified after every generation pass, successful or not.
type Observer interface {
	PassCompleted(ctx context.Context, pass Pass) error
}
