/*
errors.go - Error types for contribution generation

ERROR CATEGORIES:
  1. Storage failures - any I/O error during a generation pass. The only
     error a pass can return; callers test it with errors.Is.
  2. Input errors - unknown population, malformed period, bad amounts.
  3. Record errors - payment/penalty on a missing or settled record.

Skips (already generated, empty population) are NOT errors. They are
reported through Result.Skipped.
*/
package contribution

import (
	"errors"
	"fmt"
)

var (
	// ErrGenerationStorageFailure matches every *StorageError.
	ErrGenerationStorageFailure = errors.New("generation storage failure")

	ErrUnknownPopulation = errors.New("unknown population")
	ErrInvalidPeriod     = errors.New("invalid period")
	ErrInvalidAmount     = errors.New("amount must be positive")

	ErrRecordNotFound  = errors.New("contribution record not found")
	ErrMemberNotFound  = errors.New("member not found")
	ErrAlreadySettled  = errors.New("contribution already paid")
	ErrDuplicateRecord = errors.New("contribution already exists for member and period")

	errPassPanicked = errors.New("generation pass panicked")
)

// StorageError wraps an I/O failure of one step of a generation pass.
type StorageError struct {
	Population Population
	Period     Period
	Op         string // count_records, list_active_members, insert_records
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("generate %s contributions for %s: %s: %v", e.Population, e.Period, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrGenerationStorageFailure
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownPopulation) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAlreadySettled)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrMemberNotFound)
}
