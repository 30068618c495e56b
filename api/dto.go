/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the contribution domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as decimal strings ("2000", "25.5"), never JSON numbers,
  so clients cannot lose precision.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/warp/club-ledger/contribution"
	"github.com/warp/club-ledger/store/sqlite"
)

// =============================================================================
// MEMBERS
// =============================================================================

// MemberDTO represents a team member or adherent in API responses.
type MemberDTO struct {
	ID         string `json:"id"`
	Population string `json:"population"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"created_at"`
}

// CreateMemberRequest is the request body for creating a member.
// ID is generated when omitted; Active defaults to true.
type CreateMemberRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Active *bool  `json:"active"`
}

func toMemberDTO(m contribution.Member) MemberDTO {
	return MemberDTO{
		ID:         string(m.ID),
		Population: m.Population.String(),
		Name:       m.Name,
		Email:      m.Email,
		Active:     m.Active,
		CreatedAt:  m.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// CONTRIBUTIONS
// =============================================================================

// ContributionDTO represents one monthly obligation.
type ContributionDTO struct {
	ID            string  `json:"id"`
	Population    string  `json:"population"`
	MemberID      string  `json:"member_id"`
	MemberName    string  `json:"member_name"`
	Period        string  `json:"period"`
	AmountDue     string  `json:"amount_due"`
	AmountPaid    string  `json:"amount_paid"`
	PenaltyAmount string  `json:"penalty_amount"`
	Outstanding   string  `json:"outstanding"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	PaidAt        *string `json:"paid_at,omitempty"`
}

func toContributionDTO(r contribution.Record) ContributionDTO {
	dto := ContributionDTO{
		ID:            string(r.ID),
		Population:    r.Population.String(),
		MemberID:      string(r.MemberID),
		MemberName:    r.MemberName,
		Period:        r.Period.String(),
		AmountDue:     r.AmountDue.String(),
		AmountPaid:    r.AmountPaid.String(),
		PenaltyAmount: r.PenaltyAmount.String(),
		Outstanding:   r.Outstanding().String(),
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	}
	if r.PaidAt != nil {
		paidAt := r.PaidAt.Format(time.RFC3339)
		dto.PaidAt = &paidAt
	}
	return dto
}

// AmountRequest is the body of payment and penalty requests.
type AmountRequest struct {
	Amount string `json:"amount"`
}

// SummaryDTO aggregates one population's period.
type SummaryDTO struct {
	Population   string `json:"population"`
	Period       string `json:"period"`
	Records      int    `json:"records"`
	Pending      int    `json:"pending"`
	Paid         int    `json:"paid"`
	TotalDue     string `json:"total_due"`
	TotalPaid    string `json:"total_paid"`
	TotalPenalty string `json:"total_penalty"`
	Outstanding  string `json:"outstanding"`
}

func toSummaryDTO(s sqlite.Summary) SummaryDTO {
	return SummaryDTO{
		Population:   s.Population.String(),
		Period:       s.Period.String(),
		Records:      s.Records,
		Pending:      s.Pending,
		Paid:         s.Paid,
		TotalDue:     s.TotalDue.String(),
		TotalPaid:    s.TotalPaid.String(),
		TotalPenalty: s.TotalPenalty.String(),
		Outstanding:  s.Outstanding.String(),
	}
}

// =============================================================================
// GENERATION
// =============================================================================

// GenerateRequest selects the period of a manual generation. Both fields
// zero (or an empty body) means the current period.
type GenerateRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// GenerationResultDTO is the outcome of a manual generation.
type GenerationResultDTO struct {
	Population    string `json:"population"`
	Period        string `json:"period"`
	Outcome       string `json:"outcome"`
	Created       int    `json:"created"`
	ExpectedTotal string `json:"expected_total"`
	Skipped       string `json:"skipped,omitempty"`
}

func toGenerationResultDTO(r contribution.Result) GenerationResultDTO {
	return GenerationResultDTO{
		Population:    r.Population.String(),
		Period:        r.Period.String(),
		Outcome:       r.Outcome(),
		Created:       r.Created,
		ExpectedTotal: r.ExpectedTotal.String(),
		Skipped:       string(r.Skipped),
	}
}

// GenerationRunDTO is one entry of the generation history.
type GenerationRunDTO struct {
	ID            string `json:"id"`
	Population    string `json:"population"`
	Period        string `json:"period"`
	Trigger       string `json:"trigger"`
	Outcome       string `json:"outcome"`
	Created       int    `json:"created"`
	ExpectedTotal string `json:"expected_total"`
	SkipReason    string `json:"skip_reason,omitempty"`
	Error         string `json:"error,omitempty"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at"`
	DurationMs    int64  `json:"duration_ms"`
}

func toGenerationRunDTO(run sqlite.GenerationRun) GenerationRunDTO {
	return GenerationRunDTO{
		ID:            run.ID,
		Population:    run.Population.String(),
		Period:        run.Period.String(),
		Trigger:       string(run.Trigger),
		Outcome:       run.Outcome,
		Created:       run.Created,
		ExpectedTotal: run.ExpectedTotal.String(),
		SkipReason:    string(run.SkipReason),
		Error:         run.Error,
		StartedAt:     run.StartedAt.Format(time.RFC3339),
		FinishedAt:    run.FinishedAt.Format(time.RFC3339),
		DurationMs:    run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
	}
}

// SchedulerStatusDTO exposes the monthly scheduler state and guard.
type SchedulerStatusDTO struct {
	Enabled       bool   `json:"enabled"`
	Running       bool   `json:"running"`
	State         string `json:"state"`
	CheckInterval string `json:"check_interval"`
	LastCheck     string `json:"last_check,omitempty"`
	NextCheck     string `json:"next_check,omitempty"`
	LastGenerated string `json:"last_generated_period,omitempty"`
}

// =============================================================================
// MISC
// =============================================================================

// HealthDTO is the liveness response.
type HealthDTO struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}
