/*
handlers.go - HTTP API handlers for the club contribution ledger

PURPOSE:
  Exposes members, monthly contributions and generation control via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  contribution core and the SQLite store.

ENDPOINTS:
  Members ({population} is "team" or "adherent"):
    GET    /api/{population}/members                    List members
    POST   /api/{population}/members                    Create member
    GET    /api/{population}/members/{id}               Get member
    POST   /api/{population}/members/{id}/activate      Activate member
    POST   /api/{population}/members/{id}/deactivate    Deactivate member

  Contributions:
    GET    /api/{population}/contributions?period=YYYY-MM
    GET    /api/{population}/contributions/summary?period=YYYY-MM
    POST   /api/{population}/contributions/{id}/payments
    POST   /api/{population}/contributions/{id}/penalties
    POST   /api/{population}/contributions/generate     Manual generation

  Generation:
    GET    /api/generation/runs?population=team         Pass history
    GET    /api/scheduler                               Scheduler status

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown population, member or contribution
  - 409: Contribution already settled
  - 500: Storage failures (generation never partially applies)

SECURITY NOTE:
  No authentication. Run behind the club's reverse proxy.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/club-ledger/contribution"
	"github.com/warp/club-ledger/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Runner    *contribution.Runner
	Scheduler *contribution.MonthlyScheduler

	// Now picks the default period of list and generate requests.
	Now func() time.Time

	logger *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(store *sqlite.Store, runner *contribution.Runner, scheduler *contribution.MonthlyScheduler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:     store,
		Runner:    runner,
		Scheduler: scheduler,
		Now:       time.Now,
		logger:    logger.With("component", "api"),
	}
}

type ctxKey int

const populationKey ctxKey = iota

// PopulationCtx resolves {population} and rejects unknown ones with 404.
func (h *Handler) PopulationCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pop, err := contribution.ParsePopulation(chi.URLParam(r, "population"))
		if err != nil {
			writeError(w, http.StatusNotFound, "Unknown population", err)
			return
		}
		ctx := context.WithValue(r.Context(), populationKey, pop)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func populationFrom(r *http.Request) contribution.Population {
	pop, _ := r.Context().Value(populationKey).(contribution.Population)
	return pop
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns every member of the population.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Store.ListMembers(r.Context(), populationFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list members", err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMember returns a single member.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.Store.GetMember(r.Context(), populationFrom(r), contribution.MemberID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get member", err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(*m))
}

// CreateMember creates a new member.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	m := contribution.Member{
		ID:         contribution.MemberID(req.ID),
		Population: populationFrom(r),
		Name:       strings.TrimSpace(req.Name),
		Email:      req.Email,
		Active:     true,
		CreatedAt:  h.Now().UTC().Truncate(time.Second),
	}
	if m.ID == "" {
		m.ID = contribution.MemberID(uuid.NewString())
	}
	if req.Active != nil {
		m.Active = *req.Active
	}

	if err := h.Store.SaveMember(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create member", err)
		return
	}

	writeJSON(w, http.StatusCreated, toMemberDTO(m))
}

// ActivateMember marks a member active; they are included from the next
// generated period on.
func (h *Handler) ActivateMember(w http.ResponseWriter, r *http.Request) {
	h.setMemberActive(w, r, true)
}

// DeactivateMember marks a member inactive. Existing records are untouched.
func (h *Handler) DeactivateMember(w http.ResponseWriter, r *http.Request) {
	h.setMemberActive(w, r, false)
}

func (h *Handler) setMemberActive(w http.ResponseWriter, r *http.Request, active bool) {
	ctx := r.Context()
	pop := populationFrom(r)
	id := contribution.MemberID(chi.URLParam(r, "id"))

	if err := h.Store.SetMemberActive(ctx, pop, id, active); err != nil {
		writeDomainError(w, "Failed to update member", err)
		return
	}
	m, err := h.Store.GetMember(ctx, pop, id)
	if err != nil {
		writeDomainError(w, "Failed to get member", err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(*m))
}

// =============================================================================
// CONTRIBUTION HANDLERS
// =============================================================================

// ListContributions returns the records of a period (default: current).
func (h *Handler) ListContributions(w http.ResponseWriter, r *http.Request) {
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}

	records, err := h.Store.ListRecords(r.Context(), populationFrom(r), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list contributions", err)
		return
	}

	dtos := make([]ContributionDTO, len(records))
	for i, rec := range records {
		dtos[i] = toContributionDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSummary returns the totals of a period (default: current).
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}

	sum, err := h.Store.PeriodSummary(r.Context(), populationFrom(r), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to summarize contributions", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(sum))
}

// RecordPayment adds a payment to a contribution.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}

	rec, err := h.Store.RecordPayment(r.Context(), populationFrom(r), contribution.RecordID(chi.URLParam(r, "id")), amount)
	if err != nil {
		writeDomainError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toContributionDTO(*rec))
}

// ApplyPenalty adds a late-payment penalty to a pending contribution.
func (h *Handler) ApplyPenalty(w http.ResponseWriter, r *http.Request) {
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}

	rec, err := h.Store.ApplyPenalty(r.Context(), populationFrom(r), contribution.RecordID(chi.URLParam(r, "id")), amount)
	if err != nil {
		writeDomainError(w, "Failed to apply penalty", err)
		return
	}
	writeJSON(w, http.StatusOK, toContributionDTO(*rec))
}

// =============================================================================
// GENERATION HANDLERS
// =============================================================================

// GenerateContributions runs a manual generation pass.
// POST /api/{population}/contributions/generate
//
// Returns 201 when records were created, 200 when the pass was skipped and
// 500 when storage failed (nothing was created).
func (h *Handler) GenerateContributions(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	period := contribution.PeriodOf(h.Now())
	if req.Year != 0 || req.Month != 0 {
		p, err := contribution.PeriodFromParts(req.Year, req.Month)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period", err)
			return
		}
		period = p
	}

	result, err := h.Runner.Run(r.Context(), populationFrom(r), period, contribution.TriggerManual)
	if err != nil {
		if errors.Is(err, contribution.ErrGenerationStorageFailure) {
			writeError(w, http.StatusInternalServerError,
				"Contribution generation failed: storage unavailable, no contributions were created", err)
			return
		}
		writeDomainError(w, "Contribution generation failed", err)
		return
	}

	status := http.StatusCreated
	if result.WasSkipped() {
		status = http.StatusOK
	}
	writeJSON(w, status, toGenerationResultDTO(result))
}

// ListGenerationRuns returns the generation history, most recent first.
// GET /api/generation/runs?population=team&limit=50
func (h *Handler) ListGenerationRuns(w http.ResponseWriter, r *http.Request) {
	var pop contribution.Population
	if v := r.URL.Query().Get("population"); v != "" {
		p, err := contribution.ParsePopulation(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid population", err)
			return
		}
		pop = p
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListGenerationRuns(r.Context(), pop, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list generation runs", err)
		return
	}

	dtos := make([]GenerationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toGenerationRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetScheduler returns the monthly scheduler status.
func (h *Handler) GetScheduler(w http.ResponseWriter, r *http.Request) {
	s := h.Scheduler
	if s == nil {
		writeJSON(w, http.StatusOK, SchedulerStatusDTO{State: string(contribution.StateIdle)})
		return
	}

	dto := SchedulerStatusDTO{
		Enabled:       s.Enabled,
		Running:       s.Running(),
		State:         string(s.State()),
		CheckInterval: s.CheckInterval.String(),
		LastGenerated: s.LastGenerated().String(),
	}
	if last := s.LastCheck(); !last.IsZero() {
		dto.LastCheck = last.Format(time.RFC3339)
	}
	if dto.Running {
		dto.NextCheck = s.NextCheck().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, dto)
}

// Health reports liveness and database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthDTO{Status: "degraded", Database: "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ok", Database: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) periodParam(w http.ResponseWriter, r *http.Request) (contribution.Period, bool) {
	v := r.URL.Query().Get("period")
	if v == "" {
		return contribution.PeriodOf(h.Now()), true
	}
	period, err := contribution.ParsePeriod(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
		return contribution.Period{}, false
	}
	return period, true
}

func decodeAmount(w http.ResponseWriter, r *http.Request) (decimal.Decimal, bool) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return decimal.Decimal{}, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return decimal.Decimal{}, false
	}
	if !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Invalid amount", contribution.ErrInvalidAmount)
		return decimal.Decimal{}, false
	}
	return amount, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps contribution errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, contribution.ErrAlreadySettled), errors.Is(err, contribution.ErrDuplicateRecord):
		writeError(w, http.StatusConflict, message, err)
	case contribution.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case contribution.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
