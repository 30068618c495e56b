/*
handlers_test.go - HTTP tests for the API handlers

Tests run the full router against an in-memory SQLite store:
- Member directory endpoints
- Manual generation status codes (created, skipped, storage failure)
- Payments, penalties and summaries
- Generation history and scheduler status
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/club-ledger/contribution"
	"github.com/warp/club-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	router    *chi.Mux
	store     *sqlite.Store
	scheduler *contribution.MonthlyScheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen := contribution.NewGenerator(store, store,
		contribution.PopulationConfig{Population: contribution.PopulationTeam, DefaultAmount: decimal.NewFromInt(2000)},
		contribution.PopulationConfig{Population: contribution.PopulationAdherent, DefaultAmount: decimal.NewFromInt(500)},
	)
	runner := contribution.NewRunner(gen, logger, store)
	scheduler := contribution.NewMonthlyScheduler(runner, logger)
	scheduler.Now = func() time.Time { return testNow }

	h := NewHandler(store, runner, scheduler, logger)
	h.Now = func() time.Time { return testNow }

	return &testEnv{router: NewRouter(h, nil), store: store, scheduler: scheduler}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func (e *testEnv) addMember(t *testing.T, pop, id, name string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/"+pop+"/members", CreateMemberRequest{ID: id, Name: name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// MEMBERS
// =============================================================================

func TestMembers_CreateListAndDeactivate(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "team", "t1", "Alice")

	rec := env.do(t, http.MethodPost, "/api/team/members", CreateMemberRequest{Name: "Bob", Email: "bob@club.test"})
	require.Equal(t, http.StatusCreated, rec.Code)
	bob := decode[MemberDTO](t, rec)
	assert.NotEmpty(t, bob.ID, "id generated when omitted")
	assert.True(t, bob.Active)
	assert.Equal(t, "team", bob.Population)

	rec = env.do(t, http.MethodPost, "/api/team/members/t1/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[MemberDTO](t, rec).Active)

	rec = env.do(t, http.MethodGet, "/api/team/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	members := decode[[]MemberDTO](t, rec)
	assert.Len(t, members, 2)

	rec = env.do(t, http.MethodGet, "/api/adherent/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]MemberDTO](t, rec))
}

func TestMembers_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown population", http.MethodGet, "/api/staff/members", nil, http.StatusNotFound},
		{"missing name", http.MethodPost, "/api/team/members", CreateMemberRequest{ID: "x"}, http.StatusBadRequest},
		{"unknown member", http.MethodGet, "/api/team/members/ghost", nil, http.StatusNotFound},
		{"activate unknown member", http.MethodPost, "/api/adherent/members/ghost/activate", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// MANUAL GENERATION
// =============================================================================

func TestGenerate_CreatedThenSkipped(t *testing.T) {
	// GIVEN: Two active team members
	env := newTestEnv(t)
	env.addMember(t, "team", "t1", "Alice")
	env.addMember(t, "team", "t2", "Bob")

	// WHEN: Generating without a body (current period)
	rec := env.do(t, http.MethodPost, "/api/team/contributions/generate", nil)

	// THEN: 201 with the June records
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[GenerationResultDTO](t, rec)
	assert.Equal(t, "2025-06", result.Period)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, "4000", result.ExpectedTotal)
	assert.Equal(t, contribution.OutcomeCreated, result.Outcome)

	// WHEN: Generating the same period again
	rec = env.do(t, http.MethodPost, "/api/team/contributions/generate", GenerateRequest{Year: 2025, Month: 6})

	// THEN: 200 with the skip reason
	require.Equal(t, http.StatusOK, rec.Code)
	result = decode[GenerationResultDTO](t, rec)
	assert.Equal(t, "already_generated", result.Skipped)
	assert.Zero(t, result.Created)
}

func TestGenerate_ExplicitPeriodAndEmptyPopulation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/adherent/contributions/generate", GenerateRequest{Year: 2024, Month: 12})

	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[GenerationResultDTO](t, rec)
	assert.Equal(t, "2024-12", result.Period)
	assert.Equal(t, "empty_population", result.Skipped)
}

func TestGenerate_InvalidPeriod(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/team/contributions/generate", GenerateRequest{Year: 2025, Month: 13})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerate_StorageFailureReturns500(t *testing.T) {
	// GIVEN: The database has gone away
	env := newTestEnv(t)
	env.addMember(t, "team", "t1", "Alice")
	require.NoError(t, env.store.Close())

	// WHEN: Triggering generation
	rec := env.do(t, http.MethodPost, "/api/team/contributions/generate", nil)

	// THEN: 500 with an explanatory message
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Contains(t, resp.Error, "no contributions were created")
	assert.Contains(t, resp.Details, "count_records")
}

// =============================================================================
// CONTRIBUTIONS, PAYMENTS, PENALTIES
// =============================================================================

func TestContributions_PaymentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "adherent", "a1", "Dana")
	env.addMember(t, "adherent", "a2", "Eve")
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/adherent/contributions/generate", nil).Code)

	rec := env.do(t, http.MethodGet, "/api/adherent/contributions?period=2025-06", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode[[]ContributionDTO](t, rec)
	require.Len(t, records, 2)
	assert.Equal(t, "Dana", records[0].MemberName)
	assert.Equal(t, "500", records[0].AmountDue)
	assert.Equal(t, "pending", records[0].Status)

	dana := records[0].ID
	eve := records[1].ID

	// Late fee then full payment
	rec = env.do(t, http.MethodPost, "/api/adherent/contributions/"+dana+"/penalties", AmountRequest{Amount: "50"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "550", decode[ContributionDTO](t, rec).Outstanding)

	rec = env.do(t, http.MethodPost, "/api/adherent/contributions/"+dana+"/payments", AmountRequest{Amount: "550"})
	require.Equal(t, http.StatusOK, rec.Code)
	paid := decode[ContributionDTO](t, rec)
	assert.Equal(t, "paid", paid.Status)
	assert.NotNil(t, paid.PaidAt)

	// Settled records reject further payments
	rec = env.do(t, http.MethodPost, "/api/adherent/contributions/"+dana+"/payments", AmountRequest{Amount: "1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Partial payment on the other record
	rec = env.do(t, http.MethodPost, "/api/adherent/contributions/"+eve+"/payments", AmountRequest{Amount: "200"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/adherent/contributions/summary?period=2025-06", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[SummaryDTO](t, rec)
	assert.Equal(t, 2, sum.Records)
	assert.Equal(t, 1, sum.Paid)
	assert.Equal(t, 1, sum.Pending)
	assert.Equal(t, "1000", sum.TotalDue)
	assert.Equal(t, "750", sum.TotalPaid)
	assert.Equal(t, "300", sum.Outstanding)
}

func TestContributions_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad period", http.MethodGet, "/api/team/contributions?period=June", nil, http.StatusBadRequest},
		{"unknown population", http.MethodGet, "/api/staff/contributions", nil, http.StatusNotFound},
		{"non-numeric amount", http.MethodPost, "/api/team/contributions/x/payments", AmountRequest{Amount: "lots"}, http.StatusBadRequest},
		{"negative amount", http.MethodPost, "/api/team/contributions/x/payments", AmountRequest{Amount: "-5"}, http.StatusBadRequest},
		{"unknown record", http.MethodPost, "/api/team/contributions/x/penalties", AmountRequest{Amount: "5"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// HISTORY, SCHEDULER, HEALTH
// =============================================================================

func TestGenerationRuns_RecordsManualPasses(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "team", "t1", "Alice")
	env.do(t, http.MethodPost, "/api/team/contributions/generate", nil)
	env.do(t, http.MethodPost, "/api/team/contributions/generate", nil)
	env.do(t, http.MethodPost, "/api/adherent/contributions/generate", nil)

	rec := env.do(t, http.MethodGet, "/api/generation/runs?population=team", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]GenerationRunDTO](t, rec)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, "manual", run.Trigger)
		assert.Equal(t, "2025-06", run.Period)
	}

	rec = env.do(t, http.MethodGet, "/api/generation/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]GenerationRunDTO](t, rec), 3)

	rec = env.do(t, http.MethodGet, "/api/generation/runs?population=staff", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduler_Status(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/scheduler", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[SchedulerStatusDTO](t, rec)
	assert.True(t, status.Enabled)
	assert.False(t, status.Running)
	assert.Equal(t, "idle", status.State)
	assert.Equal(t, "1h0m0s", status.CheckInterval)
	assert.Empty(t, status.LastGenerated)

	// A tick mid-month records the check but generates nothing
	env.scheduler.Tick(context.Background())

	status = decode[SchedulerStatusDTO](t, env.do(t, http.MethodGet, "/api/scheduler", nil))
	assert.Equal(t, testNow.Format(time.RFC3339), status.LastCheck)
	assert.Empty(t, status.LastGenerated)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthDTO](t, rec).Status)

	require.NoError(t, env.store.Close())
	rec = env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
