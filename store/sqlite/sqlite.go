/*
Package sqlite provides a SQLite-backed member directory and contribution store.

PURPOSE:

	Implements the persistence collaborators of the contribution core
	(contribution.Directory, contribution.RecordStore, contribution.Observer)
	plus the administrative operations the HTTP layer needs.

KEY TABLES:

	team_members, adherents:                    Member directory, one per population
	team_contributions, adherent_contributions: One row per member per period
	generation_runs:                            Audit trail of generation passes

TABLE SELECTION:

	Every operation takes a contribution.Population; tablesFor maps it to
	its member and contribution tables. Populations never share a table, so
	a query for one can never read or write the other.

ATOMIC BATCHES:

	InsertRecords writes a whole generation batch inside one SQL transaction.
	A failure on any row rolls back every row of the batch.

UNIQUENESS:

	(member_id, period) is unique in each contribution table. A second
	process that raced past the generator's period check fails its batch
	with contribution.ErrDuplicateRecord instead of duplicating rows.

CONCURRENCY:

	One open connection (SQLite allows a single writer, and ":memory:"
	databases exist per connection) plus a sync.RWMutex around every call.

MIGRATION:

	Schema is versioned under migrations/ and applied with golang-migrate
	on New().

USAGE:

	store, err := sqlite.New("./data/club.db")
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/club-ledger/contribution"
)

// Store implements the contribution storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type tables struct {
	members       string
	contributions string
}

func tablesFor(pop contribution.Population) (tables, error) {
	switch pop {
	case contribution.PopulationTeam:
		return tables{members: "team_members", contributions: "team_contributions"}, nil
	case contribution.PopulationAdherent:
		return tables{members: "adherents", contributions: "adherent_contributions"}, nil
	default:
		return tables{}, fmt.Errorf("%w: %q", contribution.ErrUnknownPopulation, pop)
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// MEMBER DIRECTORY (contribution.Directory)
// =============================================================================

// SaveMember inserts or updates a member.
func (s *Store) SaveMember(ctx context.Context, m contribution.Member) error {
	t, err := tablesFor(m.Population)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, email, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			active = excluded.active
	`, t.members)

	_, err = s.db.ExecContext(ctx, query,
		m.ID, m.Name, nullString(m.Email), m.Active, createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

// GetMember retrieves a member by ID.
func (s *Store) GetMember(ctx context.Context, pop contribution.Population, id contribution.MemberID) (*contribution.Member, error) {
	t, err := tablesFor(pop)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		m         = contribution.Member{Population: pop}
		email     sql.NullString
		createdAt string
	)
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, name, email, active, created_at FROM %s WHERE id = ?", t.members),
		id,
	).Scan(&m.ID, &m.Name, &email, &m.Active, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, contribution.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	m.Email = email.String
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

// ListMembers returns every member of a population, active or not.
func (s *Store) ListMembers(ctx context.Context, pop contribution.Population) ([]contribution.Member, error) {
	return s.queryMembers(ctx, pop, false)
}

// ListActiveMembers returns the active members of a population.
func (s *Store) ListActiveMembers(ctx context.Context, pop contribution.Population) ([]contribution.Member, error) {
	return s.queryMembers(ctx, pop, true)
}

func (s *Store) queryMembers(ctx context.Context, pop contribution.Population, activeOnly bool) ([]contribution.Member, error) {
	t, err := tablesFor(pop)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf("SELECT id, name, email, active, created_at FROM %s", t.members)
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []contribution.Member
	for rows.Next() {
		var (
			m         = contribution.Member{Population: pop}
			email     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.Name, &email, &m.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Email = email.String
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// SetMemberActive activates or deactivates a member.
func (s *Store) SetMemberActive(ctx context.Context, pop contribution.Population, id contribution.MemberID, active bool) error {
	t, err := tablesFor(pop)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET active = ? WHERE id = ?", t.members),
		active, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contribution.ErrMemberNotFound
	}
	return nil
}

// =============================================================================
// CONTRIBUTION RECORDS (contribution.RecordStore)
// =============================================================================

// CountRecords returns the number of records of a population for a period.
func (s *Store) CountRecords(ctx context.Context, pop contribution.Population, period contribution.Period) (int, error) {
	t, err := tablesFor(pop)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE period = ?", t.contributions),
		period.KeyString(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count contributions: %w", err)
	}
	return count, nil
}

// InsertRecords adds multiple records atomically.
func (s *Store) InsertRecords(ctx context.Context, records []contribution.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, r := range records {
		if err := s.insertRecord(ctx, sqlTx, r); err != nil {
			return err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contributions: %w", err)
	}
	return nil
}

func (s *Store) insertRecord(ctx context.Context, db execer, r contribution.Record) error {
	t, err := tablesFor(r.Population)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, member_id, period, amount_due, amount_paid, penalty_amount, status, created_at, paid_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.contributions)

	_, err = db.ExecContext(ctx, query,
		r.ID,
		r.MemberID,
		r.Period.KeyString(),
		r.AmountDue.String(),
		r.AmountPaid.String(),
		r.PenaltyAmount.String(),
		r.Status,
		r.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(r.PaidAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: member %s, period %s", contribution.ErrDuplicateRecord, r.MemberID, r.Period)
		}
		return fmt.Errorf("failed to insert contribution: %w", err)
	}
	return nil
}

const recordColumns = `c.id, c.member_id, COALESCE(m.name, ''), c.period, c.amount_due, c.amount_paid,
	c.penalty_amount, c.status, c.created_at, c.paid_at`

// ListRecords returns the records of a population for a period, by member name.
func (s *Store) ListRecords(ctx context.Context, pop contribution.Population, period contribution.Period) ([]contribution.Record, error) {
	t, err := tablesFor(pop)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s c LEFT JOIN %s m ON m.id = c.member_id
		WHERE c.period = ?
		ORDER BY m.name, c.member_id
	`, recordColumns, t.contributions, t.members)

	rows, err := s.db.QueryContext(ctx, query, period.KeyString())
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	var records []contribution.Record
	for rows.Next() {
		r, err := scanRecord(rows, pop)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetRecord retrieves one record by ID.
func (s *Store) GetRecord(ctx context.Context, pop contribution.Population, id contribution.RecordID) (*contribution.Record, error) {
	t, err := tablesFor(pop)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return getRecord(ctx, s.db, pop, t, id)
}

func getRecord(ctx context.Context, db querier, pop contribution.Population, t tables, id contribution.RecordID) (*contribution.Record, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s c LEFT JOIN %s m ON m.id = c.member_id
		WHERE c.id = ?
	`, recordColumns, t.contributions, t.members)

	r, err := scanRecord(db.QueryRowContext(ctx, query, id), pop)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contribution.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, pop contribution.Population) (contribution.Record, error) {
	var (
		r                          = contribution.Record{Population: pop}
		period, createdAt          string
		amountDue, amountPaid, pen string
		paidAt                     sql.NullString
	)

	err := row.Scan(&r.ID, &r.MemberID, &r.MemberName, &period,
		&amountDue, &amountPaid, &pen, &r.Status, &createdAt, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, err
	}
	if err != nil {
		return r, fmt.Errorf("failed to scan contribution: %w", err)
	}

	r.Period, err = contribution.ParsePeriod(period)
	if err != nil {
		return r, err
	}
	r.AmountDue = parseDecimal(amountDue)
	r.AmountPaid = parseDecimal(amountPaid)
	r.PenaltyAmount = parseDecimal(pen)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if paidAt.Valid {
		t, _ := time.Parse(time.RFC3339, paidAt.String)
		r.PaidAt = &t
	}
	return r, nil
}

// =============================================================================
// PAYMENTS AND PENALTIES (disjoint write path, never used by generation)
// =============================================================================

// RecordPayment adds amount to what a member has paid for a record. The
// record becomes paid once the payments cover the amount due plus penalties.
func (s *Store) RecordPayment(ctx context.Context, pop contribution.Population, id contribution.RecordID, amount decimal.Decimal) (*contribution.Record, error) {
	return s.updateRecord(ctx, pop, id, amount, func(r *contribution.Record) {
		r.AmountPaid = r.AmountPaid.Add(amount)
		if r.Outstanding().IsZero() {
			now := time.Now().UTC()
			r.Status = contribution.StatusPaid
			r.PaidAt = &now
		}
	})
}

// ApplyPenalty adds a late-payment penalty to a pending record.
func (s *Store) ApplyPenalty(ctx context.Context, pop contribution.Population, id contribution.RecordID, amount decimal.Decimal) (*contribution.Record, error) {
	return s.updateRecord(ctx, pop, id, amount, func(r *contribution.Record) {
		r.PenaltyAmount = r.PenaltyAmount.Add(amount)
	})
}

func (s *Store) updateRecord(ctx context.Context, pop contribution.Population, id contribution.RecordID, amount decimal.Decimal, apply func(*contribution.Record)) (*contribution.Record, error) {
	if !amount.IsPositive() {
		return nil, contribution.ErrInvalidAmount
	}
	t, err := tablesFor(pop)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	r, err := getRecord(ctx, sqlTx, pop, t, id)
	if err != nil {
		return nil, err
	}
	if r.Status == contribution.StatusPaid {
		return nil, contribution.ErrAlreadySettled
	}

	apply(r)

	_, err = sqlTx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET amount_paid = ?, penalty_amount = ?, status = ?, paid_at = ? WHERE id = ?`, t.contributions),
		r.AmountPaid.String(), r.PenaltyAmount.String(), r.Status, nullTime(r.PaidAt), r.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update contribution: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit contribution update: %w", err)
	}
	return r, nil
}

// =============================================================================
// PERIOD SUMMARY
// =============================================================================

// Summary aggregates the records of one population and period.
type Summary struct {
	Population   contribution.Population
	Period       contribution.Period
	Records      int
	Pending      int
	Paid         int
	TotalDue     decimal.Decimal
	TotalPaid    decimal.Decimal
	TotalPenalty decimal.Decimal
	Outstanding  decimal.Decimal
}

// PeriodSummary computes the summary of a period. Amounts are summed as
// decimals in Go, since SQLite would sum the TEXT columns as floats.
func (s *Store) PeriodSummary(ctx context.Context, pop contribution.Population, period contribution.Period) (Summary, error) {
	records, err := s.ListRecords(ctx, pop, period)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{
		Population:   pop,
		Period:       period,
		Records:      len(records),
		TotalDue:     decimal.Zero,
		TotalPaid:    decimal.Zero,
		TotalPenalty: decimal.Zero,
		Outstanding:  decimal.Zero,
	}
	for _, r := range records {
		switch r.Status {
		case contribution.StatusPaid:
			sum.Paid++
		default:
			sum.Pending++
		}
		sum.TotalDue = sum.TotalDue.Add(r.AmountDue)
		sum.TotalPaid = sum.TotalPaid.Add(r.AmountPaid)
		sum.TotalPenalty = sum.TotalPenalty.Add(r.PenaltyAmount)
		sum.Outstanding = sum.Outstanding.Add(r.Outstanding())
	}
	return sum, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
