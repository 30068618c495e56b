// Package memory provides an in-memory member directory and contribution
// store, for tests and local development.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/warp/club-ledger/contribution"
)

// ErrInjectedFault is returned by operations configured to fail.
var ErrInjectedFault = errors.New("injected storage fault")

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	members map[contribution.Population]map[contribution.MemberID]contribution.Member
	records map[contribution.Population][]contribution.Record

	failCount       error
	failDirectory   error
	failInsertAfter int // -1 = never
}

type recordKey struct {
	pop    contribution.Population
	member contribution.MemberID
	period string
}

func NewMemory() *Memory {
	return &Memory{
		members:         make(map[contribution.Population]map[contribution.MemberID]contribution.Member),
		records:         make(map[contribution.Population][]contribution.Record),
		failInsertAfter: -1,
	}
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// FailInsertAfter makes the next InsertRecords calls fail after n records
// of the batch have been staged. Pass -1 to disable.
func (m *Memory) FailInsertAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failInsertAfter = n
}

// FailCount makes CountRecords return err (nil to disable).
func (m *Memory) FailCount(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCount = err
}

// FailDirectory makes ListActiveMembers return err (nil to disable).
func (m *Memory) FailDirectory(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDirectory = err
}

// =============================================================================
// DIRECTORY
// =============================================================================

// SaveMember inserts or replaces a member.
func (m *Memory) SaveMember(_ context.Context, member contribution.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[member.Population]
	if !ok {
		set = make(map[contribution.MemberID]contribution.Member)
		m.members[member.Population] = set
	}
	set[member.ID] = member
	return nil
}

// SetMemberActive toggles the active flag of a member.
func (m *Memory) SetMemberActive(_ context.Context, pop contribution.Population, id contribution.MemberID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, ok := m.members[pop][id]
	if !ok {
		return contribution.ErrMemberNotFound
	}
	member.Active = active
	m.members[pop][id] = member
	return nil
}

func (m *Memory) ListActiveMembers(_ context.Context, pop contribution.Population) ([]contribution.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failDirectory != nil {
		return nil, m.failDirectory
	}

	var active []contribution.Member
	for _, member := range m.members[pop] {
		if member.Active {
			active = append(active, member)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return active, nil
}

// =============================================================================
// RECORD STORE
// =============================================================================

func (m *Memory) CountRecords(_ context.Context, pop contribution.Population, period contribution.Period) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failCount != nil {
		return 0, m.failCount
	}

	count := 0
	for _, r := range m.records[pop] {
		if r.Period.Equal(period) {
			count++
		}
	}
	return count, nil
}

// InsertRecords stages the whole batch before publishing it, so a fault
// leaves the store untouched.
func (m *Memory) InsertRecords(_ context.Context, records []contribution.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[recordKey]bool)
	for pop, recs := range m.records {
		for _, r := range recs {
			existing[recordKey{pop: pop, member: r.MemberID, period: r.Period.KeyString()}] = true
		}
	}

	staged := make(map[contribution.Population][]contribution.Record)
	for i, r := range records {
		if m.failInsertAfter >= 0 && i >= m.failInsertAfter {
			return ErrInjectedFault
		}
		k := recordKey{pop: r.Population, member: r.MemberID, period: r.Period.KeyString()}
		if existing[k] {
			return contribution.ErrDuplicateRecord
		}
		existing[k] = true
		staged[r.Population] = append(staged[r.Population], r)
	}

	for pop, recs := range staged {
		m.records[pop] = append(m.records[pop], recs...)
	}
	return nil
}

// Records returns a copy of the stored records of a population.
func (m *Memory) Records(pop contribution.Population) []contribution.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]contribution.Record, len(m.records[pop]))
	copy(out, m.records[pop])
	return out
}
