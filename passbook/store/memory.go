// Package store provides an in-memory Store implementation for tests and
// development. The SQLite implementation at the module root is the
// production store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/chitworks/passbook-engine/passbook"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	members     map[passbook.MemberID]passbook.Member
	schemes     map[passbook.SchemeID]passbook.Scheme
	enrollments map[passbook.EnrollmentID]passbook.Enrollment
	versions    map[passbook.EnrollmentID][]passbook.ScheduleVersion
	entries     map[passbook.EnrollmentID][]passbook.LedgerEntry
	entryIndex  map[passbook.EntryID]passbook.EnrollmentID
}

func NewMemory() *Memory {
	return &Memory{
		members:     make(map[passbook.MemberID]passbook.Member),
		schemes:     make(map[passbook.SchemeID]passbook.Scheme),
		enrollments: make(map[passbook.EnrollmentID]passbook.Enrollment),
		versions:    make(map[passbook.EnrollmentID][]passbook.ScheduleVersion),
		entries:     make(map[passbook.EnrollmentID][]passbook.LedgerEntry),
		entryIndex:  make(map[passbook.EntryID]passbook.EnrollmentID),
	}
}

// -----------------------------------------------------------------------------
// EntryStore
// -----------------------------------------------------------------------------

func (m *Memory) AppendEntry(_ context.Context, entry passbook.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(entry)
}

func (m *Memory) appendEntryLocked(entry passbook.LedgerEntry) error {
	list := m.entries[entry.EnrollmentID]

	// Binary search keeps the slice ordered by date ascending.
	i := sort.Search(len(list), func(i int) bool {
		return list[i].Date.After(entry.Date)
	})
	list = append(list, passbook.LedgerEntry{})
	copy(list[i+1:], list[i:])
	list[i] = entry

	m.entries[entry.EnrollmentID] = list
	m.entryIndex[entry.ID] = entry.EnrollmentID
	return nil
}

func (m *Memory) GetEntry(_ context.Context, id passbook.EntryID) (*passbook.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEntryLocked(id)
}

func (m *Memory) getEntryLocked(id passbook.EntryID) (*passbook.LedgerEntry, error) {
	enrollmentID, ok := m.entryIndex[id]
	if !ok {
		return nil, passbook.ErrEntryNotFound
	}
	for _, e := range m.entries[enrollmentID] {
		if e.ID == id {
			entry := e
			return &entry, nil
		}
	}
	return nil, passbook.ErrEntryNotFound
}

func (m *Memory) UpdateEntry(_ context.Context, entry passbook.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateEntryLocked(entry)
}

func (m *Memory) updateEntryLocked(entry passbook.LedgerEntry) error {
	enrollmentID, ok := m.entryIndex[entry.ID]
	if !ok {
		return passbook.ErrEntryNotFound
	}
	list := m.entries[enrollmentID]
	for i, e := range list {
		if e.ID == entry.ID {
			list = append(list[:i], list[i+1:]...)
			m.entries[enrollmentID] = list
			return m.appendEntryLocked(entry) // re-insert to keep date order
		}
	}
	return passbook.ErrEntryNotFound
}

func (m *Memory) RemoveEntry(_ context.Context, id passbook.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeEntryLocked(id)
}

func (m *Memory) removeEntryLocked(id passbook.EntryID) error {
	enrollmentID, ok := m.entryIndex[id]
	if !ok {
		return passbook.ErrEntryNotFound
	}
	list := m.entries[enrollmentID]
	for i, e := range list {
		if e.ID == id {
			m.entries[enrollmentID] = append(list[:i], list[i+1:]...)
			delete(m.entryIndex, id)
			return nil
		}
	}
	return passbook.ErrEntryNotFound
}

func (m *Memory) ListEntries(_ context.Context, enrollmentID passbook.EnrollmentID, filter passbook.EntryFilter) ([]passbook.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []passbook.LedgerEntry
	for _, e := range m.entries[enrollmentID] {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	return result, nil
}

// -----------------------------------------------------------------------------
// ScheduleStore
// -----------------------------------------------------------------------------

func (m *Memory) AppendVersion(_ context.Context, version passbook.ScheduleVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendVersionLocked(version)
}

func (m *Memory) appendVersionLocked(version passbook.ScheduleVersion) error {
	list := m.versions[version.EnrollmentID]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].EffectiveFrom.After(version.EffectiveFrom)
	})
	list = append(list, passbook.ScheduleVersion{})
	copy(list[i+1:], list[i:])
	list[i] = version
	m.versions[version.EnrollmentID] = list
	return nil
}

func (m *Memory) ListVersions(_ context.Context, enrollmentID passbook.EnrollmentID) ([]passbook.ScheduleVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]passbook.ScheduleVersion, len(m.versions[enrollmentID]))
	copy(result, m.versions[enrollmentID])
	return result, nil
}

// -----------------------------------------------------------------------------
// EnrollmentStore
// -----------------------------------------------------------------------------

func (m *Memory) GetEnrollment(_ context.Context, id passbook.EnrollmentID) (*passbook.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	enrollment, ok := m.enrollments[id]
	if !ok {
		return nil, passbook.ErrEnrollmentNotFound
	}
	return &enrollment, nil
}

func (m *Memory) ListActiveEnrollments(_ context.Context) ([]passbook.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []passbook.Enrollment
	for _, e := range m.enrollments {
		if e.Status == passbook.StatusActive {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveEnrollment(_ context.Context, enrollment passbook.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[enrollment.ID] = enrollment
	return nil
}

func (m *Memory) UpdateEnrollmentStatus(_ context.Context, id passbook.EnrollmentID, status passbook.EnrollmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	enrollment, ok := m.enrollments[id]
	if !ok {
		return passbook.ErrEnrollmentNotFound
	}
	enrollment.Status = status
	m.enrollments[id] = enrollment
	return nil
}

// -----------------------------------------------------------------------------
// SchemeStore / MemberStore
// -----------------------------------------------------------------------------

func (m *Memory) GetScheme(_ context.Context, id passbook.SchemeID) (*passbook.Scheme, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scheme, ok := m.schemes[id]
	if !ok {
		return nil, passbook.ErrSchemeNotFound
	}
	return &scheme, nil
}

func (m *Memory) ListSchemes(_ context.Context) ([]passbook.Scheme, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []passbook.Scheme
	for _, s := range m.schemes {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveScheme(_ context.Context, scheme passbook.Scheme) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemes[scheme.ID] = scheme
	return nil
}

func (m *Memory) GetMember(_ context.Context, id passbook.MemberID) (*passbook.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[id]
	if !ok {
		return nil, passbook.ErrMemberNotFound
	}
	return &member, nil
}

func (m *Memory) ListMembers(_ context.Context) ([]passbook.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []passbook.Member
	for _, member := range m.members {
		result = append(result, member)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveMember(_ context.Context, member passbook.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.ID] = member
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a snapshot
// and rollback on error.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(_ context.Context, fn func(passbook.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	enrollments map[passbook.EnrollmentID]passbook.Enrollment
	versions    map[passbook.EnrollmentID][]passbook.ScheduleVersion
	entries     map[passbook.EnrollmentID][]passbook.LedgerEntry
	entryIndex  map[passbook.EntryID]passbook.EnrollmentID
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		enrollments: make(map[passbook.EnrollmentID]passbook.Enrollment, len(tm.enrollments)),
		versions:    make(map[passbook.EnrollmentID][]passbook.ScheduleVersion, len(tm.versions)),
		entries:     make(map[passbook.EnrollmentID][]passbook.LedgerEntry, len(tm.entries)),
		entryIndex:  make(map[passbook.EntryID]passbook.EnrollmentID, len(tm.entryIndex)),
	}
	for k, v := range tm.enrollments {
		s.enrollments[k] = v
	}
	for k, v := range tm.versions {
		s.versions[k] = append([]passbook.ScheduleVersion{}, v...)
	}
	for k, v := range tm.entries {
		s.entries[k] = append([]passbook.LedgerEntry{}, v...)
	}
	for k, v := range tm.entryIndex {
		s.entryIndex[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.enrollments = s.enrollments
	tm.versions = s.versions
	tm.entries = s.entries
	tm.entryIndex = s.entryIndex
}

// txMemoryView accesses the parent without re-locking; the parent mutex is
// held for the whole transaction.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) AppendEntry(_ context.Context, entry passbook.LedgerEntry) error {
	return tv.parent.appendEntryLocked(entry)
}

func (tv *txMemoryView) GetEntry(_ context.Context, id passbook.EntryID) (*passbook.LedgerEntry, error) {
	return tv.parent.getEntryLocked(id)
}

func (tv *txMemoryView) UpdateEntry(_ context.Context, entry passbook.LedgerEntry) error {
	return tv.parent.updateEntryLocked(entry)
}

func (tv *txMemoryView) RemoveEntry(_ context.Context, id passbook.EntryID) error {
	return tv.parent.removeEntryLocked(id)
}

func (tv *txMemoryView) ListEntries(_ context.Context, enrollmentID passbook.EnrollmentID, filter passbook.EntryFilter) ([]passbook.LedgerEntry, error) {
	var result []passbook.LedgerEntry
	for _, e := range tv.parent.entries[enrollmentID] {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (tv *txMemoryView) AppendVersion(_ context.Context, version passbook.ScheduleVersion) error {
	return tv.parent.appendVersionLocked(version)
}

func (tv *txMemoryView) ListVersions(_ context.Context, enrollmentID passbook.EnrollmentID) ([]passbook.ScheduleVersion, error) {
	return append([]passbook.ScheduleVersion{}, tv.parent.versions[enrollmentID]...), nil
}

func (tv *txMemoryView) GetEnrollment(_ context.Context, id passbook.EnrollmentID) (*passbook.Enrollment, error) {
	enrollment, ok := tv.parent.enrollments[id]
	if !ok {
		return nil, passbook.ErrEnrollmentNotFound
	}
	return &enrollment, nil
}

func (tv *txMemoryView) ListActiveEnrollments(_ context.Context) ([]passbook.Enrollment, error) {
	var result []passbook.Enrollment
	for _, e := range tv.parent.enrollments {
		if e.Status == passbook.StatusActive {
			result = append(result, e)
		}
	}
	return result, nil
}

func (tv *txMemoryView) SaveEnrollment(_ context.Context, enrollment passbook.Enrollment) error {
	tv.parent.enrollments[enrollment.ID] = enrollment
	return nil
}

func (tv *txMemoryView) UpdateEnrollmentStatus(_ context.Context, id passbook.EnrollmentID, status passbook.EnrollmentStatus) error {
	enrollment, ok := tv.parent.enrollments[id]
	if !ok {
		return passbook.ErrEnrollmentNotFound
	}
	enrollment.Status = status
	tv.parent.enrollments[id] = enrollment
	return nil
}

func (tv *txMemoryView) GetScheme(_ context.Context, id passbook.SchemeID) (*passbook.Scheme, error) {
	scheme, ok := tv.parent.schemes[id]
	if !ok {
		return nil, passbook.ErrSchemeNotFound
	}
	return &scheme, nil
}

func (tv *txMemoryView) ListSchemes(_ context.Context) ([]passbook.Scheme, error) {
	var result []passbook.Scheme
	for _, s := range tv.parent.schemes {
		result = append(result, s)
	}
	return result, nil
}

func (tv *txMemoryView) SaveScheme(_ context.Context, scheme passbook.Scheme) error {
	tv.parent.schemes[scheme.ID] = scheme
	return nil
}

func (tv *txMemoryView) GetMember(_ context.Context, id passbook.MemberID) (*passbook.Member, error) {
	member, ok := tv.parent.members[id]
	if !ok {
		return nil, passbook.ErrMemberNotFound
	}
	return &member, nil
}

func (tv *txMemoryView) ListMembers(_ context.Context) ([]passbook.Member, error) {
	var result []passbook.Member
	for _, member := range tv.parent.members {
		result = append(result, member)
	}
	return result, nil
}

func (tv *txMemoryView) SaveMember(_ context.Context, member passbook.Member) error {
	tv.parent.members[member.ID] = member
	return nil
}
