package call

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"callsession-backend/internal/domain"
)

// memDB is an in-memory store with the same uniqueness rules as the SQL
// schema: one active session per room and one active membership per
// (session, user).
type memDB struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]*domain.CallSession
	participants map[uuid.UUID]*memRow
	seq          int

	failParticipantCreate error
	markEndedCalls        int
}

type memRow struct {
	p   *domain.CallParticipant
	seq int
}

func newMemDB() *memDB {
	return &memDB{
		sessions:     make(map[uuid.UUID]*domain.CallSession),
		participants: make(map[uuid.UUID]*memRow),
	}
}

func cloneSession(s *domain.CallSession) *domain.CallSession {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.DurationSeconds != nil {
		d := *s.DurationSeconds
		c.DurationSeconds = &d
	}
	return &c
}

func cloneParticipant(p *domain.CallParticipant) *domain.CallParticipant {
	c := *p
	if p.LeftAt != nil {
		t := *p.LeftAt
		c.LeftAt = &t
	}
	if p.DurationSeconds != nil {
		d := *p.DurationSeconds
		c.DurationSeconds = &d
	}
	return &c
}

// snapshot returns deep copies of every row, for before/after comparisons
func (db *memDB) snapshot() (map[uuid.UUID]domain.CallSession, map[uuid.UUID]domain.CallParticipant) {
	db.mu.Lock()
	defer db.mu.Unlock()

	sessions := make(map[uuid.UUID]domain.CallSession, len(db.sessions))
	for id, s := range db.sessions {
		sessions[id] = *cloneSession(s)
	}
	participants := make(map[uuid.UUID]domain.CallParticipant, len(db.participants))
	for id, r := range db.participants {
		participants[id] = *cloneParticipant(r.p)
	}
	return sessions, participants
}

// rows returns every membership row of a user in a session, oldest first
func (db *memDB) rows(sessionID, userID uuid.UUID) []*domain.CallParticipant {
	db.mu.Lock()
	defer db.mu.Unlock()

	var found []*memRow
	for _, r := range db.participants {
		if r.p.SessionID == sessionID && r.p.UserID == userID {
			found = append(found, r)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	out := make([]*domain.CallParticipant, 0, len(found))
	for _, r := range found {
		out = append(out, cloneParticipant(r.p))
	}
	return out
}

func (db *memDB) activeSessionsInRoom(roomID uuid.UUID) int {
	db.mu.Lock()
	defer db.mu.Unlock()

	n := 0
	for _, s := range db.sessions {
		if s.RoomID == roomID && s.IsActive() {
			n++
		}
	}
	return n
}

// activeIn counts active rows of a session; callers hold mu
func (db *memDB) activeIn(sessionID uuid.UUID) int {
	n := 0
	for _, r := range db.participants {
		if r.p.SessionID == sessionID && r.p.IsActive() {
			n++
		}
	}
	return n
}

type memSessions struct{ db *memDB }

func (m memSessions) Create(_ context.Context, s *domain.CallSession) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	for _, existing := range m.db.sessions {
		if existing.RoomID == s.RoomID && existing.IsActive() {
			return fmt.Errorf("%w: call_sessions_one_active_per_room", domain.ErrDuplicate)
		}
	}
	m.db.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m memSessions) GetByID(_ context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	s, ok := m.db.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSession(s), nil
}

func (m memSessions) GetActiveByRoom(_ context.Context, roomID uuid.UUID) (*domain.CallSession, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	for _, s := range m.db.sessions {
		if s.RoomID == roomID && s.IsActive() {
			return cloneSession(s), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m memSessions) MarkEnded(_ context.Context, sessionID uuid.UUID, endedAt time.Time, durationSeconds int) (*domain.CallSession, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	s, ok := m.db.sessions[sessionID]
	if !ok || !s.IsActive() {
		return nil, domain.ErrNotFound
	}
	m.db.markEndedCalls++
	s.Status = domain.SessionStatusEnded
	s.EndedAt = &endedAt
	s.DurationSeconds = &durationSeconds
	return cloneSession(s), nil
}

func (m memSessions) MarkEndedIfEmpty(_ context.Context, sessionID uuid.UUID, endedAt time.Time, durationSeconds int) (*domain.CallSession, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	s, ok := m.db.sessions[sessionID]
	if !ok || !s.IsActive() || m.db.activeIn(sessionID) > 0 {
		return nil, domain.ErrNotFound
	}
	m.db.markEndedCalls++
	s.Status = domain.SessionStatusEnded
	s.EndedAt = &endedAt
	s.DurationSeconds = &durationSeconds
	return cloneSession(s), nil
}

func (m memSessions) DeleteIfEmpty(_ context.Context, sessionID uuid.UUID) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	if _, ok := m.db.sessions[sessionID]; !ok || m.db.activeIn(sessionID) > 0 {
		return false, nil
	}
	delete(m.db.sessions, sessionID)
	for id, r := range m.db.participants {
		if r.p.SessionID == sessionID {
			delete(m.db.participants, id)
		}
	}
	return true, nil
}

func (m memSessions) ListByRoom(_ context.Context, roomID uuid.UUID, limit int) ([]*domain.CallSession, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var out []*domain.CallSession
	for _, s := range m.db.sessions {
		if s.RoomID == roomID {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memParticipants struct{ db *memDB }

func (m memParticipants) Create(_ context.Context, p *domain.CallParticipant) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	if m.db.failParticipantCreate != nil {
		return m.db.failParticipantCreate
	}
	for _, r := range m.db.participants {
		if r.p.SessionID == p.SessionID && r.p.UserID == p.UserID && r.p.IsActive() {
			return fmt.Errorf("%w: call_participants_one_active_membership", domain.ErrDuplicate)
		}
	}
	m.db.seq++
	m.db.participants[p.ID] = &memRow{p: cloneParticipant(p), seq: m.db.seq}
	return nil
}

func (m memParticipants) find(sessionID, userID uuid.UUID, activeOnly bool) *memRow {
	var latest *memRow
	for _, r := range m.db.participants {
		if r.p.SessionID != sessionID || r.p.UserID != userID {
			continue
		}
		if activeOnly && !r.p.IsActive() {
			continue
		}
		if latest == nil || r.seq > latest.seq {
			latest = r
		}
	}
	return latest
}

func (m memParticipants) GetActive(_ context.Context, sessionID, userID uuid.UUID) (*domain.CallParticipant, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	r := m.find(sessionID, userID, true)
	if r == nil {
		return nil, domain.ErrNotFound
	}
	return cloneParticipant(r.p), nil
}

func (m memParticipants) GetLatest(_ context.Context, sessionID, userID uuid.UUID) (*domain.CallParticipant, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	r := m.find(sessionID, userID, false)
	if r == nil {
		return nil, domain.ErrNotFound
	}
	return cloneParticipant(r.p), nil
}

func (m memParticipants) ListActive(_ context.Context, sessionID uuid.UUID) ([]*domain.CallParticipant, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var rows []*memRow
	for _, r := range m.db.participants {
		if r.p.SessionID == sessionID && r.p.IsActive() {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	out := make([]*domain.CallParticipant, 0, len(rows))
	for _, r := range rows {
		out = append(out, cloneParticipant(r.p))
	}
	return out, nil
}

func (m memParticipants) CountActive(_ context.Context, sessionID uuid.UUID) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	return m.db.activeIn(sessionID), nil
}

func (m memParticipants) UpdateFlags(_ context.Context, sessionID, userID uuid.UUID, flags domain.ParticipantFlags) (*domain.CallParticipant, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	r := m.find(sessionID, userID, true)
	if r == nil {
		return nil, domain.ErrNotFound
	}
	flags.Apply(r.p)
	return cloneParticipant(r.p), nil
}

func (m memParticipants) Close(_ context.Context, participantID uuid.UUID, leftAt time.Time, durationSeconds int) (*domain.CallParticipant, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	r, ok := m.db.participants[participantID]
	if !ok || !r.p.IsActive() {
		return nil, domain.ErrNotFound
	}
	r.p.LeftAt = &leftAt
	r.p.DurationSeconds = &durationSeconds
	return cloneParticipant(r.p), nil
}

// hookedParticipants wraps memParticipants with callbacks that let a test
// interleave a second request at a precise point of the first.
type hookedParticipants struct {
	memParticipants

	// onEmpty runs once, the first time CountActive observes zero rows
	onEmpty func()
	fired   atomic.Bool

	// onCreate runs before every insert; a non-nil result fails the insert
	onCreate func(p *domain.CallParticipant) error
}

func (h *hookedParticipants) CountActive(ctx context.Context, sessionID uuid.UUID) (int, error) {
	n, err := h.memParticipants.CountActive(ctx, sessionID)
	if err == nil && n == 0 && h.onEmpty != nil && h.fired.CompareAndSwap(false, true) {
		h.onEmpty()
	}
	return n, err
}

func (h *hookedParticipants) Create(ctx context.Context, p *domain.CallParticipant) error {
	if h.onCreate != nil {
		if err := h.onCreate(p); err != nil {
			return err
		}
	}
	return h.memParticipants.Create(ctx, p)
}

// fakeDirectory is a static room directory
type fakeDirectory struct {
	mu      sync.RWMutex
	members map[uuid.UUID]map[uuid.UUID]bool
	admins  map[uuid.UUID]map[uuid.UUID]bool
	err     error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		members: make(map[uuid.UUID]map[uuid.UUID]bool),
		admins:  make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

func (d *fakeDirectory) addMember(roomID uuid.UUID, userIDs ...uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members[roomID] == nil {
		d.members[roomID] = make(map[uuid.UUID]bool)
	}
	for _, id := range userIDs {
		d.members[roomID][id] = true
	}
}

func (d *fakeDirectory) addAdmin(roomID, userID uuid.UUID) {
	d.addMember(roomID, userID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.admins[roomID] == nil {
		d.admins[roomID] = make(map[uuid.UUID]bool)
	}
	d.admins[roomID][userID] = true
}

func (d *fakeDirectory) IsMember(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.err != nil {
		return false, d.err
	}
	return d.members[roomID][userID], nil
}

func (d *fakeDirectory) IsAdmin(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.err != nil {
		return false, d.err
	}
	return d.admins[roomID][userID], nil
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.CallEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event *domain.CallEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// countingMetrics counts calls of interest
type countingMetrics struct {
	noopMetrics
	mu       sync.Mutex
	started  int
	ended    map[string]int
	failures map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{ended: map[string]int{}, failures: map[string]int{}}
}

func (m *countingMetrics) RecordCallStarted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *countingMetrics) RecordCallEnded(_, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended[reason]++
}

func (m *countingMetrics) RecordCallFailure(operation, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[operation+":"+code]++
}

func (m *countingMetrics) totalEnded() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.ended {
		n += v
	}
	return n
}
