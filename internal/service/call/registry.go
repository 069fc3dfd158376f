package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"callsession-backend/internal/domain"
	apperrors "callsession-backend/pkg/errors"
)

// maxCreateAttempts bounds CreateIfAbsent when the winning session ends
// before the loser can read it back.
const maxCreateAttempts = 3

// SessionSpec describes a session to create
type SessionSpec struct {
	Kind              domain.CallKind
	InitiatorID       uuid.UUID
	ChannelName       string
	AppID             string
	MaxParticipants   int
	RecordingEnabled  bool
	EncryptionEnabled bool
}

// SessionRegistry owns creation, lookup and termination of sessions. The
// store's unique index on active sessions per room decides concurrent
// creates; a duplicate insert means another caller won.
type SessionRegistry struct {
	store   SessionStore
	metrics Metrics
	now     func() time.Time
}

// NewSessionRegistry creates a registry over a session store
func NewSessionRegistry(store SessionStore, m Metrics) *SessionRegistry {
	if m == nil {
		m = noopMetrics{}
	}
	return &SessionRegistry{store: store, metrics: m, now: time.Now}
}

// CreateIfAbsent creates an active session for roomID unless one exists.
// created is true only for the caller whose insert won.
func (r *SessionRegistry) CreateIfAbsent(ctx context.Context, roomID uuid.UUID, spec SessionSpec) (session *domain.CallSession, created bool, err error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		now := r.now().UTC()
		s := &domain.CallSession{
			ID:                uuid.New(),
			RoomID:            roomID,
			InitiatorID:       spec.InitiatorID,
			Kind:              spec.Kind,
			Status:            domain.SessionStatusActive,
			ChannelName:       spec.ChannelName,
			AppID:             spec.AppID,
			MaxParticipants:   spec.MaxParticipants,
			RecordingEnabled:  spec.RecordingEnabled,
			EncryptionEnabled: spec.EncryptionEnabled,
			CreatedAt:         now,
			StartedAt:         now,
		}

		err := r.store.Create(ctx, s)
		if err == nil {
			return s, true, nil
		}
		if !errors.Is(err, domain.ErrDuplicate) {
			return nil, false, apperrors.DependencyError("session store", err)
		}

		winner, err := r.GetActiveByRoom(ctx, roomID)
		if err != nil {
			return nil, false, err
		}
		if winner != nil {
			r.metrics.RecordRaceResolved("create_session")
			return winner, false, nil
		}
	}

	return nil, false, apperrors.DependencyError("session store",
		fmt.Errorf("room %s: active session changed during %d create attempts", roomID, maxCreateAttempts))
}

// GetByID returns a session, or nil when it does not exist
func (r *SessionRegistry) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	s, err := r.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.DependencyError("session store", err)
	}
	return s, nil
}

// GetActiveByRoom returns the room's active session, or nil
func (r *SessionRegistry) GetActiveByRoom(ctx context.Context, roomID uuid.UUID) (*domain.CallSession, error) {
	s, err := r.store.GetActiveByRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.DependencyError("session store", err)
	}
	return s, nil
}

// End marks a session ended at endedAt. Ending an ended session returns
// the stored record unchanged; transitioned reports whether this call did
// the transition. Duration is measured from the loaded StartedAt.
func (r *SessionRegistry) End(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) (session *domain.CallSession, transitioned bool, err error) {
	return r.end(ctx, sessionID, endedAt, r.store.MarkEnded)
}

// EndIfEmpty is End for the last-leaver path. The store only ends the
// session when it has no active participant, so a user who joined after
// the leaver counted zero keeps the call alive; the still-active session
// is returned with transitioned false.
func (r *SessionRegistry) EndIfEmpty(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) (session *domain.CallSession, transitioned bool, err error) {
	return r.end(ctx, sessionID, endedAt, r.store.MarkEndedIfEmpty)
}

type markEndedFunc func(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, durationSeconds int) (*domain.CallSession, error)

func (r *SessionRegistry) end(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, markEnded markEndedFunc) (*domain.CallSession, bool, error) {
	s, err := r.GetByID(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if s == nil {
		return nil, false, apperrors.NotFoundError("Call")
	}
	if !s.IsActive() {
		return s, false, nil
	}

	ended, err := markEnded(ctx, sessionID, endedAt, domain.ElapsedSeconds(s.StartedAt, endedAt))
	if err == nil {
		return ended, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, apperrors.DependencyError("session store", err)
	}

	// No row matched: someone else ended it between our read and update,
	// or, for EndIfEmpty, someone joined.
	s, err = r.GetByID(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if s == nil {
		return nil, false, apperrors.NotFoundError("Call")
	}
	if s.IsActive() {
		r.metrics.RecordRaceResolved("end_rejoined")
	} else {
		r.metrics.RecordRaceResolved("end_session")
	}
	return s, false, nil
}

// DeleteIfEmpty removes a session that has no active participant. Used to
// compensate a failed initiate; deleted is false when someone joined the
// session in the meantime and it was kept.
func (r *SessionRegistry) DeleteIfEmpty(ctx context.Context, sessionID uuid.UUID) (deleted bool, err error) {
	deleted, err = r.store.DeleteIfEmpty(ctx, sessionID)
	if err != nil {
		return false, apperrors.DependencyError("session store", err)
	}
	return deleted, nil
}

// HistoryByRoom returns up to limit sessions of a room, newest first
func (r *SessionRegistry) HistoryByRoom(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.CallSession, error) {
	sessions, err := r.store.ListByRoom(ctx, roomID, limit)
	if err != nil {
		return nil, apperrors.DependencyError("session store", err)
	}
	return sessions, nil
}
