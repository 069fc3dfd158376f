package call

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"callsession-backend/internal/domain"
	apperrors "callsession-backend/pkg/errors"
)

// ParticipantTracker owns membership rows of call sessions. It does not
// deduplicate: Add surfaces domain.ErrDuplicate and callers decide.
type ParticipantTracker struct {
	store ParticipantStore
	now   func() time.Time
}

// NewParticipantTracker creates a tracker over a participant store
func NewParticipantTracker(store ParticipantStore) *ParticipantTracker {
	return &ParticipantTracker{store: store, now: time.Now}
}

// Add inserts an active membership
func (t *ParticipantTracker) Add(ctx context.Context, sessionID, userID uuid.UUID, transportID uint32, flags domain.ParticipantFlags) (*domain.CallParticipant, error) {
	p := &domain.CallParticipant{
		ID:                uuid.New(),
		SessionID:         sessionID,
		UserID:            userID,
		TransportID:       transportID,
		ConnectionQuality: domain.ConnectionQualityUnknown,
		JoinedAt:          t.now().UTC(),
	}
	flags.Apply(p)

	if err := t.store.Create(ctx, p); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, err
		}
		return nil, apperrors.DependencyError("participant store", err)
	}
	return p, nil
}

// GetActive returns the active membership, or nil when there is none
func (t *ParticipantTracker) GetActive(ctx context.Context, sessionID, userID uuid.UUID) (*domain.CallParticipant, error) {
	p, err := t.store.GetActive(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.DependencyError("participant store", err)
	}
	return p, nil
}

// ListActive returns active memberships by join time
func (t *ParticipantTracker) ListActive(ctx context.Context, sessionID uuid.UUID) ([]*domain.CallParticipant, error) {
	participants, err := t.store.ListActive(ctx, sessionID)
	if err != nil {
		return nil, apperrors.DependencyError("participant store", err)
	}
	return participants, nil
}

// CountActive counts active memberships
func (t *ParticipantTracker) CountActive(ctx context.Context, sessionID uuid.UUID) (int, error) {
	n, err := t.store.CountActive(ctx, sessionID)
	if err != nil {
		return 0, apperrors.DependencyError("participant store", err)
	}
	return n, nil
}

// Update applies the set fields of flags to the active membership
func (t *ParticipantTracker) Update(ctx context.Context, sessionID, userID uuid.UUID, flags domain.ParticipantFlags) (*domain.CallParticipant, error) {
	if flags.Empty() {
		p, err := t.GetActive(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, apperrors.NotFoundError("Active participant")
		}
		return p, nil
	}

	p, err := t.store.UpdateFlags(ctx, sessionID, userID, flags)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.NotFoundError("Active participant")
		}
		return nil, apperrors.DependencyError("participant store", err)
	}
	return p, nil
}

// MarkLeft closes the user's active membership at leftAt
func (t *ParticipantTracker) MarkLeft(ctx context.Context, sessionID, userID uuid.UUID, leftAt time.Time) (*domain.CallParticipant, error) {
	p, err := t.GetActive(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.NotFoundError("Active participant")
	}
	return t.close(ctx, p, leftAt)
}

func (t *ParticipantTracker) close(ctx context.Context, p *domain.CallParticipant, leftAt time.Time) (*domain.CallParticipant, error) {
	closed, err := t.store.Close(ctx, p.ID, leftAt, domain.ElapsedSeconds(p.JoinedAt, leftAt))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.NotFoundError("Active participant")
		}
		return nil, apperrors.DependencyError("participant store", err)
	}
	return closed, nil
}

// latest returns the user's most recent row, active or not, or nil
func (t *ParticipantTracker) latest(ctx context.Context, sessionID, userID uuid.UUID) (*domain.CallParticipant, error) {
	p, err := t.store.GetLatest(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.DependencyError("participant store", err)
	}
	return p, nil
}
