package call

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsession-backend/internal/domain"
	"callsession-backend/pkg/logger"
)

// publish fans an event out after a committed mutation. Delivery is best
// effort; a failure never fails the operation.
func (s *Service) publish(ctx context.Context, eventType domain.EventType, session *domain.CallSession, participant *domain.CallParticipant, actorID uuid.UUID) {
	event := &domain.CallEvent{
		Type:        eventType,
		RoomID:      session.RoomID,
		SessionID:   session.ID,
		UserID:      actorID,
		Session:     session,
		Participant: participant,
		OccurredAt:  s.now().UTC(),
	}

	if err := s.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		logger.FromContext(ctx).Warn("Failed to publish call event",
			zap.String("event", string(eventType)),
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	}
}
