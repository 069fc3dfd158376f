package call

import (
	"context"
	"time"

	"github.com/google/uuid"

	"callsession-backend/internal/domain"
	"callsession-backend/pkg/rtctoken"
)

// SessionStore is the durable store for call sessions. Create must return
// domain.ErrDuplicate when the room already has an active session, and
// MarkEnded must return domain.ErrNotFound when no active row matched.
// MarkEndedIfEmpty and DeleteIfEmpty decide emptiness in the same statement
// as the write: a session with an active participant is left untouched.
type SessionStore interface {
	Create(ctx context.Context, s *domain.CallSession) error
	GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error)
	GetActiveByRoom(ctx context.Context, roomID uuid.UUID) (*domain.CallSession, error)
	MarkEnded(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, durationSeconds int) (*domain.CallSession, error)
	MarkEndedIfEmpty(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, durationSeconds int) (*domain.CallSession, error)
	DeleteIfEmpty(ctx context.Context, sessionID uuid.UUID) (bool, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.CallSession, error)
}

// ParticipantStore is the durable store for call memberships. Create must
// return domain.ErrDuplicate when the user already has an active row.
type ParticipantStore interface {
	Create(ctx context.Context, p *domain.CallParticipant) error
	GetActive(ctx context.Context, sessionID, userID uuid.UUID) (*domain.CallParticipant, error)
	GetLatest(ctx context.Context, sessionID, userID uuid.UUID) (*domain.CallParticipant, error)
	ListActive(ctx context.Context, sessionID uuid.UUID) ([]*domain.CallParticipant, error)
	CountActive(ctx context.Context, sessionID uuid.UUID) (int, error)
	UpdateFlags(ctx context.Context, sessionID, userID uuid.UUID, flags domain.ParticipantFlags) (*domain.CallParticipant, error)
	Close(ctx context.Context, participantID uuid.UUID, leftAt time.Time, durationSeconds int) (*domain.CallParticipant, error)
}

// RoomDirectory answers room membership questions
type RoomDirectory interface {
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	IsAdmin(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
}

// CredentialIssuer mints channel names and transport credentials.
// *rtctoken.Issuer satisfies it.
type CredentialIssuer interface {
	Validate() error
	AppID() string
	ChannelName(roomID uuid.UUID, kind string) string
	IssueCredential(channel string, transportID uint32, role rtctoken.Role, ttl time.Duration) (*rtctoken.Credential, error)
}

// EventPublisher fans call events out to room subscribers
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.CallEvent) error
}

// Metrics records call lifecycle metrics. *metrics.Metrics satisfies it.
type Metrics interface {
	RecordCallStarted(kind string)
	RecordCallEnded(kind, reason string, duration time.Duration)
	RecordCallFailure(operation, code string)
	RecordParticipantEvent(kind, event string)
	RecordCredentialIssued(role string)
	RecordRaceResolved(operation string)
}

type noopMetrics struct{}

func (noopMetrics) RecordCallStarted(string)                      {}
func (noopMetrics) RecordCallEnded(string, string, time.Duration) {}
func (noopMetrics) RecordCallFailure(string, string)              {}
func (noopMetrics) RecordParticipantEvent(string, string)         {}
func (noopMetrics) RecordCredentialIssued(string)                 {}
func (noopMetrics) RecordRaceResolved(string)                     {}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, *domain.CallEvent) error { return nil }
