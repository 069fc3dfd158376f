package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"callsession-backend/internal/domain"
)

// MockSessionStore is a mock implementation of SessionStore
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Create(ctx context.Context, s *domain.CallSession) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockSessionStore) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionStore) GetActiveByRoom(ctx context.Context, roomID uuid.UUID) (*domain.CallSession, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionStore) MarkEnded(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, durationSeconds int) (*domain.CallSession, error) {
	args := m.Called(ctx, sessionID, endedAt, durationSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionStore) MarkEndedIfEmpty(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, durationSeconds int) (*domain.CallSession, error) {
	args := m.Called(ctx, sessionID, endedAt, durationSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionStore) DeleteIfEmpty(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockSessionStore) ListByRoom(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.CallSession, error) {
	args := m.Called(ctx, roomID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallSession), args.Error(1)
}

// MockParticipantStore is a mock implementation of ParticipantStore
type MockParticipantStore struct {
	mock.Mock
}

func (m *MockParticipantStore) Create(ctx context.Context, p *domain.CallParticipant) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockParticipantStore) GetActive(ctx context.Context, sessionID, userID uuid.UUID) (*domain.CallParticipant, error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallParticipant), args.Error(1)
}

func (m *MockParticipantStore) GetLatest(ctx context.Context, sessionID, userID uuid.UUID) (*domain.CallParticipant, error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallParticipant), args.Error(1)
}

func (m *MockParticipantStore) ListActive(ctx context.Context, sessionID uuid.UUID) ([]*domain.CallParticipant, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallParticipant), args.Error(1)
}

func (m *MockParticipantStore) CountActive(ctx context.Context, sessionID uuid.UUID) (int, error) {
	args := m.Called(ctx, sessionID)
	return args.Int(0), args.Error(1)
}

func (m *MockParticipantStore) UpdateFlags(ctx context.Context, sessionID, userID uuid.UUID, flags domain.ParticipantFlags) (*domain.CallParticipant, error) {
	args := m.Called(ctx, sessionID, userID, flags)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallParticipant), args.Error(1)
}

func (m *MockParticipantStore) Close(ctx context.Context, participantID uuid.UUID, leftAt time.Time, durationSeconds int) (*domain.CallParticipant, error) {
	args := m.Called(ctx, participantID, leftAt, durationSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallParticipant), args.Error(1)
}

// MockRoomDirectory is a mock implementation of RoomDirectory
type MockRoomDirectory struct {
	mock.Mock
}

func (m *MockRoomDirectory) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRoomDirectory) IsAdmin(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}
