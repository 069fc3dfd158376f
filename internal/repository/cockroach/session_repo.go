package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"callsession-backend/internal/domain"
)

const sessionColumns = `
	session_id, room_id, initiator_id, call_kind, status, channel_name, app_id,
	max_participants, recording_enabled, encryption_enabled,
	created_at, started_at, ended_at, duration_seconds`

// SessionRepository persists call sessions. The partial unique index
// call_sessions_one_active_per_room makes Create the arbiter between
// concurrent initiators.
type SessionRepository struct {
	pool    DBTX
	metrics QueryRecorder
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool DBTX, rec QueryRecorder) *SessionRepository {
	return &SessionRepository{pool: pool, metrics: rec}
}

// Create inserts a new session. Returns domain.ErrDuplicate when the room
// already has an active session.
func (r *SessionRepository) Create(ctx context.Context, s *domain.CallSession) (err error) {
	defer func(start time.Time) { observe(r.metrics, "insert", "call_sessions", start, err) }(time.Now())

	query := `
		INSERT INTO call_sessions (
			session_id, room_id, initiator_id, call_kind, status, channel_name, app_id,
			max_participants, recording_enabled, encryption_enabled, created_at, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.pool.Exec(ctx, query,
		s.ID,
		s.RoomID,
		s.InitiatorID,
		string(s.Kind),
		string(s.Status),
		s.ChannelName,
		s.AppID,
		s.MaxParticipants,
		s.RecordingEnabled,
		s.EncryptionEnabled,
		s.CreatedAt,
		s.StartedAt,
	)
	if err != nil {
		err = translateError(err)
		return fmt.Errorf("failed to create call session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (s *domain.CallSession, err error) {
	defer func(start time.Time) { observe(r.metrics, "get", "call_sessions", start, err) }(time.Now())

	query := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE session_id = $1`

	s, err = scanSession(r.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}
	return s, nil
}

// GetActiveByRoom retrieves the active session of a room, if any
func (r *SessionRepository) GetActiveByRoom(ctx context.Context, roomID uuid.UUID) (s *domain.CallSession, err error) {
	defer func(start time.Time) { observe(r.metrics, "get_active", "call_sessions", start, err) }(time.Now())

	query := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE room_id = $1 AND status = 'active'`

	s, err = scanSession(r.pool.QueryRow(ctx, query, roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to get active call session: %w", err)
	}
	return s, nil
}

// MarkEnded transitions an active session to ended. Returns
// domain.ErrNotFound when no active row matched (already ended or absent).
func (r *SessionRepository) MarkEnded(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, durationSeconds int) (s *domain.CallSession, err error) {
	defer func(start time.Time) { observe(r.metrics, "end", "call_sessions", start, err) }(time.Now())

	query := `
		UPDATE call_sessions
		SET status = 'ended', ended_at = $2, duration_seconds = $3
		WHERE session_id = $1 AND status = 'active'
		RETURNING ` + sessionColumns

	s, err = scanSession(r.pool.QueryRow(ctx, query, sessionID, endedAt, durationSeconds))
	if err != nil {
		return nil, fmt.Errorf("failed to end call session: %w", err)
	}
	return s, nil
}

// MarkEndedIfEmpty is MarkEnded guarded by the absence of active
// participants, evaluated in the same statement. Returns domain.ErrNotFound
// when the session is not active or someone is still in it.
func (r *SessionRepository) MarkEndedIfEmpty(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, durationSeconds int) (s *domain.CallSession, err error) {
	defer func(start time.Time) { observe(r.metrics, "end_if_empty", "call_sessions", start, err) }(time.Now())

	query := `
		UPDATE call_sessions
		SET status = 'ended', ended_at = $2, duration_seconds = $3
		WHERE session_id = $1 AND status = 'active'
			AND NOT EXISTS (
				SELECT 1 FROM call_participants
				WHERE session_id = $1 AND left_at IS NULL
			)
		RETURNING ` + sessionColumns

	s, err = scanSession(r.pool.QueryRow(ctx, query, sessionID, endedAt, durationSeconds))
	if err != nil {
		return nil, fmt.Errorf("failed to end empty call session: %w", err)
	}
	return s, nil
}

// DeleteIfEmpty removes a session and, by cascade, its closed
// participants. A session with an active participant is kept and deleted
// is false.
func (r *SessionRepository) DeleteIfEmpty(ctx context.Context, sessionID uuid.UUID) (deleted bool, err error) {
	defer func(start time.Time) { observe(r.metrics, "delete", "call_sessions", start, err) }(time.Now())

	query := `
		DELETE FROM call_sessions
		WHERE session_id = $1
			AND NOT EXISTS (
				SELECT 1 FROM call_participants
				WHERE session_id = $1 AND left_at IS NULL
			)`

	tag, err := r.pool.Exec(ctx, query, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete call session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByRoom returns a room's sessions, most recent first
func (r *SessionRepository) ListByRoom(ctx context.Context, roomID uuid.UUID, limit int) (sessions []*domain.CallSession, err error) {
	defer func(start time.Time) { observe(r.metrics, "list", "call_sessions", start, err) }(time.Now())

	query := `SELECT ` + sessionColumns + `
		FROM call_sessions
		WHERE room_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list call sessions: %w", err)
	}
	defer rows.Close()

	sessions = make([]*domain.CallSession, 0, limit)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list call sessions: %w", err)
	}

	return sessions, nil
}

func scanSession(row pgx.Row) (*domain.CallSession, error) {
	var (
		s      domain.CallSession
		kind   string
		status string
	)
	err := row.Scan(
		&s.ID,
		&s.RoomID,
		&s.InitiatorID,
		&kind,
		&status,
		&s.ChannelName,
		&s.AppID,
		&s.MaxParticipants,
		&s.RecordingEnabled,
		&s.EncryptionEnabled,
		&s.CreatedAt,
		&s.StartedAt,
		&s.EndedAt,
		&s.DurationSeconds,
	)
	if err != nil {
		return nil, translateError(err)
	}
	s.Kind = domain.CallKind(kind)
	s.Status = domain.SessionStatus(status)
	return &s, nil
}
