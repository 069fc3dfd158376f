package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"callsession-backend/internal/domain"
)

const participantColumns = `
	participant_id, session_id, user_id, transport_id,
	is_muted, is_video_enabled, is_screen_sharing, connection_quality,
	joined_at, left_at, duration_seconds`

// ParticipantRepository persists call memberships. The partial unique index
// call_participants_one_active_membership rejects a second active row for
// the same (session, user).
type ParticipantRepository struct {
	pool    DBTX
	metrics QueryRecorder
}

// NewParticipantRepository creates a new participant repository
func NewParticipantRepository(pool DBTX, rec QueryRecorder) *ParticipantRepository {
	return &ParticipantRepository{pool: pool, metrics: rec}
}

// Create inserts an active membership. Returns domain.ErrDuplicate when the
// user already holds one in the session.
func (r *ParticipantRepository) Create(ctx context.Context, p *domain.CallParticipant) (err error) {
	defer func(start time.Time) { observe(r.metrics, "insert", "call_participants", start, err) }(time.Now())

	query := `
		INSERT INTO call_participants (
			participant_id, session_id, user_id, transport_id,
			is_muted, is_video_enabled, is_screen_sharing, connection_quality, joined_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.SessionID,
		p.UserID,
		int64(p.TransportID),
		p.IsMuted,
		p.IsVideoEnabled,
		p.IsScreenSharing,
		string(p.ConnectionQuality),
		p.JoinedAt,
	)
	if err != nil {
		err = translateError(err)
		return fmt.Errorf("failed to add call participant: %w", err)
	}

	return nil
}

// GetActive returns the user's active membership in a session
func (r *ParticipantRepository) GetActive(ctx context.Context, sessionID, userID uuid.UUID) (p *domain.CallParticipant, err error) {
	defer func(start time.Time) { observe(r.metrics, "get_active", "call_participants", start, err) }(time.Now())

	query := `SELECT ` + participantColumns + `
		FROM call_participants
		WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL`

	p, err = scanParticipant(r.pool.QueryRow(ctx, query, sessionID, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get active participant: %w", err)
	}
	return p, nil
}

// GetLatest returns the user's most recent membership, active or not
func (r *ParticipantRepository) GetLatest(ctx context.Context, sessionID, userID uuid.UUID) (p *domain.CallParticipant, err error) {
	defer func(start time.Time) { observe(r.metrics, "get_latest", "call_participants", start, err) }(time.Now())

	query := `SELECT ` + participantColumns + `
		FROM call_participants
		WHERE session_id = $1 AND user_id = $2
		ORDER BY joined_at DESC
		LIMIT 1`

	p, err = scanParticipant(r.pool.QueryRow(ctx, query, sessionID, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// ListActive returns the active memberships of a session in join order
func (r *ParticipantRepository) ListActive(ctx context.Context, sessionID uuid.UUID) (participants []*domain.CallParticipant, err error) {
	defer func(start time.Time) { observe(r.metrics, "list_active", "call_participants", start, err) }(time.Now())

	query := `SELECT ` + participantColumns + `
		FROM call_participants
		WHERE session_id = $1 AND left_at IS NULL
		ORDER BY joined_at ASC`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	participants = []*domain.CallParticipant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	return participants, nil
}

// CountActive counts the active memberships of a session
func (r *ParticipantRepository) CountActive(ctx context.Context, sessionID uuid.UUID) (count int, err error) {
	defer func(start time.Time) { observe(r.metrics, "count_active", "call_participants", start, err) }(time.Now())

	query := `SELECT COUNT(*) FROM call_participants WHERE session_id = $1 AND left_at IS NULL`

	if err = r.pool.QueryRow(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return count, nil
}

// UpdateFlags applies a partial flag update to the active membership
func (r *ParticipantRepository) UpdateFlags(ctx context.Context, sessionID, userID uuid.UUID, flags domain.ParticipantFlags) (p *domain.CallParticipant, err error) {
	defer func(start time.Time) { observe(r.metrics, "update", "call_participants", start, err) }(time.Now())

	var quality *string
	if flags.ConnectionQuality != nil {
		q := string(*flags.ConnectionQuality)
		quality = &q
	}

	query := `
		UPDATE call_participants
		SET is_muted = COALESCE($3, is_muted),
			is_video_enabled = COALESCE($4, is_video_enabled),
			is_screen_sharing = COALESCE($5, is_screen_sharing),
			connection_quality = COALESCE($6, connection_quality)
		WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL
		RETURNING ` + participantColumns

	p, err = scanParticipant(r.pool.QueryRow(ctx, query,
		sessionID,
		userID,
		flags.IsMuted,
		flags.IsVideoEnabled,
		flags.IsScreenSharing,
		quality,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to update participant: %w", err)
	}
	return p, nil
}

// Close stamps left_at on an active membership. Returns domain.ErrNotFound
// when the row was already closed.
func (r *ParticipantRepository) Close(ctx context.Context, participantID uuid.UUID, leftAt time.Time, durationSeconds int) (p *domain.CallParticipant, err error) {
	defer func(start time.Time) { observe(r.metrics, "close", "call_participants", start, err) }(time.Now())

	query := `
		UPDATE call_participants
		SET left_at = $2, duration_seconds = $3
		WHERE participant_id = $1 AND left_at IS NULL
		RETURNING ` + participantColumns

	p, err = scanParticipant(r.pool.QueryRow(ctx, query, participantID, leftAt, durationSeconds))
	if err != nil {
		return nil, fmt.Errorf("failed to close participant: %w", err)
	}
	return p, nil
}

func scanParticipant(row pgx.Row) (*domain.CallParticipant, error) {
	var (
		p           domain.CallParticipant
		transportID int64
		quality     string
	)
	err := row.Scan(
		&p.ID,
		&p.SessionID,
		&p.UserID,
		&transportID,
		&p.IsMuted,
		&p.IsVideoEnabled,
		&p.IsScreenSharing,
		&quality,
		&p.JoinedAt,
		&p.LeftAt,
		&p.DurationSeconds,
	)
	if err != nil {
		return nil, translateError(err)
	}
	p.TransportID = uint32(transportID)
	p.ConnectionQuality = domain.ConnectionQuality(quality)
	return &p, nil
}
