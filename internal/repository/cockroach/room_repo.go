package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RoomRepository answers room membership questions from the chat service's
// conversation_participants table. Calls never write to it.
type RoomRepository struct {
	pool    DBTX
	metrics QueryRecorder
}

// NewRoomRepository creates a new room directory repository
func NewRoomRepository(pool DBTX, rec QueryRecorder) *RoomRepository {
	return &RoomRepository{pool: pool, metrics: rec}
}

// IsMember checks if a user belongs to a room
func (r *RoomRepository) IsMember(ctx context.Context, roomID, userID uuid.UUID) (exists bool, err error) {
	defer func(start time.Time) { observe(r.metrics, "is_member", "conversation_participants", start, err) }(time.Now())

	query := `SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)`

	if err = r.pool.QueryRow(ctx, query, roomID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check room membership: %w", err)
	}
	return exists, nil
}

// IsAdmin checks if a user holds an admin or owner role in a room
func (r *RoomRepository) IsAdmin(ctx context.Context, roomID, userID uuid.UUID) (exists bool, err error) {
	defer func(start time.Time) { observe(r.metrics, "is_admin", "conversation_participants", start, err) }(time.Now())

	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2 AND role IN ('admin', 'owner')
		)`

	if err = r.pool.QueryRow(ctx, query, roomID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check room role: %w", err)
	}
	return exists, nil
}
