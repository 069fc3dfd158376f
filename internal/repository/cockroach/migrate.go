package cockroach

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"callsession-backend/pkg/logger"
)

// schema is applied in order. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS call_sessions (
		session_id UUID PRIMARY KEY,
		room_id UUID NOT NULL,
		initiator_id UUID NOT NULL,
		call_kind STRING NOT NULL CHECK (call_kind IN ('voice', 'video', 'screen_share')),
		status STRING NOT NULL CHECK (status IN ('active', 'ended')),
		channel_name STRING NOT NULL UNIQUE,
		app_id STRING NOT NULL,
		max_participants INT NOT NULL CHECK (max_participants > 0),
		recording_enabled BOOL NOT NULL DEFAULT false,
		encryption_enabled BOOL NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		ended_at TIMESTAMPTZ,
		duration_seconds INT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS call_sessions_one_active_per_room
		ON call_sessions (room_id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS call_sessions_room_history
		ON call_sessions (room_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS call_participants (
		participant_id UUID PRIMARY KEY,
		session_id UUID NOT NULL REFERENCES call_sessions (session_id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		transport_id INT8 NOT NULL,
		is_muted BOOL NOT NULL DEFAULT false,
		is_video_enabled BOOL NOT NULL DEFAULT false,
		is_screen_sharing BOOL NOT NULL DEFAULT false,
		connection_quality STRING NOT NULL DEFAULT 'unknown',
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		left_at TIMESTAMPTZ,
		duration_seconds INT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS call_participants_one_active_membership
		ON call_participants (session_id, user_id) WHERE left_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS call_participants_session_joined
		ON call_participants (session_id, joined_at)`,
}

// Migrate creates the call tables and indexes if they do not exist
func Migrate(ctx context.Context, pool DBTX) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	logger.Info("Call schema ready", zap.Int("statements", len(schema)))
	return nil
}
