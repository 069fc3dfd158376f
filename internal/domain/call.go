package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store-level sentinels. Repositories translate driver errors into these so
// the service layer can tell a lost race from a real failure.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("unique constraint violation")
)

// CallKind is the media kind of a call session
type CallKind string

const (
	CallKindVoice       CallKind = "voice"
	CallKindVideo       CallKind = "video"
	CallKindScreenShare CallKind = "screen_share"
)

// ParseCallKind validates a raw call kind
func ParseCallKind(s string) (CallKind, error) {
	switch k := CallKind(s); k {
	case CallKindVoice, CallKindVideo, CallKindScreenShare:
		return k, nil
	}
	return "", fmt.Errorf("unknown call kind %q", s)
}

// SessionStatus is the lifecycle state of a call session
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// ConnectionQuality is a coarse, client-reported network category
type ConnectionQuality string

const (
	ConnectionQualityUnknown   ConnectionQuality = "unknown"
	ConnectionQualityExcellent ConnectionQuality = "excellent"
	ConnectionQualityGood      ConnectionQuality = "good"
	ConnectionQualityPoor      ConnectionQuality = "poor"
	ConnectionQualityBad       ConnectionQuality = "bad"
)

// ParseConnectionQuality validates a raw quality category
func ParseConnectionQuality(s string) (ConnectionQuality, error) {
	switch q := ConnectionQuality(s); q {
	case ConnectionQualityUnknown, ConnectionQualityExcellent, ConnectionQualityGood,
		ConnectionQualityPoor, ConnectionQualityBad:
		return q, nil
	}
	return "", fmt.Errorf("unknown connection quality %q", s)
}

// DefaultMaxParticipants applies when the initiator does not set a cap
const DefaultMaxParticipants = 8

// CallSession is one group call bound to a room
type CallSession struct {
	ID                uuid.UUID     `json:"id"`
	RoomID            uuid.UUID     `json:"room_id"`
	InitiatorID       uuid.UUID     `json:"initiator_id"`
	Kind              CallKind      `json:"call_kind"`
	Status            SessionStatus `json:"status"`
	ChannelName       string        `json:"channel_name"`
	AppID             string        `json:"app_id"`
	MaxParticipants   int           `json:"max_participants"`
	RecordingEnabled  bool          `json:"recording_enabled"`
	EncryptionEnabled bool          `json:"encryption_enabled"`
	CreatedAt         time.Time     `json:"created_at"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	DurationSeconds   *int          `json:"duration_seconds,omitempty"`
}

// IsActive reports whether the session still accepts participants
func (s *CallSession) IsActive() bool {
	return s.Status == SessionStatusActive
}

// CallParticipant is one membership row. A user who leaves and re-joins gets
// a new row; only the row with LeftAt == nil is the active membership.
type CallParticipant struct {
	ID                uuid.UUID         `json:"id"`
	SessionID         uuid.UUID         `json:"session_id"`
	UserID            uuid.UUID         `json:"user_id"`
	TransportID       uint32            `json:"transport_id"`
	IsMuted           bool              `json:"is_muted"`
	IsVideoEnabled    bool              `json:"is_video_enabled"`
	IsScreenSharing   bool              `json:"is_screen_sharing"`
	ConnectionQuality ConnectionQuality `json:"connection_quality"`
	JoinedAt          time.Time         `json:"joined_at"`
	LeftAt            *time.Time        `json:"left_at,omitempty"`
	DurationSeconds   *int              `json:"duration_seconds,omitempty"`
}

// IsActive returns true while the participant has not left
func (p *CallParticipant) IsActive() bool {
	return p.LeftAt == nil
}

// ParticipantFlags is a partial update; nil fields are left untouched
type ParticipantFlags struct {
	IsMuted           *bool
	IsVideoEnabled    *bool
	IsScreenSharing   *bool
	ConnectionQuality *ConnectionQuality
}

// Empty reports whether no field is set
func (f ParticipantFlags) Empty() bool {
	return f.IsMuted == nil && f.IsVideoEnabled == nil && f.IsScreenSharing == nil && f.ConnectionQuality == nil
}

// Apply copies the set fields onto p
func (f ParticipantFlags) Apply(p *CallParticipant) {
	if f.IsMuted != nil {
		p.IsMuted = *f.IsMuted
	}
	if f.IsVideoEnabled != nil {
		p.IsVideoEnabled = *f.IsVideoEnabled
	}
	if f.IsScreenSharing != nil {
		p.IsScreenSharing = *f.IsScreenSharing
	}
	if f.ConnectionQuality != nil {
		p.ConnectionQuality = *f.ConnectionQuality
	}
}

// ElapsedSeconds returns whole seconds from start to end, never negative
func ElapsedSeconds(start, end time.Time) int {
	d := int(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
