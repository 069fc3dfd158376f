package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a call lifecycle event
type EventType string

const (
	EventCallInitiated      EventType = "call.initiated"
	EventParticipantJoined  EventType = "call.participant_joined"
	EventParticipantLeft    EventType = "call.participant_left"
	EventParticipantUpdated EventType = "call.participant_updated"
	EventCallEnded          EventType = "call.ended"
)

// CallEvent is fanned out to room subscribers after a successful mutation
type CallEvent struct {
	Type        EventType        `json:"type"`
	RoomID      uuid.UUID        `json:"room_id"`
	SessionID   uuid.UUID        `json:"session_id"`
	UserID      uuid.UUID        `json:"user_id"`
	Session     *CallSession     `json:"session,omitempty"`
	Participant *CallParticipant `json:"participant,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}
