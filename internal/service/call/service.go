package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsession-backend/internal/domain"
	apperrors "callsession-backend/pkg/errors"
	"callsession-backend/pkg/logger"
	"callsession-backend/pkg/rtctoken"
)

const (
	// MaxParticipantsLimit is the largest cap an initiator may request
	MaxParticipantsLimit = 50

	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Config tunes the controller
type Config struct {
	CredentialTTL          time.Duration
	DefaultMaxParticipants int
}

// Service orchestrates the call lifecycle: initiate, join, leave, end,
// status and credential refresh. It holds no call state between requests;
// every decision re-reads the store, so any number of instances may run.
type Service struct {
	guard    *MembershipGuard
	registry *SessionRegistry
	tracker  *ParticipantTracker
	issuer   CredentialIssuer
	events   EventPublisher
	metrics  Metrics
	cfg      Config
	now      func() time.Time
}

// NewService creates a new call service. events and m may be nil.
func NewService(
	sessions SessionStore,
	participants ParticipantStore,
	directory RoomDirectory,
	issuer CredentialIssuer,
	events EventPublisher,
	m Metrics,
	cfg Config,
) *Service {
	if events == nil {
		events = noopPublisher{}
	}
	if m == nil {
		m = noopMetrics{}
	}
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = rtctoken.DefaultTTL
	}
	if cfg.DefaultMaxParticipants <= 0 {
		cfg.DefaultMaxParticipants = domain.DefaultMaxParticipants
	}

	return &Service{
		guard:    NewMembershipGuard(directory),
		registry: NewSessionRegistry(sessions, m),
		tracker:  NewParticipantTracker(participants),
		issuer:   issuer,
		events:   events,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
	}
}

// InitiateInput contains call initiation data
type InitiateInput struct {
	RoomID            uuid.UUID
	UserID            uuid.UUID
	Kind              string
	MaxParticipants   int
	RecordingEnabled  bool
	EncryptionEnabled bool
}

// JoinOutput is returned by Initiate and Join
type JoinOutput struct {
	Session     *domain.CallSession
	Participant *domain.CallParticipant
	Credential  *rtctoken.Credential
	IsNewCall   bool
}

// LeaveOutput contains the closed membership
type LeaveOutput struct {
	Participant *domain.CallParticipant
	CallEnded   bool
}

// EndOutput contains the ended session
type EndOutput struct {
	Session               *domain.CallSession
	EndedParticipantCount int
}

// StatusOutput contains a session and its active participants
type StatusOutput struct {
	Session      *domain.CallSession
	Participants []*domain.CallParticipant
}

// Initiate starts a call in a room, or joins the room's active call.
// Concurrent initiators for one room all succeed; exactly one sees
// IsNewCall. Joining through Initiate is not bounded by MaxParticipants,
// which only gates Join.
func (s *Service) Initiate(ctx context.Context, input *InitiateInput) (*JoinOutput, error) {
	if err := s.issuer.Validate(); err != nil {
		return nil, s.fail("initiate", err)
	}
	if err := s.guard.RequireMember(ctx, input.RoomID, input.UserID); err != nil {
		return nil, s.fail("initiate", err)
	}

	kind, err := domain.ParseCallKind(input.Kind)
	if err != nil {
		return nil, s.fail("initiate", apperrors.ValidationError("call_kind must be one of voice, video, screen_share"))
	}

	maxParticipants := input.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = s.cfg.DefaultMaxParticipants
	}
	if maxParticipants < 1 || maxParticipants > MaxParticipantsLimit {
		return nil, s.fail("initiate", apperrors.ValidationError(
			fmt.Sprintf("max_participants must be between 1 and %d", MaxParticipantsLimit)))
	}

	existing, err := s.registry.GetActiveByRoom(ctx, input.RoomID)
	if err != nil {
		return nil, s.fail("initiate", err)
	}
	if existing != nil {
		out, err := s.join(ctx, existing, input.UserID, false)
		if err != nil {
			return nil, s.fail("initiate", err)
		}
		return out, nil
	}

	session, created, err := s.registry.CreateIfAbsent(ctx, input.RoomID, SessionSpec{
		Kind:              kind,
		InitiatorID:       input.UserID,
		ChannelName:       s.issuer.ChannelName(input.RoomID, string(kind)),
		AppID:             s.issuer.AppID(),
		MaxParticipants:   maxParticipants,
		RecordingEnabled:  input.RecordingEnabled,
		EncryptionEnabled: input.EncryptionEnabled,
	})
	if err != nil {
		return nil, s.fail("initiate", err)
	}
	if !created {
		out, err := s.join(ctx, session, input.UserID, false)
		if err != nil {
			return nil, s.fail("initiate", err)
		}
		return out, nil
	}

	participant, _, err := s.admit(ctx, session, input.UserID, false)
	if err != nil {
		s.rollback(ctx, session, nil, err)
		return nil, s.fail("initiate", err)
	}

	credential, err := s.issue(session, participant)
	if err != nil {
		s.rollback(ctx, session, participant, err)
		return nil, s.fail("initiate", err)
	}

	s.metrics.RecordCallStarted(string(session.Kind))
	s.metrics.RecordParticipantEvent(string(session.Kind), "joined")
	s.publish(ctx, domain.EventCallInitiated, session, participant, input.UserID)

	logger.FromContext(ctx).Info("Call initiated",
		zap.String("session_id", session.ID.String()),
		zap.String("room_id", session.RoomID.String()),
		zap.String("call_kind", string(session.Kind)),
		zap.Int("max_participants", session.MaxParticipants))

	return &JoinOutput{
		Session:     session,
		Participant: participant,
		Credential:  credential,
		IsNewCall:   true,
	}, nil
}

// Join adds a user to an active call. Joining again while already in the
// call returns the existing membership with a fresh credential.
func (s *Service) Join(ctx context.Context, sessionID, userID uuid.UUID) (*JoinOutput, error) {
	if err := s.issuer.Validate(); err != nil {
		return nil, s.fail("join", err)
	}

	session, err := s.requireSession(ctx, sessionID)
	if err != nil {
		return nil, s.fail("join", err)
	}
	if !session.IsActive() {
		return nil, s.fail("join", apperrors.NotActiveError())
	}
	if err := s.guard.RequireMember(ctx, session.RoomID, userID); err != nil {
		return nil, s.fail("join", err)
	}

	out, err := s.join(ctx, session, userID, true)
	if err != nil {
		return nil, s.fail("join", err)
	}
	return out, nil
}

func (s *Service) join(ctx context.Context, session *domain.CallSession, userID uuid.UUID, enforceCap bool) (*JoinOutput, error) {
	participant, joined, err := s.admit(ctx, session, userID, enforceCap)
	if err != nil {
		return nil, err
	}

	if joined {
		// An end that listed participants before our insert would miss us.
		current, err := s.registry.GetByID(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		if current == nil || !current.IsActive() {
			if _, err := s.tracker.close(ctx, participant, s.now().UTC()); err != nil && !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
				logger.FromContext(ctx).Warn("Failed to close membership of ended call",
					zap.String("participant_id", participant.ID.String()),
					zap.Error(err))
			}
			return nil, apperrors.NotActiveError()
		}
		session = current

		s.metrics.RecordParticipantEvent(string(session.Kind), "joined")
		s.publish(ctx, domain.EventParticipantJoined, session, participant, userID)
	}

	credential, err := s.issue(session, participant)
	if err != nil {
		return nil, err
	}

	return &JoinOutput{
		Session:     session,
		Participant: participant,
		Credential:  credential,
	}, nil
}

// admit returns the user's active membership, inserting one when absent.
// joined is false when the membership already existed.
func (s *Service) admit(ctx context.Context, session *domain.CallSession, userID uuid.UUID, enforceCap bool) (participant *domain.CallParticipant, joined bool, err error) {
	participant, err = s.tracker.GetActive(ctx, session.ID, userID)
	if err != nil {
		return nil, false, err
	}
	if participant != nil {
		return participant, false, nil
	}

	if enforceCap {
		count, err := s.tracker.CountActive(ctx, session.ID)
		if err != nil {
			return nil, false, err
		}
		if count >= session.MaxParticipants {
			return nil, false, apperrors.SessionFullError(session.MaxParticipants)
		}
	}

	participant, err = s.tracker.Add(ctx, session.ID, userID, rtctoken.TransportID(userID), initialFlags(session.Kind))
	if err == nil {
		return participant, true, nil
	}
	if !errors.Is(err, domain.ErrDuplicate) {
		return nil, false, err
	}

	// A concurrent request for the same user inserted first.
	s.metrics.RecordRaceResolved("join")
	participant, err = s.tracker.GetActive(ctx, session.ID, userID)
	if err != nil {
		return nil, false, err
	}
	if participant == nil {
		return nil, false, apperrors.DependencyError("participant store",
			errors.New("membership changed concurrently"))
	}
	return participant, false, nil
}

// Leave closes the user's membership. When nobody is left the call ends,
// unless someone joins before the session row is updated.
func (s *Service) Leave(ctx context.Context, sessionID, userID uuid.UUID) (*LeaveOutput, error) {
	session, err := s.requireSession(ctx, sessionID)
	if err != nil {
		return nil, s.fail("leave", err)
	}

	leftAt := s.now().UTC()
	participant, err := s.leave(ctx, session, userID, leftAt)
	if err != nil {
		return nil, s.fail("leave", err)
	}

	count, err := s.tracker.CountActive(ctx, sessionID)
	if err != nil {
		return nil, s.fail("leave", err)
	}

	out := &LeaveOutput{Participant: participant}
	if count == 0 {
		ended, transitioned, err := s.registry.EndIfEmpty(ctx, sessionID, leftAt)
		if err != nil {
			return nil, s.fail("leave", err)
		}
		if transitioned {
			s.recordEnded(ctx, ended, "last_participant_left", userID)
		}
		out.CallEnded = !ended.IsActive()
	}

	return out, nil
}

func (s *Service) leave(ctx context.Context, session *domain.CallSession, userID uuid.UUID, leftAt time.Time) (*domain.CallParticipant, error) {
	active, err := s.tracker.GetActive(ctx, session.ID, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		left, err := s.tracker.close(ctx, active, leftAt)
		if err == nil {
			s.metrics.RecordParticipantEvent(string(session.Kind), "left")
			s.publish(ctx, domain.EventParticipantLeft, session, left, userID)
			return left, nil
		}
		if !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			return nil, err
		}
	}

	// No active row. Either the user was never here, or a concurrent end
	// closed the row first; the latter is not an error for the leaver.
	latest, err := s.tracker.latest(ctx, session.ID, userID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, apperrors.NotInCallError()
	}
	count, err := s.tracker.CountActive(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if count > 0 && active == nil {
		current, err := s.registry.GetByID(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		if current != nil && current.IsActive() {
			return nil, apperrors.NotInCallError()
		}
	}

	s.metrics.RecordRaceResolved("leave")
	return latest, nil
}

// End terminates a call. Only the initiator or a room admin may end it.
// Every active participant is closed with the same timestamp before the
// session is marked ended.
func (s *Service) End(ctx context.Context, sessionID, userID uuid.UUID) (*EndOutput, error) {
	session, err := s.requireSession(ctx, sessionID)
	if err != nil {
		return nil, s.fail("end", err)
	}

	if session.InitiatorID != userID {
		admin, err := s.guard.IsAdmin(ctx, session.RoomID, userID)
		if err != nil {
			return nil, s.fail("end", err)
		}
		if !admin {
			return nil, s.fail("end", apperrors.ForbiddenError("Only the initiator or a room admin can end this call"))
		}
	}

	if !session.IsActive() {
		return &EndOutput{Session: session}, nil
	}

	endedAt := s.now().UTC()
	closed, err := s.closeAll(ctx, session, endedAt)
	if err != nil {
		return nil, s.fail("end", err)
	}

	ended, transitioned, err := s.registry.End(ctx, sessionID, endedAt)
	if err != nil {
		return nil, s.fail("end", err)
	}

	// Joins that inserted after the first sweep but before the session
	// was marked ended.
	late, err := s.closeAll(ctx, session, endedAt)
	if err != nil {
		return nil, s.fail("end", err)
	}

	if transitioned {
		s.recordEnded(ctx, ended, "ended_by_user", userID)
	}

	return &EndOutput{
		Session:               ended,
		EndedParticipantCount: closed + late,
	}, nil
}

func (s *Service) closeAll(ctx context.Context, session *domain.CallSession, endedAt time.Time) (int, error) {
	active, err := s.tracker.ListActive(ctx, session.ID)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, p := range active {
		if _, err := s.tracker.close(ctx, p, endedAt); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
				// Left on their own meanwhile.
				continue
			}
			return closed, err
		}
		closed++
		s.metrics.RecordParticipantEvent(string(session.Kind), "left")
	}
	return closed, nil
}

// RefreshCredential issues a fresh credential for a current participant
// without touching session or membership state.
func (s *Service) RefreshCredential(ctx context.Context, sessionID, userID uuid.UUID) (*rtctoken.Credential, error) {
	if err := s.issuer.Validate(); err != nil {
		return nil, s.fail("refresh_credential", err)
	}

	session, participant, err := s.requireMembership(ctx, sessionID, userID)
	if err != nil {
		return nil, s.fail("refresh_credential", err)
	}

	credential, err := s.issue(session, participant)
	if err != nil {
		return nil, s.fail("refresh_credential", err)
	}
	return credential, nil
}

// UpdateStatus applies a partial flag update to the caller's membership
func (s *Service) UpdateStatus(ctx context.Context, sessionID, userID uuid.UUID, flags domain.ParticipantFlags) (*domain.CallParticipant, error) {
	session, _, err := s.requireMembership(ctx, sessionID, userID)
	if err != nil {
		return nil, s.fail("update_status", err)
	}

	updated, err := s.tracker.Update(ctx, sessionID, userID, flags)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			err = apperrors.NotInCallError()
		}
		return nil, s.fail("update_status", err)
	}

	if !flags.Empty() {
		s.publish(ctx, domain.EventParticipantUpdated, session, updated, userID)
	}
	return updated, nil
}

// GetStatus returns a session and its active participants to a room member
func (s *Service) GetStatus(ctx context.Context, sessionID, requesterID uuid.UUID) (*StatusOutput, error) {
	session, err := s.requireSession(ctx, sessionID)
	if err != nil {
		return nil, s.fail("get_status", err)
	}
	if err := s.guard.RequireMember(ctx, session.RoomID, requesterID); err != nil {
		return nil, s.fail("get_status", err)
	}

	participants, err := s.tracker.ListActive(ctx, sessionID)
	if err != nil {
		return nil, s.fail("get_status", err)
	}

	return &StatusOutput{Session: session, Participants: participants}, nil
}

// GetActiveForRoom returns the room's active call, or nil
func (s *Service) GetActiveForRoom(ctx context.Context, roomID, requesterID uuid.UUID) (*domain.CallSession, error) {
	if err := s.guard.RequireMember(ctx, roomID, requesterID); err != nil {
		return nil, s.fail("get_active", err)
	}
	session, err := s.registry.GetActiveByRoom(ctx, roomID)
	if err != nil {
		return nil, s.fail("get_active", err)
	}
	return session, nil
}

// History returns a room's calls, newest first
func (s *Service) History(ctx context.Context, roomID, requesterID uuid.UUID, limit int) ([]*domain.CallSession, error) {
	if err := s.guard.RequireMember(ctx, roomID, requesterID); err != nil {
		return nil, s.fail("history", err)
	}

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	sessions, err := s.registry.HistoryByRoom(ctx, roomID, limit)
	if err != nil {
		return nil, s.fail("history", err)
	}
	return sessions, nil
}

func (s *Service) requireSession(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.registry.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NotFoundError("Call")
	}
	return session, nil
}

// requireMembership loads an active session and the user's active row
func (s *Service) requireMembership(ctx context.Context, sessionID, userID uuid.UUID) (*domain.CallSession, *domain.CallParticipant, error) {
	session, err := s.requireSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !session.IsActive() {
		return nil, nil, apperrors.NotActiveError()
	}

	participant, err := s.tracker.GetActive(ctx, sessionID, userID)
	if err != nil {
		return nil, nil, err
	}
	if participant == nil {
		return nil, nil, apperrors.NotInCallError()
	}
	return session, participant, nil
}

func (s *Service) issue(session *domain.CallSession, participant *domain.CallParticipant) (*rtctoken.Credential, error) {
	credential, err := s.issuer.IssueCredential(session.ChannelName, participant.TransportID, rtctoken.RolePublisher, s.cfg.CredentialTTL)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordCredentialIssued(string(credential.Role))
	return credential, nil
}

// rollback deletes a freshly created session whose initiator could not be
// admitted, so the room is not blocked by an empty active call. initiator
// is the initiator's membership when it was already inserted. A session
// that another user joined in the meantime is kept.
func (s *Service) rollback(ctx context.Context, session *domain.CallSession, initiator *domain.CallParticipant, cause error) {
	log := logger.FromContext(ctx).With(
		zap.String("session_id", session.ID.String()),
		zap.String("room_id", session.RoomID.String()),
		zap.NamedError("cause", cause))

	if initiator != nil {
		if _, err := s.tracker.close(ctx, initiator, s.now().UTC()); err != nil && !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			log.Error("Failed to close initiator membership during rollback", zap.Error(err))
			return
		}
	}

	deleted, err := s.registry.DeleteIfEmpty(ctx, session.ID)
	if err != nil {
		log.Error("Failed to roll back call session", zap.Error(err))
		return
	}
	if !deleted {
		var fields []zap.Field
		if count, err := s.tracker.CountActive(ctx, session.ID); err == nil {
			fields = append(fields, zap.Int("active_participants", count))
		}
		log.Warn("Kept call session after failed initiate: other participants joined", fields...)
		return
	}
	log.Warn("Rolled back call session after failed initiate")
}

func (s *Service) recordEnded(ctx context.Context, session *domain.CallSession, reason string, actorID uuid.UUID) {
	var duration time.Duration
	if session.DurationSeconds != nil {
		duration = time.Duration(*session.DurationSeconds) * time.Second
	}
	s.metrics.RecordCallEnded(string(session.Kind), reason, duration)
	s.publish(ctx, domain.EventCallEnded, session, nil, actorID)

	logger.FromContext(ctx).Info("Call ended",
		zap.String("session_id", session.ID.String()),
		zap.String("room_id", session.RoomID.String()),
		zap.String("reason", reason),
		zap.Duration("duration", duration))
}

// fail records the failure code and passes err through
func (s *Service) fail(operation string, err error) error {
	s.metrics.RecordCallFailure(operation, string(apperrors.GetAppError(err).Code))
	return err
}

func initialFlags(kind domain.CallKind) domain.ParticipantFlags {
	var flags domain.ParticipantFlags
	on := true
	switch kind {
	case domain.CallKindVideo:
		flags.IsVideoEnabled = &on
	case domain.CallKindScreenShare:
		flags.IsScreenSharing = &on
	}
	return flags
}
