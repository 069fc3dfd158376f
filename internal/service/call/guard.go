package call

import (
	"context"

	"github.com/google/uuid"

	apperrors "callsession-backend/pkg/errors"
)

// MembershipGuard answers room membership questions for the controller.
// Directory failures surface as DependencyError.
type MembershipGuard struct {
	directory RoomDirectory
}

// NewMembershipGuard creates a guard over a room directory
func NewMembershipGuard(directory RoomDirectory) *MembershipGuard {
	return &MembershipGuard{directory: directory}
}

// IsMember checks if userID belongs to roomID
func (g *MembershipGuard) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	ok, err := g.directory.IsMember(ctx, roomID, userID)
	if err != nil {
		return false, apperrors.DependencyError("room directory", err)
	}
	return ok, nil
}

// IsAdmin checks if userID administers roomID
func (g *MembershipGuard) IsAdmin(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	ok, err := g.directory.IsAdmin(ctx, roomID, userID)
	if err != nil {
		return false, apperrors.DependencyError("room directory", err)
	}
	return ok, nil
}

// RequireMember returns Forbidden unless userID belongs to roomID
func (g *MembershipGuard) RequireMember(ctx context.Context, roomID, userID uuid.UUID) error {
	ok, err := g.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ForbiddenError("Not a member of this room")
	}
	return nil
}
