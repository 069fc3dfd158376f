package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callsession-backend/internal/database"
	"callsession-backend/pkg/logger"
)

// RoomDirectory is the source of truth for room membership
type RoomDirectory interface {
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	IsAdmin(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
}

// MembershipCache caches positive room directory answers for a short TTL.
// A "no" is never cached, so a newly added member is admitted on the next
// request; a removed member may keep access until the TTL lapses. Redis
// failures fall through to the directory.
type MembershipCache struct {
	client    *database.RedisClient
	directory RoomDirectory
	ttl       time.Duration
}

// NewMembershipCache creates a new MembershipCache
func NewMembershipCache(client *database.RedisClient, directory RoomDirectory, ttl time.Duration) *MembershipCache {
	return &MembershipCache{
		client:    client,
		directory: directory,
		ttl:       ttl,
	}
}

func membershipKey(kind string, roomID, userID uuid.UUID) string {
	return fmt.Sprintf("call:room:%s:%s:%s", roomID, kind, userID)
}

// IsMember checks room membership through the cache
func (c *MembershipCache) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	return c.lookup(ctx, membershipKey("member", roomID, userID), func(ctx context.Context) (bool, error) {
		return c.directory.IsMember(ctx, roomID, userID)
	})
}

// IsAdmin checks the room admin role through the cache
func (c *MembershipCache) IsAdmin(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	return c.lookup(ctx, membershipKey("admin", roomID, userID), func(ctx context.Context) (bool, error) {
		return c.directory.IsAdmin(ctx, roomID, userID)
	})
}

func (c *MembershipCache) lookup(ctx context.Context, key string, load func(context.Context) (bool, error)) (bool, error) {
	val, err := c.client.SafeGet(ctx, key).Result()
	switch {
	case err == nil && val == "1":
		return true, nil
	case err == nil, errors.Is(err, redis.Nil), errors.Is(err, database.ErrDegraded):
	default:
		logger.Debug("Membership cache read failed", zap.String("key", key), zap.Error(err))
	}

	ok, err := load(ctx)
	if err != nil || !ok {
		return false, err
	}

	if err := c.client.SafeSet(ctx, key, "1", c.ttl).Err(); err != nil && !errors.Is(err, database.ErrDegraded) {
		logger.Debug("Membership cache write failed", zap.String("key", key), zap.Error(err))
	}
	return true, nil
}
