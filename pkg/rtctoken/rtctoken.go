// Package rtctoken issues short-lived credentials for the external real-time
// media transport. It holds no state beyond the signing configuration.
package rtctoken

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "callsession-backend/pkg/errors"
)

// Role is the transport permission granted by a credential
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RolePublisher || r == RoleSubscriber
}

// DefaultTTL is used when IssueCredential gets a non-positive ttl
const DefaultTTL = time.Hour

// placeholders are values shipped in sample env files
var placeholders = map[string]bool{
	"changeme":    true,
	"change-me":   true,
	"placeholder": true,
	"xxx":         true,
	"todo":        true,
	"secret":      true,
	"test":        true,
}

// Claims is the signed credential payload
type Claims struct {
	AppID       string `json:"app_id"`
	Channel     string `json:"channel"`
	TransportID uint32 `json:"uid"`
	Role        Role   `json:"role"`
	jwt.RegisteredClaims
}

// Credential is a signed token plus the values the client needs to connect
type Credential struct {
	Token       string    `json:"token"`
	AppID       string    `json:"app_id"`
	Channel     string    `json:"channel"`
	TransportID uint32    `json:"transport_id"`
	Role        Role      `json:"role"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Issuer signs transport credentials with a shared application secret
type Issuer struct {
	appID  string
	secret string
	now    func() time.Time

	once     sync.Once
	validErr error
}

// NewIssuer creates an issuer. Configuration is validated lazily, once.
func NewIssuer(appID, secret string) *Issuer {
	return &Issuer{
		appID:  strings.TrimSpace(appID),
		secret: strings.TrimSpace(secret),
		now:    time.Now,
	}
}

// AppID returns the configured transport application id
func (i *Issuer) AppID() string {
	return i.appID
}

// Validate checks that the app id and secret are set to real values. The
// result is computed on first use and returned on every later call.
func (i *Issuer) Validate() error {
	i.once.Do(func() {
		switch {
		case i.appID == "" || i.secret == "":
			i.validErr = apperrors.ConfigurationError("RTC app id and certificate must be configured")
		case isPlaceholder(i.appID):
			i.validErr = apperrors.ConfigurationError("RTC app id is a placeholder value")
		case isPlaceholder(i.secret):
			i.validErr = apperrors.ConfigurationError("RTC app certificate is a placeholder value")
		}
	})
	return i.validErr
}

func isPlaceholder(v string) bool {
	lower := strings.ToLower(v)
	if placeholders[lower] {
		return true
	}
	return strings.HasPrefix(lower, "your") || strings.HasPrefix(lower, "<")
}

// ChannelName builds a fresh channel name for a room. The timestamp and random
// suffix keep repeated calls for the same room from colliding.
func (i *Issuer) ChannelName(roomID uuid.UUID, kind string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	room := strings.ReplaceAll(roomID.String(), "-", "")[:12]
	return fmt.Sprintf("call_%s_%s_%d_%s", room, kind, i.now().Unix(), suffix)
}

// TransportID maps a user id to a numeric transport identity in
// [1, 2^32-1]. The mapping is stable but not unique; the (session, user)
// pair remains the real identity.
func TransportID(userID uuid.UUID) uint32 {
	h := xxhash.Sum64String(userID.String())
	return uint32(h%math.MaxUint32) + 1
}

// IssueCredential signs a credential for one transport id on one channel
func (i *Issuer) IssueCredential(channel string, transportID uint32, role Role, ttl time.Duration) (*Credential, error) {
	if err := i.Validate(); err != nil {
		return nil, err
	}
	if channel == "" {
		return nil, apperrors.ValidationError("channel name is required")
	}
	if transportID == 0 {
		return nil, apperrors.ValidationError("transport id must be non-zero")
	}
	if !role.Valid() {
		return nil, apperrors.ValidationError(fmt.Sprintf("unknown credential role %q", role))
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := i.now()
	expiresAt := now.Add(ttl).Truncate(time.Second)
	claims := &Claims{
		AppID:       i.appID,
		Channel:     channel,
		TransportID: transportID,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			Subject:   fmt.Sprintf("%d", transportID),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}

	return &Credential{
		Token:       signed,
		AppID:       i.appID,
		Channel:     channel,
		TransportID: transportID,
		Role:        role,
		ExpiresAt:   expiresAt,
	}, nil
}

// Verify parses a credential issued by this issuer
func (i *Issuer) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(i.secret), nil
	}, jwt.WithIssuer(i.appID))
	if err != nil {
		return nil, fmt.Errorf("failed to parse credential: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid credential")
	}
	return claims, nil
}
