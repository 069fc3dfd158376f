// Package constants defines service-wide timeouts, intervals, and limits.
package constants

import "time"

// Server lifecycle
const (
	// GracefulShutdownTimeout bounds in-flight request draining on SIGTERM
	GracefulShutdownTimeout = 30 * time.Second

	// DatabaseConnectRetries is how many times startup dials CockroachDB
	DatabaseConnectRetries = 5

	// RedisHealthCheckInterval is how often degraded mode is re-evaluated
	RedisHealthCheckInterval = 10 * time.Second
)

// Database pool
const (
	MaxConnLifetime   = 1 * time.Hour
	MaxConnIdleTime   = 30 * time.Minute
	HealthCheckPeriod = 1 * time.Minute
)

// Call event WebSocket
const (
	// WebSocketPongWait is how long a client may stay silent before it is dropped
	WebSocketPongWait = 60 * time.Second

	// WebSocketPingInterval must be shorter than WebSocketPongWait
	WebSocketPingInterval = (WebSocketPongWait * 9) / 10

	// WebSocketWriteWait bounds a single frame write
	WebSocketWriteWait = 10 * time.Second

	// WebSocketSendBuffer is the per-client outbound queue; slow clients are dropped when it fills
	WebSocketSendBuffer = 64

	// MaxEventConnections caps concurrent call event sockets per instance
	MaxEventConnections = 1000
)

// Rate limiting
const (
	// RateLimitRequests is the per-user request allowance per RateLimitWindow
	RateLimitRequests = 120

	RateLimitWindow = time.Minute
)
