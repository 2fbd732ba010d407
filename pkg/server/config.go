package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/edelvalle/djhtmx/pkg/protocol"
)

// Config holds the server and per-session configuration.
type Config struct {
	// Address is the address to listen on.
	// Default: ":8080".
	Address string

	// ReadTimeout is the maximum time to wait for a client message.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between heartbeat pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// IdleTimeout is the inactivity window after which a detached
	// session's saved state expires, and after which a connected but
	// silent session is closed by the reaper.
	// Default: 30 minutes.
	IdleTimeout time.Duration

	// CleanupInterval is how often the reaper scans for idle sessions.
	// Default: 30 seconds.
	CleanupInterval time.Duration

	// ShutdownTimeout is the maximum time for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// MaxSessions caps concurrent WebSocket sessions. 0 means no limit.
	// Default: 0.
	MaxSessions int

	// MaxEventQueue is the event channel buffer per session.
	// Default: 256.
	MaxEventQueue int

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin validates the upgrade request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// Limits bounds inbound message sizes before decoding.
	// Default: protocol.DefaultLimits().
	Limits protocol.Limits

	// SigningKey is the secret behind signed state blobs. Every process
	// serving one application must share it.
	SigningKey string
}

// DefaultConfig returns a Config with production defaults. SigningKey is
// intentionally empty; the application must set it.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		IdleTimeout:       30 * time.Minute,
		CleanupInterval:   30 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		MaxSessions:       0,
		MaxEventQueue:     256,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		Limits:            protocol.DefaultLimits(),
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// SameOriginCheck validates that the WebSocket request origin matches the
// host. It is the secure default for CheckOrigin.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}
