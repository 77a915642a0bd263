// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionTTL is the default session lifetime, used when no explicit TTL
// is given. It matches RefreshTokenTTL so the session row, the refresh
// token, and the cookie all expire together.
const SessionTTL = 7 * 24 * time.Hour

// Session correlates a live refresh token with a user, device, and expiry.
// One row exists per authenticated device or browser; RefreshToken is
// unique across all sessions at any instant and rotates on every refresh.
type Session struct {
	ID           ulid.ULID
	UserID       ulid.ULID
	SessionToken string
	RefreshToken string
	DeviceInfo   DeviceInfo
	IPAddress    string
	UserAgent    string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	LastActivity time.Time

	// User is the owning user, resolved by GetByRefreshToken for caller
	// convenience. A non-owning reference; nil elsewhere.
	User *User
}

// NewSession creates a validated Session expiring ttl after now. A zero
// ttl falls back to SessionTTL. The session token is a fresh opaque
// identifier for the session row itself, distinct from the refresh token
// minted by the token issuer.
func NewSession(userID ulid.ULID, refreshToken, userAgent, ipAddress string, now time.Time, ttl time.Duration) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if refreshToken == "" {
		return nil, oops.Code("SESSION_INVALID_REFRESH").Errorf("refresh token cannot be empty")
	}
	if now.IsZero() {
		now = time.Now()
	}
	if ttl <= 0 {
		ttl = SessionTTL
	}

	return &Session{
		ID:           ulid.Make(),
		UserID:       userID,
		SessionToken: uuid.NewString(),
		RefreshToken: refreshToken,
		DeviceInfo:   ParseDeviceInfo(userAgent),
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
		LastActivity: now,
	}, nil
}

// IsExpiredAt returns true if the session would be expired at the given time.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !s.ExpiresAt.After(t)
}

// PublicSession is the wire-safe projection of a Session. The refresh token
// is never echoed back through session listings.
type PublicSession struct {
	ID           string     `json:"id"`
	SessionToken string     `json:"sessionToken"`
	DeviceInfo   DeviceInfo `json:"deviceInfo"`
	IPAddress    string     `json:"ipAddress,omitempty"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActivity time.Time  `json:"lastActivityAt"`
}

// Public returns the wire-safe projection of the session.
func (s *Session) Public() PublicSession {
	return PublicSession{
		ID:           s.ID.String(),
		SessionToken: s.SessionToken,
		DeviceInfo:   s.DeviceInfo,
		IPAddress:    s.IPAddress,
		ExpiresAt:    s.ExpiresAt,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
	}
}

// SessionRepository manages session persistence. The store exclusively owns
// Session rows and is the single synchronization point for rotation.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByID retrieves a session by its ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Session, error)

	// GetByRefreshToken retrieves a session by its current refresh token,
	// with the owning User resolved.
	GetByRefreshToken(ctx context.Context, refreshToken string) (*Session, error)

	// ListByUser retrieves all sessions for a user, most recently active
	// first.
	ListByUser(ctx context.Context, userID ulid.ULID) ([]*Session, error)

	// RotateRefreshToken atomically replaces the refresh token and bumps
	// last activity, conditional on the stored token still equaling
	// oldToken. Returns an error wrapping ErrRefreshConflict when the
	// condition fails, so of two racing refreshes exactly one wins.
	RotateRefreshToken(ctx context.Context, id ulid.ULID, oldToken, newToken string, now time.Time) error

	// Delete removes a session by ID.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteAllForUser removes all sessions for a user, optionally keeping
	// one (the caller's own session).
	DeleteAllForUser(ctx context.Context, userID ulid.ULID, exceptID *ulid.ULID) error

	// DeleteExpired removes sessions whose expiry is at or before now and
	// returns the count. Idempotent; safe to run concurrently with itself
	// and with normal traffic.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
