// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/parleychat/parley/internal/auth"
)

// SessionRepository implements auth.SessionRepository using PostgreSQL.
// Rotation and deletion are single atomic statements; the database is the
// only synchronization point between concurrent refreshes.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, session_token, refresh_token, device_info, ip_address,
		user_agent, expires_at, created_at, last_activity_at`

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	deviceInfo, err := json.Marshal(session.DeviceInfo)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "marshal device info").
			Wrap(err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO user_sessions (id, user_id, session_token, refresh_token, device_info,
			ip_address, user_agent, expires_at, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		session.ID.String(),
		session.UserID.String(),
		session.SessionToken,
		session.RefreshToken,
		deviceInfo,
		session.IPAddress,
		session.UserAgent,
		session.ExpiresAt,
		session.CreatedAt,
		session.LastActivity,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert user_session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM user_sessions
		WHERE id = $1
	`, id.String())

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_ID_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	return session, nil
}

// GetByRefreshToken retrieves a session by its current refresh token and
// resolves the owning user in the same round trip.
func (r *SessionRepository) GetByRefreshToken(ctx context.Context, refreshToken string) (*auth.Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT s.id, s.user_id, s.session_token, s.refresh_token, s.device_info, s.ip_address,
			s.user_agent, s.expires_at, s.created_at, s.last_activity_at,
			u.email, u.username, u.phone, u.password_hash, u.full_name, u.avatar_url, u.bio,
			u.language, u.timezone, u.is_active, u.two_factor_enabled, u.two_factor_secret,
			u.last_seen_at, u.created_at, u.updated_at
		FROM user_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.refresh_token = $1
	`, refreshToken)

	session, err := scanSessionWithUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").Wrap(err)
	}
	return session, nil
}

// ListByUser retrieves all sessions for a user, most recently active first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID ulid.ULID) ([]*auth.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM user_sessions
		WHERE user_id = $1
		ORDER BY last_activity_at DESC
	`, userID.String())
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var sessions []*auth.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_SCAN_FAILED").Wrap(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_ROWS_ERROR").Wrap(err)
	}

	return sessions, nil
}

// RotateRefreshToken replaces the refresh token and bumps last activity in
// one conditional UPDATE keyed on the current token value. When the stored
// token no longer equals oldToken (a concurrent refresh already rotated
// it, or the session is gone), zero rows match and the caller gets
// SESSION_REFRESH_CONFLICT wrapping auth.ErrRefreshConflict.
func (r *SessionRepository) RotateRefreshToken(ctx context.Context, id ulid.ULID, oldToken, newToken string, now time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE user_sessions SET refresh_token = $3, last_activity_at = $4
		WHERE id = $1 AND refresh_token = $2
	`, id.String(), oldToken, newToken, now)
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_REFRESH_CONFLICT").
			With("id", id.String()).
			Wrap(auth.ErrRefreshConflict)
	}
	return nil
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, `
		DELETE FROM user_sessions WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteAllForUser removes all sessions for a user, optionally keeping one.
func (r *SessionRepository) DeleteAllForUser(ctx context.Context, userID ulid.ULID, exceptID *ulid.ULID) error {
	var err error
	if exceptID != nil {
		_, err = r.db.Exec(ctx, `
			DELETE FROM user_sessions WHERE user_id = $1 AND id <> $2
		`, userID.String(), exceptID.String())
	} else {
		_, err = r.db.Exec(ctx, `
			DELETE FROM user_sessions WHERE user_id = $1
		`, userID.String())
	}
	if err != nil {
		return oops.Code("SESSION_DELETE_ALL_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	// No ErrNotFound when zero rows matched - that's a valid state.
	return nil
}

// DeleteExpired removes sessions past their deadline and returns the count.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM user_sessions WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans a row of sessionColumns into a Session. Callers are
// responsible for handling pgx.ErrNoRows.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		idStr      string
		userIDStr  string
		deviceInfo []byte
		s          auth.Session
	)

	err := row.Scan(
		&idStr,
		&userIDStr,
		&s.SessionToken,
		&s.RefreshToken,
		&deviceInfo,
		&s.IPAddress,
		&s.UserAgent,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.LastActivity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("SESSION_SCAN_FAILED").Wrap(err)
	}

	if err := fillSessionIDs(&s, idStr, userIDStr, deviceInfo); err != nil {
		return nil, err
	}
	return &s, nil
}

// scanSessionWithUser scans the joined session+user projection used by
// GetByRefreshToken.
func scanSessionWithUser(row pgx.Row) (*auth.Session, error) {
	var (
		idStr      string
		userIDStr  string
		deviceInfo []byte
		s          auth.Session
		u          auth.User
	)

	err := row.Scan(
		&idStr,
		&userIDStr,
		&s.SessionToken,
		&s.RefreshToken,
		&deviceInfo,
		&s.IPAddress,
		&s.UserAgent,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.LastActivity,
		&u.Email,
		&u.Username,
		&u.Phone,
		&u.PasswordHash,
		&u.FullName,
		&u.AvatarURL,
		&u.Bio,
		&u.Language,
		&u.Timezone,
		&u.IsActive,
		&u.TwoFactorEnabled,
		&u.TwoFactorSecret,
		&u.LastSeenAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("SESSION_SCAN_FAILED").Wrap(err)
	}

	if err := fillSessionIDs(&s, idStr, userIDStr, deviceInfo); err != nil {
		return nil, err
	}
	u.ID = s.UserID
	s.User = &u

	return &s, nil
}

func fillSessionIDs(s *auth.Session, idStr, userIDStr string, deviceInfo []byte) error {
	id, err := ulid.Parse(idStr)
	if err != nil {
		return oops.Code("SESSION_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	s.ID = id

	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return oops.Code("SESSION_INVALID_USER_ID").
			With("user_id", userIDStr).
			Wrap(err)
	}
	s.UserID = userID

	if len(deviceInfo) > 0 {
		if err := json.Unmarshal(deviceInfo, &s.DeviceInfo); err != nil {
			return oops.Code("SESSION_INVALID_DEVICE_INFO").Wrap(err)
		}
	}
	return nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
