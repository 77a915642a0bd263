// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// dummyPasswordHash is used when a user doesn't exist to prevent timing
// attacks. We still run password verification to make response time
// consistent. This is NOT a real credential - it's a fake hash that will
// never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// LoginResult is the outcome of a login attempt that did not fail.
// When RequiresTwoFactor is set, credentials were verified but no tokens
// were issued and no session was created; the caller must re-submit with a
// TOTP code.
type LoginResult struct {
	User              *User
	AccessToken       string
	RefreshToken      string
	RequiresTwoFactor bool
}

// TokenPair is a freshly issued access/refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Service orchestrates registration, the login state machine, token
// refresh with rotation, logout, and second-factor enrollment. It holds no
// mutable state of its own; the repositories are the single source of
// truth and the only synchronization point.
type Service struct {
	users    UserRepository
	sessions SessionRepository
	hasher   PasswordHasher
	totp     TwoFactorVerifier
	tokens   *TokenIssuer
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(users UserRepository, sessions SessionRepository, hasher PasswordHasher, totp TwoFactorVerifier, tokens *TokenIssuer) (*Service, error) {
	return NewServiceWithLogger(users, sessions, hasher, totp, tokens, slog.Default())
}

// NewServiceWithLogger creates a Service with an explicit logger.
func NewServiceWithLogger(users UserRepository, sessions SessionRepository, hasher PasswordHasher, totp TwoFactorVerifier, tokens *TokenIssuer, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("sessions repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if totp == nil {
		return nil, oops.Errorf("two-factor verifier is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Service{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		totp:     totp,
		tokens:   tokens,
		logger:   logger,
	}, nil
}

// Register creates a new user account. The password is hashed before the
// User record exists; uniqueness collisions surface as AUTH_ALREADY_EXISTS
// from the repository.
func (s *Service) Register(ctx context.Context, reg Registration) (*User, error) {
	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return nil, err
	}

	user, err := NewUser(reg, hash)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login runs the login state machine:
//
//	Unauthenticated -> CredentialsVerified -> (TwoFactorPending | Authenticated)
//
// Absent user, inactive account, and password mismatch all fail with the
// same AUTH_INVALID_CREDENTIALS error so callers cannot enumerate which
// condition held. Uses constant-time operations to prevent timing-based
// identifier enumeration.
func (s *Service) Login(ctx context.Context, identifier, password, totpCode, userAgent, ipAddress string) (*LoginResult, error) {
	user, lookupErr := s.findByLogin(ctx, identifier)

	// Determine which hash to verify against (real or dummy for timing
	// attack prevention).
	targetHash := dummyPasswordHash
	userExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_UNAVAILABLE").
				With("operation", "find user by login").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Always verify the password to keep response time consistent.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && userExists {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}
	if !userExists || !valid || !user.IsActive {
		return nil, errInvalidCredentials()
	}

	if user.TwoFactorEnabled {
		if totpCode == "" {
			return &LoginResult{User: user, RequiresTwoFactor: true}, nil
		}
		secret := ""
		if user.TwoFactorSecret != nil {
			secret = *user.TwoFactorSecret
		}
		if !s.totp.VerifyCode(secret, totpCode, time.Now()) {
			return nil, oops.Code("AUTH_INVALID_TOTP").Errorf("invalid two-factor authentication code")
		}
	}

	// Upgrade legacy hashes opportunistically; login succeeds regardless.
	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			if updErr := s.users.UpdatePassword(ctx, user.ID, newHash); updErr != nil {
				s.logger.Warn("password hash upgrade failed", "user_id", user.ID.String())
			} else {
				user.PasswordHash = newHash
			}
		}
	}

	now := time.Now()
	pair, session, err := s.issueSession(ctx, user, userAgent, ipAddress, now)
	if err != nil {
		return nil, err
	}

	// Best effort; login succeeds even if the timestamp update fails.
	if err := s.users.UpdateLastSeen(ctx, user.ID, now); err != nil {
		s.logger.Warn("last seen update failed", "user_id", user.ID.String())
	}
	seenAt := now
	user.LastSeenAt = &seenAt

	s.logger.Info("login succeeded",
		"user_id", user.ID.String(),
		"session_id", session.ID.String(),
	)

	return &LoginResult{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Refresh exchanges a valid refresh token for a new token pair and rotates
// the session's stored token. The previous token is permanently invalid
// the instant rotation commits: the rotation is a single conditional
// update keyed on the presented token, so of two concurrent refreshes
// carrying the same token exactly one wins and the other fails with
// AUTH_INVALID_REFRESH.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, *User, error) {
	if refreshToken == "" {
		return nil, nil, errInvalidRefresh()
	}

	session, err := s.sessions.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, errInvalidRefresh()
		}
		return nil, nil, oops.Code("AUTH_UNAVAILABLE").
			With("operation", "get session by refresh token").
			Wrap(err)
	}

	now := time.Now()
	if session.IsExpiredAt(now) {
		return nil, nil, errInvalidRefresh()
	}

	user := session.User
	if user == nil {
		return nil, nil, oops.Code("AUTH_UNAVAILABLE").
			With("session_id", session.ID.String()).
			Errorf("session owner not resolved")
	}
	if !user.IsActive {
		return nil, nil, oops.Code("AUTH_ACCOUNT_DISABLED").Errorf("user account is disabled")
	}

	access, err := s.tokens.IssueAccessToken(user, now)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID, now)
	if err != nil {
		return nil, nil, err
	}

	if err := s.sessions.RotateRefreshToken(ctx, session.ID, refreshToken, refresh, now); err != nil {
		if errors.Is(err, ErrRefreshConflict) || errors.Is(err, ErrNotFound) {
			// A concurrent refresh won the rotation first. The sentinel
			// stays in the chain so callers can count conflicts; the code
			// and message match any other invalid refresh.
			s.logger.Warn("refresh rotation lost race", "session_id", session.ID.String())
			return nil, nil, oops.Code("AUTH_INVALID_REFRESH").
				Wrapf(ErrRefreshConflict, "invalid refresh token")
		}
		return nil, nil, oops.Code("AUTH_UNAVAILABLE").
			With("operation", "rotate refresh token").
			Wrap(err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, user, nil
}

// Logout deletes the session matching the refresh token. Idempotent: an
// unknown or already-rotated token is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	session, err := s.sessions.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_UNAVAILABLE").
			With("operation", "get session by refresh token").
			Wrap(err)
	}

	if err := s.sessions.Delete(ctx, session.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_UNAVAILABLE").
			With("operation", "delete session").
			With("session_id", session.ID.String()).
			Wrap(err)
	}
	return nil
}

// LogoutAll deletes every session for a user.
func (s *Service) LogoutAll(ctx context.Context, userID ulid.ULID) error {
	if err := s.sessions.DeleteAllForUser(ctx, userID, nil); err != nil {
		return oops.Code("AUTH_UNAVAILABLE").
			With("operation", "delete all sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// Sessions lists a user's sessions, most recently active first.
func (s *Service) Sessions(ctx context.Context, userID ulid.ULID) ([]*Session, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, oops.Code("AUTH_UNAVAILABLE").
			With("operation", "list sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return sessions, nil
}

// CurrentUser resolves a user by ID.
func (s *Service) CurrentUser(ctx context.Context, userID ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_NOT_FOUND").Wrap(err)
		}
		return nil, oops.Code("AUTH_UNAVAILABLE").
			With("operation", "get user by id").
			Wrap(err)
	}
	return user, nil
}

// GenerateTwoFactorSecret produces a fresh candidate secret and enrollment
// URI for the user. Nothing is persisted until EnableTwoFactor commits it.
func (s *Service) GenerateTwoFactorSecret(ctx context.Context, userID ulid.ULID) (TwoFactorSecret, error) {
	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return TwoFactorSecret{}, err
	}
	return s.totp.GenerateSecret(user.Email)
}

// EnableTwoFactor commits a candidate secret after the user proves
// possession by submitting a valid code generated from it.
func (s *Service) EnableTwoFactor(ctx context.Context, userID ulid.ULID, secret, code string) error {
	if secret == "" {
		return oops.Code("AUTH_INVALID_TOTP_ENROLL").Errorf("secret cannot be empty")
	}
	// Enrollment failures are a bad request, not an authentication
	// failure; they carry their own code so the HTTP layer can tell
	// them apart from a login-time TOTP rejection.
	if !s.totp.VerifyCode(secret, code, time.Now()) {
		return oops.Code("AUTH_INVALID_TOTP_ENROLL").Errorf("invalid verification code")
	}

	if err := s.users.SetTwoFactor(ctx, userID, true, &secret); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_NOT_FOUND").Wrap(err)
		}
		return oops.Code("AUTH_UNAVAILABLE").
			With("operation", "enable two-factor").
			Wrap(err)
	}

	s.logger.Info("two-factor enabled", "user_id", userID.String())
	return nil
}

// DisableTwoFactor turns off the second factor after password
// re-verification and clears the stored secret.
func (s *Service) DisableTwoFactor(ctx context.Context, userID ulid.ULID, password string) error {
	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return err
	}

	valid, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !valid {
		return errInvalidCredentials()
	}

	if err := s.users.SetTwoFactor(ctx, userID, false, nil); err != nil {
		return oops.Code("AUTH_UNAVAILABLE").
			With("operation", "disable two-factor").
			Wrap(err)
	}

	s.logger.Info("two-factor disabled", "user_id", userID.String())
	return nil
}

// SweepExpired removes sessions past their deadline. Idempotent; meant to
// be invoked periodically by an external scheduler.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	count, err := s.sessions.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, oops.Code("AUTH_UNAVAILABLE").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	if count > 0 {
		s.logger.Info("expired sessions swept", "count", count)
	}
	return count, nil
}

// findByLogin resolves an identifier containing '@' as an email, anything
// else as a username.
func (s *Service) findByLogin(ctx context.Context, identifier string) (*User, error) {
	if strings.Contains(identifier, "@") {
		return s.users.GetByEmail(ctx, identifier)
	}
	return s.users.GetByUsername(ctx, identifier)
}

func (s *Service) issueSession(ctx context.Context, user *User, userAgent, ipAddress string, now time.Time) (*TokenPair, *Session, error) {
	access, err := s.tokens.IssueAccessToken(user, now)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID, now)
	if err != nil {
		return nil, nil, err
	}

	session, err := NewSession(user.ID, refresh, userAgent, ipAddress, now, s.tokens.RefreshTTL())
	if err != nil {
		return nil, nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, nil, oops.Code("AUTH_UNAVAILABLE").
			With("operation", "persist session").
			Wrap(err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, session, nil
}

func errInvalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid credentials")
}

func errInvalidRefresh() error {
	return oops.Code("AUTH_INVALID_REFRESH").Errorf("invalid refresh token")
}
