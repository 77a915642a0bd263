// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

// Package httpapi exposes the authentication service over HTTP. Handlers
// translate between JSON requests and the auth service, set and clear the
// refresh token cookie, and map structured error codes to HTTP statuses.
package httpapi

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/parleychat/parley/internal/auth"
)

// AuthService is the slice of the auth service the HTTP layer consumes.
type AuthService interface {
	Register(ctx context.Context, reg auth.Registration) (*auth.User, error)
	Login(ctx context.Context, identifier, password, totpCode, userAgent, ipAddress string) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, *auth.User, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID ulid.ULID) error
	Sessions(ctx context.Context, userID ulid.ULID) ([]*auth.Session, error)
	CurrentUser(ctx context.Context, userID ulid.ULID) (*auth.User, error)
	GenerateTwoFactorSecret(ctx context.Context, userID ulid.ULID) (auth.TwoFactorSecret, error)
	EnableTwoFactor(ctx context.Context, userID ulid.ULID, secret, code string) error
	DisableTwoFactor(ctx context.Context, userID ulid.ULID, password string) error
}

// AccessVerifier validates bearer access tokens for the auth middleware.
type AccessVerifier interface {
	VerifyAccess(tokenStr string) (*auth.AccessClaims, error)
}

// CookieOptions configures the refresh token cookie.
type CookieOptions struct {
	Secure bool
	Domain string
	TTL    time.Duration
}
