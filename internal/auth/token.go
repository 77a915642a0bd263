// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token validity windows.
const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. TokenID is a fresh
// random identifier per issuance; it defeats predictability and is never
// persisted — the session row's refresh_token string is the persisted
// correlation.
type RefreshClaims struct {
	TokenID string `json:"tokenId"`
	jwt.RegisteredClaims
}

// TokenConfig configures a TokenIssuer. A single symmetric signing key is
// active at a time; key rotation is out of scope.
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenIssuer mints and validates signed access and refresh tokens. Both
// operations are pure CPU; no I/O is involved.
type TokenIssuer struct {
	signingKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer creates a TokenIssuer from static configuration. Zero
// TTLs fall back to the package defaults.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, oops.Code("TOKEN_INVALID_KEY").Errorf("signing key cannot be empty")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = AccessTokenTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = RefreshTokenTTL
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, oops.Code("TOKEN_INVALID_TTL").Errorf("token TTLs must be positive")
	}

	return &TokenIssuer{
		signingKey: cfg.SigningKey,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

// IssueAccessToken signs an access token for the user, valid from now for
// the configured access TTL.
func (i *TokenIssuer) IssueAccessToken(user *User, now time.Time) (string, error) {
	claims := AccessClaims{
		Username: user.Username,
		Email:    user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").
			With("kind", "access").
			Wrap(err)
	}
	return signed, nil
}

// IssueRefreshToken signs a refresh token for the user, valid from now for
// the configured refresh TTL.
func (i *TokenIssuer) IssueRefreshToken(userID ulid.ULID, now time.Time) (string, error) {
	claims := RefreshClaims{
		TokenID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").
			With("kind", "refresh").
			Wrap(err)
	}
	return signed, nil
}

// RefreshTTL reports the configured refresh token lifetime. Sessions are
// created with the same TTL so the session row and the token expire together.
func (i *TokenIssuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// VerifyAccess parses and validates an access token. Returns an error with
// code TOKEN_EXPIRED for expired tokens and TOKEN_INVALID for everything
// else (bad signature, malformed, wrong algorithm).
func (i *TokenIssuer) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.verify(tokenStr, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh parses and validates a refresh token.
func (i *TokenIssuer) VerifyRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.verify(tokenStr, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (i *TokenIssuer) verify(tokenStr string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return i.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return oops.Code("TOKEN_EXPIRED").Errorf("token has expired")
		}
		return oops.Code("TOKEN_INVALID").Wrap(err)
	}
	if !token.Valid {
		return oops.Code("TOKEN_INVALID").Errorf("token failed validation")
	}
	return nil
}

// SubjectID extracts the subject user ID from registered claims.
func SubjectID(claims jwt.RegisteredClaims) (ulid.ULID, error) {
	id, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID").
			With("subject", claims.Subject).
			Wrap(err)
	}
	return id, nil
}
