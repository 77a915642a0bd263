// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// emailRegex is a light shape check; real validation is the mail server's
// problem.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// User represents a registered account.
type User struct {
	ID               ulid.ULID
	Email            string
	Username         string
	Phone            *string
	PasswordHash     string
	FullName         string
	AvatarURL        string
	Bio              string
	Language         string
	Timezone         string
	IsActive         bool
	TwoFactorEnabled bool
	TwoFactorSecret  *string
	LastSeenAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PublicUser is the wire-safe projection of a User. PasswordHash and
// TwoFactorSecret never leave the process; every API response goes through
// this projection rather than serializing the full record.
type PublicUser struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Username         string     `json:"username"`
	Phone            *string    `json:"phone,omitempty"`
	FullName         string     `json:"fullName,omitempty"`
	AvatarURL        string     `json:"avatarUrl,omitempty"`
	Bio              string     `json:"bio,omitempty"`
	Language         string     `json:"language,omitempty"`
	Timezone         string     `json:"timezone,omitempty"`
	IsActive         bool       `json:"isActive"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	LastSeenAt       *time.Time `json:"lastSeenAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Public returns the wire-safe projection of the user.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:               u.ID.String(),
		Email:            u.Email,
		Username:         u.Username,
		Phone:            u.Phone,
		FullName:         u.FullName,
		AvatarURL:        u.AvatarURL,
		Bio:              u.Bio,
		Language:         u.Language,
		Timezone:         u.Timezone,
		IsActive:         u.IsActive,
		TwoFactorEnabled: u.TwoFactorEnabled,
		LastSeenAt:       u.LastSeenAt,
		CreatedAt:        u.CreatedAt,
	}
}

// Registration carries the fields accepted at sign-up. Password arrives in
// plaintext and is hashed before the User ever exists.
type Registration struct {
	Email    string
	Username string
	Phone    *string
	Password string
	FullName string
	Language string
	Timezone string
}

// NewUser creates a validated User from a registration and an already
// computed password hash.
func NewUser(reg Registration, passwordHash string) (*User, error) {
	if err := ValidateEmail(reg.Email); err != nil {
		return nil, err
	}
	if err := ValidateUsername(reg.Username); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &User{
		ID:           ulid.Make(),
		Email:        strings.ToLower(reg.Email),
		Username:     reg.Username,
		Phone:        reg.Phone,
		PasswordHash: passwordHash,
		FullName:     reg.FullName,
		Language:     reg.Language,
		Timezone:     reg.Timezone,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail performs a shallow shape check on an email address.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("email", email).
			Errorf("email is not well-formed")
	}
	return nil
}

// UserRepository manages user persistence. The store exclusively owns User
// rows; deleting a user cascades session deletion at the store level.
type UserRepository interface {
	// Create stores a new user. Returns an error wrapping ErrAlreadyExists
	// if email, username, or phone collide with an existing row.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByUsername retrieves a user by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*User, error)

	// UpdateLastSeen sets last_seen_at for a user.
	UpdateLastSeen(ctx context.Context, id ulid.ULID, seenAt time.Time) error

	// UpdatePassword updates only the password hash for a user.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// SetTwoFactor atomically updates the 2FA flag and secret. Disabling
	// clears the stored secret; secret must be nil when enabled is false.
	SetTwoFactor(ctx context.Context, id ulid.ULID, enabled bool, secret *string) error

	// Delete removes a user.
	Delete(ctx context.Context, id ulid.ULID) error
}
