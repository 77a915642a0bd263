// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a unique field (email, username, phone)
// collides with an existing user.
var ErrAlreadyExists = errors.New("already exists")

// ErrRefreshConflict is returned by SessionRepository.RotateRefreshToken
// when the presented token no longer matches the stored one. Under a race
// between two refresh calls carrying the same token, exactly one rotation
// commits; the loser observes this error.
var ErrRefreshConflict = errors.New("refresh token conflict")
