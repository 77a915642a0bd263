// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

// Package auth implements the credential, session, and token lifecycle for
// Parley.
//
// # Domain Types
//
// Domain types (User, Session) should be created using their respective
// constructors:
//   - NewUser - creates a User from a validated Registration
//   - NewSession - creates a Session bound to a user, device, and expiry
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Services
//
// Service is the single orchestrator over the login/refresh/logout/2FA
// state machine. It composes the repositories, the password hasher, the
// TOTP verifier, and the token issuer; none of those ever call back into
// Service.
package auth
