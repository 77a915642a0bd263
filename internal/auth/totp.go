// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package auth

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/samber/oops"
)

// TOTP parameters. Standard 30-second step with a ±2 step tolerance, so a
// submitted code is checked against 5 consecutive windows to absorb clock
// drift between the server and the authenticator device.
const (
	totpPeriod     = 30
	totpSkew       = 2
	totpSecretSize = 20
)

// TwoFactorSecret is the outcome of a secret generation: the shared secret
// in base32 and the otpauth:// provisioning URI for authenticator apps.
// Nothing is persisted until the caller commits the secret.
type TwoFactorSecret struct {
	Secret        string
	EnrollmentURI string
}

// TwoFactorVerifier generates TOTP secrets and verifies submitted codes.
type TwoFactorVerifier interface {
	// GenerateSecret produces a fresh random shared secret labeled for the
	// given account. It does not persist or enable anything.
	GenerateSecret(accountName string) (TwoFactorSecret, error)

	// VerifyCode reports whether the submitted code matches the secret at
	// the given time, within the tolerance window. Failure is silent
	// (false), never an error.
	VerifyCode(secret, code string, now time.Time) bool
}

// TOTPVerifier implements TwoFactorVerifier using RFC 6238 TOTP.
type TOTPVerifier struct {
	issuer string
}

// NewTOTPVerifier creates a TOTPVerifier. The issuer names this service in
// authenticator apps.
func NewTOTPVerifier(issuer string) (*TOTPVerifier, error) {
	if issuer == "" {
		return nil, oops.Code("TOTP_INVALID_ISSUER").Errorf("issuer cannot be empty")
	}
	return &TOTPVerifier{issuer: issuer}, nil
}

// GenerateSecret produces a fresh shared secret and provisioning URI.
func (v *TOTPVerifier) GenerateSecret(accountName string) (TwoFactorSecret, error) {
	if accountName == "" {
		return TwoFactorSecret{}, oops.Code("TOTP_INVALID_ACCOUNT").Errorf("account name cannot be empty")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return TwoFactorSecret{}, oops.Code("TOTP_GENERATE_FAILED").
			With("account", accountName).
			Wrap(err)
	}

	return TwoFactorSecret{
		Secret:        key.Secret(),
		EnrollmentURI: key.URL(),
	}, nil
}

// VerifyCode reports whether the code is valid for the secret at now.
// Malformed codes and verification errors both report false; the caller
// decides how to react.
func (v *TOTPVerifier) VerifyCode(secret, code string, now time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}

// Compile-time interface check.
var _ TwoFactorVerifier = (*TOTPVerifier)(nil)
