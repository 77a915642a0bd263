// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/parleychat/parley/pkg/errutil"
)

// errorResponse is the JSON shape of every error reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

// writeError maps a structured error to an HTTP status and a sanitized
// JSON body. Internal detail (wrapped causes, context) stays in the logs;
// the client sees only the code and its public message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	code := ""
	message := "internal error"

	if oopsErr, ok := oops.AsOops(err); ok {
		if c, isStr := oopsErr.Code().(string); isStr {
			code = c
		}
		status, message = statusForCode(code)
	}

	if status >= http.StatusInternalServerError {
		errutil.LogError(logger, "request failed", err)
	}

	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// statusForCode maps error codes to HTTP statuses and client-facing
// messages. Credential failures share one generic message so responses
// cannot be used to enumerate accounts.
func statusForCode(code string) (int, string) {
	switch code {
	case "AUTH_INVALID_CREDENTIALS":
		return http.StatusUnauthorized, "invalid credentials"
	case "AUTH_INVALID_TOTP":
		return http.StatusUnauthorized, "invalid two-factor authentication code"
	case "AUTH_INVALID_REFRESH":
		return http.StatusUnauthorized, "invalid refresh token"
	case "TOKEN_EXPIRED":
		return http.StatusUnauthorized, "token has expired"
	case "TOKEN_INVALID":
		return http.StatusUnauthorized, "invalid token"
	case "AUTH_ACCOUNT_DISABLED":
		return http.StatusForbidden, "account is disabled"
	case "AUTH_ALREADY_EXISTS":
		return http.StatusConflict, "account already exists"
	case "AUTH_NOT_FOUND":
		return http.StatusNotFound, "not found"
	case "AUTH_INVALID_TOTP_ENROLL":
		return http.StatusBadRequest, "invalid verification code"
	case "AUTH_INVALID_EMAIL", "AUTH_INVALID_USERNAME", "AUTH_INVALID_PASSWORD",
		"SESSION_INVALID_REFRESH", "REQUEST_INVALID":
		return http.StatusBadRequest, "invalid request"
	case "AUTH_UNAVAILABLE":
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
