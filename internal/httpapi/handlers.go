// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/samber/oops"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/observability"
)

// refreshCookieName is the cookie carrying the refresh token. Scoped to
// /auth so it only accompanies refresh and logout calls.
const refreshCookieName = "refresh_token"

const qrCodeSize = 256

// Handler serves the /auth API.
type Handler struct {
	svc      AuthService
	verifier AccessVerifier
	cookies  CookieOptions
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewHandler creates a Handler. metrics may be nil to disable counters.
func NewHandler(svc AuthService, verifier AccessVerifier, cookies CookieOptions, logger *slog.Logger, metrics *observability.Metrics) (*Handler, error) {
	if svc == nil {
		return nil, oops.Errorf("auth service is required")
	}
	if verifier == nil {
		return nil, oops.Errorf("access verifier is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cookies.TTL <= 0 {
		cookies.TTL = auth.RefreshTokenTTL
	}
	return &Handler{
		svc:      svc,
		verifier: verifier,
		cookies:  cookies,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

type registerRequest struct {
	Email    string  `json:"email"`
	Username string  `json:"username"`
	Password string  `json:"password"`
	Phone    *string `json:"phone,omitempty"`
	FullName string  `json:"fullName,omitempty"`
	Language string  `json:"language,omitempty"`
	Timezone string  `json:"timezone,omitempty"`
}

type userResponse struct {
	User auth.PublicUser `json:"user"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.svc.Register(r.Context(), auth.Registration{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		Phone:    req.Phone,
		FullName: req.FullName,
		Language: req.Language,
		Timezone: req.Timezone,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{User: user.Public()})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	TOTPCode   string `json:"totpCode,omitempty"`
}

type loginResponse struct {
	User              *auth.PublicUser `json:"user,omitempty"`
	AccessToken       string           `json:"accessToken,omitempty"`
	RefreshToken      string           `json:"refreshToken,omitempty"`
	RequiresTwoFactor bool             `json:"requiresTwoFactor,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.svc.Login(r.Context(), req.Identifier, req.Password,
		req.TOTPCode, r.UserAgent(), clientIP(r))
	if err != nil {
		h.countLogin("failure")
		writeError(w, h.logger, err)
		return
	}

	if result.RequiresTwoFactor {
		h.countLogin("twofactor_pending")
		writeJSON(w, http.StatusOK, loginResponse{RequiresTwoFactor: true})
		return
	}

	h.countLogin("success")
	h.setRefreshCookie(w, result.RefreshToken)
	public := result.User.Public()
	writeJSON(w, http.StatusOK, loginResponse{
		User:         &public,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := h.refreshTokenFrom(r)
	if token == "" {
		h.countRefresh("failure")
		writeError(w, h.logger, oops.Code("AUTH_INVALID_REFRESH").Errorf("missing refresh token"))
		return
	}

	pair, user, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		h.countRefresh("failure")
		if h.metrics != nil && errors.Is(err, auth.ErrRefreshConflict) {
			h.metrics.RotationConflicts.Inc()
		}
		h.clearRefreshCookie(w)
		writeError(w, h.logger, err)
		return
	}

	h.countRefresh("success")
	h.setRefreshCookie(w, pair.RefreshToken)
	public := user.Public()
	writeJSON(w, http.StatusOK, loginResponse{
		User:         &public,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := h.refreshTokenFrom(r)
	if err := h.svc.Logout(r.Context(), token); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, h.logger, oops.Code("TOKEN_INVALID").Errorf("missing identity"))
		return
	}

	if err := h.svc.LogoutAll(r.Context(), identity.UserID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type sessionsResponse struct {
	Sessions []auth.PublicSession `json:"sessions"`
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, h.logger, oops.Code("TOKEN_INVALID").Errorf("missing identity"))
		return
	}

	sessions, err := h.svc.Sessions(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	public := make([]auth.PublicSession, 0, len(sessions))
	for _, s := range sessions {
		public = append(public, s.Public())
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: public})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, h.logger, oops.Code("TOKEN_INVALID").Errorf("missing identity"))
		return
	}

	user, err := h.svc.CurrentUser(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: user.Public()})
}

type twoFactorGenerateResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
	QRCode     string `json:"qrCode"`
}

func (h *Handler) handleTwoFactorGenerate(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, h.logger, oops.Code("TOKEN_INVALID").Errorf("missing identity"))
		return
	}

	secret, err := h.svc.GenerateTwoFactorSecret(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	png, err := qrcode.Encode(secret.EnrollmentURI, qrcode.Medium, qrCodeSize)
	if err != nil {
		writeError(w, h.logger, oops.Code("AUTH_UNAVAILABLE").
			With("operation", "encode enrollment QR code").
			Wrap(err))
		return
	}

	writeJSON(w, http.StatusOK, twoFactorGenerateResponse{
		Secret:     secret.Secret,
		OTPAuthURL: secret.EnrollmentURI,
		QRCode:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	})
}

type twoFactorEnableRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

func (h *Handler) handleTwoFactorEnable(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, h.logger, oops.Code("TOKEN_INVALID").Errorf("missing identity"))
		return
	}

	var req twoFactorEnableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.svc.EnableTwoFactor(r.Context(), identity.UserID, req.Secret, req.Code); err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type twoFactorDisableRequest struct {
	Password string `json:"password"`
}

func (h *Handler) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, h.logger, oops.Code("TOKEN_INVALID").Errorf("missing identity"))
		return
	}

	var req twoFactorDisableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.svc.DisableTwoFactor(r.Context(), identity.UserID, req.Password); err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// refreshTokenFrom reads the refresh token from the cookie, falling back
// to the request body for clients that cannot send cookies.
func (h *Handler) refreshTokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/auth",
		Domain:   h.cookies.Domain,
		MaxAge:   int(h.cookies.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/auth",
		Domain:   h.cookies.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) countLogin(outcome string) {
	if h.metrics != nil {
		h.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) countRefresh(outcome string) {
	if h.metrics != nil {
		h.metrics.RefreshesTotal.WithLabelValues(outcome).Inc()
	}
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return oops.Code("REQUEST_INVALID").Errorf("empty request body")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return oops.Code("REQUEST_INVALID").Wrapf(err, "decode request body")
	}
	return nil
}

// clientIP returns the originating client address, preferring the first
// X-Forwarded-For entry set by a trusted proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
