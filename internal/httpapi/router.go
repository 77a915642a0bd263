// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router builds the HTTP routing table. Routes under /auth requiring a
// bearer token are grouped on a subrouter behind RequireAuth.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestLogger(h.logger, h.metrics))

	authR := r.PathPrefix("/auth").Subrouter()
	authR.HandleFunc("/register", h.handleRegister).Methods(http.MethodPost)
	authR.HandleFunc("/login", h.handleLogin).Methods(http.MethodPost)
	authR.HandleFunc("/refresh", h.handleRefresh).Methods(http.MethodPost)

	protected := r.PathPrefix("/auth").Subrouter()
	protected.Use(RequireAuth(h.verifier, h.logger))
	protected.HandleFunc("/logout", h.handleLogout).Methods(http.MethodPost)
	protected.HandleFunc("/logout-all", h.handleLogoutAll).Methods(http.MethodPost)
	protected.HandleFunc("/sessions", h.handleSessions).Methods(http.MethodGet)
	protected.HandleFunc("/me", h.handleMe).Methods(http.MethodGet)
	protected.HandleFunc("/2fa/generate", h.handleTwoFactorGenerate).Methods(http.MethodPost)
	protected.HandleFunc("/2fa/enable", h.handleTwoFactorEnable).Methods(http.MethodPost)
	protected.HandleFunc("/2fa/disable", h.handleTwoFactorDisable).Methods(http.MethodPost)

	return r
}
