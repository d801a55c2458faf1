// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// ErrorBody is the "error" member of a failure response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every failure response. Message repeats
// Error.Message for clients that only read the top-level field.
type ErrorResponse struct {
	Message string    `json:"message"`
	Error   ErrorBody `json:"error"`
}

// MessageResponse is the body of responses that carry only a message.
type MessageResponse struct {
	Message string `json:"message"`
}

// AuthResponse is returned by every route that signs a user in.
type AuthResponse struct {
	Message string          `json:"message"`
	Token   string          `json:"token"`
	User    auth.PublicUser `json:"user"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind auth.ErrorKind) int {
	switch kind {
	case auth.KindValidation, auth.KindUserExists, auth.KindInvalidCredentials, auth.KindTokenInvalid:
		return http.StatusBadRequest
	case auth.KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(body)
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	if kind == auth.KindInternal {
		errutil.LogErrorContext(r.Context(), h.logger, "request failed", err)
	} else {
		h.logger.DebugContext(r.Context(), "request rejected", "kind", kind.String(), "route", routePattern(r))
	}

	msg := auth.PublicMessage(err)
	writeJSON(w, StatusFor(kind), ErrorResponse{
		Message: msg,
		Error:   ErrorBody{Code: kind.Code(), Message: msg},
	})
}

func authResponse(message string, result *auth.AuthResult) AuthResponse {
	return AuthResponse{
		Message: message,
		Token:   result.Token,
		User:    result.User.Public(),
	}
}
