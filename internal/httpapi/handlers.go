// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// Success messages.
const (
	MsgRegistered     = "User registered successfully"
	MsgLoggedIn       = "Login successful"
	MsgResetLinkSent  = "Password reset link has been sent."
	MsgPasswordReset  = "Password has been reset successfully"
	msgInvalidRequest = "Invalid request body"
)

// maxBodyBytes caps request bodies. Every route takes a handful of short strings.
const maxBodyBytes = 64 << 10

// CredentialManager is the credential lifecycle consumed by the handlers.
// *auth.CredentialService implements it.
type CredentialManager interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error)
	Login(ctx context.Context, email, password string) (*auth.AuthResult, error)
	RequestPasswordReset(ctx context.Context, email string) error
	CompletePasswordReset(ctx context.Context, rawToken, newPassword string) (*auth.AuthResult, error)
}

type registerRequest struct {
	Name     string `json:"name"`
	Gender   string `json:"gender"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *registerRequest) bindForm(form url.Values) {
	r.Name = form.Get("name")
	r.Gender = form.Get("gender")
	r.Email = form.Get("email")
	r.Password = form.Get("password")
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *loginRequest) bindForm(form url.Values) {
	r.Email = form.Get("email")
	r.Password = form.Get("password")
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (r *forgotPasswordRequest) bindForm(form url.Values) {
	r.Email = form.Get("email")
}

// resetPasswordRequest accepts the new password as either "newPassword"
// (the web client's field) or "password".
type resetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
	Password    string `json:"password"`
}

func (r *resetPasswordRequest) bindForm(form url.Values) {
	r.NewPassword = form.Get("newPassword")
	r.Password = form.Get("password")
}

func (r resetPasswordRequest) password() string {
	if p := strings.TrimSpace(r.NewPassword); p != "" {
		return p
	}
	return strings.TrimSpace(r.Password)
}

// formBinder fills a request from urlencoded form values.
type formBinder interface {
	bindForm(form url.Values)
}

type handlers struct {
	credentials CredentialManager
	logger      *slog.Logger
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.credentials.Register(r.Context(), auth.RegisterInput{
		Name:     strings.TrimSpace(req.Name),
		Gender:   strings.TrimSpace(req.Gender),
		Email:    strings.TrimSpace(req.Email),
		Password: strings.TrimSpace(req.Password),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse(MsgRegistered, result))
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.credentials.Login(r.Context(), strings.TrimSpace(req.Email), strings.TrimSpace(req.Password))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse(MsgLoggedIn, result))
}

func (h *handlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.credentials.RequestPasswordReset(r.Context(), strings.TrimSpace(req.Email)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: MsgResetLinkSent})
}

func (h *handlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.credentials.CompletePasswordReset(r.Context(), chi.URLParam(r, "token"), req.password())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse(MsgPasswordReset, result))
}

// decode reads the body as a urlencoded form when the request says so, and
// as a single JSON object otherwise. An empty body decodes as the zero value
// so the service reports the missing fields.
func decode(w http.ResponseWriter, r *http.Request, dst formBinder) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return oops.Code(auth.CodeValidation).With("route", routePattern(r)).Errorf(msgInvalidRequest)
		}
		dst.bindForm(r.PostForm)
		return nil
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return oops.Code(auth.CodeValidation).With("route", routePattern(r)).Errorf(msgInvalidRequest)
	}
	return nil
}
