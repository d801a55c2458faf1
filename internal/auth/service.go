// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("gatekeeper/auth")

// dummyPasswordHash is verified against when no user matches the email so
// that login takes the same time whether or not the account exists.
// It is not a credential and never matches any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Validation messages.
const (
	msgNameRequired        = "Name is required"
	msgEmailRequired       = "Email is required"
	msgPasswordRequired    = "Password is required"
	msgLoginFieldsRequired = "Email and password are required"
	msgResetFieldsRequired = "Token and new password are required"
)

// RegisterInput carries the fields of a registration request.
type RegisterInput struct {
	Name     string
	Gender   string
	Email    string
	Password string
}

// AuthResult is returned by every operation that authenticates a user.
type AuthResult struct {
	User  *User
	Token string
}

// ServiceOption configures optional CredentialService behavior.
type ServiceOption func(*CredentialService)

// WithClock overrides the time source used for reset expiry.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *CredentialService) {
		s.now = now
	}
}

// WithResetTokenTTL overrides ResetTokenExpiry.
func WithResetTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *CredentialService) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *CredentialService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// CredentialService manages registration, login and password resets.
// It holds no per-request state and is safe for concurrent use.
type CredentialService struct {
	users    UserRepository
	hasher   PasswordHasher
	sessions SessionIssuer
	notifier Notifier
	now      func() time.Time
	resetTTL time.Duration
	logger   *slog.Logger
}

// NewCredentialService creates a new CredentialService.
func NewCredentialService(
	users UserRepository,
	hasher PasswordHasher,
	sessions SessionIssuer,
	notifier Notifier,
	opts ...ServiceOption,
) (*CredentialService, error) {
	if users == nil {
		return nil, oops.Code("SERVICE_INVALID_CONFIG").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("SERVICE_INVALID_CONFIG").Errorf("password hasher is required")
	}
	if sessions == nil {
		return nil, oops.Code("SERVICE_INVALID_CONFIG").Errorf("session issuer is required")
	}
	if notifier == nil {
		return nil, oops.Code("SERVICE_INVALID_CONFIG").Errorf("notifier is required")
	}

	s := &CredentialService{
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		notifier: notifier,
		now:      time.Now,
		resetTTL: ResetTokenExpiry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates an account and signs the new user in.
func (s *CredentialService) Register(ctx context.Context, in RegisterInput) (result *AuthResult, err error) {
	ctx, done := s.observe(ctx, OpRegister)
	defer func() { done(err) }()

	name := strings.TrimSpace(in.Name)
	email := NormalizeEmail(in.Email)
	switch {
	case name == "":
		return nil, validationError(msgNameRequired)
	case email == "":
		return nil, validationError(msgEmailRequired)
	case strings.TrimSpace(in.Password) == "":
		return nil, validationError(msgPasswordRequired)
	}
	gender := ParseGender(in.Gender)

	_, err = s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, userExistsError(email)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("REGISTER_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(name, email, gender, hash, s.now())
	if err != nil {
		return nil, oops.Code("REGISTER_FAILED").
			With("operation", "build user").
			Wrap(err)
	}

	if err = s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			// Lost a race with a concurrent registration for the same email.
			s.logger.InfoContext(ctx, "concurrent registration rejected by store")
			return nil, userExistsError(email)
		}
		return nil, oops.Code("REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	token, err := s.issue(user)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return &AuthResult{User: user, Token: token}, nil
}

// Login verifies an email and password and issues a session token.
// Unknown emails and wrong passwords fail identically.
func (s *CredentialService) Login(ctx context.Context, email, password string) (result *AuthResult, err error) {
	ctx, done := s.observe(ctx, OpLogin)
	defer func() { done(err) }()

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, validationError(msgLoginFieldsRequired)
	}

	user, lookupErr := s.users.GetByEmail(ctx, email)
	targetHash := dummyPasswordHash
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
		user = nil
	} else {
		targetHash = user.PasswordHash
	}

	// Always verify, even for unknown users, to keep timing uniform.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if user != nil {
			s.logger.WarnContext(ctx, "stored password hash could not be verified",
				"user_id", user.ID.String(),
				"error", verifyErr,
			)
		}
		return nil, invalidCredentialsError()
	}
	if user == nil || !valid {
		return nil, invalidCredentialsError()
	}

	token, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Token: token}, nil
}

// RequestPasswordReset starts a reset for the account registered under email.
// It succeeds without side effects when no such account exists so callers
// cannot probe for registered addresses. A notifier failure is returned, but
// the stored token is kept so the request can be retried.
func (s *CredentialService) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, done := s.observe(ctx, OpRequestPasswordReset)
	defer func() { done(err) }()

	email = NormalizeEmail(email)
	if email == "" {
		return validationError(msgEmailRequired)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, digest, err := GenerateResetToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	now := s.now()
	expiresAt := now.Add(s.resetTTL)
	// Writes only the reset pair, never the password hash read above.
	if err = s.users.SetResetToken(ctx, user.ID, digest, expiresAt, now); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "store reset token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	if err = s.notifier.SendPasswordResetLink(ctx, user.Email, token); err != nil {
		return oops.Code("RESET_NOTIFY_FAILED").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset requested",
		"user_id", user.ID.String(),
		"expires_at", expiresAt,
	)
	return nil
}

// CompletePasswordReset exchanges a pending reset token for a new password.
// Unknown, expired and already used tokens fail identically.
func (s *CredentialService) CompletePasswordReset(ctx context.Context, rawToken, newPassword string) (result *AuthResult, err error) {
	ctx, done := s.observe(ctx, OpCompletePasswordReset)
	defer func() { done(err) }()

	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" || strings.TrimSpace(newPassword) == "" {
		return nil, validationError(msgResetFieldsRequired)
	}

	now := s.now()
	digest := HashResetToken(rawToken)

	user, err := s.users.GetByResetToken(ctx, digest, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, tokenInvalidError()
		}
		return nil, oops.Code("RESET_COMPLETE_FAILED").
			With("operation", "get user by reset token").
			Wrap(err)
	}
	if !user.HasPendingReset(now) || !VerifyResetToken(rawToken, user.ResetTokenHash) {
		return nil, tokenInvalidError()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, oops.Code("RESET_COMPLETE_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	if err = s.users.ConsumeResetToken(ctx, user.ID, digest, hash, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Consumed or expired between lookup and update.
			return nil, tokenInvalidError()
		}
		return nil, oops.Code("RESET_COMPLETE_FAILED").
			With("operation", "consume reset token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	user.PasswordHash = hash
	user.ClearResetToken(now)

	token, err := s.issue(user)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "password reset completed", "user_id", user.ID.String())
	return &AuthResult{User: user, Token: token}, nil
}

func (s *CredentialService) issue(user *User) (string, error) {
	token, err := s.sessions.Issue(user.ID)
	if err != nil {
		return "", oops.Code("SESSION_ISSUE_FAILED").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return token, nil
}

// observe starts a span for op and returns a func that ends it and records metrics.
func (s *CredentialService) observe(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "auth."+op)
	return ctx, func(err error) {
		if err != nil {
			kind := KindOf(err)
			span.SetAttributes(attribute.String("auth.outcome", kind.String()))
			if kind == KindInternal {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		} else {
			span.SetAttributes(attribute.String("auth.outcome", OutcomeOK))
		}
		span.End()
		recordOperation(op, err, time.Since(start))
	}
}
