// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Gender is the closed set of values a user may declare.
type Gender string

// Supported genders.
const (
	GenderMale           Gender = "male"
	GenderFemale         Gender = "female"
	GenderOther          Gender = "other"
	GenderPreferNotToSay Gender = "prefer_not_to_say"
)

const defaultGender = GenderOther

// ParseGender resolves a free-form value to a Gender. Matching is
// case-insensitive and ignores surrounding whitespace. Empty or unknown
// values resolve to GenderOther rather than failing.
func ParseGender(s string) Gender {
	switch g := Gender(strings.ToLower(strings.TrimSpace(s))); g {
	case GenderMale, GenderFemale, GenderOther, GenderPreferNotToSay:
		return g
	default:
		return defaultGender
	}
}

// Valid reports whether g is one of the supported genders.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther, GenderPreferNotToSay:
		return true
	default:
		return false
	}
}

// NormalizeEmail trims surrounding whitespace and lowercases the address.
// All comparisons and storage use the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// User is a registered account.
type User struct {
	ID           ulid.ULID
	Email        string
	Name         string
	Gender       Gender
	PasswordHash string `json:"-"`

	// ResetTokenHash is the SHA-256 digest of a pending reset token.
	// It is set together with ResetTokenExpiresAt or not at all.
	ResetTokenHash      string     `json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUser creates a User with a fresh ID and normalized fields.
// The caller is responsible for validating presence of name and email.
func NewUser(name, email string, gender Gender, passwordHash string, now time.Time) (*User, error) {
	email = NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" {
		return nil, oops.Code("USER_INVALID").Errorf("email cannot be empty")
	}
	if name == "" {
		return nil, oops.Code("USER_INVALID").Errorf("name cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID").Errorf("password hash cannot be empty")
	}
	if !gender.Valid() {
		gender = defaultGender
	}
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		Name:         name,
		Gender:       gender,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// HasPendingReset reports whether a reset token is outstanding at now.
func (u *User) HasPendingReset(now time.Time) bool {
	return u.ResetTokenHash != "" && u.ResetTokenExpiresAt != nil && now.Before(*u.ResetTokenExpiresAt)
}

// SetResetToken records a pending reset. Both fields are always written together.
func (u *User) SetResetToken(digest string, expiresAt, now time.Time) {
	u.ResetTokenHash = digest
	u.ResetTokenExpiresAt = &expiresAt
	u.UpdatedAt = now
}

// ClearResetToken removes any pending reset.
func (u *User) ClearResetToken(now time.Time) {
	u.ResetTokenHash = ""
	u.ResetTokenExpiresAt = nil
	u.UpdatedAt = now
}

// PublicUser is the externally visible view of a User.
type PublicUser struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Gender Gender `json:"gender"`
}

// Public returns the view of u that may leave the service.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:     u.ID.String(),
		Email:  u.Email,
		Name:   u.Name,
		Gender: u.Gender,
	}
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrDuplicateEmail if the email is taken.
	Create(ctx context.Context, user *User) error

	// GetByEmail retrieves a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByResetToken retrieves the user holding the given reset digest
	// whose expiry is strictly after now.
	GetByResetToken(ctx context.Context, digest string, now time.Time) (*User, error)

	// Update writes every mutable field of user, including the reset pair.
	Update(ctx context.Context, user *User) error

	// SetResetToken records a pending reset for id, touching only the reset
	// pair and updated_at. Returns ErrNotFound if no such user exists.
	SetResetToken(ctx context.Context, id ulid.ULID, digest string, expiresAt, now time.Time) error

	// ConsumeResetToken replaces the password hash and clears the reset pair
	// in one statement, but only while the user still holds digest and it
	// has not expired at now. Returns ErrNotFound otherwise.
	ConsumeResetToken(ctx context.Context, id ulid.ULID, digest, passwordHash string, now time.Time) error
}
