// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned by repositories when an insert collides with
// an existing user's email.
var ErrDuplicateEmail = errors.New("duplicate email")

// Error codes for the classified failures returned by CredentialService.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeUserExists         = "USER_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeTokenInvalid       = "TOKEN_INVALID"
)

// Messages surfaced to callers. Login and reset completion deliberately use a
// single message each so callers cannot tell which check failed.
const (
	MsgUserExists         = "User already exists"
	MsgInvalidCredentials = "Invalid email or password"
	MsgTokenInvalid       = "Token is invalid or has expired"
	MsgInternal           = "Internal server error"
)

// ErrorKind is the closed set of failure categories a credential operation
// can produce. The zero value is KindInternal.
type ErrorKind int

// Error kinds.
const (
	KindInternal ErrorKind = iota
	KindValidation
	KindUserExists
	KindInvalidCredentials
	KindTokenInvalid
)

// String returns the lowercase name used in logs and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUserExists:
		return "user_exists"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindTokenInvalid:
		return "token_invalid"
	default:
		return "internal"
	}
}

// Code returns the stable machine-readable code for the kind.
func (k ErrorKind) Code() string {
	switch k {
	case KindValidation:
		return CodeValidation
	case KindUserExists:
		return CodeUserExists
	case KindInvalidCredentials:
		return CodeInvalidCredentials
	case KindTokenInvalid:
		return CodeTokenInvalid
	default:
		return "INTERNAL_ERROR"
	}
}

// KindOf classifies err. Any error that does not carry one of the classified
// codes is KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return KindInternal
	}
	switch oopsErr.Code() {
	case CodeValidation:
		return KindValidation
	case CodeUserExists:
		return KindUserExists
	case CodeInvalidCredentials:
		return KindInvalidCredentials
	case CodeTokenInvalid:
		return KindTokenInvalid
	default:
		return KindInternal
	}
}

// PublicMessage returns the message safe to show to the caller. Internal
// failures never leak their detail.
func PublicMessage(err error) string {
	if KindOf(err) == KindInternal {
		return MsgInternal
	}
	oopsErr, _ := oops.AsOops(err)
	return oopsErr.Error()
}

func validationError(msg string) error {
	return oops.Code(CodeValidation).Errorf("%s", msg)
}

func userExistsError(email string) error {
	return oops.Code(CodeUserExists).With("email", email).Errorf(MsgUserExists)
}

func invalidCredentialsError() error {
	return oops.Code(CodeInvalidCredentials).Errorf(MsgInvalidCredentials)
}

func tokenInvalidError() error {
	return oops.Code(CodeTokenInvalid).Errorf(MsgTokenInvalid)
}
