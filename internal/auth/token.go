// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes  = 32        // 32 bytes = 64 hex chars
	ResetTokenExpiry = time.Hour // default lifetime of a pending reset
)

// GenerateResetToken creates a secure random token and its digest.
// Returns (plaintext_token, sha256_digest, error).
// The plaintext token is sent to the user; only the digest is stored.
func GenerateResetToken() (token, digest string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	digest = HashResetToken(token)

	return token, digest, nil
}

// VerifyResetToken checks if the plaintext token matches the stored digest
// in constant time.
func VerifyResetToken(token, digest string) bool {
	if token == "" || digest == "" {
		return false
	}
	computed := HashResetToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

// HashResetToken computes the hex SHA-256 digest stored for a reset token.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
