// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements the credential lifecycle for gatekeeper.
//
// # Domain Types
//
// User is the persistent identity record. Users should be created with
// NewUser, which normalizes the email, trims the name and resolves the
// gender; direct struct initialization bypasses that normalization.
// Repository implementations receive pre-normalized values.
//
// # Primitives
//
//   - PasswordHasher - argon2id hashing, with bcrypt accepted on verify
//   - GenerateResetToken - random reset tokens and their stored digests
//   - JWTSigner - stateless HS256 session tokens
//
// # Services
//
// CredentialService coordinates registration, login and the password
// reset flow. It is created with NewCredentialService, which validates its
// dependencies. Every error it returns can be classified with KindOf.
package auth
