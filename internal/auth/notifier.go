// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "context"

// Notifier delivers password reset links.
// Implementations must not log or persist rawToken in plaintext.
type Notifier interface {
	SendPasswordResetLink(ctx context.Context, email, rawToken string) error
}
