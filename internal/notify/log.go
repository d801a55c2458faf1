// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"log/slog"

	"github.com/holomush/gatekeeper/internal/auth"
)

const (
	providerLog      = "log"
	redactedTokenLen = 8
)

// LogNotifier writes reset links to a logger instead of sending them.
// Only a token prefix is logged, so it is useful for tracing flows in
// development but cannot be used to complete a reset.
type LogNotifier struct {
	logger    *slog.Logger
	clientURL string
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger, clientURL string) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger, clientURL: clientURL}
}

// SendPasswordResetLink logs a redacted reset link for email.
func (n *LogNotifier) SendPasswordResetLink(ctx context.Context, email, rawToken string) error {
	n.logger.InfoContext(ctx, "password reset link",
		"email", email,
		"link", ResetLink(n.clientURL, redact(rawToken)),
	)
	recordDelivery(providerLog, nil)
	return nil
}

func redact(token string) string {
	r := []rune(token)
	if len(r) <= redactedTokenLen {
		return "…"
	}
	return string(r[:redactedTokenLen]) + "…"
}

var _ auth.Notifier = (*LogNotifier)(nil)
