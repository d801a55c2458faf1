// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/holomush/gatekeeper/internal/auth"
)

var tracer = otel.Tracer("gatekeeper/notify")

const (
	providerSendGrid = "sendgrid"
	resetSubject     = "Password Reset"

	defaultSendAttempts = 3
	defaultSendBackoff  = 200 * time.Millisecond
)

// SendGridConfig configures SendGridNotifier.
type SendGridConfig struct {
	APIKey    string
	FromName  string
	FromEmail string
	// ClientURL is the base of the web client; links point at
	// {ClientURL}/reset-password/{token}.
	ClientURL string
	// Attempts bounds delivery tries per message. Zero means 3.
	Attempts uint64
	// Backoff is the first retry delay. Zero means 200ms.
	Backoff time.Duration
}

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridNotifier emails reset links through the SendGrid v3 API.
type SendGridNotifier struct {
	cfg    SendGridConfig
	client mailSender
}

// NewSendGridNotifier creates a SendGridNotifier.
func NewSendGridNotifier(cfg SendGridConfig) (*SendGridNotifier, error) {
	switch {
	case strings.TrimSpace(cfg.APIKey) == "":
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("sendgrid api key is required")
	case strings.TrimSpace(cfg.FromEmail) == "":
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("sender email is required")
	case strings.TrimSpace(cfg.ClientURL) == "":
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("client url is required")
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = defaultSendAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultSendBackoff
	}
	return &SendGridNotifier{cfg: cfg, client: sendgrid.NewSendClient(cfg.APIKey)}, nil
}

// SendPasswordResetLink emails the reset link to email. 429 and 5xx
// responses are retried; other 4xx responses fail immediately.
func (n *SendGridNotifier) SendPasswordResetLink(ctx context.Context, email, rawToken string) (err error) {
	ctx, span := tracer.Start(ctx, "notify.sendgrid")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery failed")
		}
		span.End()
		recordDelivery(providerSendGrid, err)
	}()

	msg := n.message(email, ResetLink(n.cfg.ClientURL, rawToken))
	backoff := retry.WithMaxRetries(n.cfg.Attempts-1, retry.NewExponential(n.cfg.Backoff))

	var attempts int
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		resp, sendErr := n.client.SendWithContext(ctx, msg)
		if sendErr != nil {
			return retry.RetryableError(oops.Code("NOTIFY_TRANSPORT_FAILED").Wrap(sendErr))
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		statusErr := oops.Code("NOTIFY_REJECTED").
			With("status", resp.StatusCode).
			Errorf("sendgrid responded %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.RetryableError(statusErr)
		}
		return statusErr
	})
	span.SetAttributes(attribute.Int("notify.attempts", attempts))
	if err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").
			With("provider", providerSendGrid).
			With("attempts", attempts).
			Wrap(err)
	}
	return nil
}

func (n *SendGridNotifier) message(email, link string) *mail.SGMailV3 {
	from := mail.NewEmail(n.cfg.FromName, n.cfg.FromEmail)
	to := mail.NewEmail("", email)
	plain := fmt.Sprintf(
		"You requested a password reset.\n\nOpen this link within one hour to choose a new password:\n%s\n\nIf you did not request this, ignore this email.",
		link)
	htmlBody := fmt.Sprintf(
		`<p>You requested a password reset.</p><p><a href="%s">Choose a new password</a>. The link expires in one hour.</p><p>If you did not request this, ignore this email.</p>`,
		html.EscapeString(link))
	return mail.NewSingleEmail(from, resetSubject, to, plain, htmlBody)
}

// ResetLink builds the client URL a user follows to complete a reset.
func ResetLink(clientURL, rawToken string) string {
	return strings.TrimRight(clientURL, "/") + "/reset-password/" + url.PathEscape(rawToken)
}

var _ auth.Notifier = (*SendGridNotifier)(nil)
