// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify delivers password reset links.
//
// SendGridNotifier sends real email, LogNotifier writes a redacted link to
// the log for development, and AsyncNotifier moves delivery of either off
// the request path.
package notify
