// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the credential lifecycle over JSON/HTTP.
//
// Routes:
//
//	POST /api/register
//	POST /api/login
//	POST /api/forgot-password
//	POST /api/reset-password/{token}
//
// Failures are rendered as {"message": ..., "error": {"code": ..., "message": ...}}
// with the status chosen by StatusFor.
package httpapi
