// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sqlite implements auth repositories on an embedded SQLite file,
// for single-node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/holomush/gatekeeper/internal/auth"
)

//go:embed schema.sql
var schemaSQL string

const userColumns = `id, email, name, gender, password_hash,
	reset_token_hash, reset_token_expires_at, created_at, updated_at`

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// UserRepository implements auth.UserRepository on SQLite.
type UserRepository struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*UserRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, oops.Code("SQLITE_CONFIG_INVALID").Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("path", path).Wrap(err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("operation", "ping").With("path", path).Wrap(err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, oops.Code("SQLITE_SCHEMA_FAILED").With("path", path).Wrap(err)
	}
	return &UserRepository{db: db}, nil
}

// Close closes the database handle.
func (r *UserRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	hash, expires := resetColumns(user)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID.String(),
		user.Email,
		user.Name,
		string(user.Gender),
		user.PasswordHash,
		hash,
		expires,
		toMillis(user.CreatedAt),
		toMillis(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("USER_DUPLICATE_EMAIL").
				With("email", user.Email).
				Wrap(errors.Join(auth.ErrDuplicateEmail, err))
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("email", user.Email).
			Wrap(err)
	}
	return nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// GetByResetToken retrieves the user holding digest while it is unexpired at now.
func (r *UserRepository) GetByResetToken(ctx context.Context, digest string, now time.Time) (*auth.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE reset_token_hash = ? AND reset_token_expires_at > ?`,
		digest, toMillis(now))

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_RESET_TOKEN_FAILED").
			With("operation", "get user by reset token").
			Wrap(err)
	}
	return user, nil
}

// Update writes every mutable field of user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	hash, expires := resetColumns(user)
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			email = ?, name = ?, gender = ?, password_hash = ?,
			reset_token_hash = ?, reset_token_expires_at = ?, updated_at = ?
		WHERE id = ?`,
		user.Email,
		user.Name,
		string(user.Gender),
		user.PasswordHash,
		hash,
		expires,
		toMillis(user.UpdatedAt),
		user.ID.String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("USER_DUPLICATE_EMAIL").
				With("email", user.Email).
				Wrap(errors.Join(auth.ErrDuplicateEmail, err))
		}
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	return requireRow(result, user.ID, "USER_NOT_FOUND")
}

// SetResetToken writes the reset pair without touching the password hash.
func (r *UserRepository) SetResetToken(ctx context.Context, id ulid.ULID, digest string, expiresAt, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET reset_token_hash = ?, reset_token_expires_at = ?, updated_at = ?
		WHERE id = ?`,
		digest, toMillis(expiresAt), toMillis(now), id.String(),
	)
	if err != nil {
		return oops.Code("USER_SET_RESET_FAILED").
			With("operation", "set reset token").
			With("id", id.String()).
			Wrap(err)
	}
	return requireRow(result, id, "USER_NOT_FOUND")
}

// ConsumeResetToken swaps in passwordHash and clears the reset pair in one
// conditional UPDATE.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, id ulid.ULID, digest, passwordHash string, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			password_hash = ?,
			reset_token_hash = NULL,
			reset_token_expires_at = NULL,
			updated_at = ?
		WHERE id = ? AND reset_token_hash = ? AND reset_token_expires_at > ?`,
		passwordHash, toMillis(now), id.String(), digest, toMillis(now),
	)
	if err != nil {
		return oops.Code("USER_CONSUME_RESET_FAILED").
			With("operation", "consume reset token").
			With("id", id.String()).
			Wrap(err)
	}
	return requireRow(result, id, "RESET_TOKEN_NOT_FOUND")
}

func requireRow(result sql.Result, id ulid.ULID, code string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return oops.Code("USER_ROWS_AFFECTED_FAILED").With("id", id.String()).Wrap(err)
	}
	if n == 0 {
		return oops.Code(code).With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func resetColumns(user *auth.User) (sql.NullString, sql.NullInt64) {
	if user.ResetTokenHash == "" || user.ResetTokenExpiresAt == nil {
		return sql.NullString{}, sql.NullInt64{}
	}
	return sql.NullString{String: user.ResetTokenHash, Valid: true},
		sql.NullInt64{Int64: toMillis(*user.ResetTokenExpiresAt), Valid: true}
}

// scanUser scans a single row into a User.
// Callers are responsible for handling sql.ErrNoRows.
func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		idStr      string
		user       auth.User
		gender     string
		resetHash  sql.NullString
		resetUntil sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(
		&idStr,
		&user.Email,
		&user.Name,
		&gender,
		&user.PasswordHash,
		&resetHash,
		&resetUntil,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with lookup context
		}
		return nil, oops.Code("USER_SCAN_FAILED").With("operation", "scan user").Wrap(err)
	}

	user.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	user.Gender = auth.ParseGender(gender)
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	if resetHash.Valid && resetUntil.Valid {
		expires := fromMillis(resetUntil.Int64)
		user.ResetTokenHash = resetHash.String
		user.ResetTokenExpiresAt = &expires
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
