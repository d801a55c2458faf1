// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/holomush/gatekeeper/pkg/errutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("invalid://url")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestNewMigrator_PostgresqlScheme(t *testing.T) {
	// Fails to connect, but the scheme must be recognized.
	_, err := NewMigrator("postgresql://localhost:1/testdb")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
	assert.NotContains(t, err.Error(), "unknown driver")
}

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@h:5432/db":    "pgx5://u:p@h:5432/db",
		"postgresql://u:p@h/db":       "pgx5://u:p@h/db",
		"pgx5://u:p@h/db":             "pgx5://u:p@h/db",
		"sqlite:///tmp/gatekeeper.db": "sqlite:///tmp/gatekeeper.db",
	}
	for in, want := range tests {
		assert.Equal(t, want, migrateURL(in), in)
	}
}

// mockMigrate implements migrateIface for testing.
type mockMigrate struct {
	upErr          error
	downErr        error
	stepsErr       error
	versionVal     uint
	versionErr     error
	dirty          bool
	forceErr       error
	closeSourceErr error
	closeDbErr     error
}

func (m *mockMigrate) Up() error                    { return m.upErr }
func (m *mockMigrate) Down() error                  { return m.downErr }
func (m *mockMigrate) Steps(_ int) error            { return m.stepsErr }
func (m *mockMigrate) Version() (uint, bool, error) { return m.versionVal, m.dirty, m.versionErr }
func (m *mockMigrate) Force(_ int) error            { return m.forceErr }
func (m *mockMigrate) Close() (error, error)        { return m.closeSourceErr, m.closeDbErr }

func TestMigrator_Apply(t *testing.T) {
	up := func(m *Migrator) error { return m.Up() }
	down := func(m *Migrator) error { return m.Down() }
	steps := func(n int) func(*Migrator) error {
		return func(m *Migrator) error { return m.Steps(n) }
	}
	force := func(m *Migrator) error { return m.Force(2) }

	tests := []struct {
		name     string
		mock     *mockMigrate
		apply    func(*Migrator) error
		wantCode string
	}{
		{name: "up", mock: &mockMigrate{}, apply: up},
		{name: "up with nothing pending", mock: &mockMigrate{upErr: migrate.ErrNoChange}, apply: up},
		{name: "up fails", mock: &mockMigrate{upErr: errors.New("database locked")}, apply: up, wantCode: "MIGRATION_UP_FAILED"},
		{name: "down", mock: &mockMigrate{}, apply: down},
		{name: "down on empty schema", mock: &mockMigrate{downErr: migrate.ErrNoChange}, apply: down},
		{name: "down fails", mock: &mockMigrate{downErr: errors.New("constraint violation")}, apply: down, wantCode: "MIGRATION_DOWN_FAILED"},
		{name: "steps forward", mock: &mockMigrate{}, apply: steps(1)},
		{name: "steps back with nothing applied", mock: &mockMigrate{stepsErr: migrate.ErrNoChange}, apply: steps(-1)},
		{name: "zero steps", mock: &mockMigrate{stepsErr: migrate.ErrNoChange}, apply: steps(0)},
		{name: "steps fail", mock: &mockMigrate{stepsErr: errors.New("file does not exist")}, apply: steps(5), wantCode: "MIGRATION_STEPS_FAILED"},
		{name: "force", mock: &mockMigrate{}, apply: force},
		{name: "force fails", mock: &mockMigrate{forceErr: errors.New("no migration 2")}, apply: force, wantCode: "MIGRATION_FORCE_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.apply(&Migrator{m: tt.mock})
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestMigrator_Version(t *testing.T) {
	tests := []struct {
		name      string
		mock      *mockMigrate
		wantVer   uint
		wantDirty bool
	}{
		{name: "clean", mock: &mockMigrate{versionVal: 2}, wantVer: 2},
		{name: "dirty", mock: &mockMigrate{versionVal: 1, dirty: true}, wantVer: 1, wantDirty: true},
		{name: "fresh database", mock: &mockMigrate{versionErr: migrate.ErrNilVersion}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, dirty, err := (&Migrator{m: tt.mock}).Version()
			require.NoError(t, err)
			assert.Equal(t, tt.wantVer, version)
			assert.Equal(t, tt.wantDirty, dirty)
		})
	}

	t.Run("error", func(t *testing.T) {
		_, _, err := (&Migrator{m: &mockMigrate{versionErr: errors.New("connection lost")}}).Version()
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
	})
}

func TestMigrator_Force_NegativeVersionRejected(t *testing.T) {
	m := &Migrator{m: &mockMigrate{}}
	err := m.Force(-1)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")
}

func TestMigrator_Close_Success(t *testing.T) {
	m := &Migrator{m: &mockMigrate{}}
	err := m.Close()
	require.NoError(t, err)
}

func TestMigrator_Close_SourceError(t *testing.T) {
	m := &Migrator{m: &mockMigrate{closeSourceErr: errors.New("source close failed")}}
	err := m.Close()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
	errutil.AssertErrorContext(t, err, "component", "source")
}

func TestMigrator_Close_DatabaseError(t *testing.T) {
	m := &Migrator{m: &mockMigrate{closeDbErr: errors.New("db close failed")}}
	err := m.Close()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
	errutil.AssertErrorContext(t, err, "component", "database")
}

func TestMigrator_Close_BothErrors(t *testing.T) {
	m := &Migrator{m: &mockMigrate{
		closeSourceErr: errors.New("source close failed"),
		closeDbErr:     errors.New("db close failed"),
	}}
	err := m.Close()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
	errutil.AssertErrorContext(t, err, "component", "both")
	assert.Contains(t, err.Error(), "source close failed")
	assert.Contains(t, err.Error(), "db close failed")
}

func TestMigrator_PendingMigrations(t *testing.T) {
	tests := []struct {
		name    string
		mock    *mockMigrate
		pending []uint
	}{
		{name: "fresh database", mock: &mockMigrate{versionErr: migrate.ErrNilVersion}, pending: []uint{1, 2}},
		{name: "partially migrated", mock: &mockMigrate{versionVal: 1}, pending: []uint{2}},
		{name: "at latest", mock: &mockMigrate{versionVal: 2}, pending: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: tt.mock}
			pending, err := m.PendingMigrations()
			require.NoError(t, err)
			assert.Equal(t, tt.pending, pending)
		})
	}
}

func TestMigrator_PendingMigrations_VersionError(t *testing.T) {
	m := &Migrator{m: &mockMigrate{versionErr: errors.New("connection lost")}}
	_, err := m.PendingMigrations()
	require.Error(t, err)
	errutil.AssertErrorContext(t, err, "operation", "get pending migrations")
}

func TestMigrator_AppliedMigrations(t *testing.T) {
	tests := []struct {
		name    string
		mock    *mockMigrate
		applied []uint
	}{
		{name: "fresh database", mock: &mockMigrate{versionErr: migrate.ErrNilVersion}, applied: nil},
		{name: "partially migrated", mock: &mockMigrate{versionVal: 1}, applied: []uint{1}},
		{name: "at latest", mock: &mockMigrate{versionVal: 2}, applied: []uint{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: tt.mock}
			applied, err := m.AppliedMigrations()
			require.NoError(t, err)
			assert.Equal(t, tt.applied, applied)
		})
	}
}

func TestMigrator_Status(t *testing.T) {
	m := &Migrator{m: &mockMigrate{versionVal: 1, dirty: true}}
	status, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, MigrationStatus{
		Version: 1,
		Name:    "000001_create_users",
		Dirty:   true,
		Pending: []uint{2},
	}, status)

	m = &Migrator{m: &mockMigrate{versionErr: errors.New("connection lost")}}
	_, err = m.Status()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
}

func TestMigrator_AppliedMigrations_VersionError(t *testing.T) {
	m := &Migrator{m: &mockMigrate{versionErr: errors.New("connection lost")}}
	_, err := m.AppliedMigrations()
	require.Error(t, err)
	errutil.AssertErrorContext(t, err, "operation", "get applied migrations")
}

// closedMock fails every call made after Close.
type closedMock struct {
	closed bool
}

var errMigratorClosed = errors.New("migrator is closed")

func (m *closedMock) Up() error {
	if m.closed {
		return errMigratorClosed
	}
	return nil
}

func (m *closedMock) Down() error {
	if m.closed {
		return errMigratorClosed
	}
	return nil
}

func (m *closedMock) Steps(_ int) error {
	if m.closed {
		return errMigratorClosed
	}
	return nil
}

func (m *closedMock) Version() (uint, bool, error) {
	if m.closed {
		return 0, false, errMigratorClosed
	}
	return 1, false, nil
}

func (m *closedMock) Force(_ int) error {
	if m.closed {
		return errMigratorClosed
	}
	return nil
}

func (m *closedMock) Close() (error, error) {
	m.closed = true
	return nil, nil
}

func TestMigrator_MethodsAfterClose(t *testing.T) {
	tests := []struct {
		name   string
		method func(*Migrator) error
	}{
		{
			name: "Up after Close",
			method: func(m *Migrator) error {
				return m.Up()
			},
		},
		{
			name: "Down after Close",
			method: func(m *Migrator) error {
				return m.Down()
			},
		},
		{
			name: "Steps after Close",
			method: func(m *Migrator) error {
				return m.Steps(1)
			},
		},
		{
			name: "Version after Close",
			method: func(m *Migrator) error {
				_, _, err := m.Version()
				return err
			},
		},
		{
			name: "Force after Close",
			method: func(m *Migrator) error {
				return m.Force(1)
			},
		},
		{
			name: "Status after Close",
			method: func(m *Migrator) error {
				_, err := m.Status()
				return err
			},
		},
		{
			name: "PendingMigrations after Close",
			method: func(m *Migrator) error {
				_, err := m.PendingMigrations()
				return err
			},
		},
		{
			name: "AppliedMigrations after Close",
			method: func(m *Migrator) error {
				_, err := m.AppliedMigrations()
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &closedMock{}
			migrator := &Migrator{m: mock}

			err := migrator.Close()
			require.NoError(t, err, "Close should succeed")

			err = tt.method(migrator)
			require.Error(t, err, "calling %s after Close should return an error", tt.name)
		})
	}
}

func TestMigrationName(t *testing.T) {
	tests := []struct {
		version     uint
		expected    string
		expectError bool
	}{
		{0, "", false},
		{1, "000001_create_users", false},
		{2, "000002_users_reset_token_index", false},
		{999, "", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("version_%d", tt.version), func(t *testing.T) {
			name, err := MigrationName(tt.version)
			if tt.expectError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expected, name)
		})
	}
}

func TestAllMigrationVersions_ReturnsCopy(t *testing.T) {
	versions1, err := allMigrationVersions()
	require.NoError(t, err)
	require.NotEmpty(t, versions1)

	original := versions1[0]
	versions1[0] = 99999

	versions2, err := allMigrationVersions()
	require.NoError(t, err)

	assert.Equal(t, original, versions2[0], "mutation should not affect cache")
}
