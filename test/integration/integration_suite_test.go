// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

// Package integration drives the credential API end to end against PostgreSQL.
package integration

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/gatekeeper/internal/auth"
	authpg "github.com/holomush/gatekeeper/internal/auth/postgres"
	"github.com/holomush/gatekeeper/internal/httpapi"
	"github.com/holomush/gatekeeper/internal/store"
)

const testSecret = "integration-secret-0123456789abcdef"

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Integration Suite")
}

// outbox captures reset links instead of mailing them.
type outbox struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (o *outbox) SendPasswordResetLink(_ context.Context, email, rawToken string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens[email] = rawToken
	return nil
}

func (o *outbox) token(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tokens[email]
}

// testEnv holds all resources needed for the end-to-end specs.
type testEnv struct {
	ctx       context.Context
	container testcontainers.Container
	pool      *pgxpool.Pool
	server    *httpapi.Server
	signer    *auth.JWTSigner
	mail      *outbox
	baseURL   string
	client    *http.Client
}

var env *testEnv

var _ = BeforeSuite(func() {
	var err error
	env, err = setupTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil {
		env.cleanup()
	}
})

func setupTestEnv() (*testEnv, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gatekeeper_test"),
		postgres.WithUsername("gatekeeper"),
		postgres.WithPassword("gatekeeper"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	upErr := migrator.Up()
	_ = migrator.Close()
	if upErr != nil {
		_ = container.Terminate(ctx)
		return nil, upErr
	}

	pool, err := store.OpenPool(ctx, connStr, store.DefaultConnectAttempts)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	signer, err := auth.NewJWTSigner(auth.SignerConfig{Secret: []byte(testSecret), Issuer: "gatekeeper-it"})
	if err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}

	logger := slog.New(slog.DiscardHandler)
	mail := &outbox{tokens: map[string]string{}}
	svc, err := auth.NewCredentialService(authpg.NewUserRepository(pool), auth.NewArgon2idHasher(), signer, mail,
		auth.WithLogger(logger))
	if err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}

	server := httpapi.NewServer("127.0.0.1:0", httpapi.NewRouter(svc, httpapi.RouterConfig{Logger: logger}))
	if _, err := server.Start(); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &testEnv{
		ctx:       ctx,
		container: container,
		pool:      pool,
		server:    server,
		signer:    signer,
		mail:      mail,
		baseURL:   "http://" + server.Addr(),
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (e *testEnv) cleanup() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.server.Stop(stopCtx)
	e.pool.Close()
	_ = e.container.Terminate(e.ctx)
}
