// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gatekeeper/internal/store"
)

var _ = Describe("Users schema", Ordered, func() {
	var (
		ctx     context.Context
		connStr string
		pool    *pgxpool.Pool
		cleanup func()
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		connStr, cleanup, err = startPostgres(ctx)
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.OpenPool(ctx, connStr, 3)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if cleanup != nil {
			cleanup()
		}
	})

	insert := func(id, email string) error {
		_, err := pool.Exec(ctx, `
			INSERT INTO users (id, email, name, gender, password_hash)
			VALUES ($1, $2, 'n', 'other', 'h')`, id, email)
		return err
	}

	It("rejects emails that differ only by case", func() {
		Expect(insert("01J0000000000000000000000A", "ada@x.com")).To(Succeed())
		Expect(insert("01J0000000000000000000000B", "ADA@x.com")).NotTo(Succeed())
	})

	It("rejects a half-set reset pair", func() {
		Expect(insert("01J0000000000000000000000C", "pair@x.com")).To(Succeed())
		_, err := pool.Exec(ctx,
			`UPDATE users SET reset_token_hash = 'abc' WHERE id = $1`,
			"01J0000000000000000000000C")
		Expect(err).To(HaveOccurred())
	})

	It("rejects unknown genders", func() {
		_, err := pool.Exec(ctx, `
			INSERT INTO users (id, email, name, gender, password_hash)
			VALUES ('01J0000000000000000000000D', 'g@x.com', 'n', 'robot', 'h')`)
		Expect(err).To(HaveOccurred())
	})
})
