// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/httpapi"
)

type apiReply struct {
	Message string          `json:"message"`
	Token   string          `json:"token"`
	User    auth.PublicUser `json:"user"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func post(path, body string) (int, apiReply) {
	GinkgoHelper()
	resp, err := env.client.Post(env.baseURL+path, "application/json", strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	var reply apiReply
	Expect(json.NewDecoder(resp.Body).Decode(&reply)).To(Succeed())
	return resp.StatusCode, reply
}

var _ = Describe("Credential lifecycle", Ordered, func() {
	const email = "grace@example.com"
	var userID string

	It("registers a user and returns a session token", func() {
		status, reply := post("/api/register",
			`{"name":"Grace","email":"  Grace@Example.com ","password":"first-pass","gender":"female"}`)
		Expect(status).To(Equal(http.StatusCreated))
		Expect(reply.Message).To(Equal(httpapi.MsgRegistered))
		Expect(reply.User.Email).To(Equal(email))
		Expect(reply.User.Gender).To(Equal(auth.GenderFemale))

		claims, err := env.signer.Verify(reply.Token)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.UserID).To(Equal(reply.User.ID))
		Expect(claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time)).To(Equal(auth.DefaultSessionLifetime))
		userID = reply.User.ID
	})

	It("stores only the password hash", func() {
		var stored string
		err := env.pool.QueryRow(env.ctx, `SELECT password_hash FROM users WHERE email = $1`, email).Scan(&stored)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(HavePrefix("$argon2id$"))
		Expect(stored).NotTo(ContainSubstring("first-pass"))
	})

	It("rejects a second registration for the same email in any case", func() {
		status, reply := post("/api/register", `{"name":"Other","email":"GRACE@example.COM","password":"x"}`)
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(reply.Error.Code).To(Equal(auth.CodeUserExists))
		Expect(reply.Message).To(Equal(auth.MsgUserExists))
	})

	It("logs in with the registered password", func() {
		status, reply := post("/api/login", `{"email":"grace@example.com","password":"first-pass"}`)
		Expect(status).To(Equal(http.StatusOK))
		Expect(reply.User.ID).To(Equal(userID))
		Expect(reply.Token).NotTo(BeEmpty())
	})

	It("answers a wrong password and an unknown email identically", func() {
		wrongStatus, wrong := post("/api/login", `{"email":"grace@example.com","password":"nope"}`)
		unknownStatus, unknown := post("/api/login", `{"email":"nobody@example.com","password":"nope"}`)
		Expect(wrongStatus).To(Equal(http.StatusBadRequest))
		Expect(unknownStatus).To(Equal(wrongStatus))
		Expect(unknown).To(Equal(wrong))
	})

	It("acknowledges reset requests without revealing accounts", func() {
		status, reply := post("/api/forgot-password", `{"email":"nobody@example.com"}`)
		Expect(status).To(Equal(http.StatusOK))
		Expect(reply.Message).To(Equal(httpapi.MsgResetLinkSent))
		Expect(env.mail.token("nobody@example.com")).To(BeEmpty())
	})

	It("persists only the digest of an issued reset token", func() {
		status, _ := post("/api/forgot-password", `{"email":"GRACE@example.com"}`)
		Expect(status).To(Equal(http.StatusOK))

		raw := env.mail.token(email)
		Expect(raw).To(HaveLen(64))

		var digest string
		var expires time.Time
		err := env.pool.QueryRow(env.ctx,
			`SELECT reset_token_hash, reset_token_expires_at FROM users WHERE email = $1`, email).
			Scan(&digest, &expires)
		Expect(err).NotTo(HaveOccurred())
		Expect(digest).To(Equal(auth.HashResetToken(raw)))
		Expect(digest).NotTo(Equal(raw))
		Expect(expires).To(BeTemporally("~", time.Now().Add(auth.ResetTokenExpiry), time.Minute))
	})

	It("rejects an expired reset token", func() {
		raw := env.mail.token(email)
		_, err := env.pool.Exec(env.ctx,
			`UPDATE users SET reset_token_expires_at = NOW() - INTERVAL '1 minute' WHERE email = $1`, email)
		Expect(err).NotTo(HaveOccurred())

		status, reply := post("/api/reset-password/"+raw, `{"newPassword":"second-pass"}`)
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(reply.Error.Code).To(Equal(auth.CodeTokenInvalid))
	})

	It("resets the password with a fresh token exactly once", func() {
		status, _ := post("/api/forgot-password", `{"email":"grace@example.com"}`)
		Expect(status).To(Equal(http.StatusOK))
		raw := env.mail.token(email)

		status, reply := post("/api/reset-password/"+raw, `{"newPassword":"second-pass"}`)
		Expect(status).To(Equal(http.StatusOK))
		Expect(reply.Message).To(Equal(httpapi.MsgPasswordReset))

		status, reply = post("/api/reset-password/"+raw, `{"newPassword":"third-pass"}`)
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(reply.Message).To(Equal(auth.MsgTokenInvalid))

		var digest *string
		err := env.pool.QueryRow(env.ctx, `SELECT reset_token_hash FROM users WHERE email = $1`, email).Scan(&digest)
		Expect(err).NotTo(HaveOccurred())
		Expect(digest).To(BeNil())
	})

	It("accepts only the new password afterwards", func() {
		status, _ := post("/api/login", `{"email":"grace@example.com","password":"first-pass"}`)
		Expect(status).To(Equal(http.StatusBadRequest))

		status, reply := post("/api/login", `{"email":"grace@example.com","password":"second-pass"}`)
		Expect(status).To(Equal(http.StatusOK))
		Expect(reply.User.ID).To(Equal(userID))
	})
})

var _ = Describe("Request validation", func() {
	DescribeTable("rejects incomplete input before touching the store",
		func(path, body string) {
			status, reply := post(path, body)
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(reply.Error.Code).To(Equal(auth.CodeValidation))
		},
		Entry("register without name", "/api/register", `{"email":"a@b.c","password":"p"}`),
		Entry("register with blank password", "/api/register", `{"name":"A","email":"a@b.c","password":"   "}`),
		Entry("login without email", "/api/login", `{"password":"p"}`),
		Entry("forgot without email", "/api/forgot-password", `{}`),
		Entry("reset without password", "/api/reset-password/abc", `{}`),
		Entry("malformed json", "/api/login", `{"email":`),
	)
})
