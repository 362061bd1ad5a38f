// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package billing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL is how long an issued JWT stays valid.
const tokenTTL = 24 * time.Hour

// Claims are the bearer-token claims. The subject is the numeric user id;
// tokens_balance carries the balance at issue time so clients can display
// it without a round trip.
type Claims struct {
	Role          string `json:"role"`
	Email         string `json:"email"`
	TokensBalance int64  `json:"tokens_balance"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subject claim %q: %w", c.Subject, err)
	}
	return id, nil
}

// IssueToken signs a fresh HS256 JWT for the user with the given balance.
func IssueToken(secret []byte, userID int64, role, email string, balance int64) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:          role,
		Email:         email,
		TokensBalance: balance,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies the signature and expiry and returns the claims.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

type ctxKey int

const claimsContextKey ctxKey = iota

// WithClaims attaches authenticated claims to the request context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFrom retrieves the authenticated claims, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}
