// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/coscribe/internal/config"
)

// Claims are the JWT claims Coscribe issues and accepts.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTVerifier validates bearer tokens presented at the websocket
// admission point. Uses HMAC-SHA256 (HS256); the secret is stored as
// []byte to prevent string interning attacks.
type JWTVerifier struct {
	secret     []byte
	cookieName string
}

// NewJWTVerifier creates a verifier from the security configuration.
func NewJWTVerifier(cfg *config.SecurityConfig) (*JWTVerifier, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret is required but was empty")
	}
	return &JWTVerifier{
		secret:     []byte(cfg.JWTSecret),
		cookieName: cfg.TokenCookieName,
	}, nil
}

// GenerateToken creates a signed token for a user. Used by tests and by
// deployments that provision tokens out of band.
func (v *JWTVerifier) GenerateToken(userID string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks signature, expiry, and signing algorithm, and
// returns the claims.
func (v *JWTVerifier) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Reject tokens signed with anything but HMAC, including "none".
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token missing userId claim")
	}
	return claims, nil
}

// TokenFromRequest extracts the token from the session cookie, falling
// back to an Authorization bearer header.
func (v *JWTVerifier) TokenFromRequest(r *http.Request) (string, bool) {
	if v.cookieName != "" {
		if cookie, err := r.Cookie(v.cookieName); err == nil && cookie.Value != "" {
			return cookie.Value, true
		}
	}

	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
		return token, true
	}
	return "", false
}

// Authenticate resolves the requesting user or returns an error suitable
// for a 401 response.
func (v *JWTVerifier) Authenticate(r *http.Request) (*Claims, error) {
	tokenString, ok := v.TokenFromRequest(r)
	if !ok {
		return nil, fmt.Errorf("no credentials presented")
	}
	return v.ValidateToken(tokenString)
}
