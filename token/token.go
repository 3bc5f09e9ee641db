// Package token decodes FreeWork access tokens on the client side.
//
// Tokens are opaque bearer credentials with an embedded expiry claim. The
// client decodes them without signature verification: the trust boundary is
// the server, the client only needs the expiry (and a few identity claims)
// to schedule refreshes. An undecodable token is treated as expired.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrDecode is returned when a token cannot be parsed as a JWT.
var ErrDecode = errors.New("undecodable token")

// Claims is the canonical set of claims the client cares about.
type Claims struct {
	Subject   string
	Email     string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type wireClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Decode parses the token without verifying its signature and extracts
// the claims above. A token without an "exp" claim is rejected: the refresh
// scheduler has nothing to work with and treating it as valid would leave
// the session to expire unnoticed.
func Decode(raw string) (Claims, error) {
	var wc wireClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &wc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if wc.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: missing exp claim", ErrDecode)
	}

	c := Claims{
		Subject:   wc.Subject,
		Email:     wc.Email,
		Role:      wc.Role,
		ExpiresAt: wc.ExpiresAt.Time,
	}
	if wc.IssuedAt != nil {
		c.IssuedAt = wc.IssuedAt.Time
	}
	return c, nil
}

// ExpiredAt reports whether the token is expired at the given instant.
// It fails closed: an undecodable token is expired.
func ExpiredAt(raw string, now time.Time) bool {
	c, err := Decode(raw)
	if err != nil {
		return true
	}
	return !c.ExpiresAt.After(now)
}
