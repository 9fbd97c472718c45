// Package auth checks the backend access token held by a session.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing access token")
	ErrExpiredToken = errors.New("access token expired")
)

// Claims are the fields of a backend access token the assistant reads.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// CheckAccessToken rejects empty tokens and JWTs whose exp is not after
// now. The signature is the backend's business and is not verified here.
// Tokens that are not JWTs are accepted as opaque.
func CheckAccessToken(token string, now time.Time) error {
	if token == "" {
		return ErrMissingToken
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !exp.After(now) {
		return ErrExpiredToken
	}
	return nil
}

// Subject returns the token's subject and display name when the token is a
// JWT that carries them.
func Subject(token string) (sub, name string) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", ""
	}
	return claims.Subject, claims.Name
}
