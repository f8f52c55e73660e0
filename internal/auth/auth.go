// Package auth validates the HS256 bearer tokens presented on socket
// upgrade. It owns only token verification; the ownership check against
// the document row lives in the transport layer that calls it.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ruvnet/collabsync/internal/apierror"
)

// Claims is the token payload the upgrade handler trusts: the connecting
// user's identity, plus standard expiry handling from jwt.RegisteredClaims.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against a single HMAC signing key.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given HS256 signing key.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Validate parses and verifies token, returning its claims. Expired,
// malformed, or wrongly-signed tokens are reported as *apierror.Error with
// Code AuthError so the caller can respond 401 before ever upgrading the
// connection.
func (v *Verifier) Validate(token string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))

	if err != nil {
		return nil, apierror.Wrap(apierror.AuthError, "invalid or expired token", err)
	}
	if !parsed.Valid {
		return nil, apierror.NewAuthError("token failed validation")
	}
	if claims.UserID == "" {
		return nil, apierror.NewAuthError("token missing user_id claim")
	}

	return claims, nil
}

// Sign issues a token for tests and local tooling; production tokens are
// minted by the external auth system named in the spec's external
// collaborators.
func (v *Verifier) Sign(userID, username string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
