// Package token inspects backend-issued access tokens on the client side.
//
// The backend signs its tokens; this library never verifies signatures (it
// has no key material and the backend re-checks every call). It only reads
// the expiry claim to decide whether a cheap local freshness check can skip
// the network probe.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned when the access token is not a parseable JWT.
var ErrMalformed = errors.New("token: malformed access token")

var parser = jwt.NewParser()

// ExpiresAt returns the token's expiry claim. A token without an exp claim
// returns the zero time and no error; the caller decides what that means.
func ExpiresAt(raw string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Time{}, ErrMalformed
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, ErrMalformed
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// Fresh reports whether the token will still be valid at now plus skew.
// Opaque (non-JWT) tokens and tokens without an expiry claim are treated as
// fresh: the backend probe is the authority for those.
func Fresh(raw string, skew time.Duration, now time.Time) bool {
	exp, err := ExpiresAt(raw)
	if err != nil || exp.IsZero() {
		return true
	}
	return exp.After(now.Add(skew))
}
