package auth

import (
	"errors"
	"fmt"
)

// ErrNoToken is returned by a Store that holds no token yet.
var ErrNoToken = errors.New("auth: no stored token")

// AuthError is returned when the identity provider rejects a credential
// exchange or replies with something that is not a usable token.
type AuthError struct {
	Reason     string
	StatusCode int // zero when no HTTP response was received
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("auth: %s (status %d)", e.Reason, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }
