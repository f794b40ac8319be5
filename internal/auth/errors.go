package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ReasonMissingCredential = "missing credential"
	ReasonTokenExpired      = "token expired"
	ReasonMalformedToken    = "malformed token"
	ReasonSignatureMismatch = "signature mismatch"
	ReasonInvalidToken      = "invalid token"
	ReasonInactiveUser      = "inactive user"
)

// AuthenticationError rejects a credential. Reason is safe to show to the
// client; Err carries the underlying cause for logs.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

func newAuthError(reason string, err error) *AuthenticationError {
	return &AuthenticationError{Reason: reason, Err: err}
}

// Reason extracts the client-facing reason from any verification error.
func Reason(err error) string {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	return ReasonInvalidToken
}

// classifyJWTError maps golang-jwt validation errors onto rejection reasons.
func classifyJWTError(err error) *AuthenticationError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return newAuthError(ReasonTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return newAuthError(ReasonMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return newAuthError(ReasonSignatureMismatch, err)
	default:
		return newAuthError(ReasonInvalidToken, err)
	}
}
