package authz

import "errors"

// Sentinel errors returned while verifying a bearer credential.
// Callers should use errors.Is for comparison.
var (
	// ErrTokenExpired is returned when a JWT has expired.
	ErrTokenExpired = errors.New("authz: token expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or verified.
	ErrTokenInvalid = errors.New("authz: token invalid")

	// ErrMissingCredential is returned when a request carries no bearer token.
	ErrMissingCredential = errors.New("authz: missing bearer credential")

	// ErrPermissionDenied is returned when a principal lacks a required permission.
	ErrPermissionDenied = errors.New("authz: permission denied")
)
