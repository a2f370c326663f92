package auth

import "errors"

// Errors returned by guardian token operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
	ErrWeakSecret   = errors.New("guardian secret too short")
	ErrNoCapability = errors.New("token grants no capability")
)
