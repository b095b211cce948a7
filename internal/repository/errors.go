package repository

import "errors"

var (
	ErrUserNotFound = errors.New("user not found")

	// Token errors are recovered at the HTTP boundary and mapped to
	// user-facing messages; they must never surface as unhandled failures.
	ErrTokenNotFound = errors.New("reset token not found")
	ErrTokenExpired  = errors.New("reset token expired")
	ErrTokenConsumed = errors.New("reset token already used")
)
