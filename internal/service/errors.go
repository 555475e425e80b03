package service

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEventNotFound      = errors.New("security event not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrSearchUnavailable  = errors.New("search is not configured")
)

// TooManyAttemptsError carries how long the caller should wait before retrying.
type TooManyAttemptsError struct {
	RetryAfterSeconds int
}

func (e *TooManyAttemptsError) Error() string { return ErrTooManyAttempts.Error() }

func (e *TooManyAttemptsError) Unwrap() error { return ErrTooManyAttempts }
