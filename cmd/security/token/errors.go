package token

import (
	"errors"
	"fmt"
)

// Public, stable errors for callers.
var (
	// ErrInvalidToken is returned when a token fails decoding, signature or claim validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpired is returned for otherwise well-formed tokens past their expiry.
	// errors.Is(ErrExpired, ErrInvalidToken) holds.
	ErrExpired = fmt.Errorf("%w: expired", ErrInvalidToken)

	ErrSecretMissing  = errors.New("token secret missing")
	ErrSecretTooShort = errors.New("token secret too short")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid token config")
)
