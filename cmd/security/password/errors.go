package password

import (
	"errors"
	"fmt"
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidHash      = errors.New("invalid password hash")

	// ErrHashTooCostly is an ErrInvalidHash whose parameters exceed what this
	// process is willing to compute.
	ErrHashTooCostly = fmt.Errorf("%w: parameters too costly", ErrInvalidHash)
)
