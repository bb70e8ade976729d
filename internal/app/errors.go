package service

import (
	"errors"

	"github.com/okian/scoreboard/internal/retry"
)

// Sentinel kinds for service errors.
var (
	// ErrValidation is returned before any store call for malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrRetriesExhausted wraps the last cause when every cycle hit a conflict
	// or transient failure.
	ErrRetriesExhausted = retry.ErrExhausted
)
