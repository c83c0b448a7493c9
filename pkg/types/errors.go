package types

import "errors"

// Sentinel errors shared across components. Handlers at the HTTP/WS
// boundary map these to status codes via the category helpers below.
var (
	// Conflicts: duplicate active test, double submission.
	ErrActiveTestExists = errors.New("an active test already exists")
	ErrAlreadySubmitted = errors.New("responses already submitted for this test")

	// Not found.
	ErrTestNotFound        = errors.New("test not found")
	ErrParticipantNotFound = errors.New("participant not found")

	// Invalid state transitions and submissions outside an active test.
	ErrTestNotReady  = errors.New("test has already been started or ended")
	ErrTestNotActive = errors.New("test is not active")
	ErrNoActiveTest  = errors.New("no test is currently active")

	// Missing identity or registry entry.
	ErrUnauthorized  = errors.New("authorization required")
	ErrNotRegistered = errors.New("no registered session for this connection")

	// Validation.
	ErrEmptyWord       = errors.New("word cannot be empty")
	ErrEmptyWordList   = errors.New("at least one valid word is required")
	ErrInvalidUsername = errors.New("username must be 1-50 characters")
)

// IsConflict reports whether err is a duplicate-state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrActiveTestExists) || errors.Is(err, ErrAlreadySubmitted)
}

// IsNotFound reports whether err refers to a missing test or participant.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTestNotFound) || errors.Is(err, ErrParticipantNotFound)
}

// IsInvalidState reports whether err is a wrong-state transition attempt.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrTestNotReady) || errors.Is(err, ErrTestNotActive) || errors.Is(err, ErrNoActiveTest)
}

// IsUnauthorized reports whether err indicates a missing session or
// registry entry.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotRegistered)
}

// IsValidation reports whether err is a malformed or empty input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyWord) || errors.Is(err, ErrEmptyWordList) || errors.Is(err, ErrInvalidUsername)
}
