package auth

import "errors"

// Authentication errors. Missing, unknown and bad signatures map to
// UNAUTHENTICATED without saying which; a stale timestamp is reported as
// such so clients can fix their clock.
var (
	ErrMissingCredentials = errors.New("x-key-id, x-timestamp and x-signature metadata required")
	ErrInvalidTimestamp   = errors.New("invalid x-timestamp")
	ErrStaleTimestamp     = errors.New("request timestamp outside allowed skew")
	ErrUnknownKey         = errors.New("unknown key ID")
	ErrInvalidSignature   = errors.New("invalid request signature")
)
