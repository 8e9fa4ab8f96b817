package types

import (
	"time"

	"github.com/google/uuid"
)

// MatchID identifies one emitted full match.
type MatchID string

// RunID identifies one evaluation run (one mechanism lifetime).
type RunID string

// NewMatchID generates a UUIDv7 match identifier.
// Time-ordered IDs keep sequential sink inserts clustered in B-tree pages.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewMatchID() MatchID {
	return MatchID(uuid.Must(uuid.NewV7()).String())
}

// NewRunID generates a UUIDv7 run identifier.
func NewRunID() RunID {
	return RunID(uuid.Must(uuid.NewV7()).String())
}

// ParseMatchID validates and converts a string to MatchID.
func ParseMatchID(s string) (MatchID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return MatchID(s), nil
}

// MatchIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func MatchIDTime(id MatchID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
