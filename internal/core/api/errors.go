package api

import "errors"

// Per-event rejection reasons reported in the results list. Batch-level
// failures map to status codes instead: oversized or empty batches to
// INVALID_ARGUMENT, sink failures and a closed service to UNAVAILABLE.
var (
	ErrNotAnObject = errors.New("event must be an object")
	ErrOutOfOrder  = errors.New("event timestamp precedes last accepted event")
)
