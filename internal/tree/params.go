package tree

import (
	"fmt"

	"github.com/solatis/cepwarden/internal/types"
)

// StorageParameters configures the storage of every tree node.
type StorageParameters struct {
	// SortStorage enables sorted storage where a sort key is derivable.
	SortStorage bool
	// AttributesPriorities breaks ties between condition sort keys. Keys
	// are attribute references ("a.price") or event names ("a").
	AttributesPriorities map[string]int
	// CleanUpInterval is the number of clean-up attempts per expiration scan.
	CleanUpInterval int
	// PrioritizeSortingByTimestamp prefers the sequence-order key over a
	// condition key when both are available.
	PrioritizeSortingByTimestamp bool
}

// DefaultStorageParameters returns the default storage configuration.
func DefaultStorageParameters() StorageParameters {
	return StorageParameters{
		SortStorage:                  true,
		CleanUpInterval:              10,
		PrioritizeSortingByTimestamp: true,
	}
}

// Validate rejects non-positive clean-up intervals.
func (p StorageParameters) Validate() error {
	if p.CleanUpInterval <= 0 {
		return fmt.Errorf("%w: %d", types.ErrInvalidCleanUpInterval, p.CleanUpInterval)
	}
	return nil
}
