// internal/types/rules.go
package types

/*
 * Path types for condition attribute references.
 *
 * Provides PathSegment, used by internal/rules to resolve attribute
 * references ("a.order.items[0].price") against decoded event payloads.
 *
 * Dependencies: None
 */

// PathSegment represents one component of a field path.
// String for object keys, int for array indices, wildcard for array expansion.
type PathSegment struct {
	Key      string // object key (mutually exclusive with Index/Wildcard)
	Index    int    // array index (mutually exclusive with Key/Wildcard)
	IsIndex  bool   // disambiguates Index=0 from unset
	Wildcard bool   // true = wildcard segment
}
