package types

import "errors"

// Sentinel errors for pattern construction and condition evaluation.
var (
	// ErrInvalidCleanUpInterval indicates a storage clean-up interval <= 0.
	ErrInvalidCleanUpInterval = errors.New("clean_up_interval must be positive")

	// ErrNoPositiveEvents indicates a pattern made only of negated events.
	ErrNoPositiveEvents = errors.New("pattern has no positive events")

	// ErrUnsupportedOperator indicates an operator placement the tree cannot express.
	ErrUnsupportedOperator = errors.New("unsupported operator combination")

	// ErrInvalidPlan indicates a tree plan that does not fit the pattern.
	ErrInvalidPlan = errors.New("invalid tree plan")

	// ErrDuplicateEventName indicates two primitive events share a name.
	ErrDuplicateEventName = errors.New("duplicate event name in pattern")

	// ErrInvalidWindow indicates a non-positive sliding window.
	ErrInvalidWindow = errors.New("sliding window must be positive")

	// ErrInvalidKleeneBounds indicates Kleene closure size bounds out of range.
	ErrInvalidKleeneBounds = errors.New("invalid kleene closure bounds")

	// ErrTooManyEvents indicates a pattern exceeding MaxPatternEvents.
	ErrTooManyEvents = errors.New("pattern has too many events")

	// ErrPathTooDeep indicates a field path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrTooManyWildcards indicates a field path exceeds MaxNestedWildcards.
	ErrTooManyWildcards = errors.New("field path has too many wildcards")

	// ErrTooManyInValues indicates an IN operator exceeds MaxInOperatorValues.
	ErrTooManyInValues = errors.New("IN operator has too many values")

	// ErrInvalidOperator indicates an unknown or incompatible operator.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrCoercionFailed indicates type coercion failed.
	ErrCoercionFailed = errors.New("type coercion failed")

	// ErrFieldNotFound indicates a field path could not be resolved.
	ErrFieldNotFound = errors.New("field not found")

	// ErrUnboundName indicates a condition references an event name with no binding.
	ErrUnboundName = errors.New("event name not bound")

	// ErrNotNumeric indicates arithmetic on a non-numeric value.
	ErrNotNumeric = errors.New("value is not numeric")

	// ErrDivisionByZero indicates an arithmetic term divided by zero.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrInvalidEvent indicates an input event without a type or timestamp.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrPayloadTooLarge indicates an encoded event exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
)
