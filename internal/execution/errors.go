package execution

import "errors"

var (
	// ErrInvalidQuantity is returned when an exit quantity is not positive or
	// exceeds the position quantity.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrDustQuantity is returned when a valid quantity rounds to zero venue units.
	ErrDustQuantity = errors.New("quantity rounds to zero units")

	// ErrInvalidSize is returned when an entry size converts to zero units.
	ErrInvalidSize = errors.New("invalid trade size")

	// ErrAllSplitsFailed is returned when every split of an execution failed.
	ErrAllSplitsFailed = errors.New("all splits failed")

	// ErrNoExpectedOut is returned when a quote carries no expected output.
	ErrNoExpectedOut = errors.New("quote has no expected output")

	// ErrSettlement is returned when a submitted transaction fails or expires.
	ErrSettlement = errors.New("transaction not settled")
)
