package query

import "errors"

var (
	// ErrMalformedQuery is returned when a query string cannot be turned
	// into a descriptor.
	ErrMalformedQuery = errors.New("query: malformed query")
	// ErrUnknownOperator is returned for an operator name outside the
	// closed operator set.
	ErrUnknownOperator = errors.New("query: unknown operator")
	// ErrInvalidOperatorArgs is returned for a recognized operator with
	// arguments that do not fit its contract.
	ErrInvalidOperatorArgs = errors.New("query: invalid operator arguments")
	// ErrGeneratorFailure is returned when the upstream source for a
	// subscription cannot be produced.
	ErrGeneratorFailure = errors.New("query: generator failure")
)
