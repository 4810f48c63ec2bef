package params

import "errors"

var (
	// ErrUnknownFilter is returned when an operation references a filter
	// name that has no global registration yet.
	ErrUnknownFilter = errors.New("unknown filter")

	// ErrAmbiguousParameter is returned when a call omits the parameter
	// name but the filter does not have exactly one registered parameter.
	ErrAmbiguousParameter = errors.New("ambiguous parameter")

	// ErrUnknownParameter is returned when a scoped operation names a
	// parameter that is not a key of the filter's global set.
	ErrUnknownParameter = errors.New("unknown parameter")
)
