// Package dynfilter holds the value model shared by the filter registry,
// the parameter store, and the plan rewriter: entity type identifiers,
// deferred parameter values, and the structural naming of filter
// parameter placeholders.
package dynfilter

import (
	"fmt"
	"strings"
)

// TypeID identifies an entity type at the plan level. The mapping layer
// assigns these; the engine only compares them.
type TypeID string

// Deferred is a zero-argument value producer. A Deferred stored as a filter
// parameter is re-invoked on every resolution, never memoized, so it can
// supply "current time", "current user", and similar moving values.
type Deferred func() interface{}

// Delimiter separates the parts of a placeholder name. Filter names must
// not contain it; column and parameter names may.
const Delimiter = "|"

// Prefix is the fixed first part of every placeholder name this engine
// emits, so a parameter-bind hook can recognize its own placeholders.
const Prefix = "dynfilter"

// ParamName builds the structural placeholder name for one filter
// parameter: prefix|filterName|paramName.
func ParamName(filterName, paramName string) string {
	return Prefix + Delimiter + filterName + Delimiter + paramName
}

// SplitParamName decomposes a placeholder name built by ParamName.
// Only the first two delimiters are structural: the trailing part is
// rejoined because column names may legally contain the delimiter.
func SplitParamName(name string) (filterName, paramName string, err error) {
	parts := strings.SplitN(name, Delimiter, 3)
	if len(parts) != 3 || parts[0] != Prefix {
		return "", "", fmt.Errorf("not a filter parameter placeholder: %q", name)
	}
	return parts[1], parts[2], nil
}

// IsParamName reports whether name carries this engine's placeholder prefix.
func IsParamName(name string) bool {
	return strings.HasPrefix(name, Prefix+Delimiter)
}
