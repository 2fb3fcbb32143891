package pes

import "errors"

// Sentinel errors returned by Filter operations. These let callers
// classify results with errors.Is instead of matching on Result values
// alone when an error is also warranted (e.g. wrong internal state).
var (
	// ErrWrongState indicates Push or Process was called while the
	// filter is not in a state that accepts the call.
	ErrWrongState = errors.New("pes: operation invalid in current filter state")
)
