package abtest

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when creation or assignment input fails
// validation (fewer than 2 variants, unknown holdout variant, bad
// allocations). Never silently corrected.
var ErrInvalidInput = errors.New("abtest: invalid input")

// ErrNotFound is returned when an experiment id is unknown. Event recording
// deliberately does NOT return it: that path is reachable by arbitrary public
// traffic and must not become an existence oracle.
var ErrNotFound = errors.New("abtest: experiment not found")

// ConflictError is returned when a caller-replayed variant id disagrees with
// the computed holdout-enforced assignment. Both values are carried so the
// caller can reconcile; silently overriding either would corrupt the holdout
// guarantee.
type ConflictError struct {
	Expected   string
	Received   string
	Assignment Assignment
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("abtest: assignment conflict: expected variant %s, received %s", e.Expected, e.Received)
}
