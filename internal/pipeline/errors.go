// Package pipeline holds the error taxonomy shared by the simulation tasks.
package pipeline

import "errors"

var (
	// ErrStopIteration signals that a generator task has produced everything
	// it was asked for. It is normal termination, not a failure.
	ErrStopIteration = errors.New("pipeline: stop iteration")

	// ErrConfig marks a missing or contradictory configuration parameter.
	ErrConfig = errors.New("pipeline: configuration error")

	// ErrRange marks a request the instrument cannot represent, such as a
	// harmonic degree above the telescope's maximum order.
	ErrRange = errors.New("pipeline: range error")
)

// IsStop reports whether err marks the end of a generator.
func IsStop(err error) bool { return errors.Is(err, ErrStopIteration) }
