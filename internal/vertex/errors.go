package vertex

import (
	"errors"
	"fmt"
)

var (
	// ErrSingularMatrix is returned when a matrix the fit must invert (a
	// track's G = EᵗWE, the vertex weight matrix, the constraint covariance
	// or a measurement covariance) is not positive definite or is too badly
	// conditioned to invert.
	ErrSingularMatrix = errors.New("vertex: singular matrix")

	// ErrNumericFailure is returned when an iteration produces a NaN or
	// infinite chi-square.
	ErrNumericFailure = errors.New("vertex: non-finite chi-square")

	// ErrInvalidConfig is returned by NewFitter for unusable settings.
	ErrInvalidConfig = errors.New("vertex: invalid configuration")
)

// LinearizationError reports that the Linearizer could not expand a track
// around the current linearization point. The collaborator's error can be
// reached via errors.Unwrap / errors.Is.
type LinearizationError struct {
	Track     int // index into the input slice
	Iteration int // 1-based
	Err       error
}

func (e *LinearizationError) Error() string {
	return fmt.Sprintf("vertex: linearization of track %d failed at iteration %d: %v", e.Track, e.Iteration, e.Err)
}

func (e *LinearizationError) Unwrap() error { return e.Err }
