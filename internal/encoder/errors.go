package encoder

import (
	"errors"
	"fmt"
)

// Sentinel errors for frame encoding.
// These can be checked with errors.Is().
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnreachableTarget = errors.New("target score unreachable")
)

// dimensionError returns a wrapped error for a raster that does not match the session.
func dimensionError(gotW, gotH, wantW, wantH int) error {
	return fmt.Errorf("%w: frame is %dx%d, session is %dx%d", ErrInvalidInput, gotW, gotH, wantW, wantH)
}

// unreachableError returns a wrapped error for a frame whose best score missed the target.
func unreachableError(index uint64, best, target float64) error {
	return fmt.Errorf("%w: frame %d best score %.5f, target %.5f", ErrUnreachableTarget, index, best, target)
}
