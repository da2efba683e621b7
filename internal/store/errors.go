package store

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when updating a session that does not exist.
var ErrSessionNotFound = errors.New("session not found")

func sessionNotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}
