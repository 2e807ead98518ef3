package domain

import (
	"errors"
	"fmt"
)

// ErrConflict is returned when optimistic validation kept failing for the
// store's whole retry budget.
var ErrConflict = errors.New("transaction conflict: records changed concurrently")

// ErrNotFound indicates the requested record does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// IsNotFound reports whether err wraps an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}
