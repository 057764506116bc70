package storage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested profile does not exist.
var ErrNotFound = errors.New("storage: not found")

func profileNotFound(id uuid.UUID) error {
	return fmt.Errorf("profile %s: %w", id, ErrNotFound)
}
