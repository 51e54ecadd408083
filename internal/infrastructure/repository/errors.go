package repository

import (
	"fmt"

	"shopify-catalog-mirror/internal/domain"
)

// storageError marks a backing store failure as domain.ErrStorageUnavailable, keeping the cause
func storageError(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

// sessionTaken rejects a Put that would move a session to another shop
func sessionTaken(sessionID string) error {
	return fmt.Errorf("%w: session %s belongs to another shop", domain.ErrInvalidCredential, sessionID)
}
