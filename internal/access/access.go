package access

import (
	"fmt"

	"imagemanip/internal/models"
)

// AssertOwner fails with models.ErrUnauthorized unless actor owns the resource.
func AssertOwner(actorID, ownerID int64) error {
	if actorID != ownerID {
		return fmt.Errorf("access.AssertOwner: user %d: %w", actorID, models.ErrUnauthorized)
	}
	return nil
}
