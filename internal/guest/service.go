// Package guest owns submitter identities. Guests are scoped to one event
// and keyed by the opaque identity value their client presents, so the same
// device resolves to the same guest across submissions.
package guest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/request-queue-system/pkg/database"
	"github.com/request-queue-system/pkg/models"
)

type Service struct {
	db *database.MySQLDB
}

func NewService(db *database.MySQLDB) *Service {
	return &Service{db: db}
}

// Resolve returns the guest for the identity key, creating one on first
// contact. A later display name does not overwrite the original.
func (s *Service) Resolve(ctx context.Context, eventID uuid.UUID, identityKey, displayName string) (*models.Guest, error) {
	g, err := s.db.GetGuestByIdentity(ctx, eventID, identityKey)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up guest: %w", err)
	}

	if displayName == "" {
		displayName = "Guest"
	}
	g = &models.Guest{
		ID:          uuid.New(),
		EventID:     eventID,
		IdentityKey: identityKey,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
	if err := s.db.CreateGuest(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to create guest: %w", err)
	}
	return g, nil
}
