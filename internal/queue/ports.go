package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/request-queue-system/pkg/models"
)

// Store is the durable record of requests. The MySQL implementation lives in
// pkg/database; tests use an in-memory one. ListActive returns requests
// already sorted per the kind's ordering — callers never re-sort.
type Store interface {
	CreateRequest(ctx context.Context, req *models.Request) error
	GetRequest(ctx context.Context, eventID, requestID uuid.UUID) (*models.Request, error)
	ListActive(ctx context.Context, eventID uuid.UUID, kind models.RequestKind) ([]*models.Request, error)
	ListHistory(ctx context.Context, eventID uuid.UUID, kind models.RequestKind) ([]*models.Request, error)
	SaveRequest(ctx context.Context, req *models.Request) error
	DeleteRequest(ctx context.Context, req *models.Request) error
	SetPositions(ctx context.Context, eventID uuid.UUID, positions map[uuid.UUID]int) error
	NextTurnNumber(ctx context.Context, eventID uuid.UUID) (int, error)
}

// CooldownTracker gates guest submissions. CheckAndReserve returns the
// remaining wait (zero when the reservation was taken); Release undoes a
// reservation whose request creation failed afterwards.
type CooldownTracker interface {
	CheckAndReserve(ctx context.Context, eventID, guestID uuid.UUID, module models.RequestKind, cooldown time.Duration) (time.Duration, error)
	Release(ctx context.Context, eventID, guestID uuid.UUID, module models.RequestKind) error
}

// ConfigSource resolves per-event module settings before any submission is
// accepted.
type ConfigSource interface {
	ModuleConfig(ctx context.Context, eventID uuid.UUID, module models.RequestKind) (*models.ModuleConfig, error)
}
