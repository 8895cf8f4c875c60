package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/request-queue-system/pkg/models"
)

// CooldownStore rate-limits guest submissions per event and module. A
// reservation is a Redis key with the module cooldown as TTL, so expiry is
// lazy: no sweeper, the key simply stops existing.
type CooldownStore struct {
	client *redis.Client
}

func NewCooldownStore(client *redis.Client) *CooldownStore {
	return &CooldownStore{client: client}
}

func cooldownKey(eventID, guestID uuid.UUID, module models.RequestKind) string {
	return fmt.Sprintf("cooldown:%s:%s:%s", eventID, module, guestID)
}

// CheckAndReserve reserves the guest's next submission slot. It returns the
// remaining wait when the guest is still cooling down; a zero duration means
// the reservation was taken. Callers that fail to create the request after a
// successful reservation must call Release, or the guest stays blocked for a
// submission that never happened.
func (s *CooldownStore) CheckAndReserve(ctx context.Context, eventID, guestID uuid.UUID, module models.RequestKind, cooldown time.Duration) (time.Duration, error) {
	if cooldown <= 0 {
		return 0, nil
	}

	key := cooldownKey(eventID, guestID, module)
	ok, err := s.client.SetNX(ctx, key, time.Now().Unix(), cooldown).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve cooldown: %w", err)
	}
	if ok {
		return 0, nil
	}

	remaining, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read cooldown ttl: %w", err)
	}
	if remaining < 0 {
		// Key expired between SETNX and TTL; treat as free and retry once.
		ok, err := s.client.SetNX(ctx, key, time.Now().Unix(), cooldown).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to reserve cooldown: %w", err)
		}
		if ok {
			return 0, nil
		}
		remaining = cooldown
	}
	return remaining, nil
}

// Release frees a reservation taken by CheckAndReserve.
func (s *CooldownStore) Release(ctx context.Context, eventID, guestID uuid.UUID, module models.RequestKind) error {
	return s.client.Del(ctx, cooldownKey(eventID, guestID, module)).Err()
}
