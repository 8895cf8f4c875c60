// Package event manages events and their per-module configuration. Module
// configs gate submissions (enabled flag, cooldown) and are read on every
// submit, so they are cached in Redis the same way rooms were.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/request-queue-system/pkg/database"
	"github.com/request-queue-system/pkg/models"
)

const (
	eventKeyPrefix  = "event:"
	configKeyPrefix = "config:"
	cacheTTL        = 24 * time.Hour
	codeLength      = 6

	defaultCooldownSeconds = 60
)

var ErrNotFound = errors.New("event not found")

type Service struct {
	db    *database.MySQLDB
	redis *redis.Client
}

func NewService(db *database.MySQLDB, redisClient *redis.Client) *Service {
	return &Service{db: db, redis: redisClient}
}

// CreateEvent creates an event with a join code and default configs for both
// modules: enabled, one minute cooldown.
func (s *Service) CreateEvent(ctx context.Context, name string) (*models.Event, error) {
	event := &models.Event{
		ID:        uuid.New(),
		Code:      generateEventCode(),
		Name:      name,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.db.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	for _, module := range []models.RequestKind{models.KindSong, models.KindKaraoke} {
		cfg := &models.ModuleConfig{
			ID:              uuid.New(),
			EventID:         event.ID,
			Module:          module,
			Enabled:         true,
			CooldownSeconds: defaultCooldownSeconds,
			UpdatedAt:       time.Now(),
		}
		if err := s.db.SaveModuleConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to create module config: %w", err)
		}
	}

	s.cacheEvent(ctx, event)
	return event, nil
}

func (s *Service) GetEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error) {
	key := eventKeyPrefix + eventID.String()
	eventJSON, err := s.redis.Get(ctx, key).Bytes()
	if err == nil {
		var event models.Event
		if err := json.Unmarshal(eventJSON, &event); err == nil {
			return &event, nil
		}
	}

	event, err := s.db.GetEventByID(ctx, eventID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	s.cacheEvent(ctx, event)
	return event, nil
}

func (s *Service) GetEventByCode(ctx context.Context, code string) (*models.Event, error) {
	event, err := s.db.GetEventByCode(ctx, code)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	s.cacheEvent(ctx, event)
	return event, nil
}

func (s *Service) cacheEvent(ctx context.Context, event *models.Event) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return
	}
	key := eventKeyPrefix + event.ID.String()
	if err := s.redis.Set(ctx, key, eventJSON, cacheTTL).Err(); err != nil {
		log.Printf("Warning: failed to cache event: %v", err)
	}
}

func configKey(eventID uuid.UUID, module models.RequestKind) string {
	return fmt.Sprintf("%s%s:%s", configKeyPrefix, eventID, module)
}

// ModuleConfig implements the queue service's ConfigSource: cache first,
// database on miss.
func (s *Service) ModuleConfig(ctx context.Context, eventID uuid.UUID, module models.RequestKind) (*models.ModuleConfig, error) {
	key := configKey(eventID, module)
	cfgJSON, err := s.redis.Get(ctx, key).Bytes()
	if err == nil {
		var cfg models.ModuleConfig
		if err := json.Unmarshal(cfgJSON, &cfg); err == nil {
			return &cfg, nil
		}
	}

	cfg, err := s.db.GetModuleConfig(ctx, eventID, module)
	if err != nil {
		return nil, err
	}

	cfgJSON, _ = json.Marshal(cfg)
	if err := s.redis.Set(ctx, key, cfgJSON, cacheTTL).Err(); err != nil {
		log.Printf("Warning: failed to cache module config: %v", err)
	}
	return cfg, nil
}

// UpdateModuleConfig changes a module's settings and drops the cached copy
// so the next submission sees the new values.
func (s *Service) UpdateModuleConfig(ctx context.Context, eventID uuid.UUID, module models.RequestKind, enabled bool, cooldownSeconds int) (*models.ModuleConfig, error) {
	cfg, err := s.db.GetModuleConfig(ctx, eventID, module)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module config: %w", err)
	}

	cfg.Enabled = enabled
	cfg.CooldownSeconds = cooldownSeconds
	cfg.UpdatedAt = time.Now()
	if err := s.db.SaveModuleConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to save module config: %w", err)
	}

	if err := s.redis.Del(ctx, configKey(eventID, module)).Err(); err != nil {
		log.Printf("Warning: failed to invalidate config cache: %v", err)
	}
	return cfg, nil
}

func generateEventCode() string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = charset[rand.Intn(len(charset))]
	}
	return string(code)
}
