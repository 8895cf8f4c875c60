// Package queue implements the request lifecycle engine: submission policy,
// status transitions, ordering, and change notification for the song and
// karaoke modules of an event.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/request-queue-system/internal/notify"
	"github.com/request-queue-system/pkg/database"
	"github.com/request-queue-system/pkg/models"
)

// ListFilter selects which slice of an event's requests ListQueue returns.
type ListFilter string

const (
	FilterActive  ListFilter = "active"
	FilterHistory ListFilter = "history"
)

type Service struct {
	store     Store
	cooldowns CooldownTracker
	configs   ConfigSource
	notifier  *notify.Notifier

	// One mutex per event serializes every mutation that touches that
	// event's ordering. Reads go through without it; the store hands out
	// consistent snapshots.
	locks sync.Map
}

func NewService(store Store, cooldowns CooldownTracker, configs ConfigSource, notifier *notify.Notifier) *Service {
	return &Service{
		store:     store,
		cooldowns: cooldowns,
		configs:   configs,
		notifier:  notifier,
	}
}

func (s *Service) lockEvent(eventID uuid.UUID) func() {
	v, _ := s.locks.LoadOrStore(eventID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) getRequest(ctx context.Context, eventID, requestID uuid.UUID) (*models.Request, error) {
	req, err := s.store.GetRequest(ctx, eventID, requestID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	return req, nil
}

// SubmitRequest validates a guest submission against the module config and
// the guest's cooldown, assigns the ordering key for the kind, and persists
// the request. Karaoke requests draw a turn number and are appended at the
// back of the queue.
func (s *Service) SubmitRequest(ctx context.Context, eventID, guestID uuid.UUID, kind models.RequestKind, track models.TrackRef) (*models.Request, error) {
	if !kind.Valid() {
		return nil, &ValidationError{Field: "kind", Reason: "must be song or karaoke"}
	}
	if strings.TrimSpace(track.Title) == "" {
		return nil, &ValidationError{Field: "track.title", Reason: "must not be empty"}
	}

	cfg, err := s.configs.ModuleConfig(ctx, eventID, kind)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load module config: %w", err)
	}
	if !cfg.Enabled {
		return nil, ErrModuleDisabled
	}

	unlock := s.lockEvent(eventID)
	defer unlock()

	cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
	remaining, err := s.cooldowns.CheckAndReserve(ctx, eventID, guestID, kind, cooldown)
	if err != nil {
		return nil, fmt.Errorf("failed to check cooldown: %w", err)
	}
	if remaining > 0 {
		return nil, &CooldownError{Remaining: remaining}
	}

	releaseCooldown := func() {
		if rerr := s.cooldowns.Release(ctx, eventID, guestID, kind); rerr != nil {
			log.Printf("queue: failed to release cooldown for guest %s: %v", guestID, rerr)
		}
	}

	now := time.Now()
	req := &models.Request{
		ID:        uuid.New(),
		EventID:   eventID,
		GuestID:   guestID,
		Kind:      kind,
		Status:    models.InitialStatus(kind),
		Track:     track,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ord := orderingFor(kind)
	if ord.persistsPositions() {
		active, err := s.store.ListActive(ctx, eventID, kind)
		if err != nil {
			releaseCooldown()
			return nil, fmt.Errorf("failed to list queue: %w", err)
		}
		req.QueuePosition = ord.insertPosition(active)

		turn, err := s.store.NextTurnNumber(ctx, eventID)
		if err != nil {
			releaseCooldown()
			return nil, err
		}
		req.TurnNumber = turn
	}

	if err := s.store.CreateRequest(ctx, req); err != nil {
		releaseCooldown()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	s.notifier.Publish(notify.ChangeEvent{
		Type:    notify.RequestCreated,
		EventID: eventID,
		Kind:    kind,
		Request: req,
	})
	return req, nil
}

// ListQueue returns the event's requests of one kind: the active set in
// queue order, or the terminal history.
func (s *Service) ListQueue(ctx context.Context, eventID uuid.UUID, kind models.RequestKind, filter ListFilter) ([]*models.Request, error) {
	if !kind.Valid() {
		return nil, &ValidationError{Field: "kind", Reason: "must be song or karaoke"}
	}

	switch filter {
	case "", FilterActive:
		items, err := s.store.ListActive(ctx, eventID, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to list queue: %w", err)
		}
		return items, nil
	case FilterHistory:
		items, err := s.store.ListHistory(ctx, eventID, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to list history: %w", err)
		}
		return items, nil
	default:
		return nil, &ValidationError{Field: "filter", Reason: "must be active or history"}
	}
}

// UpdateStatus moves a request through its lifecycle. Transitions that
// remove a karaoke request from the active set close the position gap before
// the change is announced; transitions that bring one back append it at the
// end of the queue. The turn number never changes.
func (s *Service) UpdateStatus(ctx context.Context, eventID, requestID uuid.UUID, target models.RequestStatus) (*models.Request, error) {
	unlock := s.lockEvent(eventID)
	defer unlock()

	req, err := s.getRequest(ctx, eventID, requestID)
	if err != nil {
		return nil, err
	}

	if !knownStatus(req.Kind, target) {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %s for %s requests", target, req.Kind)}
	}
	if !canTransition(req.Kind, req.Status, target) {
		return nil, &TransitionError{From: req.Status, To: target}
	}

	wasActive := models.IsActive(req.Kind, req.Status)
	willBeActive := models.IsActive(req.Kind, target)

	req.Status = target
	req.UpdatedAt = time.Now()
	if target == models.StatusCalled {
		now := time.Now()
		req.CalledAt = &now
	}

	ord := orderingFor(req.Kind)
	if ord.persistsPositions() && !wasActive && willBeActive {
		active, err := s.store.ListActive(ctx, eventID, req.Kind)
		if err != nil {
			return nil, fmt.Errorf("failed to list queue: %w", err)
		}
		req.QueuePosition = ord.insertPosition(active)
	}

	if err := s.store.SaveRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save request: %w", err)
	}

	var queue []*models.Request
	if ord.persistsPositions() && wasActive != willBeActive {
		queue, err = s.renumberActive(ctx, eventID, req.Kind)
		if err != nil {
			return nil, err
		}
	}

	s.notifier.Publish(notify.ChangeEvent{
		Type:    notify.RequestUpdated,
		EventID: eventID,
		Kind:    req.Kind,
		Request: req,
		Queue:   queue,
	})
	return req, nil
}

// SetPriority changes a song request's weight in the derived ordering.
func (s *Service) SetPriority(ctx context.Context, eventID, requestID uuid.UUID, priority int) (*models.Request, error) {
	unlock := s.lockEvent(eventID)
	defer unlock()

	req, err := s.getRequest(ctx, eventID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Kind != models.KindSong {
		return nil, &ValidationError{Field: "priority", Reason: "only song requests carry a priority"}
	}

	req.Priority = priority
	req.UpdatedAt = time.Now()
	if err := s.store.SaveRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save request: %w", err)
	}

	s.notifier.Publish(notify.ChangeEvent{
		Type:    notify.RequestUpdated,
		EventID: eventID,
		Kind:    req.Kind,
		Request: req,
	})
	return req, nil
}

// ReorderQueue replaces the karaoke queue order with the operator's list.
// The payload must name exactly the current active set; otherwise nothing is
// applied and the caller has to re-fetch and retry.
func (s *Service) ReorderQueue(ctx context.Context, eventID uuid.UUID, kind models.RequestKind, orderedIDs []uuid.UUID) ([]*models.Request, error) {
	if !kind.Valid() {
		return nil, &ValidationError{Field: "kind", Reason: "must be song or karaoke"}
	}
	ord := orderingFor(kind)
	if !ord.persistsPositions() {
		return nil, &ValidationError{Field: "kind", Reason: "song queue order is derived from priority and cannot be reordered"}
	}

	unlock := s.lockEvent(eventID)
	defer unlock()

	active, err := s.store.ListActive(ctx, eventID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}

	kindOf := func(id uuid.UUID) (models.RequestKind, bool) {
		r, err := s.store.GetRequest(ctx, eventID, id)
		if err != nil {
			return "", false
		}
		return r.Kind, true
	}
	if err := validateReorder(kind, active, orderedIDs, kindOf); err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*models.Request, len(active))
	for _, r := range active {
		byID[r.ID] = r
	}

	updates := make(map[uuid.UUID]int)
	for rank, id := range orderedIDs {
		if byID[id].QueuePosition != rank {
			updates[id] = rank
		}
	}
	if err := s.store.SetPositions(ctx, eventID, updates); err != nil {
		return nil, fmt.Errorf("failed to apply reorder: %w", err)
	}

	result := make([]*models.Request, len(orderedIDs))
	for rank, id := range orderedIDs {
		r := byID[id]
		r.QueuePosition = rank
		result[rank] = r
	}

	s.notifier.Publish(notify.ChangeEvent{
		Type:    notify.QueueReordered,
		EventID: eventID,
		Kind:    kind,
		Queue:   result,
	})
	return result, nil
}

// DeleteRequest removes a request entirely, unlike a terminal status, and
// still announces the removal. Deleting an active karaoke request renumbers
// the remaining queue to close the gap.
func (s *Service) DeleteRequest(ctx context.Context, eventID, requestID uuid.UUID) error {
	unlock := s.lockEvent(eventID)
	defer unlock()

	req, err := s.getRequest(ctx, eventID, requestID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteRequest(ctx, req); err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}

	var queue []*models.Request
	ord := orderingFor(req.Kind)
	if ord.persistsPositions() && models.IsActive(req.Kind, req.Status) {
		queue, err = s.renumberActive(ctx, eventID, req.Kind)
		if err != nil {
			return err
		}
	}

	s.notifier.Publish(notify.ChangeEvent{
		Type:    notify.RequestDeleted,
		EventID: eventID,
		Kind:    req.Kind,
		Request: req,
		Queue:   queue,
	})
	return nil
}

// renumberActive makes the active set dense again after a removal and
// returns the resulting order.
func (s *Service) renumberActive(ctx context.Context, eventID uuid.UUID, kind models.RequestKind) ([]*models.Request, error) {
	active, err := s.store.ListActive(ctx, eventID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}

	updates := orderingFor(kind).renumber(active)
	if len(updates) > 0 {
		if err := s.store.SetPositions(ctx, eventID, updates); err != nil {
			return nil, fmt.Errorf("failed to renumber queue: %w", err)
		}
		for _, r := range active {
			if pos, ok := updates[r.ID]; ok {
				r.QueuePosition = pos
			}
		}
	}
	return active, nil
}
