package queue

import (
	"github.com/google/uuid"

	"github.com/request-queue-system/pkg/models"
)

// ordering is the kind-specific strategy behind the engine. Song order is
// derived (priority then age) and never stored, so concurrent status changes
// cannot desynchronize it. Karaoke order is a persisted dense position that
// must be renumbered whenever membership of the active set changes.
type ordering interface {
	// persistsPositions reports whether the kind stores queue positions at
	// all. Kinds that derive their order reject manual reorders.
	persistsPositions() bool
	// insertPosition computes the position for a new request given the
	// current active set.
	insertPosition(active []*models.Request) int
	// renumber returns the position updates needed to make the active set
	// dense and 0-based again, preserving the given order. Requests whose
	// position is already correct are omitted.
	renumber(active []*models.Request) map[uuid.UUID]int
}

func orderingFor(kind models.RequestKind) ordering {
	if kind == models.KindKaraoke {
		return karaokeOrdering{}
	}
	return songOrdering{}
}

type songOrdering struct{}

func (songOrdering) persistsPositions() bool                      { return false }
func (songOrdering) insertPosition([]*models.Request) int         { return 0 }
func (songOrdering) renumber([]*models.Request) map[uuid.UUID]int { return nil }

type karaokeOrdering struct{}

func (karaokeOrdering) persistsPositions() bool { return true }

// insertPosition appends after the highest active position, or at 0 when the
// queue is empty.
func (karaokeOrdering) insertPosition(active []*models.Request) int {
	max := -1
	for _, r := range active {
		if r.QueuePosition > max {
			max = r.QueuePosition
		}
	}
	return max + 1
}

func (karaokeOrdering) renumber(active []*models.Request) map[uuid.UUID]int {
	updates := make(map[uuid.UUID]int)
	for rank, r := range active {
		if r.QueuePosition != rank {
			updates[r.ID] = rank
		}
	}
	return updates
}

// validateReorder checks that orderedIDs is exactly the current active set:
// no missing ids, no duplicates, nothing foreign. The lookup function lets
// the caller distinguish a request of the wrong kind (KindMismatch) from one
// that does not belong to the event at all.
func validateReorder(kind models.RequestKind, active []*models.Request, orderedIDs []uuid.UUID, kindOf func(uuid.UUID) (models.RequestKind, bool)) error {
	activeByID := make(map[uuid.UUID]*models.Request, len(active))
	for _, r := range active {
		activeByID[r.ID] = r
	}

	seen := make(map[uuid.UUID]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if seen[id] {
			return &ReorderError{Reason: "duplicate id " + id.String()}
		}
		seen[id] = true

		if _, ok := activeByID[id]; ok {
			continue
		}
		if foundKind, ok := kindOf(id); ok {
			if foundKind != kind {
				return ErrKindMismatch
			}
			return &ReorderError{Reason: "id " + id.String() + " is not in the active set"}
		}
		return &ReorderError{Reason: "unknown id " + id.String()}
	}

	if len(orderedIDs) != len(active) {
		return &ReorderError{Reason: "payload does not cover the active set"}
	}
	return nil
}
