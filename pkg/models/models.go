package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestKind selects which queue module a request belongs to. Each event
// runs the two modules independently: music requests are sorted by priority,
// karaoke requests hold a persisted position in a turn queue.
type RequestKind string

const (
	KindSong    RequestKind = "song"
	KindKaraoke RequestKind = "karaoke"
)

func (k RequestKind) Valid() bool {
	return k == KindSong || k == KindKaraoke
}

type RequestStatus string

// Song request statuses.
const (
	StatusPending     RequestStatus = "PENDING"
	StatusHighlighted RequestStatus = "HIGHLIGHTED"
	StatusUrgent      RequestStatus = "URGENT"
	StatusPlayed      RequestStatus = "PLAYED"
	StatusDiscarded   RequestStatus = "DISCARDED"
)

// Karaoke request statuses.
const (
	StatusQueued    RequestStatus = "QUEUED"
	StatusCalled    RequestStatus = "CALLED"
	StatusOnStage   RequestStatus = "ON_STAGE"
	StatusCompleted RequestStatus = "COMPLETED"
	StatusNoShow    RequestStatus = "NO_SHOW"
	StatusCancelled RequestStatus = "CANCELLED"
)

// InitialStatus is the status a freshly submitted request starts in.
func InitialStatus(kind RequestKind) RequestStatus {
	if kind == KindKaraoke {
		return StatusQueued
	}
	return StatusPending
}

// ActiveStatuses lists the statuses that count toward ordering for a kind.
// Requests in any other status keep their last ordering key for history but
// are excluded from sorting and position renumbering.
func ActiveStatuses(kind RequestKind) []RequestStatus {
	if kind == KindKaraoke {
		return []RequestStatus{StatusQueued, StatusCalled, StatusOnStage}
	}
	return []RequestStatus{StatusPending, StatusHighlighted, StatusUrgent}
}

// IsActive reports whether a status keeps a request in the active set of its
// kind.
func IsActive(kind RequestKind, status RequestStatus) bool {
	for _, s := range ActiveStatuses(kind) {
		if s == status {
			return true
		}
	}
	return false
}

// TrackRef is a denormalized track description copied into the request at
// submission time, so later catalog changes never alter historical requests.
type TrackRef struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	ArtworkURL string `json:"artwork_url"`
	CatalogID  string `json:"catalog_id"`
}

type Request struct {
	ID      uuid.UUID `json:"id" gorm:"primaryKey"`
	EventID uuid.UUID `json:"event_id" gorm:"index"`
	GuestID uuid.UUID `json:"guest_id"`

	Kind   RequestKind   `json:"kind" gorm:"index"`
	Status RequestStatus `json:"status"`

	Track TrackRef `json:"track" gorm:"embedded;embeddedPrefix:track_"`

	// Song ordering: higher priority sorts first, created_at breaks ties.
	Priority int `json:"priority"`

	// Karaoke ordering: TurnNumber is the guest's stable ticket, assigned
	// once at creation and never reused within an event. QueuePosition is
	// the dense 0-based rank among active requests and changes on reorder
	// and removal.
	TurnNumber    int `json:"turn_number"`
	QueuePosition int `json:"queue_position"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	CalledAt  *time.Time `json:"called_at,omitempty"`
}

type Event struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	Code      string    `json:"code" gorm:"unique"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Guest is a submitter identity scoped to one event. IdentityKey is the
// opaque value the client presents (device token, session cookie); resolving
// the same key twice returns the same guest.
type Guest struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	EventID     uuid.UUID `json:"event_id" gorm:"index:idx_guest_identity,unique"`
	IdentityKey string    `json:"-" gorm:"index:idx_guest_identity,unique"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// ModuleConfig holds per-event settings for one request module. Creation is
// rejected while Enabled is false; CooldownSeconds gates successive
// submissions from the same guest.
type ModuleConfig struct {
	ID              uuid.UUID   `json:"id" gorm:"primaryKey"`
	EventID         uuid.UUID   `json:"event_id" gorm:"index:idx_event_module,unique"`
	Module          RequestKind `json:"module" gorm:"index:idx_event_module,unique"`
	Enabled         bool        `json:"enabled"`
	CooldownSeconds int         `json:"cooldown_seconds"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TurnCounter backs the per-event monotonic ticket sequence for karaoke
// requests. NextTurn is incremented inside the creation transaction.
type TurnCounter struct {
	EventID  uuid.UUID `gorm:"primaryKey"`
	NextTurn int
}
