package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/request-queue-system/pkg/models"
)

// Sentinel errors for rejections that need no extra detail. Handlers map
// each to an HTTP status; none of them leave any state or notification
// behind.
var (
	ErrNotFound       = errors.New("request not found")
	ErrModuleDisabled = errors.New("module is disabled for this event")
	ErrKindMismatch   = errors.New("request kinds do not match")
)

// ValidationError rejects malformed input before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CooldownError tells the guest how long they still have to wait.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, retry in %s", e.Remaining.Round(time.Second))
}

// TransitionError rejects a status change the lifecycle table does not
// allow.
type TransitionError struct {
	From models.RequestStatus
	To   models.RequestStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// ReorderError rejects a reorder payload that does not exactly match the
// current active set. The caller must re-fetch the queue and retry; nothing
// is partially applied.
type ReorderError struct {
	Reason string
}

func (e *ReorderError) Error() string {
	return fmt.Sprintf("invalid reorder: %s", e.Reason)
}
