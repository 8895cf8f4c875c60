package queue

import (
	"github.com/request-queue-system/pkg/models"
)

// Transition tables per request kind. Every permitted status change is an
// ordinary entry here, including operator corrections that move a terminal
// request back into the queue — reverts are regular transitions, not a
// bypass. Keeping the tables as data leaves them operator-configurable.
var songTransitions = map[models.RequestStatus][]models.RequestStatus{
	models.StatusPending:     {models.StatusHighlighted, models.StatusUrgent, models.StatusPlayed, models.StatusDiscarded},
	models.StatusHighlighted: {models.StatusPending, models.StatusUrgent, models.StatusPlayed, models.StatusDiscarded},
	models.StatusUrgent:      {models.StatusPending, models.StatusHighlighted, models.StatusPlayed, models.StatusDiscarded},
	models.StatusPlayed:      {models.StatusPending, models.StatusUrgent},
	models.StatusDiscarded:   {models.StatusPending, models.StatusUrgent},
}

var karaokeTransitions = map[models.RequestStatus][]models.RequestStatus{
	models.StatusQueued:    {models.StatusCalled, models.StatusNoShow, models.StatusCancelled},
	models.StatusCalled:    {models.StatusQueued, models.StatusOnStage, models.StatusNoShow, models.StatusCancelled},
	models.StatusOnStage:   {models.StatusCalled, models.StatusCompleted},
	models.StatusCompleted: {models.StatusQueued},
	models.StatusNoShow:    {models.StatusQueued, models.StatusCalled},
	models.StatusCancelled: {models.StatusQueued},
}

func transitionTable(kind models.RequestKind) map[models.RequestStatus][]models.RequestStatus {
	if kind == models.KindKaraoke {
		return karaokeTransitions
	}
	return songTransitions
}

// knownStatus reports whether the status exists at all for the kind.
func knownStatus(kind models.RequestKind, status models.RequestStatus) bool {
	table := transitionTable(kind)
	if _, ok := table[status]; ok {
		return true
	}
	for _, targets := range table {
		for _, t := range targets {
			if t == status {
				return true
			}
		}
	}
	return false
}

// canTransition checks the table for kind; it never mutates.
func canTransition(kind models.RequestKind, from, to models.RequestStatus) bool {
	for _, t := range transitionTable(kind)[from] {
		if t == to {
			return true
		}
	}
	return false
}
