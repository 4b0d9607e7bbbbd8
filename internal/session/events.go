package session

import "github.com/liquidcrypto/liquidos-builder/internal/builder"

// EventType identifies what changed in the store.
type EventType string

const (
	// EventBuildAdded fires when a new build record enters the list.
	EventBuildAdded EventType = "build_added"
	// EventBuildUpdated fires after a server response is merged into a record
	// or a local override is applied.
	EventBuildUpdated EventType = "build_updated"
	// EventBuildRemoved fires when a record is deleted from the list.
	EventBuildRemoved EventType = "build_removed"
	// EventActiveChanged fires when the active build pointer moves.
	EventActiveChanged EventType = "active_changed"
	// EventHistoryReplaced fires after the whole list is replaced; Build is
	// zero and subscribers should re-read the list.
	EventHistoryReplaced EventType = "history_replaced"
)

// Event is a store change notification delivered to subscribers.
type Event struct {
	Type  EventType
	Build builder.BuildRecord
}

const subscriberBuffer = 64

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. Slow subscribers drop events rather than block
// store mutations.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

func (s *Store) emit(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
