package streaming

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventRunStarted     EventType = "run.started"
	EventRunCompleted   EventType = "run.completed"
	EventRunFailed      EventType = "run.failed"
	EventGroupStarted   EventType = "group.started"
	EventGroupCompleted EventType = "group.completed"
	EventGroupFailed    EventType = "group.failed"
)

// Event is one lifecycle step of a move-group run.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	RunID     uuid.UUID      `json:"run_id"`
	Type      EventType      `json:"type"`
	GroupID   int            `json:"group_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewEvent(runID uuid.UUID, eventType EventType, groupID int, payload map[string]any) *Event {
	return &Event{
		ID:        uuid.New(),
		RunID:     runID,
		Type:      eventType,
		GroupID:   groupID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// AllRuns subscribes to the events of every run.
var AllRuns = uuid.Nil

type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID][]chan *Event
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[uuid.UUID][]chan *Event),
	}
}

func (s *EventStreamer) Subscribe(runID uuid.UUID) <-chan *Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *Event, 100)
	s.subscribers[runID] = append(s.subscribers[runID], ch)
	return ch
}

func (s *EventStreamer) Unsubscribe(runID uuid.UUID, ch <-chan *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[runID]
	for i, sub := range subs {
		if sub == ch {
			s.subscribers[runID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
}

// Broadcast delivers event to the run's subscribers and to AllRuns
// subscribers. A full subscriber channel drops the event.
func (s *EventStreamer) Broadcast(event *Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deliver := func(subs []chan *Event) {
		for _, ch := range subs {
			select {
			case ch <- event:
			default:
			}
		}
	}
	deliver(s.subscribers[event.RunID])
	if event.RunID != AllRuns {
		deliver(s.subscribers[AllRuns])
	}
}
