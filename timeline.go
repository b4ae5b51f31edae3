package chronograph

import (
	"sync"
	"time"

	"go.jetify.com/typeid"
)

// EventType identifies a kind of timeline event. The set is closed: every
// event recorded during a run uses one of these types.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow.started"
	EventNodeStarted       EventType = "node.started"
	EventNodeCompleted     EventType = "node.completed"
	EventNodeFailed        EventType = "node.failed"
	EventCheckpointCreated EventType = "checkpoint.created"
	EventWorkflowRewound   EventType = "workflow.rewound"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
)

// NewEventID returns a new unique event identifier
func NewEventID() string {
	id, err := typeid.WithPrefix("evt")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Event is a single entry in a run's timeline. Events are immutable once
// appended. Seq is assigned from a per-run counter with no gaps, and PrevID
// links each event to the one before it, forming a verifiable chain.
type Event struct {
	ID        string         `json:"id"`
	Seq       int64          `json:"seq"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	NodeID    string         `json:"node_id,omitempty"`
	PrevID    string         `json:"prev_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Timeline is the append-only event log for a single workflow run. It is
// never truncated: rewinds append a new event rather than rewriting history.
type Timeline struct {
	mutex   sync.RWMutex
	events  []*Event
	nextSeq int64
}

// NewTimeline creates an empty timeline. Sequence numbers start at 1.
func NewTimeline() *Timeline {
	return &Timeline{nextSeq: 1}
}

// Append records a new event and returns it. The event's data map is deep
// copied so later caller-side mutation cannot alter recorded history.
func (t *Timeline) Append(eventType EventType, nodeID string, data map[string]any) *Event {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	event := &Event{
		ID:        NewEventID(),
		Seq:       t.nextSeq,
		Type:      eventType,
		Timestamp: time.Now(),
		NodeID:    nodeID,
	}
	if len(data) > 0 {
		event.Data = deepCopyMap(data)
	}
	if n := len(t.events); n > 0 {
		event.PrevID = t.events[n-1].ID
	}
	t.events = append(t.events, event)
	t.nextSeq++
	return event
}

// Events returns a copy of the event list in append order.
func (t *Timeline) Events() []*Event {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	events := make([]*Event, len(t.events))
	copy(events, t.events)
	return events
}

// Len returns the number of recorded events.
func (t *Timeline) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.events)
}

// Last returns the most recent event, or nil if the timeline is empty.
func (t *Timeline) Last() *Event {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if len(t.events) == 0 {
		return nil
	}
	return t.events[len(t.events)-1]
}

// Since returns all events with a sequence number greater than seq.
func (t *Timeline) Since(seq int64) []*Event {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	var events []*Event
	for _, event := range t.events {
		if event.Seq > seq {
			events = append(events, event)
		}
	}
	return events
}

// Restore replaces the timeline contents, used when resuming a run loaded
// from storage. The sequence counter continues from the last restored event.
func (t *Timeline) Restore(events []*Event) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.events = make([]*Event, len(events))
	copy(t.events, events)
	t.nextSeq = 1
	if n := len(t.events); n > 0 {
		t.nextSeq = t.events[n-1].Seq + 1
	}
}
