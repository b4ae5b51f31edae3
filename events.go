package chronograph

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// EventListener receives timeline events as they are recorded. Listeners are
// invoked synchronously in subscription order after the event is appended to
// the timeline, so an event a listener observes is already durable history.
type EventListener interface {
	HandleEvent(ctx context.Context, event *Event)
}

// EventListenerFunc adapts a plain function to the EventListener interface.
type EventListenerFunc func(ctx context.Context, event *Event)

func (f EventListenerFunc) HandleEvent(ctx context.Context, event *Event) {
	f(ctx, event)
}

// listenerSet fans timeline events out to subscribed listeners. A panic in
// one listener is recovered and logged so it cannot take down the run or
// starve the remaining listeners.
type listenerSet struct {
	mutex     sync.RWMutex
	listeners map[int]EventListener
	nextID    int
	logger    *slog.Logger
}

func newListenerSet(logger *slog.Logger) *listenerSet {
	return &listenerSet{
		listeners: make(map[int]EventListener),
		logger:    logger,
	}
}

// Add registers a listener and returns a function that removes it.
func (s *listenerSet) Add(listener EventListener) func() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		delete(s.listeners, id)
	}
}

// Len returns the number of subscribed listeners.
func (s *listenerSet) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.listeners)
}

// Notify delivers an event to every listener in subscription order.
func (s *listenerSet) Notify(ctx context.Context, event *Event) {
	s.mutex.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]EventListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mutex.RUnlock()

	for _, listener := range listeners {
		s.notifyOne(ctx, listener, event)
	}
}

func (s *listenerSet) notifyOne(ctx context.Context, listener EventListener, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event listener panicked",
				"event_type", event.Type,
				"event_seq", event.Seq,
				"panic", r)
		}
	}()
	listener.HandleEvent(ctx, event)
}
