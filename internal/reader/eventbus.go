package reader

import "sync"

type EventBus interface {
	Publish(event Event)
	// Subscribe returns a function that removes the handler.
	Subscribe(eventType EventType, handler EventHandler) func()
}

type subscription struct {
	id      uint64
	handler EventHandler
}

// eventBus delivers each event on its own goroutine, so handlers never
// block a pipeline run.
type eventBus struct {
	subscribers map[EventType][]subscription
	nextID      uint64
	mu          sync.RWMutex
}

func NewEventBus() EventBus {
	return &eventBus{
		subscribers: make(map[EventType][]subscription),
	}
}

func (eb *eventBus) Publish(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.Type()]
	eb.mu.RUnlock()

	for _, sub := range subs {
		go sub.handler(event)
	}
}

func (eb *eventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	// Copy on write: Publish iterates a snapshot without the lock.
	subs := append([]subscription(nil), eb.subscribers[eventType]...)
	eb.subscribers[eventType] = append(subs, subscription{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		current := eb.subscribers[eventType]
		kept := make([]subscription, 0, len(current))
		for _, s := range current {
			if s.id != id {
				kept = append(kept, s)
			}
		}
		eb.subscribers[eventType] = kept
	}
}

// NoticeNotifier publishes notices raised outside the orchestrator, such
// as speech failures reported by the announcer.
func NoticeNotifier(bus EventBus) func(level, message string) {
	return func(level, message string) {
		bus.Publish(NewNoticeEvent(Notice{Level: level, Message: message}))
	}
}
