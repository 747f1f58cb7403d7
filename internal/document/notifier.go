package document

import (
	"sync"
	"time"
)

// ChangeEvent describes one committed transaction observed on a collection.
type ChangeEvent struct {
	Message string
	Remote  bool
	At      time.Time
}

// Observer receives change events for a subscribed collection. Delivery is
// synchronous with the completing transaction and at-least-once; no ordering
// is defined across independent collections.
type Observer func(event ChangeEvent)

// Notifier fans change events out to per-collection observers.
type Notifier struct {
	mu        sync.RWMutex
	observers map[Collection]map[int64]Observer
	nextID    int64
}

// NewNotifier constructs an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		observers: make(map[Collection]map[int64]Observer),
	}
}

// Subscribe registers an observer for one collection and returns its cancel
// function. Cancel is idempotent.
func (n *Notifier) Subscribe(collection Collection, observer Observer) func() {
	if observer == nil {
		return func() {}
	}

	n.mu.Lock()
	n.nextID++
	id := n.nextID
	if _, ok := n.observers[collection]; !ok {
		n.observers[collection] = make(map[int64]Observer)
	}
	n.observers[collection][id] = observer
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		observers := n.observers[collection]
		if observers != nil {
			delete(observers, id)
			if len(observers) == 0 {
				delete(n.observers, collection)
			}
		}
		n.mu.Unlock()
	}
}

// Notify delivers the event to every observer of the touched collections.
func (n *Notifier) Notify(event ChangeEvent, touched ...Collection) {
	for _, collection := range touched {
		n.mu.RLock()
		observers := n.observers[collection]
		copies := make([]Observer, 0, len(observers))
		for _, observer := range observers {
			copies = append(copies, observer)
		}
		n.mu.RUnlock()

		for _, observer := range copies {
			observer(event)
		}
	}
}
