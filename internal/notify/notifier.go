package notify

import (
	"context"
	"sync"
	"time"
)

// EventMealCompleted is the named change event emitted whenever a meal slot's
// completion status flips, in either direction; the Status field carries the
// resulting state.
const EventMealCompleted = "meal-completed"

// Change describes one meal status change. Consumers must treat every field
// beyond the slot identifier as optional, and re-read the store rather than
// trusting the payload: the event is a hint that shared state moved.
type Change struct {
	// ChangeID is the journal cursor assigned when the change was made
	// durable; zero for changes that never reached the journal. A consumer
	// that remembers the highest ChangeID it saw can resume from it.
	ChangeID   int64
	UserID     string
	EventType  string
	DateKey    string
	SlotID     int64
	Status     string
	Calories   float64
	Foods      []string
	AnalysisID string
	Timestamp  time.Time
}

// ChangeNotifier lets one view of a user's day inform every other mounted
// view that shared state changed. Publish is called strictly after the store
// write it describes; Subscribe's cancel func must be called (or the context
// cancelled) so no subscription outlives its view.
type ChangeNotifier interface {
	Publish(change Change)
	Subscribe(ctx context.Context, userID string) (<-chan Change, func())
}

// Dispatcher is the in-process ChangeNotifier: delivery to subscribers mounted
// in the same process, synchronous with Publish.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*dispatcherSubscriber
	nextID      int64
	bufferSize  int
}

type dispatcherSubscriber struct {
	id     int64
	stream chan Change
	done   chan struct{}
}

// NewDispatcher constructs an in-process change dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*dispatcherSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for one user's changes. The returned cancel
// func is idempotent and also wired to the context.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string) (<-chan Change, func()) {
	if userID == "" {
		ch := make(chan Change)
		close(ch)
		return ch, func() {}
	}
	subscriber := &dispatcherSubscriber{
		id:     d.nextSequence(),
		stream: make(chan Change, d.bufferSize),
		done:   make(chan struct{}),
	}
	d.registerSubscriber(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(userID, subscriber.id)
			close(subscriber.done)
		})
	}
	// the watcher must not outlive the subscription: an explicit cancel ends
	// it immediately rather than parking it until the context finishes.
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-subscriber.done:
		}
	}()
	return subscriber.stream, cleanup
}

// Publish fans a change out to every subscriber observing the same user.
// Slow subscribers are skipped rather than blocking the writer; receipt only
// triggers a re-read, so a dropped signal reconverges on the next one.
func (d *Dispatcher) Publish(change Change) {
	if change.UserID == "" || change.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[change.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*dispatcherSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- change:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) registerSubscriber(userID string, subscriber *dispatcherSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*dispatcherSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *Dispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
