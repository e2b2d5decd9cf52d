// Package events provides a simple publish-subscribe bus for display events
// (vertical blanks, page flip completions, commit completions).
package events

import (
	"sync"
	"time"
)

const subBufferSize = 8

// Kind identifies the type of an Event.
type Kind string

const (
	KindVblank         Kind = "vblank"
	KindFlipComplete   Kind = "flip_complete"
	KindCommitComplete Kind = "commit_complete"
	KindSuspend        Kind = "suspend"
	KindResume         Kind = "resume"
)

// Event is one notification from the display core.
type Event struct {
	Kind     Kind      `json:"kind"`
	Crtc     int       `json:"crtc"`
	Sequence uint64    `json:"sequence,omitempty"`
	Time     time.Time `json:"time"`
	UserData uint64    `json:"user_data,omitempty"`
	Forced   bool      `json:"forced,omitempty"`
	CommitID string    `json:"commit_id,omitempty"`
}

// Publisher is the sending half of a Bus.
type Publisher interface {
	Publish(ev Event)
}

// Bus is a non-blocking publish-subscribe event bus.
// Subscribers that are slow to consume events will have events dropped rather
// than blocking publishers.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan Event),
	}
}

// Subscribe creates a new subscription with the given ID.
// Call Unsubscribe when done to clean up.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subBufferSize)
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish sends ev to all subscribers. It never blocks, so it is safe to
// call from the interrupt path. If a subscriber's channel is full, the
// event is dropped.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is slow
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
