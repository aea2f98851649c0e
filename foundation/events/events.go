// Package events allows for the registering and receiving of monitor events.
package events

import (
	"fmt"
	"sync"
	"time"
)

// Set of event kinds.
const (
	KindVerified  = "verified"
	KindFailed    = "failed"
	KindDuplicate = "duplicate"
)

// Event represents something the monitor observed about a block.
type Event struct {
	Kind     string    `json:"kind"`
	Block    uint32    `json:"block"`
	Target   int64     `json:"target"`
	Solution int64     `json:"solution"`
	Time     time.Time `json:"time"`
}

// String implements the fmt.Stringer interface.
func (e Event) String() string {
	return fmt.Sprintf("%s block %d with solution %d for target %d", e.Kind, e.Block, e.Solution, e.Target)
}

// =============================================================================

// Events maintains a mapping of unique id and channels so goroutines
// can register and receive events.
type Events struct {
	m  map[string]chan Event
	mu sync.RWMutex
}

// New constructs an events for registering and receiving events.
func New() *Events {
	return &Events{
		m: make(map[string]chan Event),
	}
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (evt *Events) Acquire(id string) <-chan Event {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if exists {
		return ch
	}

	// A websocket write can be slow and an event is dropped when the
	// subscriber is not ready, so give it room.
	const messageBuffer = 100

	ch = make(chan Event, messageBuffer)
	evt.m[id] = ch

	return ch
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Send delivers the event to every registered channel without blocking and
// returns how many subscribers received it.
func (evt *Events) Send(e Event) int {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	var n int
	for _, ch := range evt.m {
		select {
		case ch <- e:
			n++
		default:
		}
	}

	return n
}

// Count returns the number of subscribers.
func (evt *Events) Count() int {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	return len(evt.m)
}
