package memory

import (
	"sync"

	"github.com/ardanlabs/minernet/foundation/ipc"
)

// Router delivers signals between simulated processes. Each process
// registers an inbox under its pid. This implements the ipc.Signaler
// interface.
type Router struct {
	mu      sync.RWMutex
	inboxes map[int]chan ipc.Signal
}

// NewRouter constructs a router with no registered processes.
func NewRouter() *Router {
	return &Router{
		inboxes: make(map[int]chan ipc.Signal),
	}
}

// Register creates the inbox for the specified pid.
func (r *Router) Register(pid int, capacity int) <-chan ipc.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan ipc.Signal, capacity)
	r.inboxes[pid] = ch

	return ch
}

// Unregister removes the process so later sends to it fail.
func (r *Router) Unregister(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.inboxes, pid)
}

// Send posts the signal into the inbox of the process. Like real signals,
// a signal is dropped if the inbox is full.
func (r *Router) Send(pid int, sig ipc.Signal) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, exists := r.inboxes[pid]
	if !exists {
		return ipc.ErrNoProcess
	}

	if sig == ipc.Ping {
		return nil
	}

	select {
	case ch <- sig:
	default:
	}

	return nil
}
