// Package memory implements the ipc contracts inside a single process. Every
// handle opened from the same Namespace by the same name shares the same
// object, which lets a test run several miners as goroutines.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/minernet/foundation/ipc"
)

// Capacity limits for the in-process objects.
const (
	semaphoreCapacity = 4096
	queueDepth        = 10
)

// Namespace represents a set of named objects held in memory. This
// implements the ipc.Namespace interface.
type Namespace struct {
	mu      sync.Mutex
	regions map[string][]byte
	mutexes map[string]*sync.Mutex
	sems    map[string]chan struct{}
	queues  map[string]chan []byte
}

// New constructs an empty namespace.
func New() *Namespace {
	return &Namespace{
		regions: make(map[string][]byte),
		mutexes: make(map[string]*sync.Mutex),
		sems:    make(map[string]chan struct{}),
		queues:  make(map[string]chan []byte),
	}
}

// Open returns the region with the specified name, creating it zero filled
// if it does not exist.
func (ns *Namespace) Open(name string, size int) (ipc.Region, bool, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	b, exists := ns.regions[name]
	if exists {
		if len(b) < size {
			return nil, false, fmt.Errorf("region %q is %d bytes, need %d", name, len(b), size)
		}
		return &region{b: b[:size]}, false, nil
	}

	b = make([]byte, size)
	ns.regions[name] = b

	return &region{b: b}, true, nil
}

// Mutex returns the mutex with the specified name.
func (ns *Namespace) Mutex(name string) (ipc.Mutex, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	mu, exists := ns.mutexes[name]
	if !exists {
		mu = &sync.Mutex{}
		ns.mutexes[name] = mu
	}

	return &mutex{mu: mu}, nil
}

// Semaphore returns the semaphore with the specified name. A new semaphore
// starts with zero permits.
func (ns *Namespace) Semaphore(name string) (ipc.Semaphore, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ch, exists := ns.sems[name]
	if !exists {
		ch = make(chan struct{}, semaphoreCapacity)
		ns.sems[name] = ch
	}

	return &semaphore{name: name, ch: ch}, nil
}

// Queue returns the queue with the specified name.
func (ns *Namespace) Queue(name string, msgSize int) (ipc.Queue, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ch, exists := ns.queues[name]
	if !exists {
		ch = make(chan []byte, queueDepth)
		ns.queues[name] = ch
	}

	return &queue{ch: ch, msgSize: msgSize}, nil
}

// Unlink removes the names from the namespace. Handles already open keep
// working on the detached objects.
func (ns *Namespace) Unlink(names ...string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	for _, name := range names {
		delete(ns.regions, name)
		delete(ns.mutexes, name)
		delete(ns.sems, name)
		delete(ns.queues, name)
	}

	return nil
}

// Exists reports if any object is registered under the name.
func (ns *Namespace) Exists(name string) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if _, ok := ns.regions[name]; ok {
		return true
	}
	if _, ok := ns.mutexes[name]; ok {
		return true
	}
	if _, ok := ns.sems[name]; ok {
		return true
	}
	_, ok := ns.queues[name]
	return ok
}

// =============================================================================

type region struct {
	b []byte
}

func (r *region) Bytes() []byte {
	return r.b
}

func (r *region) Close() error {
	return nil
}

// =============================================================================

type mutex struct {
	mu *sync.Mutex
}

func (m *mutex) Lock() error {
	m.mu.Lock()
	return nil
}

func (m *mutex) Unlock() error {
	m.mu.Unlock()
	return nil
}

func (m *mutex) Close() error {
	return nil
}

// =============================================================================

type semaphore struct {
	name string
	ch   chan struct{}
}

func (s *semaphore) Post(n int) error {
	for range n {
		select {
		case s.ch <- struct{}{}:
		default:
			return fmt.Errorf("semaphore %q: too many permits", s.name)
		}
	}
	return nil
}

func (s *semaphore) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) Drain() (int, error) {
	var n int
	for {
		select {
		case <-s.ch:
			n++
		default:
			return n, nil
		}
	}
}

func (s *semaphore) Close() error {
	return nil
}

// =============================================================================

type queue struct {
	ch      chan []byte
	msgSize int
}

func (q *queue) Send(msg []byte) error {
	if len(msg) > q.msgSize {
		return errors.New("message larger than queue message size")
	}

	cp := make([]byte, len(msg))
	copy(cp, msg)

	select {
	case q.ch <- cp:
		return nil
	default:
		return ipc.ErrQueueFull
	}
}

func (q *queue) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *queue) Close() error {
	return nil
}
