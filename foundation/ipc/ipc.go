// Package ipc defines the named shared objects that bind independently
// launched miner processes together on one host: memory regions, mutexes,
// counting semaphores, message queues and process signals. The names used
// with a Namespace are the wire contract between processes.
package ipc

import (
	"context"
	"errors"
	"fmt"
)

// Set of errors shared by every implementation.
var (
	ErrNoProcess = errors.New("no such process")
	ErrQueueFull = errors.New("queue full or no receiver")
	ErrClosed    = errors.New("object closed")
)

// Region represents a fixed size block of memory visible to every process
// that opened it by the same name.
type Region interface {
	Bytes() []byte
	Close() error
}

// Mutex represents a lock that provides mutual exclusion across processes.
type Mutex interface {
	Lock() error
	Unlock() error
	Close() error
}

// Semaphore represents a counting semaphore shared across processes. Wait
// blocks until a permit is available or the context is done.
type Semaphore interface {
	Post(n int) error
	Wait(ctx context.Context) error
	Drain() (int, error)
	Close() error
}

// Queue represents a bounded mailbox of fixed size messages. Send never
// blocks and no acknowledgment is expected.
type Queue interface {
	Send(msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Namespace provides access to named shared objects. Open reports if the
// region was created by this call so the caller knows it must initialize it.
type Namespace interface {
	Open(name string, size int) (region Region, created bool, err error)
	Mutex(name string) (Mutex, error)
	Semaphore(name string) (Semaphore, error)
	Queue(name string, msgSize int) (Queue, error)
	Unlink(names ...string) error
}

// =============================================================================

// Lock acquires the mutex, runs the function and releases the mutex even if
// the function fails.
func Lock(mu Mutex, fn func() error) error {
	if err := mu.Lock(); err != nil {
		return err
	}

	err := fn()

	if uerr := mu.Unlock(); uerr != nil && err == nil {
		err = uerr
	}

	return err
}

// BootName names the lock that serializes the creation, attachment and
// removal of every shared object in a namespace. The lock itself is never
// unlinked: a process already waiting on it would hold the old file while
// a newcomer creates a new one, and both would own the lock.
const BootName = "boot"

// Bootstrap runs the function holding the namespace boot lock. The lock is
// released by the kernel if the holder dies, so a process that crashes
// halfway through initializing an object never wedges the next one.
func Bootstrap(ns Namespace, fn func() error) error {
	mu, err := ns.Mutex(BootName)
	if err != nil {
		return fmt.Errorf("boot lock: %w", err)
	}
	defer mu.Close()

	return Lock(mu, fn)
}
