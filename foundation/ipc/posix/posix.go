// Package posix implements the ipc contracts with operating system objects
// kept in a directory, normally under /dev/shm. Regions are memory mapped
// files, mutexes are flock(2) locks that the kernel releases if the holder
// dies, and semaphores and queues are named pipes.
package posix

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ardanlabs/minernet/foundation/ipc"
	"golang.org/x/sys/unix"
)

// DefaultDir is where the shared objects live when no directory is configured.
const DefaultDir = "/dev/shm/minernet"

// File extensions used for each kind of object.
const (
	regionExt    = ".shm"
	mutexExt     = ".lock"
	semaphoreExt = ".sem"
	queueExt     = ".mq"
)

// Dir represents a namespace of shared objects kept in a directory. This
// implements the ipc.Namespace interface.
type Dir struct {
	path string
}

// New constructs a namespace rooted at the specified directory, creating
// the directory if needed.
func New(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("creating namespace dir: %w", err)
	}

	return &Dir{path: path}, nil
}

// Path returns the directory backing the namespace.
func (d *Dir) Path() string {
	return d.path
}

// Open maps the named region into memory, creating and sizing the backing
// file if it does not exist.
func (d *Dir) Open(name string, size int) (ipc.Region, bool, error) {
	path := d.name(name, regionExt)

	created := true
	fd, err := open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0600)
	if errors.Is(err, unix.EEXIST) {
		created = false
		fd, err = open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	}
	if err != nil {
		return nil, false, fmt.Errorf("open region %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, false, fmt.Errorf("stat region %s: %w", path, err)
	}

	// A creator that died before sizing the file leaves it short.
	if st.Size < int64(size) {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			if created {
				os.Remove(path)
			}
			return nil, false, fmt.Errorf("truncate region %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		if created {
			os.Remove(path)
		}
		return nil, false, fmt.Errorf("mmap region %s: %w", path, err)
	}

	return &region{data: data}, created, nil
}

// Mutex opens the named lock file. Every call returns an independent handle
// so two handles exclude each other even inside the same process.
func (d *Dir) Mutex(name string) (ipc.Mutex, error) {
	path := d.name(name, mutexExt)

	fd, err := open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, fmt.Errorf("open mutex %s: %w", path, err)
	}

	return &mutex{fd: fd}, nil
}

// Semaphore opens the named semaphore, creating the pipe if needed.
func (d *Dir) Semaphore(name string) (ipc.Semaphore, error) {
	path := d.name(name, semaphoreExt)

	fd, err := fifo(path)
	if err != nil {
		return nil, fmt.Errorf("open semaphore %s: %w", path, err)
	}

	return &semaphore{fd: fd, name: name}, nil
}

// Queue opens the named queue, creating the pipe if needed. Messages are
// padded to msgSize which must not exceed PIPE_BUF so writes stay atomic.
func (d *Dir) Queue(name string, msgSize int) (ipc.Queue, error) {
	if msgSize <= 0 || msgSize > pipeBuf {
		return nil, fmt.Errorf("queue message size %d outside (0, %d]", msgSize, pipeBuf)
	}

	path := d.name(name, queueExt)

	fd, err := fifo(path)
	if err != nil {
		return nil, fmt.Errorf("open queue %s: %w", path, err)
	}

	return &queue{fd: fd, msgSize: msgSize}, nil
}

// Unlink removes every object stored under the specified names. Objects
// that do not exist are ignored.
func (d *Dir) Unlink(names ...string) error {
	var errs []error
	for _, name := range names {
		for _, ext := range []string{regionExt, mutexExt, semaphoreExt, queueExt} {
			err := os.Remove(d.name(name, ext))
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func (d *Dir) name(name string, ext string) string {
	return filepath.Join(d.path, name+ext)
}

// =============================================================================

type region struct {
	data []byte
}

func (r *region) Bytes() []byte {
	return r.data
}

func (r *region) Close() error {
	if r.data == nil {
		return ipc.ErrClosed
	}

	err := unix.Munmap(r.data)
	r.data = nil

	return err
}

// =============================================================================

type mutex struct {
	fd int
}

func (m *mutex) Lock() error {
	return ignoringEINTR(func() error {
		return unix.Flock(m.fd, unix.LOCK_EX)
	})
}

func (m *mutex) Unlock() error {
	return ignoringEINTR(func() error {
		return unix.Flock(m.fd, unix.LOCK_UN)
	})
}

func (m *mutex) Close() error {
	return unix.Close(m.fd)
}
