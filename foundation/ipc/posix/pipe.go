package posix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/minernet/foundation/ipc"
	"golang.org/x/sys/unix"
)

// pipeBuf is the largest write POSIX guarantees to be atomic on a pipe.
const pipeBuf = 4096

// pollInterval bounds how long a waiter sleeps before checking its context
// when the context has no deadline.
const pollInterval = 100 * time.Millisecond

// fifo creates the named pipe if needed and opens it for reading and
// writing. Holding both ends means reads never see EOF and opens never block.
func fifo(path string) (int, error) {
	err := unix.Mkfifo(path, 0600)
	if err != nil && !errors.Is(err, unix.EEXIST) {
		return -1, err
	}

	return open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
}

// waitReadable blocks until the descriptor has data, the context is done or
// the poll interval passes.
func waitReadable(ctx context.Context, fd int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := pollInterval
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return context.DeadlineExceeded
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	_, err := ignoringEINTRn(func() (int, error) {
		return unix.Poll(fds, int(timeout.Milliseconds())+1)
	})

	return err
}

// =============================================================================

// semaphore keeps one byte in the pipe for every available permit.
type semaphore struct {
	fd   int
	name string
}

func (s *semaphore) Post(n int) error {
	if n <= 0 {
		return nil
	}

	buf := make([]byte, n)
	for len(buf) > 0 {
		w, err := ignoringEINTRn(func() (int, error) {
			return unix.Write(s.fd, buf)
		})
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return fmt.Errorf("semaphore %q: too many permits", s.name)
			}
			return err
		}
		buf = buf[w:]
	}

	return nil
}

func (s *semaphore) Wait(ctx context.Context) error {
	var buf [1]byte
	for {
		n, err := ignoringEINTRn(func() (int, error) {
			return unix.Read(s.fd, buf[:])
		})
		if n == 1 {
			return nil
		}
		if err != nil && !errors.Is(err, unix.EAGAIN) {
			return err
		}

		// Another waiter may win the permit, so go around again.
		if err := waitReadable(ctx, s.fd); err != nil {
			return err
		}
	}
}

func (s *semaphore) Drain() (int, error) {
	buf := make([]byte, 256)

	var total int
	for {
		n, err := ignoringEINTRn(func() (int, error) {
			return unix.Read(s.fd, buf)
		})
		if n > 0 {
			total += n
		}
		switch {
		case errors.Is(err, unix.EAGAIN):
			return total, nil
		case err != nil:
			return total, err
		case n == 0:
			return total, nil
		}
	}
}

func (s *semaphore) Close() error {
	return unix.Close(s.fd)
}

// =============================================================================

// queue frames every message to msgSize bytes.
type queue struct {
	fd      int
	msgSize int
}

func (q *queue) Send(msg []byte) error {
	if len(msg) > q.msgSize {
		return fmt.Errorf("message of %d bytes exceeds %d", len(msg), q.msgSize)
	}

	frame := make([]byte, q.msgSize)
	copy(frame, msg)

	_, err := ignoringEINTRn(func() (int, error) {
		return unix.Write(q.fd, frame)
	})
	if errors.Is(err, unix.EAGAIN) {
		return ipc.ErrQueueFull
	}

	return err
}

func (q *queue) Receive(ctx context.Context) ([]byte, error) {
	frame := make([]byte, q.msgSize)
	for {
		n, err := ignoringEINTRn(func() (int, error) {
			return unix.Read(q.fd, frame)
		})
		if n == q.msgSize {
			return frame, nil
		}
		if n > 0 {
			return nil, fmt.Errorf("short message of %d bytes", n)
		}
		if err != nil && !errors.Is(err, unix.EAGAIN) {
			return nil, err
		}

		if err := waitReadable(ctx, q.fd); err != nil {
			return nil, err
		}
	}
}

func (q *queue) Close() error {
	return unix.Close(q.fd)
}
