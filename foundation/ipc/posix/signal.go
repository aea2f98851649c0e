package posix

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ardanlabs/minernet/foundation/ipc"
	"golang.org/x/sys/unix"
)

// osSignals maps the control protocol onto operating system signals.
var osSignals = map[ipc.Signal]unix.Signal{
	ipc.Ping:      unix.Signal(0),
	ipc.Probe:     unix.SIGUSR1,
	ipc.Candidate: unix.SIGUSR2,
	ipc.Abandon:   unix.SIGINT,
	ipc.Timeout:   unix.SIGALRM,
}

// Signaler delivers protocol signals with kill(2). This implements the
// ipc.Signaler interface.
type Signaler struct{}

// Send delivers the signal to the process.
func (Signaler) Send(pid int, sig ipc.Signal) error {
	s, exists := osSignals[sig]
	if !exists {
		return fmt.Errorf("unknown signal %s", sig)
	}

	if err := unix.Kill(pid, s); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("pid %d: %w", pid, ipc.ErrNoProcess)
		}
		return fmt.Errorf("pid %d: %w", pid, err)
	}

	return nil
}

// Notify starts translating incoming operating system signals into protocol
// signals. It must be called before any shared object is touched: until the
// returned inbox is read, signals are held in it instead of running their
// default action, which is how initialization stays uninterrupted. SIGTERM
// is treated as Abandon.
func Notify(capacity int) (inbox <-chan ipc.Signal, stop func()) {
	osCh := make(chan os.Signal, capacity)
	signal.Notify(osCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGINT, syscall.SIGTERM, syscall.SIGALRM)

	ch := make(chan ipc.Signal, capacity)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case s := <-osCh:
				sig, ok := fromOS(s)
				if !ok {
					continue
				}
				select {
				case ch <- sig:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	stop = func() {
		signal.Stop(osCh)
		close(done)
	}

	return ch, stop
}

func fromOS(s os.Signal) (ipc.Signal, bool) {
	switch s {
	case syscall.SIGUSR1:
		return ipc.Probe, true
	case syscall.SIGUSR2:
		return ipc.Candidate, true
	case syscall.SIGINT, syscall.SIGTERM:
		return ipc.Abandon, true
	case syscall.SIGALRM:
		return ipc.Timeout, true
	}
	return 0, false
}
