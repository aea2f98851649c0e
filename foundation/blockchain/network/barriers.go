package network

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ardanlabs/minernet/foundation/ipc"
)

// Names of the round barrier semaphores.
const (
	BarriersName = "barriers"
	VoteName     = "barrier.vote"
	TallyName    = "barrier.tally"
	UpdateName   = "barrier.update"
	UpdatedName  = "barrier.updated"
	FinishName   = "barrier.finish"
)

// barriersLayout only holds the reference count of the bundle.
type barriersLayout struct {
	Magic uint32
	Refs  uint32
}

// Barriers is the owning handle of the semaphores a round steps through.
// The winner posts Vote to admit voters and waits on Tally for the last
// ballot. It then posts Update to let voters copy the outcome and waits on
// Updated, and finally posts Finish to start the next round.
type Barriers struct {
	Vote    ipc.Semaphore
	Tally   ipc.Semaphore
	Update  ipc.Semaphore
	Updated ipc.Semaphore
	Finish  ipc.Semaphore

	ns     ipc.Namespace
	region ipc.Region
	mu     ipc.Mutex
	ev     EventHandler
}

// OpenBarriers attaches to the barrier bundle, creating it when this is
// the first process.
func OpenBarriers(ns ipc.Namespace, ev EventHandler) (*Barriers, error) {
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	var b *Barriers
	err := ipc.Bootstrap(ns, func() error {
		bar := Barriers{
			ns: ns,
			ev: ev,
		}

		region, _, err := ns.Open(BarriersName, binary.Size(barriersLayout{}))
		if err != nil {
			return fmt.Errorf("open barriers: %w", err)
		}
		bar.region = region

		mu, err := ns.Mutex(BarriersName)
		if err != nil {
			bar.close()
			return fmt.Errorf("open barriers mutex: %w", err)
		}
		bar.mu = mu

		sems := []struct {
			name string
			sem  *ipc.Semaphore
		}{
			{VoteName, &bar.Vote},
			{TallyName, &bar.Tally},
			{UpdateName, &bar.Update},
			{UpdatedName, &bar.Updated},
			{FinishName, &bar.Finish},
		}
		for _, s := range sems {
			sem, err := ns.Semaphore(s.name)
			if err != nil {
				bar.close()
				return fmt.Errorf("open %s: %w", s.name, err)
			}
			*s.sem = sem
		}

		err = ipc.Lock(mu, func() error {
			var l barriersLayout
			if err := bar.load(&l); err != nil {
				return err
			}

			// Leftover permits from a crashed network must not leak into
			// the first round.
			if l.Magic != magic {
				if _, err := bar.Drain(); err != nil {
					return err
				}
				l = barriersLayout{Magic: magic}
			}

			l.Refs++
			ev("network: OpenBarriers: refs[%d]", l.Refs)

			return bar.save(l)
		})

		if err != nil {
			bar.close()
			return err
		}

		b = &bar
		return nil
	})

	if err != nil {
		return nil, err
	}

	return b, nil
}

// Drain removes every pending permit from every barrier and returns how
// many were removed.
func (b *Barriers) Drain() (int, error) {
	var total int
	for _, sem := range b.all() {
		n, err := sem.Drain()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Close releases the reference to the bundle. The last process to close it
// unlinks every semaphore.
func (b *Barriers) Close() error {
	if b.region == nil {
		return ErrLeft
	}

	return ipc.Bootstrap(b.ns, func() error {
		var last bool
		err := ipc.Lock(b.mu, func() error {
			var l barriersLayout
			if err := b.load(&l); err != nil {
				return err
			}

			if l.Refs > 0 {
				l.Refs--
			}
			last = l.Refs == 0
			b.ev("network: Barriers.Close: refs[%d]", l.Refs)

			return b.save(l)
		})

		b.close()

		if err != nil {
			return err
		}

		if last {
			b.ev("network: Barriers.Close: unlink")
			return b.ns.Unlink(BarriersName, VoteName, TallyName, UpdateName, UpdatedName, FinishName)
		}

		return nil
	})
}

// =============================================================================

func (b *Barriers) all() []ipc.Semaphore {
	return []ipc.Semaphore{b.Vote, b.Tally, b.Update, b.Updated, b.Finish}
}

func (b *Barriers) close() {
	var errs []error
	for _, sem := range b.all() {
		if sem != nil {
			errs = append(errs, sem.Close())
		}
	}
	if b.mu != nil {
		errs = append(errs, b.mu.Close())
	}
	if b.region != nil {
		errs = append(errs, b.region.Close())
		b.region = nil
	}

	if err := errors.Join(errs...); err != nil {
		b.ev("network: Barriers.close: ERROR: %s", err)
	}
}

func (b *Barriers) load(l *barriersLayout) error {
	if _, err := binary.Decode(b.region.Bytes(), binary.LittleEndian, l); err != nil {
		return fmt.Errorf("decode barriers: %w", err)
	}
	return nil
}

func (b *Barriers) save(l barriersLayout) error {
	if _, err := binary.Encode(b.region.Bytes(), binary.LittleEndian, l); err != nil {
		return fmt.Errorf("encode barriers: %w", err)
	}
	return nil
}
