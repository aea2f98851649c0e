// Package network maintains the membership registry of the miners on the
// host, the quorum and voting protocol run over it, and the barriers that
// step every participant through a round together.
package network

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ardanlabs/minernet/foundation/blockchain/genesis"
	"github.com/ardanlabs/minernet/foundation/ipc"
)

// Name is the name of the shared region and of the mutex protecting it.
const Name = "network"

const magic uint32 = 0x4e455431

// Set of errors returned by the registry.
var (
	ErrNetworkFull = errors.New("network is full")
	ErrLeft        = errors.New("registry left")
)

// EventHandler defines a function that is called when events occur in the
// life of the registry.
type EventHandler func(v string, args ...any)

type layout struct {
	Magic      uint32
	Refs       uint32
	Total      uint32
	LastWinner int32
	Expected   uint32
	Updated    uint32
	Monitor    int32
	Pids       [genesis.MaxParticipants]int32
	Ballots    [genesis.MaxParticipants]int8
}

// Size is the size in bytes of the shared region.
var Size = binary.Size(layout{})

// =============================================================================

// Registry is the owning handle of the shared membership registry. A
// participant holds a slot; an observer such as the monitor only holds a
// reference.
type Registry struct {
	ns     ipc.Namespace
	region ipc.Region
	mu     ipc.Mutex
	sig    ipc.Signaler
	ev     EventHandler
	pid    int
	index  int
}

// Join attaches to the registry, creating it when this is the first
// process, and takes the first free slot for the pid. Slots held by
// processes that no longer exist are reclaimed first.
func Join(ns ipc.Namespace, pid int, sig ipc.Signaler, ev EventHandler) (*Registry, error) {
	return open(ns, pid, sig, ev, func(r *Roster) (int, error) {
		return r.claim(pid)
	})
}

// Attach attaches to the registry without taking a slot.
func Attach(ns ipc.Namespace, pid int, sig ipc.Signaler, ev EventHandler) (*Registry, error) {
	return open(ns, pid, sig, ev, func(r *Roster) (int, error) {
		return -1, nil
	})
}

func open(ns ipc.Namespace, pid int, sig ipc.Signaler, ev EventHandler, enter func(r *Roster) (int, error)) (*Registry, error) {
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	var reg *Registry
	err := ipc.Bootstrap(ns, func() error {
		region, _, err := ns.Open(Name, Size)
		if err != nil {
			return fmt.Errorf("open registry: %w", err)
		}

		mu, err := ns.Mutex(Name)
		if err != nil {
			region.Close()
			return fmt.Errorf("open registry mutex: %w", err)
		}

		r := Registry{
			ns:     ns,
			region: region,
			mu:     mu,
			sig:    sig,
			ev:     ev,
			pid:    pid,
			index:  -1,
		}

		err = ipc.Lock(mu, func() error {
			var l layout
			if err := r.load(&l); err != nil {
				return err
			}

			if l.Magic != magic {
				ev("network: open: founder: pid[%d]", pid)
				l = layout{Magic: magic, LastWinner: -1}
				for i := range l.Ballots {
					l.Ballots[i] = int8(Unset)
				}
			}

			ro := toRoster(l)
			ro.prune(sig)

			index, err := enter(&ro)
			if err != nil {
				return err
			}
			r.index = index
			ro.Refs++

			ev("network: open: pid[%d] index[%d] total[%d] refs[%d]", pid, index, ro.Total, ro.Refs)

			return r.save(fromRoster(l.Magic, ro))
		})

		if err != nil {
			mu.Close()
			region.Close()
			return err
		}

		reg = &r
		return nil
	})

	if err != nil {
		return nil, err
	}

	return reg, nil
}

// Index returns the slot of this participant, or -1 for an observer.
func (reg *Registry) Index() int {
	return reg.index
}

// Leave frees the slot of this participant and releases the reference. The
// last process to leave unlinks the registry.
func (reg *Registry) Leave() error {
	if reg.region == nil {
		return ErrLeft
	}

	return ipc.Bootstrap(reg.ns, func() error {
		var last bool
		err := ipc.Lock(reg.mu, func() error {
			var l layout
			if err := reg.load(&l); err != nil {
				return err
			}

			ro := toRoster(l)
			if reg.index >= 0 && ro.Pids[reg.index] == reg.pid {
				ro.clear(reg.index)
			}
			if ro.Monitor == reg.pid {
				ro.Monitor = 0
			}
			ro.Total = ro.Count()

			if ro.Refs > 0 {
				ro.Refs--
			}
			last = ro.Refs == 0

			reg.ev("network: Leave: pid[%d] index[%d] total[%d] refs[%d]", reg.pid, reg.index, ro.Total, ro.Refs)

			return reg.save(fromRoster(l.Magic, ro))
		})

		reg.mu.Close()
		reg.region.Close()
		reg.region = nil

		if err != nil {
			return err
		}

		if last {
			reg.ev("network: Leave: unlink")
			return reg.ns.Unlink(Name)
		}

		return nil
	})
}

// Update runs the function holding the network mutex. Changes made to the
// roster are stored back unless the function returns an error. The
// reference count cannot be changed this way.
func (reg *Registry) Update(fn func(r *Roster) error) error {
	if reg.region == nil {
		return ErrLeft
	}

	return ipc.Lock(reg.mu, func() error {
		var l layout
		if err := reg.load(&l); err != nil {
			return err
		}

		ro := toRoster(l)
		if err := fn(&ro); err != nil {
			return err
		}
		ro.Refs = int(l.Refs)

		return reg.save(fromRoster(l.Magic, ro))
	})
}

// Read returns a copy of the roster.
func (reg *Registry) Read() (Roster, error) {
	if reg.region == nil {
		return Roster{}, ErrLeft
	}

	var ro Roster
	err := ipc.Lock(reg.mu, func() error {
		var l layout
		if err := reg.load(&l); err != nil {
			return err
		}
		ro = toRoster(l)
		return nil
	})

	return ro, err
}

// =============================================================================

func (reg *Registry) load(l *layout) error {
	if _, err := binary.Decode(reg.region.Bytes(), binary.LittleEndian, l); err != nil {
		return fmt.Errorf("decode registry: %w", err)
	}
	return nil
}

func (reg *Registry) save(l layout) error {
	if _, err := binary.Encode(reg.region.Bytes(), binary.LittleEndian, l); err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	return nil
}

func toRoster(l layout) Roster {
	ro := Roster{
		Total:      int(l.Total),
		LastWinner: int(l.LastWinner),
		Expected:   int(l.Expected),
		Updated:    int(l.Updated),
		Monitor:    int(l.Monitor),
		Refs:       int(l.Refs),
	}
	for i := range l.Pids {
		ro.Pids[i] = int(l.Pids[i])
		ro.Ballots[i] = Vote(l.Ballots[i])
	}
	return ro
}

func fromRoster(m uint32, ro Roster) layout {
	l := layout{
		Magic:      m,
		Refs:       uint32(ro.Refs),
		Total:      uint32(ro.Total),
		LastWinner: int32(ro.LastWinner),
		Expected:   uint32(ro.Expected),
		Updated:    uint32(ro.Updated),
		Monitor:    int32(ro.Monitor),
	}
	for i := range ro.Pids {
		l.Pids[i] = int32(ro.Pids[i])
		l.Ballots[i] = int8(ro.Ballots[i])
	}
	return l
}
