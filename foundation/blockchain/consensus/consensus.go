// Package consensus maintains the consensus record every miner on the host
// shares. Access goes through a Store handle that attaches on construction
// and detaches on Detach, unlinking the record when the last process leaves.
package consensus

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ardanlabs/minernet/foundation/blockchain/chain"
	"github.com/ardanlabs/minernet/foundation/blockchain/genesis"
	"github.com/ardanlabs/minernet/foundation/blockchain/pow"
	"github.com/ardanlabs/minernet/foundation/ipc"
)

// Name is the name of the shared region and of the mutex protecting it.
const Name = "consensus"

// magic marks a region whose initialization completed.
const magic uint32 = 0x434e5331

// ErrDetached is returned when a detached store is used.
var ErrDetached = errors.New("store detached")

// EventHandler defines a function that is called when events occur in the
// life of the store.
type EventHandler func(v string, args ...any)

// layout is the fixed layout of the record in shared memory.
type layout struct {
	Magic    uint32
	Refs     uint32
	ID       uint32
	Valid    int32
	Target   int64
	Solution int64
	Wallets  [genesis.MaxParticipants]uint64
}

// Size is the size in bytes of the shared region.
var Size = binary.Size(layout{})

// =============================================================================

// Store is the owning handle of the shared consensus record.
type Store struct {
	ns     ipc.Namespace
	region ipc.Region
	mu     ipc.Mutex
	ev     EventHandler
}

// Attach opens the shared record, creating it when this is the first
// process. The founder seeds the target of the first round.
func Attach(ns ipc.Namespace, seed int64, ev EventHandler) (*Store, error) {
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	var s *Store
	err := ipc.Bootstrap(ns, func() error {
		region, _, err := ns.Open(Name, Size)
		if err != nil {
			return fmt.Errorf("open record: %w", err)
		}

		mu, err := ns.Mutex(Name)
		if err != nil {
			region.Close()
			return fmt.Errorf("open record mutex: %w", err)
		}

		store := Store{
			ns:     ns,
			region: region,
			mu:     mu,
			ev:     ev,
		}

		err = ipc.Lock(mu, func() error {
			var l layout
			if err := store.load(&l); err != nil {
				return err
			}

			// A missing magic means nobody finished creating the record.
			if l.Magic != magic {
				ev("consensus: Attach: founder: seed[%d]", seed)
				l = layout{
					Magic:    magic,
					Valid:    int32(chain.Unset),
					Target:   seed,
					Solution: pow.Unset,
				}
			}

			l.Refs++
			ev("consensus: Attach: refs[%d]", l.Refs)

			return store.save(l)
		})

		if err != nil {
			mu.Close()
			region.Close()
			return err
		}

		s = &store
		return nil
	})

	if err != nil {
		return nil, err
	}

	return s, nil
}

// Detach releases this process' reference to the record. The last process
// to detach unlinks the record, and that is the last thing it does.
func (s *Store) Detach() error {
	if s.region == nil {
		return ErrDetached
	}

	return ipc.Bootstrap(s.ns, func() error {
		var last bool
		err := ipc.Lock(s.mu, func() error {
			var l layout
			if err := s.load(&l); err != nil {
				return err
			}

			if l.Refs > 0 {
				l.Refs--
			}
			last = l.Refs == 0
			s.ev("consensus: Detach: refs[%d]", l.Refs)

			return s.save(l)
		})

		s.mu.Close()
		s.region.Close()
		s.region = nil

		if err != nil {
			return err
		}

		if last {
			s.ev("consensus: Detach: unlink")
			return s.ns.Unlink(Name)
		}

		return nil
	})
}

// Update runs the function holding the record mutex. Changes made to the
// record are stored back unless the function returns an error.
func (s *Store) Update(fn func(r *Record) error) error {
	if s.region == nil {
		return ErrDetached
	}

	return ipc.Lock(s.mu, func() error {
		var l layout
		if err := s.load(&l); err != nil {
			return err
		}

		r := toRecord(l)
		if err := fn(&r); err != nil {
			return err
		}

		return s.save(fromRecord(l, r))
	})
}

// Read returns a copy of the record.
func (s *Store) Read() (Record, error) {
	if s.region == nil {
		return Record{}, ErrDetached
	}

	var r Record
	err := ipc.Lock(s.mu, func() error {
		var l layout
		if err := s.load(&l); err != nil {
			return err
		}
		r = toRecord(l)
		return nil
	})

	return r, err
}

// =============================================================================

func (s *Store) load(l *layout) error {
	if _, err := binary.Decode(s.region.Bytes(), binary.LittleEndian, l); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

func (s *Store) save(l layout) error {
	if _, err := binary.Encode(s.region.Bytes(), binary.LittleEndian, l); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return nil
}

func toRecord(l layout) Record {
	return Record{
		ID:       l.ID,
		Target:   l.Target,
		Solution: l.Solution,
		Valid:    chain.Validity(l.Valid),
		Wallets:  l.Wallets,
		Refs:     l.Refs,
	}
}

// fromRecord converts the record back to its layout. The reference count is
// owned by Attach and Detach and is taken from the stored layout.
func fromRecord(l layout, r Record) layout {
	return layout{
		Magic:    l.Magic,
		Refs:     l.Refs,
		ID:       r.ID,
		Valid:    int32(r.Valid),
		Target:   r.Target,
		Solution: r.Solution,
		Wallets:  r.Wallets,
	}
}
