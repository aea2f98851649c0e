// Package miner runs the rounds of a single miner process: search for the
// solution of the shared target, then either lead the vote on it or vote on
// the candidate of the winner, commit the outcome and start again.
package miner

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/minernet/foundation/blockchain/chain"
	"github.com/ardanlabs/minernet/foundation/blockchain/consensus"
	"github.com/ardanlabs/minernet/foundation/blockchain/genesis"
	"github.com/ardanlabs/minernet/foundation/blockchain/network"
	"github.com/ardanlabs/minernet/foundation/blockchain/pow"
	"github.com/ardanlabs/minernet/foundation/ipc"
	"github.com/ardanlabs/minernet/foundation/validate"
)

// Set of errors that end a run.
var (
	ErrAbandoned    = errors.New("abandoned")
	ErrRoundTimeout = errors.New("round timeout")
)

// errWaitTimeout marks a barrier that was not released in time.
var errWaitTimeout = errors.New("barrier wait timed out")

// EventHandler defines a function that is called when events occur in the
// processing of a round.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to start a miner.
type Config struct {
	Namespace    ipc.Namespace     `validate:"required"`
	Signaler     ipc.Signaler      `validate:"required"`
	Inbox        <-chan ipc.Signal `validate:"required"`
	PID          int               `validate:"gt=0"`
	Workers      int               `validate:"min=1,max=10"`
	Rounds       int
	Genesis      genesis.Genesis
	Tally        Tally
	VoteTimeout  time.Duration `validate:"gt=0"`
	RoundTimeout time.Duration `validate:"gte=0"`
	Seed         int64
	EvHandler    EventHandler
}

// Miner manages the rounds of one process. It is not safe for concurrent
// use except for Phase.
type Miner struct {
	cfg    Config
	ev     EventHandler
	oracle pow.Oracle

	barriers *network.Barriers
	registry *network.Registry
	store    *consensus.Store
	mailbox  ipc.Queue
	chain    *chain.Chain

	phase     atomic.Int32
	candidate bool
	claimed   int64
	owed      owed
}

// New constructs a miner and attaches it to the shared objects of the
// network, creating them when this is the first miner. Rounds of zero or
// less run until the miner is told to stop. A negative seed picks a random
// first target.
func New(cfg Config) (*Miner, error) {
	if err := validate.Check(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if cfg.Genesis.Puzzle.Prime <= 1 {
		return nil, fmt.Errorf("invalid puzzle prime %d", cfg.Genesis.Puzzle.Prime)
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	seed := cfg.Seed
	if seed < 0 {
		seed = rand.Int64N(cfg.Genesis.Puzzle.Prime)
	}

	m := Miner{
		cfg:     cfg,
		ev:      ev,
		oracle:  pow.NewOracle(cfg.Genesis.Puzzle),
		chain:   chain.New(),
		claimed: pow.Unset,
	}

	// The barriers come first since peers block on them, then the registry
	// and the record. Any failure unwinds what was acquired so far.
	barriers, err := network.OpenBarriers(cfg.Namespace, network.EventHandler(ev))
	if err != nil {
		return nil, fmt.Errorf("open barriers: %w", err)
	}
	m.barriers = barriers

	registry, err := network.Join(cfg.Namespace, cfg.PID, cfg.Signaler, network.EventHandler(ev))
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("join network: %w", err)
	}
	m.registry = registry

	store, err := consensus.Attach(cfg.Namespace, seed, consensus.EventHandler(ev))
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("attach consensus: %w", err)
	}
	m.store = store

	mailbox, err := network.OpenMailbox(cfg.Namespace)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("open mailbox: %w", err)
	}
	m.mailbox = mailbox

	ev("miner: New: pid[%d] index[%d] workers[%d] rounds[%d]", cfg.PID, registry.Index(), cfg.Workers, cfg.Rounds)

	return &m, nil
}

// Index returns the slot of the miner in the network, which is also the
// wallet it is credited on.
func (m *Miner) Index() int {
	if m.registry == nil {
		return -1
	}
	return m.registry.Index()
}

// Phase returns the phase of the current round.
func (m *Miner) Phase() Phase {
	return Phase(m.phase.Load())
}

// Blocks returns a copy of the local chain. It must not be called while Run
// is executing.
func (m *Miner) Blocks() []chain.Block {
	return m.chain.Blocks()
}

// Close releases every peer still waiting on this miner, then leaves the
// network, detaches from the consensus record, destroys the local chain and
// closes the barriers, in that order.
func (m *Miner) Close() error {
	var errs []error

	if m.barriers != nil && m.store != nil {
		if err := m.release(); err != nil {
			errs = append(errs, fmt.Errorf("release peers: %w", err))
		}
	}

	if m.registry != nil {
		if err := m.registry.Leave(); err != nil {
			errs = append(errs, fmt.Errorf("leave network: %w", err))
		}
		m.registry = nil
	}

	if m.store != nil {
		if err := m.store.Detach(); err != nil {
			errs = append(errs, fmt.Errorf("detach consensus: %w", err))
		}
		m.store = nil
	}

	if m.chain != nil {
		n := m.chain.Destroy()
		m.ev("miner: Close: destroyed %d blocks", n)
	}

	if m.mailbox != nil {
		if err := m.mailbox.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mailbox: %w", err))
		}
		m.mailbox = nil
	}

	if m.barriers != nil {
		if err := m.barriers.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close barriers: %w", err))
		}
		m.barriers = nil
	}

	return errors.Join(errs...)
}

func (m *Miner) setPhase(p Phase) {
	m.phase.Store(int32(p))
}
