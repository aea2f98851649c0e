// Package monitor consumes the blocks miners commit. Each block is checked
// against the puzzle, deduplicated over the last few block ids, written to
// the ledger and published to subscribers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardanlabs/minernet/foundation/blockchain/chain"
	"github.com/ardanlabs/minernet/foundation/blockchain/genesis"
	"github.com/ardanlabs/minernet/foundation/blockchain/network"
	"github.com/ardanlabs/minernet/foundation/blockchain/pow"
	"github.com/ardanlabs/minernet/foundation/events"
	"github.com/ardanlabs/minernet/foundation/ipc"
)

// RingSize is the number of recent block ids remembered for deduplication.
const RingSize = 10

// recentSize is the number of entries kept for the viewer.
const recentSize = 100

// Outcome represents what the monitor did with a block.
type Outcome int

// Set of outcomes.
const (
	Verified Outcome = iota
	Failed
	Duplicate
)

// String implements the fmt.Stringer interface. The names double as event
// kinds and metric labels.
func (o Outcome) String() string {
	switch o {
	case Verified:
		return events.KindVerified
	case Failed:
		return events.KindFailed
	case Duplicate:
		return events.KindDuplicate
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// EventHandler defines a function that is called when events occur in the
// monitor.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to start the monitor.
type Config struct {
	Namespace ipc.Namespace
	Signaler  ipc.Signaler
	PID       int
	Genesis   genesis.Genesis
	Ledger    *Ledger
	Events    *events.Events
	EvHandler EventHandler
}

// Monitor manages the consumption of committed blocks.
type Monitor struct {
	ev       EventHandler
	oracle   pow.Oracle
	registry *network.Registry
	mailbox  ipc.Queue
	ledger   *Ledger
	evts     *events.Events

	mu     sync.RWMutex
	ring   [RingSize]uint32
	filled int
	next   int
	recent []Entry
}

// New constructs a monitor and registers it with the network so miners
// start sending it their blocks.
func New(cfg Config) (*Monitor, error) {
	if cfg.Namespace == nil || cfg.Signaler == nil {
		return nil, errors.New("namespace and signaler are required")
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	mailbox, err := network.OpenMailbox(cfg.Namespace)
	if err != nil {
		return nil, fmt.Errorf("open mailbox: %w", err)
	}

	registry, err := network.Attach(cfg.Namespace, cfg.PID, cfg.Signaler, network.EventHandler(ev))
	if err != nil {
		mailbox.Close()
		return nil, fmt.Errorf("attach network: %w", err)
	}

	err = registry.Update(func(ro *network.Roster) error {
		if ro.Monitor != 0 && ro.Monitor != cfg.PID {
			return fmt.Errorf("monitor already running with pid %d", ro.Monitor)
		}
		ro.Monitor = cfg.PID
		return nil
	})
	if err != nil {
		registry.Leave()
		mailbox.Close()
		return nil, err
	}

	m := Monitor{
		ev:       ev,
		oracle:   pow.NewOracle(cfg.Genesis.Puzzle),
		registry: registry,
		mailbox:  mailbox,
		ledger:   cfg.Ledger,
		evts:     cfg.Events,
	}

	ev("monitor: New: pid[%d]", cfg.PID)

	return &m, nil
}

// Run reads blocks from the mailbox until the context is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.ev("monitor: Run: started")
	defer m.ev("monitor: Run: completed")

	for {
		data, err := m.mailbox.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		var b chain.Block
		if err := b.UnmarshalBinary(data); err != nil {
			m.ev("monitor: Run: ERROR: %s", err)
			continue
		}

		m.Process(b)
	}
}

// Process checks a block and records it unless it was seen recently.
func (m *Monitor) Process(b chain.Block) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.filled {
		if m.ring[i] == b.ID {
			blocksTotal.WithLabelValues(Duplicate.String()).Inc()
			m.ev("monitor: Process: duplicate block %d", b.ID)
			return Duplicate
		}
	}

	m.ring[m.next] = b.ID
	m.next = (m.next + 1) % RingSize
	if m.filled < RingSize {
		m.filled++
	}

	outcome := Failed
	if b.Valid == chain.Accepted && b.Verify(m.oracle) {
		outcome = Verified
	}

	switch outcome {
	case Verified:
		m.ev("monitor: Verified block %d with solution %d for target %d", b.ID, b.Solution, b.Target)
		lastBlock.Set(float64(b.ID))
	default:
		m.ev("monitor: Error in block %d with solution %d for target %d", b.ID, b.Solution, b.Target)
	}
	blocksTotal.WithLabelValues(outcome.String()).Inc()

	now := time.Now().UTC()

	entry, err := newEntry(b, outcome == Verified, now)
	if err != nil {
		m.ev("monitor: Process: ERROR: %s", err)
		return outcome
	}

	m.recent = append(m.recent, entry)
	if len(m.recent) > recentSize {
		m.recent = m.recent[len(m.recent)-recentSize:]
	}

	if m.ledger != nil {
		if err := m.ledger.Append(entry); err != nil {
			ledgerErrors.Inc()
			m.ev("monitor: Process: ledger: ERROR: %s", err)
		}
	}

	if m.evts != nil {
		m.evts.Send(events.Event{
			Kind:     outcome.String(),
			Block:    b.ID,
			Target:   b.Target,
			Solution: b.Solution,
			Time:     now,
		})
	}

	return outcome
}

// Recent returns the last entries recorded, oldest first.
func (m *Monitor) Recent() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, len(m.recent))
	copy(entries, m.recent)

	return entries
}

// Roster returns the current membership of the network.
func (m *Monitor) Roster() (network.Roster, error) {
	return m.registry.Read()
}

// Close unregisters the monitor from the network.
func (m *Monitor) Close() error {
	var errs []error

	if m.registry != nil {
		errs = append(errs, m.registry.Leave())
		m.registry = nil
	}
	if m.mailbox != nil {
		errs = append(errs, m.mailbox.Close())
		m.mailbox = nil
	}
	if m.ledger != nil {
		errs = append(errs, m.ledger.Close())
	}

	return errors.Join(errs...)
}
