package miner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/minernet/foundation/blockchain/chain"
	"github.com/ardanlabs/minernet/foundation/blockchain/consensus"
	"github.com/ardanlabs/minernet/foundation/blockchain/network"
	"github.com/ardanlabs/minernet/foundation/blockchain/pow"
	"github.com/ardanlabs/minernet/foundation/ipc"
)

// owed tracks the permits the winner still has to post to its voters.
type owed struct {
	vote   int
	update int
	finish int
}

// lead runs the winner side of the round: learn the quorum, call the vote,
// tally it, commit the outcome and release the voters.
func (m *Miner) lead(ctx context.Context, round int, blk *chain.Block) error {
	m.setPhase(AwaitingQuorum)
	self := m.registry.Index()

	// Leftovers from a round that timed out must not admit or tally early.
	for _, sem := range []ipc.Semaphore{m.barriers.Vote, m.barriers.Tally, m.barriers.Updated} {
		if _, err := sem.Drain(); err != nil {
			return fmt.Errorf("drain barriers: %w", err)
		}
	}

	var quorum int
	err := m.registry.Update(func(ro *network.Roster) error {
		ro.ResetVotes()
		ro.Updated = 0

		quorum = ro.Quorum(m.cfg.Signaler, self)
		if quorum > 0 {
			quorum = ro.Broadcast(m.cfg.Signaler, self, ipc.Candidate)
		}

		// Voters count against this, not the membership, so a process
		// joining mid-round does not hold the barriers up.
		ro.Expected = quorum
		return nil
	})
	if err != nil {
		return fmt.Errorf("quorum: %w", err)
	}

	m.ev("miner: round[%d]: quorum[%d]", round, quorum)

	// Alone on the network there is nobody to ask.
	if quorum == 0 {
		return m.commit(ctx, round, blk, true, 0)
	}

	m.owed = owed{vote: quorum, update: quorum, finish: quorum}

	m.setPhase(Voting)
	if err := m.post(m.barriers.Vote, &m.owed.vote); err != nil {
		return fmt.Errorf("admit voters: %w", err)
	}

	var accepted bool
	switch err := m.wait(ctx, m.barriers.Tally); {
	case errors.Is(err, errWaitTimeout):
		m.ev("miner: round[%d]: tally timed out: abort", round)

	case err != nil:
		return err

	default:
		ro, err := m.registry.Read()
		if err != nil {
			return fmt.Errorf("read ballots: %w", err)
		}

		yes := ro.Yes()
		accepted = m.cfg.Tally.Accept(yes, quorum)
		m.ev("miner: round[%d]: tally: yes[%d] quorum[%d] accepted[%t]", round, yes, quorum, accepted)
	}

	return m.commit(ctx, round, blk, accepted, quorum)
}

// commit finalizes the round in the shared record, updates the local chain
// and, when there are voters, steps them through the update and finish
// barriers.
func (m *Miner) commit(ctx context.Context, round int, blk *chain.Block, accepted bool, quorum int) error {
	m.setPhase(Committing)
	self := m.registry.Index()

	var (
		final   consensus.Record
		monitor int
	)

	// The network mutex is always taken before the record mutex.
	err := m.registry.Update(func(ro *network.Roster) error {
		err := m.store.Update(func(r *consensus.Record) error {
			r.Finalize(accepted, self, m.cfg.Genesis.MiningReward)
			final = *r
			return nil
		})
		if err != nil {
			return err
		}

		if accepted {
			ro.LastWinner = self
		}
		ro.ResetVotes()
		monitor = ro.Monitor

		return nil
	})
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	if accepted {
		final.SnapshotInto(blk)
		m.ev("miner: round[%d]: COMMITTED: block[%d] solution[%d] wallet[%d]", round, blk.ID, blk.Solution, blk.Wallets[self])

		if monitor != 0 {
			m.notify(round, *blk)
		}
	} else {
		m.chain.Discard()
		m.ev("miner: round[%d]: REJECTED", round)
	}

	if quorum == 0 {
		return nil
	}

	m.setPhase(Reset)

	if err := m.post(m.barriers.Update, &m.owed.update); err != nil {
		return fmt.Errorf("release update: %w", err)
	}

	switch err := m.wait(ctx, m.barriers.Updated); {
	case errors.Is(err, errWaitTimeout):
		m.ev("miner: round[%d]: update timed out", round)
	case err != nil:
		return err
	}

	if err := m.store.Update(m.withdraw); err != nil {
		return fmt.Errorf("reset consensus: %w", err)
	}

	if err := m.post(m.barriers.Finish, &m.owed.finish); err != nil {
		return fmt.Errorf("release finish: %w", err)
	}

	return nil
}

// notify sends the committed block to the monitor. Delivery is best effort.
func (m *Miner) notify(round int, blk chain.Block) {
	data, err := blk.MarshalBinary()
	if err != nil {
		m.ev("miner: round[%d]: mailbox: ERROR: %s", round, err)
		return
	}

	if err := m.mailbox.Send(data); err != nil {
		m.ev("miner: round[%d]: mailbox: ERROR: %s", round, err)
	}
}

// =============================================================================

// vote runs the voter side of the round: wait to be admitted, check the
// candidate, cast the ballot and follow the winner through the update and
// finish barriers.
func (m *Miner) vote(ctx context.Context, round int, blk *chain.Block) error {
	m.setPhase(Voting)
	self := m.registry.Index()

	switch err := m.wait(ctx, m.barriers.Vote); {
	case errors.Is(err, errWaitTimeout):
		m.ev("miner: round[%d]: not admitted to vote", round)
		m.chain.Discard()
		return nil
	case err != nil:
		return err
	}

	rec, err := m.store.Read()
	if err != nil {
		return fmt.Errorf("read candidate: %w", err)
	}

	ballot := network.No
	if rec.Pending() && m.oracle.Verify(rec.Target, rec.Solution) {
		ballot = network.Yes
	}

	var last bool
	err = m.registry.Update(func(ro *network.Roster) error {
		ro.Vote(self, ballot)
		last = ro.Votes() >= ro.Expected
		return nil
	})
	if err != nil {
		return fmt.Errorf("cast ballot: %w", err)
	}

	m.ev("miner: round[%d]: voted[%s] candidate[%d]", round, ballot, rec.Solution)

	if last {
		if err := m.barriers.Tally.Post(1); err != nil {
			return fmt.Errorf("signal tally: %w", err)
		}
	}

	m.setPhase(Committing)

	switch err := m.wait(ctx, m.barriers.Update); {
	case errors.Is(err, errWaitTimeout):
		m.ev("miner: round[%d]: winner never released the update", round)
		m.chain.Discard()
		return nil
	case err != nil:
		return err
	}

	candidate, id := rec.Solution, rec.ID

	rec, err = m.store.Read()
	if err != nil {
		return fmt.Errorf("read outcome: %w", err)
	}

	// The next round may already have claimed the record, so the outcome is
	// judged on the candidate this miner voted on.
	if rec.Committed(candidate, id) {
		rec.Solution = candidate
		rec.Valid = chain.Accepted
		rec.SnapshotInto(blk)
		m.ev("miner: round[%d]: UPDATED: block[%d] solution[%d]", round, blk.ID, blk.Solution)
	} else {
		m.chain.Discard()
		m.ev("miner: round[%d]: DISCARDED", round)
	}

	err = m.registry.Update(func(ro *network.Roster) error {
		last = ro.MarkUpdated()
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark updated: %w", err)
	}

	if last {
		if err := m.barriers.Updated.Post(1); err != nil {
			return fmt.Errorf("signal updated: %w", err)
		}
	}

	m.setPhase(Reset)

	switch err := m.wait(ctx, m.barriers.Finish); {
	case errors.Is(err, errWaitTimeout):
		m.ev("miner: round[%d]: winner never released the round", round)
	case err != nil:
		return err
	}

	return nil
}

// await waits, after losing the claim, for the winner to call the vote. If
// the round moves on without this miner, the block is dropped and the next
// round starts.
func (m *Miner) await(ctx context.Context, round int, blk *chain.Block, claimed int64) error {
	m.setPhase(AwaitingSignal)

	ticker := time.NewTicker(m.cfg.VoteTimeout)
	defer ticker.Stop()

	for {
		select {
		case sig := <-m.cfg.Inbox:
			switch sig {
			case ipc.Candidate:
				return m.vote(ctx, round, blk)
			case ipc.Abandon:
				return ErrAbandoned
			case ipc.Timeout:
				return ErrRoundTimeout
			}

		case <-ticker.C:
			rec, err := m.store.Read()
			if err != nil {
				return fmt.Errorf("read consensus: %w", err)
			}
			if !rec.Pending() || rec.Solution != claimed {
				m.ev("miner: round[%d]: round moved on without this miner", round)
				m.chain.Discard()
				return nil
			}

		case <-ctx.Done():
			return cause(ctx)
		}
	}
}

// =============================================================================

// wait blocks on the barrier for at most the vote timeout while still
// handling signals. A candidate signal that shows up here belongs to the
// next round and is kept for it.
func (m *Miner) wait(ctx context.Context, sem ipc.Semaphore) error {
	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.VoteTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sem.Wait(waitCtx)
	}()

	for {
		select {
		case err := <-done:
			switch {
			case err == nil:
				return nil
			case ctx.Err() != nil:
				return cause(ctx)
			case errors.Is(err, context.DeadlineExceeded):
				return errWaitTimeout
			}
			return err

		case sig := <-m.cfg.Inbox:
			switch sig {
			case ipc.Candidate:
				m.candidate = true
			case ipc.Abandon:
				cancel()
				<-done
				return ErrAbandoned
			case ipc.Timeout:
				cancel()
				<-done
				return ErrRoundTimeout
			}
		}
	}
}

// post hands out the permits still owed on the barrier.
func (m *Miner) post(sem ipc.Semaphore, n *int) error {
	if *n <= 0 {
		return nil
	}

	err := sem.Post(*n)
	*n = 0

	return err
}

// release lets go every voter still waiting on this miner. A candidate
// that was never finalized is withdrawn so those voters discard it.
func (m *Miner) release() error {
	if m.owed == (owed{}) {
		return nil
	}

	m.ev("miner: release: vote[%d] update[%d] finish[%d]", m.owed.vote, m.owed.update, m.owed.finish)

	var errs []error
	if err := m.store.Update(m.withdraw); err != nil {
		errs = append(errs, err)
	}

	for _, b := range []struct {
		sem ipc.Semaphore
		n   *int
	}{
		{m.barriers.Vote, &m.owed.vote},
		{m.barriers.Update, &m.owed.update},
		{m.barriers.Finish, &m.owed.finish},
	} {
		if err := m.post(b.sem, b.n); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// withdraw clears the claim of this miner from the record, leaving alone
// any claim made since by another miner.
func (m *Miner) withdraw(r *consensus.Record) error {
	r.Withdraw(m.claimed)
	m.claimed = pow.Unset
	return nil
}
