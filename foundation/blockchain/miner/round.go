package miner

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardanlabs/minernet/foundation/blockchain/chain"
	"github.com/ardanlabs/minernet/foundation/blockchain/consensus"
	"github.com/ardanlabs/minernet/foundation/blockchain/pow"
	"github.com/ardanlabs/minernet/foundation/ipc"
)

// Run executes rounds until the configured number is reached, the miner is
// told to abandon, the round alarm fires or something fatal happens. A
// clean completion returns nil.
func (m *Miner) Run(ctx context.Context) error {
	for round := 1; m.cfg.Rounds <= 0 || round <= m.cfg.Rounds; round++ {
		if err := m.runRound(ctx, round); err != nil {
			m.ev("miner: Run: round[%d]: %s", round, err)
			return err
		}
	}

	m.ev("miner: Run: completed %d rounds", m.cfg.Rounds)
	return nil
}

// runRound arms the round alarm around a single round.
func (m *Miner) runRound(ctx context.Context, round int) error {
	var cancel context.CancelFunc
	if m.cfg.RoundTimeout > 0 {
		ctx, cancel = context.WithTimeoutCause(ctx, m.cfg.RoundTimeout, ErrRoundTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	return m.round(ctx, round)
}

func (m *Miner) round(ctx context.Context, round int) error {
	m.setPhase(Searching)

	rec, err := m.store.Read()
	if err != nil {
		return fmt.Errorf("read consensus: %w", err)
	}

	blk := m.chain.Append(rec.Target)
	if blk.Target != rec.Target {
		m.ev("miner: round[%d]: chain out of sync: local[%d] shared[%d]", round, blk.Target, rec.Target)
		blk.Target = rec.Target
	}

	m.ev("miner: round[%d]: block[%d] target[%d]", round, blk.ID, blk.Target)

	// A candidate seen while finishing the last round is for this one.
	if m.candidate {
		m.candidate = false
		return m.vote(ctx, round, blk)
	}

	// The search runs on its own goroutine so signals keep being handled.
	searchCtx, cancelSearch := context.WithCancel(ctx)
	defer cancelSearch()

	type result struct {
		solution int64
		err      error
	}
	results := make(chan result, 1)

	go func() {
		solution, err := pow.Search(searchCtx, m.oracle, blk.Target, m.cfg.Workers, m.ev)
		results <- result{solution, err}
	}()

	stopSearch := func() {
		cancelSearch()
		<-results
	}

	for {
		select {
		case res := <-results:
			if res.err != nil {
				if errors.Is(res.err, pow.ErrNoSolution) {
					return fmt.Errorf("search target %d: %w", blk.Target, res.err)
				}
				return cause(ctx)
			}
			return m.propose(ctx, round, blk, res.solution)

		case sig := <-m.cfg.Inbox:
			switch sig {
			case ipc.Candidate:
				m.ev("miner: round[%d]: candidate signal: stop searching", round)
				stopSearch()
				return m.vote(ctx, round, blk)

			case ipc.Abandon:
				stopSearch()
				return ErrAbandoned

			case ipc.Timeout:
				stopSearch()
				return ErrRoundTimeout
			}

		case <-ctx.Done():
			stopSearch()
			return cause(ctx)
		}
	}
}

// propose tries to claim the round with the solution. The winner leads the
// vote, everyone else waits to be asked to vote.
func (m *Miner) propose(ctx context.Context, round int, blk *chain.Block, solution int64) error {
	m.setPhase(SolutionProposed)

	var won bool
	var claimed int64
	err := m.store.Update(func(r *consensus.Record) error {
		won = r.Publish(blk.Target, solution)
		claimed = r.Solution
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish solution: %w", err)
	}

	if won {
		m.claimed = solution
		m.ev("miner: round[%d]: WON: solution[%d]", round, solution)
		return m.lead(ctx, round, blk)
	}

	m.ev("miner: round[%d]: LOST: claimed[%d]", round, claimed)
	return m.await(ctx, round, blk, claimed)
}

// cause maps a finished context to the error that ends the run.
func cause(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), ErrRoundTimeout) {
		return ErrRoundTimeout
	}
	return ctx.Err()
}
