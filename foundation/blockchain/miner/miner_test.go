package miner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ardanlabs/minernet/foundation/blockchain/chain"
	"github.com/ardanlabs/minernet/foundation/blockchain/consensus"
	"github.com/ardanlabs/minernet/foundation/blockchain/genesis"
	"github.com/ardanlabs/minernet/foundation/blockchain/miner"
	"github.com/ardanlabs/minernet/foundation/blockchain/network"
	"github.com/ardanlabs/minernet/foundation/blockchain/pow"
	"github.com/ardanlabs/minernet/foundation/ipc"
	"github.com/ardanlabs/minernet/foundation/ipc/memory"
	"github.com/ardanlabs/minernet/foundation/validate"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// smallGenesis keeps searches short. 1000003 is prime so the puzzle stays a
// bijection.
func smallGenesis() genesis.Genesis {
	g := genesis.Default()
	g.Puzzle.Prime = 1000003
	return g
}

type testNet struct {
	ns     *memory.Namespace
	router *memory.Router
}

func newTestNet() testNet {
	return testNet{
		ns:     memory.New(),
		router: memory.NewRouter(),
	}
}

func (n testNet) config(pid int, rounds int, voteTimeout time.Duration) miner.Config {
	return miner.Config{
		Namespace:   n.ns,
		Signaler:    n.router,
		Inbox:       n.router.Register(pid, 64),
		PID:         pid,
		Workers:     2,
		Rounds:      rounds,
		Genesis:     smallGenesis(),
		Tally:       miner.DefaultTally(),
		VoteTimeout: voteTimeout,
		Seed:        12345,
	}
}

// runAll runs every miner on its own goroutine and returns their errors.
func runAll(miners ...*miner.Miner) []error {
	errs := make([]error, len(miners))

	var wg sync.WaitGroup
	wg.Add(len(miners))
	for i, m := range miners {
		go func() {
			defer wg.Done()
			errs[i] = m.Run(context.Background())
		}()
	}
	wg.Wait()

	return errs
}

// =============================================================================

func TestSolo(t *testing.T) {
	t.Log("Given the need to mine alone on the network.")
	{
		net := newTestNet()

		cfg := net.config(100, 1, 2*time.Second)
		cfg.Workers = 1

		m, err := miner.New(cfg)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the miner: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to construct the miner.", success)

		if m.Index() != 0 {
			t.Fatalf("\t%s\tShould take the founder slot, got %d.", failed, m.Index())
		}
		t.Logf("\t%s\tShould take the founder slot.", success)

		observer, err := consensus.Attach(net.ns, 0, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to observe the record: %v", failed, err)
		}
		defer observer.Detach()

		if err := m.Run(context.Background()); err != nil {
			t.Fatalf("\t%s\tShould complete the round: %v", failed, err)
		}
		t.Logf("\t%s\tShould complete the round.", success)

		rec, err := observer.Read()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to read the record: %v", failed, err)
		}

		o := pow.NewOracle(cfg.Genesis.Puzzle)
		if rec.Valid != chain.Accepted || !o.Verify(12345, rec.Target) || rec.Wallets[0] != 1 || rec.ID != 1 {
			t.Fatalf("\t%s\tShould self commit the solution: %+v", failed, rec)
		}
		t.Logf("\t%s\tShould self commit the solution and credit wallet 0.", success)

		blocks := m.Blocks()
		if len(blocks) != 1 || blocks[0].Solution != rec.Target || !blocks[0].Verify(o) {
			t.Fatalf("\t%s\tShould record the block locally: %+v", failed, blocks)
		}
		t.Logf("\t%s\tShould record the block locally.", success)

		if err := m.Close(); err != nil {
			t.Fatalf("\t%s\tShould be able to close: %v", failed, err)
		}
		if net.ns.Exists(network.Name) || net.ns.Exists(network.VoteName) {
			t.Fatalf("\t%s\tShould remove the network objects on the last close.", failed)
		}
		t.Logf("\t%s\tShould remove the network objects on the last close.", success)
	}
}

func TestSoloRounds(t *testing.T) {
	t.Log("Given the need to chain several solo rounds.")
	{
		net := newTestNet()

		m, err := miner.New(net.config(100, 4, 2*time.Second))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the miner: %v", failed, err)
		}
		defer m.Close()

		if err := m.Run(context.Background()); err != nil {
			t.Fatalf("\t%s\tShould complete every round: %v", failed, err)
		}

		blocks := m.Blocks()
		if len(blocks) != 4 {
			t.Fatalf("\t%s\tShould have a block per round, got %d.", failed, len(blocks))
		}

		o := pow.NewOracle(smallGenesis().Puzzle)
		for i, b := range blocks {
			if !b.Verify(o) || b.ID != uint32(i+1) || b.Wallets[0] != uint64(i+1) {
				t.Fatalf("\t%s\tShould build a valid chain, block %d: %+v", failed, i, b)
			}
			if i > 0 && b.Target != blocks[i-1].Solution {
				t.Fatalf("\t%s\tShould target the previous solution at block %d.", failed, i)
			}
		}
		t.Logf("\t%s\tShould build a valid chain where each target is the previous solution.", success)
	}
}

func TestTwoMiners(t *testing.T) {
	t.Log("Given the need to agree on blocks between two miners.")
	{
		net := newTestNet()

		const rounds = 3

		a, err := miner.New(net.config(100, rounds, 2*time.Second))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct miner A: %v", failed, err)
		}
		b, err := miner.New(net.config(101, rounds, 2*time.Second))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct miner B: %v", failed, err)
		}

		for i, err := range runAll(a, b) {
			if err != nil {
				t.Fatalf("\t%s\tShould complete the rounds on miner %d: %v", failed, i, err)
			}
		}
		t.Logf("\t%s\tShould complete the rounds on both miners.", success)

		ba, bb := a.Blocks(), b.Blocks()
		if len(ba) != rounds || len(bb) != rounds {
			t.Fatalf("\t%s\tShould commit every round: a[%d] b[%d]", failed, len(ba), len(bb))
		}

		for i := range ba {
			x, y := ba[i], bb[i]
			if x.ID != y.ID || x.Target != y.Target || x.Solution != y.Solution || x.Valid != y.Valid || x.Wallets != y.Wallets {
				t.Logf("\t%s\tgot: %+v", failed, x)
				t.Logf("\t%s\texp: %+v", failed, y)
				t.Fatalf("\t%s\tShould hold identical blocks at %d.", failed, i)
			}
		}
		t.Logf("\t%s\tShould hold identical blocks on both chains.", success)

		last := ba[len(ba)-1]
		if last.Wallets.Total() != rounds || last.Wallets[a.Index()]+last.Wallets[b.Index()] != rounds {
			t.Fatalf("\t%s\tShould credit one unit per round to the winners: %v", failed, last.Wallets.Balances())
		}
		t.Logf("\t%s\tShould credit one unit per round to the winners.", success)

		if err := a.Close(); err != nil {
			t.Fatalf("\t%s\tShould be able to close miner A: %v", failed, err)
		}
		if err := b.Close(); err != nil {
			t.Fatalf("\t%s\tShould be able to close miner B: %v", failed, err)
		}
		if net.ns.Exists(consensus.Name) {
			t.Fatalf("\t%s\tShould remove the record on the last close.", failed)
		}
		t.Logf("\t%s\tShould remove the record on the last close.", success)
	}
}

func TestVoteTimeout(t *testing.T) {
	t.Log("Given the need to abort a round when a peer never votes.")
	{
		net := newTestNet()

		const timeout = 300 * time.Millisecond

		a, err := miner.New(net.config(100, 1, timeout))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct miner A: %v", failed, err)
		}
		defer a.Close()

		b, err := miner.New(net.config(101, 1, timeout))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct miner B: %v", failed, err)
		}
		defer b.Close()

		// The silent peer answers probes but never votes.
		net.router.Register(999, 1)
		silent, err := network.Join(net.ns, 999, net.router, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to join the silent peer: %v", failed, err)
		}
		defer silent.Leave()

		observer, err := consensus.Attach(net.ns, 0, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to observe the record: %v", failed, err)
		}
		defer observer.Detach()

		for i, err := range runAll(a, b) {
			if err != nil {
				t.Fatalf("\t%s\tShould absorb the timeout on miner %d: %v", failed, i, err)
			}
		}
		t.Logf("\t%s\tShould absorb the timeout into the round.", success)

		rec, err := observer.Read()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to read the record: %v", failed, err)
		}
		if rec.Solution != pow.Unset || rec.Wallets.Total() != 0 || rec.Target != 12345 || rec.ID != 0 {
			t.Fatalf("\t%s\tShould reset the solution without credit: %+v", failed, rec)
		}
		t.Logf("\t%s\tShould reset the solution without credit.", success)

		if len(a.Blocks()) != 0 || len(b.Blocks()) != 0 {
			t.Fatalf("\t%s\tShould discard the block on both miners.", failed)
		}
		t.Logf("\t%s\tShould discard the block on both miners.", success)
	}
}

// joinOnCandidate feeds a miner its signals. The first Candidate any
// forwarder sees is held back until another process has joined the
// network, so the join lands after the quorum and before the vote.
func (n testNet) joinOnCandidate(pid int, once *sync.Once, joined chan<- *network.Registry, done <-chan struct{}) <-chan ipc.Signal {
	raw := n.router.Register(pid, 64)
	inbox := make(chan ipc.Signal, 64)

	go func() {
		for {
			select {
			case sig := <-raw:
				if sig == ipc.Candidate {
					once.Do(func() {
						reg, _ := network.Join(n.ns, 777, n.router, nil)
						joined <- reg
					})
				}
				inbox <- sig
			case <-done:
				return
			}
		}
	}()

	return inbox
}

func TestJoinDuringRound(t *testing.T) {
	t.Log("Given the need to finish a round while another process joins.")
	{
		net := newTestNet()
		net.router.Register(777, 64)

		const voteTimeout = 3 * time.Second

		done := make(chan struct{})
		defer close(done)

		var once sync.Once
		joined := make(chan *network.Registry, 1)

		cfgA := net.config(100, 1, voteTimeout)
		cfgA.Inbox = net.joinOnCandidate(100, &once, joined, done)
		a, err := miner.New(cfgA)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct miner A: %v", failed, err)
		}
		defer a.Close()

		cfgB := net.config(101, 1, voteTimeout)
		cfgB.Inbox = net.joinOnCandidate(101, &once, joined, done)
		b, err := miner.New(cfgB)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct miner B: %v", failed, err)
		}
		defer b.Close()

		start := time.Now()
		for i, err := range runAll(a, b) {
			if err != nil {
				t.Fatalf("\t%s\tShould complete the round on miner %d: %v", failed, i, err)
			}
		}
		elapsed := time.Since(start)

		late := <-joined
		if late == nil {
			t.Fatalf("\t%s\tShould have joined a process during the round.", failed)
		}
		defer late.Leave()
		t.Logf("\t%s\tShould have joined a process during the round.", success)

		ba, bb := a.Blocks(), b.Blocks()
		if len(ba) != 1 || len(bb) != 1 || ba[0].Valid != chain.Accepted || ba[0].Solution != bb[0].Solution || ba[0].Wallets.Total() != 1 {
			t.Fatalf("\t%s\tShould commit the block on both miners: a[%+v] b[%+v]", failed, ba, bb)
		}
		t.Logf("\t%s\tShould commit the block on both miners.", success)

		if elapsed >= voteTimeout {
			t.Fatalf("\t%s\tShould not wait out a barrier, took %v.", failed, elapsed)
		}
		t.Logf("\t%s\tShould not wait out a barrier.", success)
	}
}

func TestAbandon(t *testing.T) {
	t.Log("Given the need to stop a miner that runs forever.")
	{
		net := newTestNet()

		m, err := miner.New(net.config(100, 0, time.Second))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the miner: %v", failed, err)
		}
		defer m.Close()

		go func() {
			time.Sleep(100 * time.Millisecond)
			net.router.Send(100, ipc.Abandon)
		}()

		if err := m.Run(context.Background()); !errors.Is(err, miner.ErrAbandoned) {
			t.Fatalf("\t%s\tShould stop with ErrAbandoned: %v", failed, err)
		}
		t.Logf("\t%s\tShould stop with ErrAbandoned.", success)
	}
}

func TestRoundTimeout(t *testing.T) {
	t.Log("Given the need to bound the length of a round.")
	{
		net := newTestNet()

		// The only preimage of this target is the last candidate scanned.
		g := genesis.Default()
		o := pow.NewOracle(g.Puzzle)

		cfg := net.config(100, 1, time.Second)
		cfg.Genesis = g
		cfg.Workers = 1
		cfg.Seed = o.Digest(g.Puzzle.Prime - 1)
		cfg.RoundTimeout = 50 * time.Millisecond

		m, err := miner.New(cfg)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the miner: %v", failed, err)
		}
		defer m.Close()

		if err := m.Run(context.Background()); !errors.Is(err, miner.ErrRoundTimeout) {
			t.Fatalf("\t%s\tShould stop with ErrRoundTimeout: %v", failed, err)
		}
		t.Logf("\t%s\tShould stop with ErrRoundTimeout.", success)
	}
}

func TestConfig(t *testing.T) {
	t.Log("Given the need to reject a bad configuration.")
	{
		net := newTestNet()

		tt := []struct {
			name  string
			field string
			edit  func(cfg *miner.Config)
		}{
			{"no workers", "Workers", func(cfg *miner.Config) { cfg.Workers = 0 }},
			{"too many workers", "Workers", func(cfg *miner.Config) { cfg.Workers = genesis.MaxWorkers + 1 }},
			{"unknown tally", "Mode", func(cfg *miner.Config) { cfg.Tally.Mode = "median" }},
			{"threshold above one", "Threshold", func(cfg *miner.Config) { cfg.Tally.Threshold = 2 }},
			{"no signaler", "Signaler", func(cfg *miner.Config) { cfg.Signaler = nil }},
		}

		for i, tst := range tt {
			t.Logf("\tTest %d:\tWhen the config has %s.", i, tst.name)
			{
				cfg := net.config(100+i, 1, time.Second)
				tst.edit(&cfg)

				_, err := miner.New(cfg)
				if !validate.IsFieldErrors(err) {
					t.Fatalf("\t%s\tTest %d:\tShould fail validation: %v", failed, i, err)
				}
				if _, exists := validate.GetFieldErrors(err).Fields()[tst.field]; !exists {
					t.Fatalf("\t%s\tTest %d:\tShould name the %s field: %v", failed, i, tst.field, err)
				}
				t.Logf("\t%s\tTest %d:\tShould fail validation on %s.", success, i, tst.field)
			}
		}

		if net.ns.Exists(network.Name) {
			t.Fatalf("\t%s\tShould not touch the network on a bad config.", failed)
		}
		t.Logf("\t%s\tShould not touch the network on a bad config.", success)
	}
}

func TestTally(t *testing.T) {
	t.Log("Given the need to accept candidates by the ballots.")
	{
		integer := miner.DefaultTally()
		ratio := miner.Tally{Mode: miner.TallyRatio, Threshold: 0.5}

		tt := []struct {
			tally  miner.Tally
			yes    int
			quorum int
			exp    bool
		}{
			{integer, 0, 0, true},
			{integer, 1, 1, true},
			{integer, 0, 1, false},
			{integer, 1, 2, false},
			{integer, 2, 2, true},
			{integer, 2, 3, false},
			{ratio, 1, 2, true},
			{ratio, 2, 3, true},
			{ratio, 1, 3, false},
			{ratio, 0, 0, true},
		}

		for i, tst := range tt {
			got := tst.tally.Accept(tst.yes, tst.quorum)
			if got != tst.exp {
				t.Fatalf("\t%s\tTest %d:\tShould get %t for %s %d/%d, got %t.", failed, i, tst.exp, tst.tally.Mode, tst.yes, tst.quorum, got)
			}
			t.Logf("\t%s\tTest %d:\tShould get %t for %s %d/%d.", success, i, tst.exp, tst.tally.Mode, tst.yes, tst.quorum)
		}
	}
}
