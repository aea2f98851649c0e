package pow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardanlabs/minernet/foundation/blockchain/genesis"
	"github.com/ardanlabs/minernet/foundation/blockchain/pow"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func noop(v string, args ...any) {}

// small keeps the exhaustive tests fast. 10007 is prime.
var small = pow.Oracle{Prime: 10007, Multiplier: 7919, Increment: 104729}

func TestDigest(t *testing.T) {
	o := pow.NewOracle(genesis.Default().Puzzle)

	type table struct {
		name      string
		candidate int64
		exp       int64
	}

	tt := []table{
		{name: "zero", candidate: 0, exp: genesis.DefaultIncrement % genesis.DefaultPrime},
		{name: "one", candidate: 1, exp: (genesis.DefaultMultiplier + genesis.DefaultIncrement) % genesis.DefaultPrime},
		{name: "prime", candidate: genesis.DefaultPrime, exp: genesis.DefaultIncrement % genesis.DefaultPrime},
		{name: "large", candidate: 99997668, exp: (99997668*genesis.DefaultMultiplier + genesis.DefaultIncrement) % genesis.DefaultPrime},
	}

	t.Log("Given the need to validate the puzzle oracle digest.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				got := o.Digest(tst.candidate)
				if got != tst.exp {
					t.Logf("\t%s\tTest %d:\tgot: %d", failed, testID, got)
					t.Logf("\t%s\tTest %d:\texp: %d", failed, testID, tst.exp)
					t.Fatalf("\t%s\tTest %d:\tShould get the reference digest.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould get the reference digest.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	t.Log("Given the need to find a solution for every digest.")
	{
		t.Logf("\tTest 0:\tWhen solving the digest of every candidate of a small prime.")
		{
			for c := int64(0); c < small.Prime; c += 97 {
				target := small.Digest(c)

				got, err := small.Solve(target)
				if err != nil {
					t.Fatalf("\t%s\tTest 0:\tShould be able to solve target %d: %v", failed, target, err)
				}

				if small.Digest(got) != target {
					t.Logf("\t%s\tTest 0:\tgot: %d", failed, small.Digest(got))
					t.Logf("\t%s\tTest 0:\texp: %d", failed, target)
					t.Fatalf("\t%s\tTest 0:\tShould get a candidate with the same digest.", failed)
				}
			}
			t.Logf("\t%s\tTest 0:\tShould get a candidate with the same digest.", success)
		}

		t.Logf("\tTest 1:\tWhen the map is not injective.")
		{
			// A multiplier of zero maps everything to the increment.
			flat := pow.Oracle{Prime: 11, Multiplier: 0, Increment: 3}

			got, err := flat.Solve(flat.Digest(7))
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to solve: %v", failed, err)
			}
			if got != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould get the first candidate, got %d.", failed, got)
			}
			t.Logf("\t%s\tTest 1:\tShould get another candidate with the same digest.", success)

			if _, err := flat.Solve(4); !errors.Is(err, pow.ErrNoSolution) {
				t.Fatalf("\t%s\tTest 1:\tShould get ErrNoSolution for an unreachable target, got %v.", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould get ErrNoSolution for an unreachable target.", success)
		}
	}
}

func TestRanges(t *testing.T) {
	type table struct {
		name    string
		prime   int64
		workers int
	}

	tt := []table{
		{name: "even", prime: 100, workers: 4},
		{name: "remainder", prime: 10007, workers: 3},
		{name: "single", prime: 10007, workers: 1},
		{name: "reference", prime: genesis.DefaultPrime, workers: genesis.MaxWorkers},
	}

	t.Log("Given the need to partition the candidate space.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				ranges := pow.Ranges(tst.prime, tst.workers)

				if len(ranges) != tst.workers {
					t.Fatalf("\t%s\tTest %d:\tShould get one range per worker, got %d.", failed, testID, len(ranges))
				}

				next := int64(0)
				for _, r := range ranges {
					if r.Lo != next {
						t.Fatalf("\t%s\tTest %d:\tShould get contiguous ranges, gap at %d.", failed, testID, next)
					}
					next = r.Hi
				}

				if next != tst.prime {
					t.Logf("\t%s\tTest %d:\tgot: %d", failed, testID, next)
					t.Logf("\t%s\tTest %d:\texp: %d", failed, testID, tst.prime)
					t.Fatalf("\t%s\tTest %d:\tShould cover the space exactly once.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould cover the space exactly once.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func TestSearch(t *testing.T) {
	t.Log("Given the need to search with a pool of workers.")
	{
		t.Logf("\tTest 0:\tWhen the target has a solution.")
		{
			for _, workers := range []int{1, 3, 10} {
				target := small.Digest(9001)

				got, err := pow.Search(context.Background(), small, target, workers, noop)
				if err != nil {
					t.Fatalf("\t%s\tTest 0:\tShould be able to search with %d workers: %v", failed, workers, err)
				}
				if small.Digest(got) != target {
					t.Fatalf("\t%s\tTest 0:\tShould find a matching candidate with %d workers.", failed, workers)
				}
			}
			t.Logf("\t%s\tTest 0:\tShould find a matching candidate.", success)
		}

		t.Logf("\tTest 1:\tWhen no candidate matches.")
		{
			flat := pow.Oracle{Prime: 101, Multiplier: 0, Increment: 5}

			_, err := pow.Search(context.Background(), flat, 6, 4, noop)
			if !errors.Is(err, pow.ErrNoSolution) {
				t.Fatalf("\t%s\tTest 1:\tShould get ErrNoSolution, got %v.", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould get ErrNoSolution.", success)
		}

		t.Logf("\tTest 2:\tWhen the search is cancelled.")
		{
			o := pow.NewOracle(genesis.Default().Puzzle)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			start := time.Now()
			_, err := pow.Search(ctx, o, o.Digest(genesis.DefaultPrime-1), 2, noop)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("\t%s\tTest 2:\tShould get context.Canceled, got %v.", failed, err)
			}
			if time.Since(start) > 5*time.Second {
				t.Fatalf("\t%s\tTest 2:\tShould stop the workers promptly.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould stop the workers promptly.", success)
		}
	}
}
