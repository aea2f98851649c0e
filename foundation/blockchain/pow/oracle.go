// Package pow implements the puzzle oracle and the pool of workers that
// search the candidate space for a value whose digest matches a target.
package pow

import (
	"errors"
	"math/bits"

	"github.com/ardanlabs/minernet/foundation/blockchain/genesis"
)

// ErrNoSolution is returned when the candidate space holds no value whose
// digest matches the target. With a prime modulus this can't happen for a
// target inside [0, Prime).
var ErrNoSolution = errors.New("no solution in candidate space")

// Unset is the sentinel for a solution that has not been found.
const Unset int64 = -1

// =============================================================================

// Oracle represents the keyed linear congruential map used as a synthetic
// proof of work: digest(c) = (c*Multiplier + Increment) mod Prime.
type Oracle struct {
	Prime      int64
	Multiplier int64
	Increment  int64
}

// NewOracle constructs the oracle from the genesis puzzle constants.
func NewOracle(p genesis.Puzzle) Oracle {
	return Oracle{
		Prime:      p.Prime,
		Multiplier: p.Multiplier,
		Increment:  p.Increment,
	}
}

// Digest maps a candidate to its digest. The product is computed in 128
// bits so no choice of constants can overflow.
func (o Oracle) Digest(candidate int64) int64 {
	p := uint64(o.Prime)

	hi, lo := bits.Mul64(o.reduce(candidate), o.reduce(o.Multiplier))
	r := bits.Rem64(hi, lo, p)

	return int64((r + o.reduce(o.Increment)) % p)
}

// Verify reports if the candidate solves the target.
func (o Oracle) Verify(target int64, candidate int64) bool {
	if candidate < 0 {
		return false
	}
	return o.Digest(candidate) == target
}

// Solve scans the whole candidate space in ascending order and returns the
// first candidate whose digest matches the target.
func (o Oracle) Solve(target int64) (int64, error) {
	for c := int64(0); c < o.Prime; c++ {
		if o.Digest(c) == target {
			return c, nil
		}
	}
	return Unset, ErrNoSolution
}

// reduce maps any value into [0, Prime).
func (o Oracle) reduce(v int64) uint64 {
	m := v % o.Prime
	if m < 0 {
		m += o.Prime
	}
	return uint64(m)
}
