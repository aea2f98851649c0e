package consensus

import (
	"github.com/ardanlabs/minernet/foundation/blockchain/chain"
	"github.com/ardanlabs/minernet/foundation/blockchain/genesis"
	"github.com/ardanlabs/minernet/foundation/blockchain/pow"
)

// Record represents the shared source of truth for the current round. The
// winner is the only one allowed to publish and finalize a solution. Any
// process may reset it once the round is over.
type Record struct {
	ID       uint32
	Target   int64
	Solution int64
	Valid    chain.Validity
	Wallets  chain.Wallets
	Refs     uint32
}

// Publish claims the round for a candidate found for the specified target.
// It returns false if another process already has a candidate pending or
// the record has moved on to another target. A finalized round that was
// never reset, as a solo miner leaves it, can be claimed.
func (r *Record) Publish(target int64, candidate int64) bool {
	if r.Pending() || r.Target != target {
		return false
	}

	r.Solution = candidate
	r.Valid = chain.Unset
	return true
}

// Finalize closes the round. An accepted solution becomes the next target,
// bumps the block id and credits the winner. A rejected solution is thrown
// away and the target stays the same.
func (r *Record) Finalize(accepted bool, winner int, reward uint64) {
	if !accepted {
		r.Valid = chain.Rejected
		r.Solution = pow.Unset
		return
	}

	r.Valid = chain.Accepted
	r.Target = r.Solution
	r.ID++
	if winner >= 0 && winner < genesis.MaxParticipants {
		r.Wallets.Credit(winner, reward)
	}
}

// Reset returns the record to the unclaimed state for the next round.
func (r *Record) Reset() {
	r.Solution = pow.Unset
	r.Valid = chain.Unset
}

// Withdraw resets the record for the winner of the solution. A claim made
// since by another process is left alone.
func (r *Record) Withdraw(solution int64) {
	if r.Solution != solution && r.Solution != pow.Unset {
		return
	}
	r.Reset()
}

// Pending reports if a candidate has been published and not finalized.
func (r Record) Pending() bool {
	return r.Solution != pow.Unset && r.Valid == chain.Unset
}

// SnapshotInto copies the outcome of the round into the local block. The
// block keeps its own target since the record already moved on to the
// solution when it was accepted.
func (r Record) SnapshotInto(b *chain.Block) {
	b.Solution = r.Solution
	b.Valid = r.Valid
	b.Wallets = r.Wallets
	if r.Valid == chain.Accepted {
		b.ID = r.ID
	}
}

// Committed reports if the candidate read while the record had the
// specified id was accepted. It still holds after a new round claimed the
// record, since only an accepted candidate becomes the target and moves
// the id.
func (r Record) Committed(candidate int64, id uint32) bool {
	return candidate != pow.Unset && r.Target == candidate && r.ID == id+1
}
