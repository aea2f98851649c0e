// Package chain maintains the local, process private chain of blocks. Blocks
// live in an arena and link to each other by index.
package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/ardanlabs/minernet/foundation/blockchain/genesis"
	"github.com/ardanlabs/minernet/foundation/blockchain/pow"
)

// Validity represents the tri-state outcome of a round.
type Validity int8

// Set of round outcomes.
const (
	Unset    Validity = -1
	Rejected Validity = 0
	Accepted Validity = 1
)

// String implements the fmt.Stringer interface.
func (v Validity) String() string {
	switch v {
	case Unset:
		return "unset"
	case Rejected:
		return "rejected"
	case Accepted:
		return "accepted"
	}
	return fmt.Sprintf("validity(%d)", int8(v))
}

// =============================================================================

// Wallets holds the credit balance of every participant slot.
type Wallets [genesis.MaxParticipants]uint64

// Credit adds the amount to the wallet of the participant.
func (w *Wallets) Credit(index int, amount uint64) {
	w[index] += amount
}

// Total returns the sum of all balances.
func (w Wallets) Total() uint64 {
	var total uint64
	for _, b := range w {
		total += b
	}
	return total
}

// Balances returns the non zero balances keyed by participant index.
func (w Wallets) Balances() map[int]uint64 {
	m := make(map[int]uint64)
	for i, b := range w {
		if b > 0 {
			m[i] = b
		}
	}
	return m
}

// =============================================================================

// none marks a missing link.
const none = -1

// Block represents the outcome of one round.
type Block struct {
	ID       uint32
	Target   int64
	Solution int64
	Valid    Validity
	Wallets  Wallets

	prev int
	next int
}

// record is the fixed layout of a block on the wire.
type record struct {
	ID       uint32
	Valid    int32
	Target   int64
	Solution int64
	Wallets  [genesis.MaxParticipants]uint64
}

// RecordSize is the size in bytes of a serialized block.
var RecordSize = binary.Size(record{})

// MarshalBinary serializes the block into a fixed size record. This
// implements the encoding.BinaryMarshaler interface.
func (b Block) MarshalBinary() ([]byte, error) {
	rec := record{
		ID:       b.ID,
		Valid:    int32(b.Valid),
		Target:   b.Target,
		Solution: b.Solution,
		Wallets:  b.Wallets,
	}

	buf := make([]byte, RecordSize)
	if _, err := binary.Encode(buf, binary.LittleEndian, rec); err != nil {
		return nil, err
	}

	return buf, nil
}

// UnmarshalBinary restores a block from a fixed size record. The links of
// the block are left unset. This implements the encoding.BinaryUnmarshaler
// interface.
func (b *Block) UnmarshalBinary(data []byte) error {
	if len(data) < RecordSize {
		return fmt.Errorf("block record is %d bytes, need %d", len(data), RecordSize)
	}

	var rec record
	if _, err := binary.Decode(data, binary.LittleEndian, &rec); err != nil {
		return err
	}

	*b = Block{
		ID:       rec.ID,
		Target:   rec.Target,
		Solution: rec.Solution,
		Valid:    Validity(rec.Valid),
		Wallets:  rec.Wallets,
		prev:     none,
		next:     none,
	}

	return nil
}

// Verify reports if the solution of the block solves its target.
func (b Block) Verify(o pow.Oracle) bool {
	return o.Verify(b.Target, b.Solution)
}
