package miner

// Set of tally modes.
const (
	TallyInteger = "integer"
	TallyRatio   = "ratio"
)

// Tally represents the rule used to accept a candidate from the ballots.
// The integer mode divides the yes ballots by the quorum with integer
// division before comparing with the threshold, so anything short of a
// unanimous yes is rejected at the default threshold. The ratio mode
// compares the real ratio.
type Tally struct {
	Mode      string  `validate:"required,oneof=integer ratio"`
	Threshold float64 `validate:"gte=0,lte=1"`
}

// DefaultTally returns the integer rule at a threshold of one half.
func DefaultTally() Tally {
	return Tally{
		Mode:      TallyInteger,
		Threshold: 0.5,
	}
}

// Accept reports if the yes ballots carry the candidate. A quorum of zero
// always accepts.
func (t Tally) Accept(yes int, quorum int) bool {
	if quorum <= 0 {
		return true
	}

	if t.Mode == TallyRatio {
		return float64(yes)/float64(quorum) >= t.Threshold
	}

	return float64(yes/quorum) >= t.Threshold
}
