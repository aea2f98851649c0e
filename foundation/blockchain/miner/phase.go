package miner

import "fmt"

// Phase represents where a miner is in the current round.
type Phase int32

// Set of round phases.
const (
	Searching Phase = iota
	SolutionProposed
	AwaitingQuorum
	AwaitingSignal
	Voting
	Committing
	Reset
)

var phases = map[Phase]string{
	Searching:        "searching",
	SolutionProposed: "solution proposed",
	AwaitingQuorum:   "awaiting quorum",
	AwaitingSignal:   "awaiting signal",
	Voting:           "voting",
	Committing:       "committing",
	Reset:            "reset",
}

// String implements the fmt.Stringer interface.
func (p Phase) String() string {
	if s, exists := phases[p]; exists {
		return s
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}
