package network

import (
	"fmt"

	"github.com/ardanlabs/minernet/foundation/blockchain/genesis"
	"github.com/ardanlabs/minernet/foundation/ipc"
)

// Vote represents the ballot a participant cast on the current candidate.
type Vote int8

// Set of ballots.
const (
	Unset Vote = -1
	No    Vote = 0
	Yes   Vote = 1
)

// String implements the fmt.Stringer interface.
func (v Vote) String() string {
	switch v {
	case Unset:
		return "unset"
	case No:
		return "no"
	case Yes:
		return "yes"
	}
	return fmt.Sprintf("vote(%d)", int8(v))
}

// =============================================================================

// Roster represents the membership of the network. A slot is in use when
// its pid is not zero, and Total always equals the number of used slots.
// Expected is the quorum of the round in progress, the number of ballots
// and updates the winner waits for.
type Roster struct {
	Total      int
	LastWinner int
	Expected   int
	Updated    int
	Monitor    int
	Pids       [genesis.MaxParticipants]int
	Ballots    [genesis.MaxParticipants]Vote
	Refs       int
}

// Count returns the number of slots in use.
func (r *Roster) Count() int {
	var n int
	for _, pid := range r.Pids {
		if pid != 0 {
			n++
		}
	}
	return n
}

// Quorum probes every other participant and returns how many answered.
// Participants that cannot be reached lose their slot.
func (r *Roster) Quorum(s ipc.Signaler, self int) int {
	return r.fanOut(s, self, ipc.Probe)
}

// Broadcast sends the signal to every other participant and returns how
// many received it. Participants that cannot be reached lose their slot.
func (r *Roster) Broadcast(s ipc.Signaler, self int, sig ipc.Signal) int {
	return r.fanOut(s, self, sig)
}

// Vote records the ballot of the participant.
func (r *Roster) Vote(index int, v Vote) {
	r.Ballots[index] = v
}

// Votes returns the number of ballots cast.
func (r *Roster) Votes() int {
	var n int
	for _, v := range r.Ballots {
		if v != Unset {
			n++
		}
	}
	return n
}

// Yes returns the number of yes ballots cast.
func (r *Roster) Yes() int {
	var n int
	for _, v := range r.Ballots {
		if v == Yes {
			n++
		}
	}
	return n
}

// ResetVotes clears every ballot.
func (r *Roster) ResetVotes() {
	for i := range r.Ballots {
		r.Ballots[i] = Unset
	}
}

// MarkUpdated counts a voter that finished updating its chain. It returns
// true for the last voter of the round, which also resets the counter.
func (r *Roster) MarkUpdated() bool {
	r.Updated++
	if r.Updated < r.Expected {
		return false
	}

	r.Updated = 0
	return true
}

// =============================================================================

func (r *Roster) fanOut(s ipc.Signaler, self int, sig ipc.Signal) int {
	var n int
	for i, pid := range r.Pids {
		if pid == 0 || i == self {
			continue
		}

		if err := s.Send(pid, sig); err != nil {
			r.clear(i)
			continue
		}
		n++
	}

	r.Total = r.Count()
	return n
}

// prune drops every participant that no longer exists.
func (r *Roster) prune(s ipc.Signaler) {
	for i, pid := range r.Pids {
		if pid == 0 {
			continue
		}
		if err := s.Send(pid, ipc.Ping); err != nil {
			r.clear(i)
		}
	}

	if r.Monitor != 0 {
		if err := s.Send(r.Monitor, ipc.Ping); err != nil {
			r.Monitor = 0
		}
	}

	r.Total = r.Count()
}

// claim takes the first free slot for the pid.
func (r *Roster) claim(pid int) (int, error) {
	for i, p := range r.Pids {
		if p == 0 {
			r.Pids[i] = pid
			r.Ballots[i] = Unset
			r.Total = r.Count()
			return i, nil
		}
	}
	return -1, ErrNetworkFull
}

func (r *Roster) clear(index int) {
	r.Pids[index] = 0
	r.Ballots[index] = Unset
}
