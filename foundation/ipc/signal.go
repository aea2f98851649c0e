package ipc

import "fmt"

// Signal represents one message of the control protocol between peers.
type Signal int

// Set of signals exchanged between miner processes. Ping only checks that
// a process exists and is never delivered.
const (
	Ping      Signal = iota // existence check
	Probe                   // liveness probe sent while computing a quorum
	Candidate               // a candidate solution is ready to be voted on
	Abandon                 // leave the network gracefully
	Timeout                 // the round alarm fired
)

// String implements the fmt.Stringer interface.
func (s Signal) String() string {
	switch s {
	case Ping:
		return "ping"
	case Probe:
		return "probe"
	case Candidate:
		return "candidate"
	case Abandon:
		return "abandon"
	case Timeout:
		return "timeout"
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

// Signaler delivers a signal to the process identified by pid. A failed
// send means the peer is dead or unreachable.
type Signaler interface {
	Send(pid int, sig Signal) error
}
