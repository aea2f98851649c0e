package network

import (
	"github.com/ardanlabs/minernet/foundation/blockchain/chain"
	"github.com/ardanlabs/minernet/foundation/ipc"
)

// MailboxName names the queue committed blocks are sent to the monitor on.
// The queue is never unlinked by a miner or the monitor: the monitor keeps
// reading the same queue while miners come and go, and an unlinked queue
// would leave it reading one nobody can open again. `admin cleanup`
// removes it.
const MailboxName = "mailbox"

// OpenMailbox opens the queue that carries serialized blocks to the monitor.
func OpenMailbox(ns ipc.Namespace) (ipc.Queue, error) {
	return ns.Queue(MailboxName, chain.RecordSize)
}
