package monitor

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/ardanlabs/minernet/foundation/blockchain/chain"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry represents a block as recorded in the ledger.
type Entry struct {
	ID          uint32         `json:"id"`
	Target      int64          `json:"target"`
	Solution    int64          `json:"solution"`
	Valid       string         `json:"valid"`
	Verified    bool           `json:"verified"`
	Wallets     map[int]uint64 `json:"wallets"`
	Fingerprint string         `json:"fingerprint"`
	Time        time.Time      `json:"time"`
}

// newEntry builds the ledger entry for the block. The fingerprint is the
// Keccak256 hash of the serialized record.
func newEntry(b chain.Block, verified bool, now time.Time) (Entry, error) {
	data, err := b.MarshalBinary()
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		ID:          b.ID,
		Target:      b.Target,
		Solution:    b.Solution,
		Valid:       b.Valid.String(),
		Verified:    verified,
		Wallets:     b.Wallets.Balances(),
		Fingerprint: crypto.Keccak256Hash(data).Hex(),
		Time:        now,
	}

	return e, nil
}

// =============================================================================

// Ledger appends entries as JSON lines.
type Ledger struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewLedger constructs a ledger writing to w.
func NewLedger(w io.Writer) *Ledger {
	return &Ledger{
		w:   w,
		enc: json.NewEncoder(w),
	}
}

// NewFileLedger constructs a ledger on a file rotated once it reaches
// maxSizeMB megabytes.
func NewFileLedger(path string, maxSizeMB int, maxBackups int) *Ledger {
	return NewLedger(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	})
}

// Append writes the entry.
func (l *Ledger) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.enc.Encode(e)
}

// Close closes the underlying writer when it can be closed.
func (l *Ledger) Close() error {
	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
