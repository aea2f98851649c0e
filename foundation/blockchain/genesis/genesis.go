// Package genesis maintains access to the genesis file and the fixed limits
// every process on the network must agree on.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Limits baked into the layout of the shared objects. Changing any of them
// changes the wire contract between processes.
const (
	MaxParticipants = 200
	MaxWorkers      = 10
)

// Default puzzle constants. The prime modulus makes the map a bijection.
const (
	DefaultPrime      = 99997669
	DefaultMultiplier = 435679812
	DefaultIncrement  = 100001819
)

// Puzzle represents the constants of the proof of work oracle.
type Puzzle struct {
	Prime      int64 `json:"prime"`
	Multiplier int64 `json:"multiplier"`
	Increment  int64 `json:"increment"`
}

// Genesis represents the genesis file.
type Genesis struct {
	Date         time.Time `json:"date"`
	ChainID      uint16    `json:"chain_id"`      // The chain id represents an unique id for this running instance.
	MiningReward uint64    `json:"mining_reward"` // Credited to the winner's wallet for every committed block.
	Puzzle       Puzzle    `json:"puzzle"`
}

// Default returns the genesis used when no file is configured.
func Default() Genesis {
	return Genesis{
		Date:         time.Date(2021, time.May, 1, 0, 0, 0, 0, time.UTC),
		ChainID:      1,
		MiningReward: 1,
		Puzzle: Puzzle{
			Prime:      DefaultPrime,
			Multiplier: DefaultMultiplier,
			Increment:  DefaultIncrement,
		},
	}
}

// =============================================================================

// Load opens and consumes the genesis file. An empty path returns the default.
func Load(path string) (Genesis, error) {
	if path == "" {
		return Default(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	if genesis.Puzzle.Prime <= 1 {
		return Genesis{}, fmt.Errorf("invalid puzzle prime %d", genesis.Puzzle.Prime)
	}

	return genesis, nil
}
