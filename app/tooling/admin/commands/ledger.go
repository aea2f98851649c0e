package commands

import (
	"fmt"
	"log"

	"github.com/ardanlabs/minernet/foundation/blockchain/consensus"
	"github.com/ardanlabs/minernet/foundation/ipc/posix"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Print the consensus record and the wallet balances.",
	Run:   ledgerRun,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
}

func ledgerRun(cmd *cobra.Command, args []string) {
	ns, err := posix.New(dir)
	if err != nil {
		log.Fatal(err)
	}

	store, err := consensus.Attach(ns, 0, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Detach()

	rec, err := store.Read()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Block: %d  Target: %d  Solution: %d  Valid: %s  Refs: %d\n\n", rec.ID, rec.Target, rec.Solution, rec.Valid, rec.Refs-1)
	for i, bal := range rec.Wallets {
		if bal > 0 {
			fmt.Printf("Wallet: %3d  Balance: %d\n", i, bal)
		}
	}
}
