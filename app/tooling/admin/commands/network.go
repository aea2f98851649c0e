package commands

import (
	"fmt"
	"log"
	"os"

	"github.com/ardanlabs/minernet/foundation/blockchain/network"
	"github.com/ardanlabs/minernet/foundation/ipc/posix"
	"github.com/spf13/cobra"
)

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Print the participants of the network.",
	Run:   networkRun,
}

func init() {
	rootCmd.AddCommand(networkCmd)
}

func networkRun(cmd *cobra.Command, args []string) {
	ns, err := posix.New(dir)
	if err != nil {
		log.Fatal(err)
	}

	reg, err := network.Attach(ns, os.Getpid(), posix.Signaler{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer reg.Leave()

	ro, err := reg.Read()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Total: %d  Expected: %d  LastWinner: %d  Monitor: %d  Refs: %d\n\n", ro.Total, ro.Expected, ro.LastWinner, ro.Monitor, ro.Refs-1)
	for i, pid := range ro.Pids {
		if pid != 0 {
			fmt.Printf("Slot: %3d  PID: %8d  Vote: %s\n", i, pid, ro.Ballots[i])
		}
	}
}
