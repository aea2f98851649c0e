package commands

import (
	"fmt"
	"log"

	"github.com/ardanlabs/minernet/foundation/blockchain/consensus"
	"github.com/ardanlabs/minernet/foundation/blockchain/network"
	"github.com/ardanlabs/minernet/foundation/ipc"
	"github.com/ardanlabs/minernet/foundation/ipc/posix"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove every shared object, to recover after a crash.",
	Run:   cleanupRun,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func cleanupRun(cmd *cobra.Command, args []string) {
	ns, err := posix.New(dir)
	if err != nil {
		log.Fatal(err)
	}

	names := []string{
		consensus.Name,
		network.Name,
		network.BarriersName,
		network.VoteName,
		network.TallyName,
		network.UpdateName,
		network.UpdatedName,
		network.FinishName,
		network.MailboxName,
		ipc.BootName,
	}

	if err := ns.Unlink(names...); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Removed the shared objects in %s\n", ns.Path())
}
