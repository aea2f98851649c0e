// Package commands contains the admin commands.
package commands

import (
	"os"

	"github.com/ardanlabs/minernet/foundation/ipc/posix"
	"github.com/spf13/cobra"
)

var dir string

func init() {
	rootCmd.PersistentFlags().StringVarP(&dir, "dir", "d", posix.DefaultDir, "Directory holding the shared objects.")
}

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Inspect and clean the shared objects of a miner network",
}

// Execute runs the command selected on the command line.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
