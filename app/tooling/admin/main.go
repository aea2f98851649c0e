// This program performs administrative tasks on the shared objects of a
// miner network.
package main

import "github.com/ardanlabs/minernet/app/tooling/admin/commands"

func main() {
	commands.Execute()
}
