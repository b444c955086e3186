// Command swarmd runs the peer-to-peer LAN file synchronization daemon.
package main

import (
	"swarmsync/cmd"
)

func main() {
	cmd.Execute()
}
