package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the sync daemon is running",
		Run: func(cmd *cobra.Command, args []string) {
			active, err := loadConfig()
			if err != nil {
				fmt.Println("invalid configuration:", err)
				os.Exit(ExitUsage)
			}

			pidPath := pidFilePath(active)
			pid, err := readPIDFile(pidPath)
			if err != nil {
				fmt.Println("not running")
				os.Exit(ExitFail)
			}
			if !pidAlive(pid) {
				fmt.Println("not running (stale pid file)")
				os.Exit(ExitFail)
			}
			fmt.Printf("running, pid %d\n", pid)
			os.Exit(ExitOK)
		},
	}
	return cmd
}
