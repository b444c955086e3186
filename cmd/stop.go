package cmd

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running sync daemon",
		Run: func(cmd *cobra.Command, args []string) {
			active, err := loadConfig()
			if err != nil {
				fmt.Println("invalid configuration:", err)
				os.Exit(ExitUsage)
			}

			pidPath := pidFilePath(active)
			pid, err := readPIDFile(pidPath)
			if err != nil {
				fmt.Println("no running daemon found:", err)
				os.Exit(ExitFail)
			}

			proc, err := os.FindProcess(pid)
			if err != nil {
				fmt.Println("failed to locate daemon process:", err)
				os.Exit(ExitFail)
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				fmt.Println("failed to signal daemon process:", err)
				os.Exit(ExitFail)
			}

			deadline := time.Now().Add(10 * time.Second)
			for time.Now().Before(deadline) {
				if !pidAlive(pid) {
					os.Remove(pidPath)
					fmt.Println("daemon stopped")
					os.Exit(ExitOK)
				}
				time.Sleep(100 * time.Millisecond)
			}
			fmt.Println("daemon did not stop within the timeout")
			os.Exit(ExitFail)
		},
	}
	return cmd
}
