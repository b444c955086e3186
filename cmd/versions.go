package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"swarmsync/pkg/helper/log"
	"swarmsync/pkg/versioning"
)

func newVersionsCmd() *cobra.Command {
	var folderPath string

	cmd := &cobra.Command{
		Use:   "versions <rel-path>",
		Short: "List retained versions of a file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if folderPath == "" {
				fmt.Println("--folder is required")
				os.Exit(ExitUsage)
			}
			store, err := versioning.Open(folderPath, log.NewBasicLogger(log.ErrorLevel))
			if err != nil {
				fmt.Println("failed to open version store:", err)
				os.Exit(ExitFail)
			}

			entries := store.List(args[0])
			if len(entries) == 0 {
				fmt.Println("no versions retained")
				os.Exit(ExitOK)
			}
			for _, e := range entries {
				fmt.Println(e.String())
			}
		},
	}

	cmd.Flags().StringVar(&folderPath, "folder", "", "Path to the synced folder holding the version archive")
	return cmd
}
