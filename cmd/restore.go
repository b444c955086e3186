package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"swarmsync/pkg/helper/log"
	"swarmsync/pkg/versioning"
)

func newRestoreCmd() *cobra.Command {
	var folderPath string
	var target string

	cmd := &cobra.Command{
		Use:   "restore <rel-path> <version-id>",
		Short: "Restore a retained version of a file",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if folderPath == "" {
				fmt.Println("--folder is required")
				os.Exit(ExitUsage)
			}
			versionID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				fmt.Println("invalid version id:", err)
				os.Exit(ExitUsage)
			}

			store, err := versioning.Open(folderPath, log.NewBasicLogger(log.ErrorLevel))
			if err != nil {
				fmt.Println("failed to open version store:", err)
				os.Exit(ExitFail)
			}

			relPath := args[0]
			dest := target
			if dest == "" {
				dest = filepath.Join(folderPath, relPath)
			}
			if err := store.Restore(relPath, versionID, dest); err != nil {
				fmt.Println("restore failed:", err)
				os.Exit(ExitFail)
			}
			fmt.Printf("restored %s@%d to %s\n", relPath, versionID, dest)
		},
	}

	cmd.Flags().StringVar(&folderPath, "folder", "", "Path to the synced folder holding the version archive")
	cmd.Flags().StringVar(&target, "to", "", "Destination path (defaults to the file's original location)")
	return cmd
}
