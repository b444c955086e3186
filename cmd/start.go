package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"swarmsync/pkg/config"
	"swarmsync/pkg/daemon"
)

func newStartCmd() *cobra.Command {
	var folder config.FolderConfig
	var folderName string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the sync daemon in the foreground",
		Long:  `Starts the daemon for one folder, blocking until it receives SIGINT/SIGTERM or the process is asked to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := loadConfig()
			if err != nil {
				fmt.Println("invalid configuration:", err)
				os.Exit(ExitUsage)
			}

			if folder.Path != "" {
				if folder.ConflictMode == "" {
					folder.ConflictMode = config.ConflictAutoNewest
				}
				active.Folders = map[string]config.FolderConfig{folderName: folder}
			}
			if len(active.Folders) != 1 {
				fmt.Println("swarmd start requires exactly one configured folder (use --folder or a config file with a single entry)")
				os.Exit(ExitUsage)
			}
			if err := active.Validate(); err != nil {
				fmt.Println("invalid configuration:", err)
				os.Exit(ExitUsage)
			}

			var name string
			var fc config.FolderConfig
			for n, f := range active.Folders {
				name, fc = n, f
			}

			logger := createLogger(active.LogLevel)
			ctx, cancel := setupSignalContext(cmd.Context())
			defer cancel()

			d, err := daemon.New(active, name, fc, logger)
			if err != nil {
				logger.Error("failed to initialize daemon", err)
				os.Exit(ExitFail)
			}

			pidPath := pidFilePath(active)
			if err := writePIDFile(pidPath, os.Getpid()); err != nil {
				logger.Error("failed to write pid file", err)
				os.Exit(ExitFail)
			}
			defer os.Remove(pidPath)

			if err := d.Run(ctx); err != nil {
				logger.Error("daemon exited with error", err)
				os.Exit(ExitFail)
			}
			return nil
		},
	}

	cfg.AddFolderFlags(cmd, &folder)
	cmd.Flags().StringVar(&folderName, "folder-name", "default", "Name under which the --folder path is registered")

	return cmd
}
