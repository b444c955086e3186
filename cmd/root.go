// Package cmd provides the command-line interface for the swarmsync
// sync daemon.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"swarmsync/pkg/config"
	"swarmsync/pkg/helper/log"
)

// Exit codes per the daemon control surface: 0 for a clean run, 1 for a
// runtime failure, 2 for invalid configuration or arguments.
const (
	ExitOK   = 0
	ExitFail = 1
	ExitUsage = 2
)

var (
	cfg        *config.Config
	configFile string

	rootCmd = &cobra.Command{
		Use:   "swarmd",
		Short: "swarmd is a peer-to-peer LAN file synchronization daemon",
		Long:  `swarmd keeps a folder's contents in eventual agreement across trusted hosts on the same LAN, without a central server.`,
	}
)

// Execute runs the root command, exiting the process with ExitFail if it
// returns an error. Subcommands exit with their own codes directly.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(ExitFail)
	}
}

func init() {
	cfg = config.NewDefaultConfig()
	cfg.AddFlagsToCommand(rootCmd)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newTrustCmd())
	rootCmd.AddCommand(newUntrustCmd())
	rootCmd.AddCommand(newVersionsCmd())
	rootCmd.AddCommand(newRestoreCmd())
}

// loadConfig resolves the active configuration: the loaded file (if
// --config was given) overlaid with any flags the user set explicitly,
// or just the flag-populated default configuration otherwise.
func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return cfg, cfg.Validate()
	}
	loaded, err := config.LoadFromFile(configFile)
	if err != nil {
		return nil, err
	}
	overlay := &cobra.Command{}
	loaded.AddFlagsToCommand(overlay)
	var setErr error
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if f.Changed && setErr == nil && overlay.PersistentFlags().Lookup(f.Name) != nil {
			setErr = overlay.PersistentFlags().Set(f.Name, f.Value.String())
		}
	})
	if setErr != nil {
		return nil, setErr
	}
	return loaded, loaded.Validate()
}

// createLogger builds a logger at the configured level.
func createLogger(level string) log.Logger {
	var logLevel log.Level
	switch level {
	case "debug":
		logLevel = log.DebugLevel
	case "warn":
		logLevel = log.WarnLevel
	case "error":
		logLevel = log.ErrorLevel
	case "fatal":
		logLevel = log.FatalLevel
	default:
		logLevel = log.InfoLevel
	}
	return log.NewBasicLogger(logLevel)
}

// setupSignalContext returns a context cancelled on SIGINT/SIGTERM.
func setupSignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
