package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var trustAssumeYes bool

// confirmTrust prompts for an interactive y/N confirmation before pinning
// a fingerprint, unless --yes was passed or stdin isn't a terminal (a
// scripted invocation has nothing to answer a prompt with).
func confirmTrust(deviceID, fingerprint string) bool {
	if trustAssumeYes || !term.IsTerminal(int(syscall.Stdin)) {
		return true
	}
	fmt.Printf("Trust device %s with fingerprint %s? [y/N] ", deviceID, fingerprint)
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(input))
	return answer == "y" || answer == "yes"
}

func newTrustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust <device-id> <fingerprint-hex>",
		Short: "Pin a peer's identity fingerprint as trusted",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			active, err := loadConfig()
			if err != nil {
				fmt.Println("invalid configuration:", err)
				os.Exit(ExitUsage)
			}
			if !confirmTrust(args[0], args[1]) {
				fmt.Println("not trusted")
				os.Exit(ExitOK)
			}
			if active.TrustedPeers == nil {
				active.TrustedPeers = map[string]string{}
			}
			active.TrustedPeers[args[0]] = args[1]
			if err := active.Validate(); err != nil {
				fmt.Println("invalid configuration:", err)
				os.Exit(ExitUsage)
			}
			if configFile == "" {
				fmt.Println("no --config file given; trust recorded for this invocation only")
				os.Exit(ExitOK)
			}
			if err := active.SaveToFile(configFile); err != nil {
				fmt.Println("failed to save configuration:", err)
				os.Exit(ExitFail)
			}
			fmt.Printf("trusted %s as %s\n", args[0], args[1])
		},
	}
	cmd.Flags().BoolVarP(&trustAssumeYes, "yes", "y", false, "skip the interactive confirmation prompt")
	return cmd
}

func newUntrustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "untrust <device-id>",
		Short: "Remove a peer's pinned identity fingerprint",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			active, err := loadConfig()
			if err != nil {
				fmt.Println("invalid configuration:", err)
				os.Exit(ExitUsage)
			}
			delete(active.TrustedPeers, args[0])
			if configFile == "" {
				fmt.Println("no --config file given; untrust recorded for this invocation only")
				os.Exit(ExitOK)
			}
			if err := active.SaveToFile(configFile); err != nil {
				fmt.Println("failed to save configuration:", err)
				os.Exit(ExitFail)
			}
			fmt.Printf("untrusted %s\n", args[0])
		},
	}
	return cmd
}
