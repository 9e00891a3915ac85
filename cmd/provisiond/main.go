// Provisiond brings an unconfigured Linux node onto a Wi-Fi network.
//
// With no saved credentials the node raises a provisioning access point,
// answers every DNS query with its own address and serves a form that
// collects the target network's SSID and password. Once joined it serves
// a confirmation page and advertises itself over mDNS.
//
// Usage:
//
//	provisiond [command] [flags]
//
// See 'provisiond --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/provisiond/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "provisiond",
	Short: "Wi-Fi provisioning daemon",
	Long: `A provisioning daemon for headless Linux nodes.

The 'run' command drives the radio: it tries saved credentials first and
falls back to a captive portal on the provisioning access point.

The 'probe' and 'scan' commands are run from a laptop or phone to check a
node in portal mode and to find provisioned nodes on the network.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("provisiond %s (commit: %s)\n", version.Version, version.Commit)
	},
}
