// Embedsrv is a demo host for the embedsrv library.
//
// It serves static files, answers a small JSON API and echoes WebSocket
// messages, with optional Prometheus metrics and mDNS advertisement.
//
// Usage:
//
//	embedsrv serve [flags]
//	embedsrv discover [flags]
//	embedsrv gencert [flags]
//
// See 'embedsrv --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/embedsrv/internal/ui"
	"github.com/muurk/embedsrv/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// configPath is shared by every subcommand; empty means the OS default.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "embedsrv",
	Short: "Embeddable HTTP/HTTPS/WebSocket server",
	Long: `A small HTTP, HTTPS and WebSocket server driven by host callbacks.

The 'serve' command runs the demo host: static files from a root directory,
a JSON API under /api and a WebSocket echo endpoint.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: OS config directory)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(gencertCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return ui.RenderOnce(cmd.OutOrStdout(), "embedsrv "+version.Full())
	},
}
