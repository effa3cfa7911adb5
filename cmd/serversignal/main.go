package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zeusync/serversignal/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "serversignal",
		Short: "Mirror server-owned state on remote clients",
		Long: `serversignal keeps server-owned values in sync with client replicas.

The server diffs every change against what the client last received and
sends only the difference. Clients reconnect on their own when the link
drops and keep their replicas across reconnects.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	load := func() (config.Config, error) {
		return config.Load(configPath)
	}
	root.AddCommand(
		serveCmd(load),
		watchCmd(load),
		versionCmd(),
	)
	return root
}
