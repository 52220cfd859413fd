// Package cli implements the cifabric command tree.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/cifabric/cifabric/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"        _  __         _          _\n" +
		"   ___ (_)/ _|  __ _ | |__  _ __(_) ___\n" +
		"  / __|| | |_  / _` || '_ \\| '__| |/ __|\n" +
		" | (__ | |  _|| (_| || |_) | |  | | (__\n" +
		"  \\___||_|_|   \\__,_||_.__/|_|  |_|\\___|\n"
)

var rootCmd = &cobra.Command{
	Use:   "cifabric",
	Short: "cifabric - message fabric for CI processes",
	Long:  color.CyanString(logo) + "\nRegistry, mailboxes, broadcast and routed delivery for a society of CI processes.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rosterCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(broadcastCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(historyCmd)
}
