// Package main provides modlogctl, the maintenance CLI of the log index.
//
// The index is a Pebble database that only one process can open, so the
// store commands must run while the bot is stopped.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PancyStudios/PancyModLogs/pkg/config"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
)

func main() {
	err := newRootCmd().Execute()
	logger.Get().Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	dbPath string
	asJSON bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "modlogctl",
		Short: "Herramientas de mantenimiento del índice de logs de moderación",
		Long: `modlogctl inspects and repairs the moderation-log index.

Store commands open the index directly; stop the bot first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", config.Get().DBPath, "path of the index database")
	rootCmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(
		newQueryCmd(opts),
		newDeleteCmd(opts),
		newCheckpointCmd(opts),
		newVerifyCmd(opts),
		newStatsCmd(opts),
		newSyncCommandsCmd(),
		versionCmd(),
	)
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modlogctl %s (built: %s)\n", config.Version, config.BuildTime)
		},
	}
}
