// Package main is the entry point for chord-bench.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chord-bench/internal/logger"
)

var (
	version = "dev"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "chord-bench",
	Short: "chord-bench - replicated Chord store insertion benchmark",
	Long: `chord-bench launches a cluster of Chord store nodes for every
(replication factor, consistency policy) pair, joins them into a ring,
replays the key partitions concurrently and reports the aggregate
insertion throughput of each configuration.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logger.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logger.Default.SetLevel(level)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "バージョンを表示",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "chord-bench version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "ログレベル (debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("", "%v", err)
		os.Exit(1)
	}
}
