package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "modporter",
	Short: "Java mod to Bedrock add-on converter",
	Long: `Modporter converts Java Minecraft mods into Bedrock add-ons.

It analyzes the mod jar, plans the conversion, translates behaviors and
assets in parallel, and packages the result as a .mcaddon archive.

The execution strategy (sequential, parallel, adaptive, hybrid) is picked
per run from the mod's complexity, the host's resources, and the recorded
performance of past conversions.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(strategiesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
