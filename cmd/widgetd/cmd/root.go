package cmd

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "widgetd",
	Short: "Chat widget session engine",
	Long: `widgetd runs the conversation session engine that powers the embedded
chat widget: conversation resolution, history loading and merging, the
local transcript cache, device arbitration, and the inactivity lifecycle.

Usage:
  widgetd run        # Start an interactive widget session in the terminal
  widgetd devserver  # Run the self-contained development backend`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devserverCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
