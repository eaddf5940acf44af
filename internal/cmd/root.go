package cmd

import (
	"log"

	"github.com/spf13/cobra"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "deskwatch",
	Short: "Deskwatch - workstation monitoring agent",
	Long: `Deskwatch records the screen in pausable sessions, samples screenshots at
random intervals, and reports idle time and network usage.

Run the agent and its local API:
  deskwatch run

Join the segments a failed session left behind:
  deskwatch recover <session-id>

Locate or download the encoder:
  deskwatch encoder`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "include file and line in log output")
}

func initLogging() {
	if debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
}
