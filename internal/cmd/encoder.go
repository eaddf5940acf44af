package cmd

import (
	"fmt"

	"deskwatch/internal/agent"
	"deskwatch/internal/config"
	"deskwatch/internal/encoder"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var encoderCmd = &cobra.Command{
	Use:   "encoder",
	Short: "Locate the encoder, downloading it if needed",
	Long: `Resolve the encoder binary the way a recording would: next to the
deskwatch executable, then on PATH, then in the download cache, and finally by
downloading it. Prints the resolved path.`,
	Args: cobra.NoArgs,
	RunE: runEncoder,
}

func init() {
	rootCmd.AddCommand(encoderCmd)
}

func runEncoder(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadLocal()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	out := cmd.ErrOrStderr()
	var lastMB int64 = -1
	supervisor := agent.NewSupervisor(cfg, func(p encoder.Progress) {
		if mb := p.Downloaded >> 20; mb != lastMB {
			lastMB = mb
			if p.Total > 0 {
				fmt.Fprintf(out, "\rdownloading %s / %s", humanize.Bytes(uint64(p.Downloaded)), humanize.Bytes(uint64(p.Total)))
			} else {
				fmt.Fprintf(out, "\rdownloading %s", humanize.Bytes(uint64(p.Downloaded)))
			}
		}
	})

	path, err := supervisor.Binary(cmd.Context())
	if lastMB >= 0 {
		fmt.Fprintln(out)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
