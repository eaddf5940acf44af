package cmd

import (
	"fmt"

	"deskwatch/internal/agent"
	"deskwatch/internal/config"
	"deskwatch/internal/recorder"

	"github.com/spf13/cobra"
)

var (
	recoverDir  string
	recoverList bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover [session-id]",
	Short: "Join the segments of an interrupted recording",
	Long: `Join the leftover segment files of a recording whose concatenation failed
or whose agent exited before finishing it. Segments are joined in ordinal order
and removed once the final recording is written.

List sessions with leftover segments:
  deskwatch recover --list`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().StringVar(&recoverDir, "dir", "", "recordings directory (default <data dir>/recordings)")
	recoverCmd.Flags().BoolVar(&recoverList, "list", false, "list sessions with leftover segments")
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadLocal()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	dir := recoverDir
	if dir == "" {
		dir = cfg.RecordingsDir()
	}

	if recoverList || len(args) == 0 {
		ids, err := recorder.OrphanedSessions(dir)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No interrupted recordings found.")
			return nil
		}
		for _, id := range ids {
			segs, _ := recorder.LeftoverSegments(dir, id)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d segments\n", id, len(segs))
		}
		return nil
	}

	supervisor := agent.NewSupervisor(cfg, nil)
	out, err := recorder.Recover(cmd.Context(), supervisor, dir, args[0])
	if err != nil {
		return fmt.Errorf("failed to recover session %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recovered recording: %s\n", out)
	return nil
}
