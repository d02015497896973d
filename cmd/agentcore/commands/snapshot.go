package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evmts/agentcore/internal/gitexec"
	"github.com/evmts/agentcore/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect working directory snapshots",
	Long: `Snapshots are git trees written to a shadow repository outside the
working directory. These commands operate on the snapshot repository of the
current directory (or --directory).`,
}

var snapshotTrackCmd = &cobra.Command{
	Use:   "track",
	Short: "Record the working tree and print its snapshot hash",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotTrack,
}

var snapshotDiffCmd = &cobra.Command{
	Use:   "diff <from> [to]",
	Short: "Show a unified diff between two snapshots, or a snapshot and the working tree",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSnapshotDiff,
}

var snapshotChangedCmd = &cobra.Command{
	Use:   "changed <from> [to]",
	Short: "List files changed since a snapshot",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSnapshotChanged,
}

func init() {
	snapshotCmd.AddCommand(snapshotTrackCmd)
	snapshotCmd.AddCommand(snapshotDiffCmd)
	snapshotCmd.AddCommand(snapshotChangedCmd)
}

// openSnapshots binds a snapshot service to the working directory.
func openSnapshots(cmd *cobra.Command) (*snapshot.GitService, string, error) {
	if !gitexec.Available() {
		return nil, "", fmt.Errorf("git is not installed")
	}
	dir, cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	root := ""
	if cfg.Snapshot != nil {
		root = cfg.Snapshot.Dir
	}
	svc := snapshot.NewGitService(root)
	hash, err := svc.Init(cmd.Context(), dir)
	if err != nil {
		return nil, "", err
	}
	return svc, hash, nil
}

func runSnapshotTrack(cmd *cobra.Command, args []string) error {
	_, hash, err := openSnapshots(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

func runSnapshotDiff(cmd *cobra.Command, args []string) error {
	svc, _, err := openSnapshots(cmd)
	if err != nil {
		return err
	}
	to := ""
	if len(args) == 2 {
		to = args[1]
	}
	diffs, err := svc.DiffFull(cmd.Context(), args[0], to)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), snapshot.RenderPatch(diffs))
	return nil
}

func runSnapshotChanged(cmd *cobra.Command, args []string) error {
	svc, _, err := openSnapshots(cmd)
	if err != nil {
		return err
	}
	to := ""
	if len(args) == 2 {
		to = args[1]
	}
	files, err := svc.Patch(cmd.Context(), args[0], to)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintln(cmd.OutOrStdout(), f)
	}
	return nil
}
