package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/evmts/agentcore/internal/config"
	"github.com/evmts/agentcore/internal/project"
	"github.com/evmts/agentcore/internal/session"
	"github.com/evmts/agentcore/internal/snapshot"
	"github.com/evmts/agentcore/internal/storage"
	"github.com/evmts/agentcore/pkg/types"
)

var (
	sessTitle   string
	sessBypass  bool
	sessMessage string
	sessPart    string
	undoCount   int
	listProject bool
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"s"},
	Short:   "Manage persisted sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session for the working directory",
	Args:  cobra.NoArgs,
	RunE:  runSessionCreate,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Show a session with its turns and messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionBeginCmd = &cobra.Command{
	Use:   "begin <session> <prompt...>",
	Short: "Record a user prompt and open a turn",
	Long: `Record a user prompt and open a turn. The working tree is snapshotted
so that changes made until 'session end' are attributed to the turn.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSessionBegin,
}

var sessionEndCmd = &cobra.Command{
	Use:   "end <session>",
	Short: "Close the open turn and print its summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionEnd,
}

var sessionDiffCmd = &cobra.Command{
	Use:   "diff <session>",
	Short: "Show the last turn's changes, or the turn of --message",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDiff,
}

var sessionUndoCmd = &cobra.Command{
	Use:   "undo <session>",
	Short: "Undo the last turns and restore their files",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionUndo,
}

var sessionRevertCmd = &cobra.Command{
	Use:   "revert <session> <message>",
	Short: "Restore files to before a message, keeping the log until the next turn",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionRevert,
}

var sessionUnrevertCmd = &cobra.Command{
	Use:   "unrevert <session>",
	Short: "Cancel a pending revert",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionUnrevert,
}

var sessionForkCmd = &cobra.Command{
	Use:   "fork <session>",
	Short: "Copy a session, optionally only up to --message",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionFork,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session>",
	Short: "Delete a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

func init() {
	sessionListCmd.Flags().BoolVarP(&listProject, "project", "p", false, "Only sessions of the working directory's project")
	sessionCreateCmd.Flags().StringVar(&sessTitle, "title", "", "Session title")
	sessionCreateCmd.Flags().BoolVar(&sessBypass, "bypass", false, "Skip all permission checks for this session")
	sessionDiffCmd.Flags().StringVarP(&sessMessage, "message", "m", "", "Diff the turn containing this message")
	sessionUndoCmd.Flags().IntVarP(&undoCount, "count", "n", 1, "Number of turns to undo")
	sessionRevertCmd.Flags().StringVar(&sessPart, "part", "", "Part ID within the message")
	sessionForkCmd.Flags().StringVarP(&sessMessage, "message", "m", "", "Last message to copy into the fork")
	sessionForkCmd.Flags().StringVar(&sessTitle, "title", "", "Fork title")

	sessionCmd.AddCommand(
		sessionListCmd,
		sessionCreateCmd,
		sessionShowCmd,
		sessionBeginCmd,
		sessionEndCmd,
		sessionDiffCmd,
		sessionUndoCmd,
		sessionRevertCmd,
		sessionUnrevertCmd,
		sessionForkCmd,
		sessionDeleteCmd,
	)
}

// openService builds a session service over the on-disk store.
func openService() (*session.Service, string, error) {
	dir, cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, "", err
	}
	opts := append(session.FromConfig(cfg),
		session.WithStore(session.NewDiskStore(storage.New(paths.StoragePath()))))
	return session.NewService(opts...), dir, nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	svc, dir, err := openService()
	if err != nil {
		return err
	}
	sessions, err := svc.List(cmd.Context())
	if err != nil {
		return err
	}
	if listProject {
		id := project.ID(cmd.Context(), dir)
		kept := sessions[:0]
		for _, s := range sessions {
			if s.ProjectID == id {
				kept = append(kept, s)
			}
		}
		sessions = kept
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tUPDATED\tDIRECTORY")
	for _, s := range sessions {
		updated := time.UnixMilli(s.Time.Updated).Format(time.DateTime)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Title, updated, s.Directory)
	}
	return w.Flush()
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	svc, dir, err := openService()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	sess, err := svc.Create(cmd.Context(), abs, session.CreateOptions{Title: sessTitle, BypassMode: sessBypass})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	sess, err := svc.Get(ctx, args[0])
	if err != nil {
		return err
	}
	turns, err := svc.Turns(ctx, sess.ID)
	if err != nil {
		return err
	}
	msgs, err := svc.Messages(ctx, sess.ID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, string(data))
	fmt.Fprintln(out)

	for _, t := range turns {
		state := "done"
		if t.Open() {
			state = "open"
		}
		fmt.Fprintf(out, "turn %d [%s] %s..%s\n", t.Number, state, short(t.Start), short(t.End))
		end := len(msgs)
		for _, next := range turns {
			if next.Number > t.Number {
				end = next.FirstMessageIndex
				break
			}
		}
		for _, m := range msgs[min(t.FirstMessageIndex, len(msgs)):min(end, len(msgs))] {
			fmt.Fprintf(out, "  %s %-9s %s\n", m.Info.ID, m.Info.Role, preview(m))
		}
	}
	return nil
}

func runSessionBegin(cmd *cobra.Command, args []string) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	turn, err := svc.BeginTurn(cmd.Context(), args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "turn %d started at %s\n", turn.Number, short(turn.Start))
	return nil
}

func runSessionEnd(cmd *cobra.Command, args []string) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	sess, err := svc.EndTurn(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if sess.Summary == nil || sess.Summary.Files == 0 {
		fmt.Fprintln(out, "no changes")
		return nil
	}
	fmt.Fprintf(out, "%d files changed, +%d -%d\n", sess.Summary.Files, sess.Summary.Additions, sess.Summary.Deletions)
	return nil
}

func runSessionDiff(cmd *cobra.Command, args []string) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	diffs, err := svc.Diff(cmd.Context(), args[0], sessMessage)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), snapshot.RenderPatch(diffs))
	return nil
}

func runSessionUndo(cmd *cobra.Command, args []string) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	res, err := svc.UndoTurns(cmd.Context(), args[0], undoCount)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "undid %d turns, removed %d messages\n", res.TurnsUndone, res.MessagesRemoved)
	if res.SnapshotRestored {
		fmt.Fprintf(out, "restored %d files\n", res.FilesReverted)
	} else {
		fmt.Fprintln(out, "files were not restored: no snapshot for this turn")
	}
	return nil
}

func runSessionRevert(cmd *cobra.Command, args []string) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	sess, err := svc.Revert(cmd.Context(), args[0], args[1], sessPart)
	if err != nil {
		return err
	}
	if sess.Revert != nil && sess.Revert.Diff != nil {
		fmt.Fprint(cmd.OutOrStdout(), *sess.Revert.Diff)
	}
	return nil
}

func runSessionUnrevert(cmd *cobra.Command, args []string) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	_, err = svc.Unrevert(cmd.Context(), args[0])
	return err
}

func runSessionFork(cmd *cobra.Command, args []string) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	child, err := svc.Fork(cmd.Context(), args[0], session.ForkOptions{MessageID: sessMessage, Title: sessTitle})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), child.ID)
	return nil
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	return svc.Delete(cmd.Context(), args[0])
}

func short(hash string) string {
	if hash == "" {
		return "-"
	}
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// preview returns the first line of a message's text, or its part kinds.
func preview(m types.MessageWithParts) string {
	var kinds []string
	for _, p := range m.Parts {
		if tp, ok := p.(*types.TextPart); ok && tp.Text != "" {
			line, _, _ := strings.Cut(tp.Text, "\n")
			if len(line) > 60 {
				line = line[:57] + "..."
			}
			return line
		}
		kinds = append(kinds, p.PartType())
	}
	return "[" + strings.Join(kinds, ",") + "]"
}
