package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/evmts/agentcore/internal/permission"
)

var checkBashCmd = &cobra.Command{
	Use:   "check-bash <command...>",
	Short: "Classify a shell command against the permission configuration",
	Long: `Classify a shell command the way the permission gate would: the
configured level, whether it trips the dangerous-command heuristic, and the
patterns an "always allow" answer would record.

Examples:
  agentcore check-bash git status
  agentcore check-bash 'cd /tmp && rm -rf build'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheckBash,
}

func runCheckBash(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	command := strings.Join(args, " ")
	checker := permission.NewChecker(permission.NewStore(permission.ConfigFromTypes(cfg.Permission)), nil)
	out := cmd.OutOrStdout()

	level := checker.CheckBash(command, "")
	fmt.Fprintf(out, "%s %s\n", color.New(color.Bold).Sprint("level:"), levelColor(level).Sprint(level))

	if dangerous, warning := permission.IsDangerousBashCommand(command); dangerous {
		fmt.Fprintln(out, color.New(color.FgRed, color.Bold).Sprint(warning))
	}

	if patterns := permission.SuggestPatterns(command); len(patterns) > 0 {
		fmt.Fprintln(out, color.New(color.Bold).Sprint("patterns:"))
		for _, p := range patterns {
			fmt.Fprintf(out, "  %s\n", p)
		}
	}
	return nil
}

func levelColor(level permission.Level) *color.Color {
	switch level {
	case permission.LevelAllow:
		return color.New(color.FgGreen)
	case permission.LevelDeny:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}
