// Package commands provides the CLI commands for agentcore.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/evmts/agentcore/internal/config"
	"github.com/evmts/agentcore/internal/logging"
	"github.com/evmts/agentcore/pkg/types"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
)

var rootCmd = &cobra.Command{
	Use:   "agentcore",
	Short: "Session, snapshot and permission core for coding agents",
	Long: `agentcore manages agent sessions: conversation history, per-turn
file snapshots, undo/revert/fork, and permission gating of tool calls.

The commands here inspect and operate on the persisted session store.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "directory", "C", "", "Working directory")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agentcore %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(checkBashCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(sessionCmd)
}

// Execute runs the root command.
func Execute() error {
	defer logging.Close()
	return rootCmd.Execute()
}

// setup loads .env and initializes logging for every subcommand.
func setup(cmd *cobra.Command, args []string) error {
	// a missing .env is the normal case
	_ = godotenv.Load()

	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(level)
	logCfg.Output = io.Discard
	if printLogs {
		logCfg.Output = os.Stderr
		logCfg.Pretty = true
	} else {
		logCfg.Dir = config.GetPaths().LogPath()
	}
	if err := logging.Init(logCfg); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "agentcore: logging to file disabled: %v\n", err)
	}
	return nil
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// loadConfig returns the working directory and its merged configuration.
func loadConfig() (string, *types.Config, error) {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return "", nil, err
	}
	return dir, cfg, nil
}
