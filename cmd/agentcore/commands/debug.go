package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evmts/agentcore/internal/config"
	"github.com/evmts/agentcore/internal/logging"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting agentcore configuration and setup.`,
}

var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runDebugConfig,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show system paths",
	RunE:  runDebugPaths,
}

var debugFeaturesCmd = &cobra.Command{
	Use:   "features",
	Short: "Show feature flags and their effective state",
	RunE:  runDebugFeatures,
}

func init() {
	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugPathsCmd)
	debugCmd.AddCommand(debugFeaturesCmd)
}

func runDebugConfig(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "agentcore paths:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Config:    %s\n", paths.Config)
	fmt.Fprintf(out, "  Data:      %s\n", paths.Data)
	fmt.Fprintf(out, "  Cache:     %s\n", paths.Cache)
	fmt.Fprintf(out, "  State:     %s\n", paths.State)
	fmt.Fprintf(out, "  Storage:   %s\n", paths.StoragePath())
	fmt.Fprintf(out, "  Snapshots: %s\n", paths.SnapshotPath())
	fmt.Fprintf(out, "  Logs:      %s\n", paths.LogPath())
	if file := logging.FilePath(); file != "" {
		fmt.Fprintf(out, "  Log file:  %s\n", file)
	}
	return nil
}

func runDebugFeatures(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	features := config.NewFeatureManager()
	features.LoadFromConfig(cfg)

	out := cmd.OutOrStdout()
	for _, f := range features.List() {
		state := "off"
		if f.Enabled {
			state = "on"
		}
		if f.Overridden {
			state += " (config)"
		}
		fmt.Fprintf(out, "%-22s %-14s %-13s %s\n", f.Name, state, f.Stage, f.Description)
	}
	return nil
}
