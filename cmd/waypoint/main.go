// Waypoint checkpoints and restores the working state of a long-running
// project workflow, and drives its Research or SDLC phase machine.
//
// Usage:
//
//	# Set up .waypoint/ in the current directory
//	waypoint init --methodology sdlc
//
//	# Snapshot the live state
//	waypoint create "design review done"
//
//	# Restore a snapshot after losing context
//	waypoint restore CP_2_003
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	projectDir string
	root       string
	configFile string
	yes        bool
	json       bool
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "waypoint",
		Short: "Checkpoint and recover project workflow state",
		Long: `waypoint captures the live state of a project workflow into immutable,
verifiable checkpoints and restores it after an interruption.

The state lives in the waypoint root (.waypoint/ by default): the state
document, the checkpoint log, the handoff notes, and the active agent and
capability records. Checkpoints are written under checkpoints/snapshots/.

Examples:
  # Initialize a project
  waypoint init --methodology research

  # Create a checkpoint and list them
  waypoint create "hypothesis drafted"
  waypoint list

  # Check recovery completeness
  waypoint status`,
		Version:      fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.projectDir, "project", "", "Project directory (defaults to current directory)")
	flags.StringVar(&opts.root, "root", "", "Waypoint root (defaults to <project>/.waypoint)")
	flags.StringVar(&opts.configFile, "config", "", "Config file (defaults to <root>/config.yaml)")
	flags.BoolVarP(&opts.yes, "yes", "y", false, "Answer yes to confirmation prompts")
	flags.BoolVar(&opts.json, "json", false, "Output results as JSON")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	cmd.AddCommand(
		newInitCmd(opts),
		newCreateCmd(opts),
		newListCmd(opts),
		newRestoreCmd(opts),
		newVerifyCmd(opts),
		newShowCmd(opts),
		newStatusCmd(opts),
		newCompletenessCmd(opts),
		newPhaseCmd(opts),
		newAgentCmd(opts),
	)
	return cmd
}
