package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/waypoint/internal/activation"
)

func newAgentCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage the active agent role and its capabilities",
		Long: `Record which agent role is active and which capabilities are enabled.
Both records are captured in every checkpoint and written back on restore.

When registry/agents.yaml or registry/capabilities.yaml exist, names are
checked against them and activating an agent enables its default
capabilities.

Examples:
  waypoint agent activate reviewer --reason "entering peer review"
  waypoint agent enable web-search citations
  waypoint agent show`,
	}
	cmd.AddCommand(
		newAgentActivateCmd(opts),
		newAgentShowCmd(opts),
		newAgentCapabilityCmd(opts, "enable", "Enable capabilities", (*activation.Activator).Enable),
		newAgentCapabilityCmd(opts, "disable", "Disable capabilities", (*activation.Activator).Disable),
	)
	return cmd
}

func newAgentActivateCmd(opts *options) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "activate <agent>",
		Short: "Make an agent role active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				rec, caps, err := a.activator.Activate(ctx, args[0], reason)
				if err != nil {
					return fmt.Errorf("failed to activate agent: %w", err)
				}
				return printAgent(cmd.OutOrStdout(), opts, rec, caps)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the role is being activated")
	return cmd
}

func newAgentShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active agent and enabled capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				rec, caps, err := a.activator.Current()
				if err != nil && !errors.Is(err, activation.ErrNoActiveAgent) {
					return err
				}
				return printAgent(cmd.OutOrStdout(), opts, rec, caps)
			})
		},
	}
}

type capabilityUpdate func(*activation.Activator, context.Context, ...string) (*activation.CapabilitySet, error)

func newAgentCapabilityCmd(opts *options, use, short string, update capabilityUpdate) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <capability>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				caps, err := update(a.activator, ctx, args...)
				if err != nil {
					return fmt.Errorf("failed to %s capabilities: %w", use, err)
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), caps)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enabled capabilities: %s\n", joinOrNone(caps.Enabled))
				return nil
			})
		},
	}
}

func printAgent(out io.Writer, opts *options, rec *activation.AgentRecord, caps *activation.CapabilitySet) error {
	if opts.json {
		return outputJSON(out, struct {
			Agent        *activation.AgentRecord   `json:"agent"`
			Capabilities *activation.CapabilitySet `json:"capabilities"`
		}{rec, caps})
	}
	if rec == nil {
		fmt.Fprintln(out, "Agent:        none")
	} else {
		fmt.Fprintf(out, "Agent:        %s\n", rec.Name)
		if rec.Description != "" {
			fmt.Fprintf(out, "Description:  %s\n", rec.Description)
		}
		fmt.Fprintf(out, "Activated:    %s\n", rec.ActivatedAt)
		if rec.Reason != "" {
			fmt.Fprintf(out, "Reason:       %s\n", rec.Reason)
		}
	}
	var enabled []string
	if caps != nil {
		enabled = caps.Enabled
	}
	fmt.Fprintf(out, "Capabilities: %s\n", joinOrNone(enabled))
	return nil
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ", ")
}
