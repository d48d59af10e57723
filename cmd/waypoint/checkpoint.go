package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/waypoint/internal/checkpoint"
)

func newCreateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create [message]",
		Short: "Create a checkpoint of the live state",
		Long: `Snapshot the live state into a new checkpoint in the current macro phase.

The snapshot holds the state document, the handoff notes, the active agent
and capability records, tails of the decision and execution logs, git
provenance, and a manifest of content digests.

Examples:
  # Checkpoint with a message
  waypoint create "finished literature review"

  # Output as JSON
  waypoint create "pre-deploy" --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := ""
			if len(args) == 1 {
				message = args[0]
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.manager.Create(ctx, message)
				if err != nil {
					return fmt.Errorf("failed to create checkpoint: %w", err)
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), res)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Checkpoint created: %s\n", res.ID)
				fmt.Fprintf(out, "Phase:     %d (%s), progress %d%%\n", res.Phase, res.Phase.Label(), res.Progress)
				fmt.Fprintf(out, "Files:     %d\n", res.Files)
				if res.Git.Available {
					fmt.Fprintf(out, "Git:       %s on %s (%d dirty)\n", res.Git.ShortCommit(), res.Git.Branch, res.Git.DirtyFiles)
				}
				if res.Redactions > 0 {
					fmt.Fprintf(out, "Redacted:  %d secrets in captured logs\n", res.Redactions)
				}
				if res.Commit != "" {
					fmt.Fprintf(out, "Committed: %s\n", truncate(res.Commit, 12))
				}
				return nil
			})
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List checkpoints grouped by macro phase",
		Long: `List every checkpoint recorded in the checkpoint log, grouped by macro
phase. The checkpoint the state document points at is marked with *.

Examples:
  waypoint list
  waypoint list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				listing, err := a.manager.List(ctx)
				if err != nil {
					return fmt.Errorf("failed to list checkpoints: %w", err)
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), listing)
				}
				printListing(cmd.OutOrStdout(), listing)
				return nil
			})
		},
	}
}

func printListing(out io.Writer, listing *checkpoint.Listing) {
	if len(listing.Groups) == 0 {
		fmt.Fprintln(out, "No checkpoints found")
	}
	st := newStyles(out)
	for _, g := range listing.Groups {
		fmt.Fprintln(out, st.header.Render(fmt.Sprintf("Phase %d: %s", g.Phase, g.Label)))
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, e := range g.Entries {
			marker := " "
			if e.Current {
				marker = "*"
			}
			missing := ""
			if !e.Exists {
				missing = "(missing)"
			}
			fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\n", marker, e.ID, e.Time, truncate(e.Message, 50), missing)
		}
		w.Flush()
	}
	if len(listing.Events) > 0 {
		fmt.Fprintln(out, st.header.Render("Events"))
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, e := range listing.Events {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", e.ID, e.Time, truncate(e.Message, 50))
		}
		w.Flush()
	}
	if listing.Skipped > 0 {
		fmt.Fprintln(out, st.dim.Render(fmt.Sprintf("(%d malformed log lines skipped)", listing.Skipped)))
	}
}

func newRestoreCmd(opts *options) *cobra.Command {
	var allowCorrupt bool

	cmd := &cobra.Command{
		Use:   "restore <checkpoint-id>",
		Short: "Restore the live state from a checkpoint",
		Long: `Replace the live state document, handoff notes, and active agent and
capability records with the contents of a checkpoint.

The live files are first copied into checkpoints/snapshots/backup_<time>/.
Manifest checkpoints are verified before anything is touched; a checkpoint
that fails verification is only restored with --allow-corrupt or an
interactive confirmation. --yes skips the confirmation prompt but never
overrides a failed integrity check.

Examples:
  # Restore with a confirmation prompt
  waypoint restore CP_2_003

  # Restore without prompting
  waypoint restore CP_2_003 --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.manager.Restore(ctx, id, checkpoint.RestoreOptions{
					Force:        opts.yes,
					AllowCorrupt: allowCorrupt,
					Confirmer:    a.confirmer,
				})
				switch {
				case errors.Is(err, checkpoint.ErrRestoreCancelled):
					fmt.Fprintln(cmd.OutOrStdout(), "Restore cancelled; live state unchanged")
					return nil
				case errors.Is(err, checkpoint.ErrCheckpointNotFound):
					printAvailable(ctx, cmd.ErrOrStderr(), a)
					return err
				case err != nil:
					return fmt.Errorf("failed to restore %s: %w", id, err)
				}

				if opts.json {
					return outputJSON(cmd.OutOrStdout(), res)
				}
				out := cmd.OutOrStdout()
				st := newStyles(out)
				fmt.Fprintf(out, "Restored %s\n", res.ID)
				if res.Info != nil {
					fmt.Fprintf(out, "Created:  %s\n", res.Info.Timestamp)
					fmt.Fprintf(out, "Message:  %s\n", res.Info.Message)
				}
				fmt.Fprintf(out, "Backup:   %s\n", res.BackupDir)
				fmt.Fprintf(out, "Files:    %s\n", strings.Join(res.Files, ", "))
				if res.OverrodeCorruption {
					fmt.Fprintln(out, st.incomplete.Render("Integrity check failed; restored by override"))
				}
				fmt.Fprintf(out, "Completeness: %d/100 %s\n", res.Score.Total, st.band(res.Score.Band))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&allowCorrupt, "allow-corrupt", false, "Restore even if the checkpoint fails verification")
	return cmd
}

// printAvailable lists known checkpoint ids after a failed lookup.
func printAvailable(ctx context.Context, w io.Writer, a *app) {
	listing, err := a.manager.List(ctx)
	if err != nil || len(listing.Groups) == 0 {
		fmt.Fprintln(w, "No checkpoints available")
		return
	}
	var ids []string
	for _, g := range listing.Groups {
		for _, e := range g.Entries {
			ids = append(ids, e.ID)
		}
	}
	fmt.Fprintf(w, "Available checkpoints: %s\n", strings.Join(ids, ", "))
}

func newVerifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <checkpoint-id>",
		Short: "Verify a checkpoint's integrity",
		Long: `Recompute the content digests of a checkpoint and compare them with its
manifest. Nothing is modified. Exits non-zero if the checkpoint has errors.

Examples:
  waypoint verify CP_1_002`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				report, err := a.manager.Verify(ctx, id)
				if err != nil {
					return err
				}
				if opts.json {
					if err := outputJSON(cmd.OutOrStdout(), report); err != nil {
						return err
					}
				} else {
					printReport(cmd.OutOrStdout(), report)
				}
				if !report.Valid() {
					return fmt.Errorf("%w: %s has %d errors", checkpoint.ErrCorruptCheckpoint, id, len(report.Errors))
				}
				return nil
			})
		},
	}
}

func printReport(out io.Writer, r *checkpoint.VerifyReport) {
	st := newStyles(out)
	status := st.good.Render("VALID")
	if !r.Valid() {
		status = st.incomplete.Render("CORRUPT")
	}
	fmt.Fprintf(out, "%s: %s (%s format, %s layout)\n", r.ID, status, r.Format, r.Layout)
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  error:   %s\n", e)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "show <checkpoint-id>",
		Aliases: []string{"inspect"},
		Short:   "Show a checkpoint's provenance",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				info, err := a.manager.Inspect(ctx, args[0])
				if err != nil {
					return err
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), info)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:        %s\n", info.ID)
				fmt.Fprintf(out, "Created:   %s\n", info.Timestamp)
				fmt.Fprintf(out, "Message:   %s\n", info.Message)
				fmt.Fprintf(out, "Directory: %s\n", info.Dir)
				fmt.Fprintf(out, "Format:    %s (%s layout)\n", info.Format, info.Layout)
				if m := info.Metadata; m != nil && m.Git.Commit != "" {
					fmt.Fprintf(out, "Git:       %s on %s (%d dirty)\n", m.Git.ShortCommit(), m.Git.Branch, m.Git.DirtyFiles)
				}
				if info.Migrated {
					fmt.Fprintln(out, "Metadata:  migrated from an older format")
				}
				return nil
			})
		},
	}
}
