package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/waypoint/internal/phase"
)

func newPhaseCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Drive the Research or SDLC phase machine",
		Long: `Move the methodology sub-phase through its chain.

Research: hypothesis, literature_review, experiment_design, data_collection,
analysis, peer_review, publication.
SDLC: requirements, design, implementation, verification, deployment,
maintenance.

start begins the chain, next advances it, reject and fail regress it, and
reset clears it. complete marks the current macro phase done and moves to
the next one. Every transition is recorded in the decision log.

Examples:
  # Begin a research cycle
  waypoint phase start research --reason "new question"

  # Advance, or send back after a failed review
  waypoint phase next
  waypoint phase reject --reason "reviewer found a flaw in the analysis"

  # Finish the macro phase
  waypoint phase complete`,
	}

	cmd.AddCommand(
		newPhaseStartCmd(opts),
		newPhaseActionCmd(opts, phase.ActionNext, "Advance to the next phase"),
		newPhaseActionCmd(opts, phase.ActionReject, "Regress after a rejected review"),
		newPhaseActionCmd(opts, phase.ActionFail, "Regress after a failed validation"),
		newPhaseActionCmd(opts, phase.ActionReset, "Clear the phase back to none"),
		newPhaseShowCmd(opts),
		newPhaseCompleteCmd(opts),
	)
	return cmd
}

func newPhaseStartCmd(opts *options) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "start <research|sdlc>",
		Short: "Start a methodology at its first phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := phase.ForMethodology(args[0])
			if err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.phases.Apply(ctx, m, phase.ActionStart, reason)
				if err != nil {
					return err
				}
				return printTransition(cmd.OutOrStdout(), opts, res)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the decision log")
	return cmd
}

func newPhaseActionCmd(opts *options, action phase.Action, short string) *cobra.Command {
	var reason, methodology string
	cmd := &cobra.Command{
		Use:   string(action),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				m, err := machineFor(a, methodology)
				if err != nil {
					return err
				}
				res, err := a.phases.Apply(ctx, m, action, reason)
				if err != nil {
					return err
				}
				return printTransition(cmd.OutOrStdout(), opts, res)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the decision log")
	cmd.Flags().StringVar(&methodology, "methodology", "", "Methodology (defaults to the active one)")
	return cmd
}

// machineFor picks the named machine, or the one recorded in the state
// document.
func machineFor(a *app, name string) (*phase.Machine, error) {
	if name != "" {
		return phase.ForMethodology(name)
	}
	return a.phases.Methodology()
}

func printTransition(out io.Writer, opts *options, res phase.Result) error {
	if opts.json {
		return outputJSON(out, res)
	}
	switch {
	case res.CycleComplete:
		fmt.Fprintf(out, "%s cycle complete at %s\n", res.Methodology, res.To)
	case !res.Changed():
		fmt.Fprintf(out, "%s: already at %s\n", res.Methodology, res.To)
	default:
		fmt.Fprintf(out, "%s: %s -> %s\n", res.Methodology, res.From, res.To)
	}
	return nil
}

// phaseView is the phase show output.
type phaseView struct {
	Macro       int            `json:"macro"`
	MacroLabel  string         `json:"macro_label"`
	Progress    string         `json:"progress"`
	Methodology string         `json:"methodology,omitempty"`
	Machines    []machineState `json:"machines"`
}

type machineState struct {
	Name    string   `json:"name"`
	Current string   `json:"current"`
	Chain   []string `json:"chain"`
}

func newPhaseShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the macro phase and both methodology chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				view, err := collectPhases(a)
				if err != nil {
					return err
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), view)
				}

				out := cmd.OutOrStdout()
				st := newStyles(out)
				fmt.Fprintf(out, "Macro phase: %d %s (%s%%)\n", view.Macro, view.MacroLabel, orDash(view.Progress))
				for _, ms := range view.Machines {
					title := ms.Name
					if ms.Name == view.Methodology {
						title += " (active)"
					}
					fmt.Fprintln(out, st.header.Render(title))
					steps := make([]string, len(ms.Chain))
					for i, p := range ms.Chain {
						if p == ms.Current {
							p = "[" + p + "]"
						}
						steps[i] = p
					}
					fmt.Fprintf(out, "  %s\n", strings.Join(steps, " > "))
				}
				return nil
			})
		},
	}
}

func collectPhases(a *app) (*phaseView, error) {
	doc, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	raw, _ := doc.Get(phase.KeyCurrentPhase)
	macro, err := phase.ParseMacro(raw)
	if err != nil {
		return nil, err
	}
	view := &phaseView{Macro: int(macro), MacroLabel: macro.Label()}
	view.Progress, _ = doc.Get(macro.ProgressKey())
	view.Methodology, _ = doc.Get(phase.KeyMethodology)

	for _, m := range []*phase.Machine{phase.Research(), phase.SDLC()} {
		cur, ok := doc.Get(m.Field())
		if !ok || cur == "" {
			cur = phase.None
		}
		view.Machines = append(view.Machines, machineState{Name: m.Name(), Current: cur, Chain: m.Phases()})
	}
	return view, nil
}

func newPhaseCompleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "complete",
		Short: "Mark the macro phase done and advance to the next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				from, to, err := a.phases.Complete(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.json {
					return outputJSON(out, map[string]any{
						"from":       int(from),
						"to":         int(to),
						"from_label": from.Label(),
						"to_label":   to.Label(),
					})
				}
				if from == to {
					fmt.Fprintf(out, "Macro phase %d %s complete (final phase)\n", from, from.Label())
					return nil
				}
				fmt.Fprintf(out, "Macro phase %d %s complete; now in %d %s\n", from, from.Label(), to, to.Label())
				return nil
			})
		},
	}
}
