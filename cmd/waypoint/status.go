package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/waypoint/internal/activation"
	"github.com/fyrsmithlabs/waypoint/internal/checkpoint"
	"github.com/fyrsmithlabs/waypoint/internal/phase"
	"github.com/fyrsmithlabs/waypoint/internal/recovery"
)

// statusReport is the status command's view of the live state.
type statusReport struct {
	Root          string                    `json:"root"`
	Initialized   bool                      `json:"initialized"`
	Project       string                    `json:"project,omitempty"`
	Phase         int                       `json:"phase,omitempty"`
	PhaseLabel    string                    `json:"phase_label,omitempty"`
	Progress      string                    `json:"progress,omitempty"`
	Checkpoint    string                    `json:"checkpoint,omitempty"`
	Methodology   string                    `json:"methodology,omitempty"`
	ResearchPhase string                    `json:"research_phase,omitempty"`
	SDLCPhase     string                    `json:"sdlc_phase,omitempty"`
	Agent         *activation.AgentRecord   `json:"agent,omitempty"`
	Capabilities  *activation.CapabilitySet `json:"capabilities,omitempty"`
	Score         recovery.Score            `json:"score"`
	Problems      []string                  `json:"problems,omitempty"`
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the live workflow state and recovery completeness",
		Long: `Summarize the live state: macro phase and progress, the current
checkpoint, the methodology sub-phase, the active agent, and the recovery
completeness score. Problems reading the state are reported, not fatal.

Examples:
  waypoint status
  waypoint status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts, func(ctx context.Context, a *app) error {
				report := collectStatus(ctx, a)
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), report)
				}
				printStatus(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
}

func collectStatus(ctx context.Context, a *app) *statusReport {
	r := &statusReport{Root: a.layout.Root, Initialized: a.store.Exists()}
	r.Problems = append(r.Problems, a.problems...)
	r.Score = a.manager.Score()
	if !r.Initialized {
		return r
	}

	doc, err := a.store.Load()
	if err != nil {
		a.logger.Warn(ctx, "state document unreadable", zap.Error(err))
		r.Problems = append(r.Problems, err.Error())
		return r
	}
	r.Project, _ = doc.Get("project.name")
	r.Checkpoint, _ = doc.Get(checkpoint.KeyCurrentCheckpoint)
	r.Methodology, _ = doc.Get(phase.KeyMethodology)
	r.ResearchPhase, _ = doc.Get(phase.Research().Field())
	r.SDLCPhase, _ = doc.Get(phase.SDLC().Field())

	raw, _ := doc.Get(phase.KeyCurrentPhase)
	if m, err := phase.ParseMacro(raw); err == nil {
		r.Phase, r.PhaseLabel = int(m), m.Label()
		r.Progress, _ = doc.Get(m.ProgressKey())
	} else {
		r.Problems = append(r.Problems, err.Error())
	}

	agent, caps, err := a.activator.Current()
	switch {
	case err == nil:
		r.Agent, r.Capabilities = agent, caps
	case errors.Is(err, activation.ErrNoActiveAgent):
		r.Capabilities = caps
	default:
		r.Problems = append(r.Problems, err.Error())
	}
	return r
}

func printStatus(out io.Writer, r *statusReport) {
	st := newStyles(out)
	fmt.Fprintln(out, st.header.Render("Waypoint status"))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	row := func(label, value string) {
		fmt.Fprintf(w, "%s\t%s\n", st.label.Render(label), value)
	}
	row("Root", r.Root)
	if !r.Initialized {
		row("State", "not initialized (run `waypoint init`)")
	} else {
		row("Project", orDash(r.Project))
		if r.PhaseLabel != "" {
			row("Macro phase", fmt.Sprintf("%d %s (%s%%)", r.Phase, r.PhaseLabel, orDash(r.Progress)))
		}
		row("Checkpoint", orDash(r.Checkpoint))
		row("Methodology", orDash(r.Methodology))
		row("Research phase", orDash(r.ResearchPhase))
		row("SDLC phase", orDash(r.SDLCPhase))
		if r.Agent != nil {
			row("Agent", r.Agent.Name)
		} else {
			row("Agent", "-")
		}
		if r.Capabilities != nil && len(r.Capabilities.Enabled) > 0 {
			row("Capabilities", fmt.Sprintf("%d enabled", len(r.Capabilities.Enabled)))
		}
	}
	row("Completeness", fmt.Sprintf("%d/100 %s", r.Score.Total, st.band(r.Score.Band)))
	w.Flush()

	for _, p := range r.Problems {
		fmt.Fprintln(out, st.partial.Render("warning: "+p))
	}
}

func newCompletenessCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "completeness",
		Short: "Score how much persisted state would survive a restart",
		Long: `Check the persisted artifacts a fresh session needs and report a weighted
0-100 score: 80 and above is GOOD, 50-79 PARTIAL, below 50 INCOMPLETE.
The score is advisory; this command always exits 0.

Examples:
  waypoint completeness`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts, func(ctx context.Context, a *app) error {
				score := a.manager.Score()
				for _, p := range a.problems {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", p)
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), score)
				}
				printScore(cmd.OutOrStdout(), score)
				return nil
			})
		},
	}
}

func printScore(out io.Writer, s recovery.Score) {
	st := newStyles(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, c := range s.Checks {
		detail := c.Detail
		if detail == "" {
			detail = c.Path
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", st.mark(c.Present), c.Name, c.Weight, st.dim.Render(detail))
	}
	w.Flush()
	fmt.Fprintf(out, "Completeness: %d/100 %s\n", s.Total, st.band(s.Band))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
