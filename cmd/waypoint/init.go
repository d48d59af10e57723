package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/waypoint/internal/phase"
	"github.com/fyrsmithlabs/waypoint/internal/project"
	"github.com/fyrsmithlabs/waypoint/internal/txn"
)

// initialState is the state document written by init.
type initialState struct {
	Version int `yaml:"version"`
	Project struct {
		Name string `yaml:"name"`
	} `yaml:"project"`
	Workflow struct {
		CurrentPhase      int    `yaml:"current_phase"`
		CurrentCheckpoint string `yaml:"current_checkpoint"`
		Methodology       string `yaml:"methodology"`
		ResearchPhase     string `yaml:"research_phase"`
		SDLCPhase         string `yaml:"sdlc_phase"`
		LastUpdated       string `yaml:"last_updated"`
	} `yaml:"workflow"`
	Progress struct {
		Phase1 int `yaml:"phase_1"`
		Phase2 int `yaml:"phase_2"`
		Phase3 int `yaml:"phase_3"`
		Phase4 int `yaml:"phase_4"`
		Phase5 int `yaml:"phase_5"`
	} `yaml:"progress"`
}

// initResult reports what init created. Existing files are left alone.
type initResult struct {
	Root    string   `json:"root"`
	Project string   `json:"project_id"`
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

func newInitCmd(opts *options) *cobra.Command {
	var name, methodology string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the waypoint root for a project",
		Long: `Create the waypoint root with an initial state document, an empty
checkpoint log and project.toml. Files that already exist are kept, so
init is safe to re-run after a partial setup.

Examples:
  # Initialize with the directory name as project name
  waypoint init

  # Initialize a research project
  waypoint init --name thesis --methodology research`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := initialize(ctx, a, name, methodology)
				if err != nil {
					return err
				}
				if a.opts.json {
					return outputJSON(cmd.OutOrStdout(), res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Initialized waypoint root: %s\n", res.Root)
				for _, p := range res.Created {
					fmt.Fprintf(out, "  created  %s\n", p)
				}
				for _, p := range res.Skipped {
					fmt.Fprintf(out, "  exists   %s\n", p)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Project name (defaults to the directory name)")
	cmd.Flags().StringVar(&methodology, "methodology", "", "Methodology: research or sdlc")
	return cmd
}

func initialize(ctx context.Context, a *app, name, methodology string) (*initResult, error) {
	if methodology != "" {
		m, err := phase.ForMethodology(methodology)
		if err != nil {
			return nil, err
		}
		methodology = m.Name()
	}

	l := a.layout
	for _, dir := range []string{l.Root, filepath.Dir(l.DecisionLogPath()), filepath.Dir(l.AgentPath()), l.SnapshotsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	res := &initResult{Root: l.Root}
	track := func(path string, created bool) {
		rel, err := filepath.Rel(l.Root, path)
		if err != nil {
			rel = path
		}
		if created {
			res.Created = append(res.Created, rel)
		} else {
			res.Skipped = append(res.Skipped, rel)
		}
	}

	proj, err := project.Load(l.ProjectConfigPath())
	switch {
	case err == nil:
		track(l.ProjectConfigPath(), false)
	case errors.Is(err, project.ErrProjectNotFound):
		proj, err = project.NewProject(name, a.projectDir)
		if err != nil {
			return nil, err
		}
		proj.Methodology = methodology
		if err := project.Create(l.ProjectConfigPath(), proj); err != nil {
			return nil, err
		}
		track(l.ProjectConfigPath(), true)
	default:
		return nil, err
	}
	res.Project = proj.ID

	if a.store.Exists() {
		track(l.StatePath(), false)
	} else {
		data, err := renderInitialState(proj.Name, methodology, time.Now())
		if err != nil {
			return nil, err
		}
		if err := a.store.Create(data); err != nil {
			return nil, err
		}
		track(l.StatePath(), true)
	}

	for _, path := range []string{l.LogPath(), l.DecisionLogPath(), l.ExecutionLogPath()} {
		if _, err := os.Stat(path); err == nil {
			track(path, false)
			continue
		}
		if err := txn.WriteFile(path, nil); err != nil {
			return nil, err
		}
		track(path, true)
	}

	a.logger.Info(ctx, "waypoint initialized",
		zap.String("root", l.Root),
		zap.Int("created", len(res.Created)))
	return res, nil
}

func renderInitialState(name, methodology string, now time.Time) ([]byte, error) {
	var s initialState
	s.Version = 1
	s.Project.Name = name
	s.Workflow.CurrentPhase = int(phase.FirstMacro)
	s.Workflow.Methodology = methodology
	s.Workflow.ResearchPhase = phase.None
	s.Workflow.SDLCPhase = phase.None
	s.Workflow.LastUpdated = now.UTC().Format(time.RFC3339)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&s); err != nil {
		return nil, fmt.Errorf("failed to render state document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render state document: %w", err)
	}
	return buf.Bytes(), nil
}
