// Package recovery scores how much persisted project state survived an
// unexpected restart.
//
// The score is advisory: callers display it, record it as a metric, and move
// on. Nothing blocks on a low score.
package recovery

import (
	"os"

	"github.com/fyrsmithlabs/waypoint/internal/docstore"
	"github.com/fyrsmithlabs/waypoint/internal/layout"
)

// Band classifies a score.
type Band string

const (
	BandGood       Band = "GOOD"
	BandPartial    Band = "PARTIAL"
	BandIncomplete Band = "INCOMPLETE"
)

// BandFor maps a 0-100 score to its band.
func BandFor(total int) Band {
	switch {
	case total >= 80:
		return BandGood
	case total >= 50:
		return BandPartial
	default:
		return BandIncomplete
	}
}

// Check is one weighted item of the checklist.
type Check struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Weight  int    `json:"weight"`
	Present bool   `json:"present"`
	Detail  string `json:"detail,omitempty"`
}

// Score is the weighted sum of present checks.
type Score struct {
	Total  int     `json:"total"`
	Band   Band    `json:"band"`
	Checks []Check `json:"checks"`
}

// Missing returns the names of checks that did not pass.
func (s Score) Missing() []string {
	var out []string
	for _, c := range s.Checks {
		if !c.Present {
			out = append(out, c.Name)
		}
	}
	return out
}

// Scorer inspects a waypoint root.
type Scorer struct {
	layout layout.Layout
	store  *docstore.Store
}

// NewScorer creates a scorer. The state document counts only if store can
// parse it.
func NewScorer(l layout.Layout, store *docstore.Store) *Scorer {
	return &Scorer{layout: l, store: store}
}

// Score runs the checklist. Weights sum to 100.
func (s *Scorer) Score() Score {
	checks := []Check{
		s.stateCheck(),
		fileCheck("checkpoint log", s.layout.LogPath(), 35),
		fileCheck("handoff", s.layout.HandoffPath(), 10),
		fileCheck("project config", s.layout.ProjectConfigPath(), 10),
		fileCheck("agent registry", s.layout.AgentRegistryPath(), 5),
		fileCheck("capability catalog", s.layout.CapabilityCatalogPath(), 5),
	}

	total := 0
	for _, c := range checks {
		if c.Present {
			total += c.Weight
		}
	}
	return Score{Total: total, Band: BandFor(total), Checks: checks}
}

func (s *Scorer) stateCheck() Check {
	c := Check{Name: "state document", Path: s.layout.StatePath(), Weight: 35}
	if s.store == nil {
		c.Detail = "no store"
		return c
	}
	if _, err := s.store.Load(); err != nil {
		c.Detail = err.Error()
		return c
	}
	c.Present = true
	return c
}

func fileCheck(name, path string, weight int) Check {
	c := Check{Name: name, Path: path, Weight: weight}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		c.Detail = "missing"
	case info.IsDir():
		c.Detail = "is a directory"
	default:
		c.Present = true
	}
	return c
}
