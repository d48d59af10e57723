package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/waypoint/internal/docstore"
	"github.com/fyrsmithlabs/waypoint/internal/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newScorer(t *testing.T) (*Scorer, layout.Layout) {
	t.Helper()
	l := layout.New(t.TempDir())
	store, err := docstore.New(l.StatePath(), docstore.WithMode(docstore.ModeYAML))
	require.NoError(t, err)
	return NewScorer(l, store), l
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		total int
		want  Band
	}{
		{100, BandGood},
		{80, BandGood},
		{79, BandPartial},
		{50, BandPartial},
		{49, BandIncomplete},
		{0, BandIncomplete},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BandFor(tt.total), "total %d", tt.total)
	}
}

func TestScore_Empty(t *testing.T) {
	s, _ := newScorer(t)
	score := s.Score()
	assert.Equal(t, 0, score.Total)
	assert.Equal(t, BandIncomplete, score.Band)
	assert.Len(t, score.Missing(), 6)
}

func TestScore_Complete(t *testing.T) {
	s, l := newScorer(t)
	touch(t, l.StatePath(), "workflow:\n  current_phase: 1\n")
	touch(t, l.LogPath(), "")
	touch(t, l.HandoffPath(), "# handoff\n")
	touch(t, l.ProjectConfigPath(), "name = \"demo\"\n")
	touch(t, l.AgentRegistryPath(), "agents: []\n")
	touch(t, l.CapabilityCatalogPath(), "capabilities: []\n")

	score := s.Score()
	assert.Equal(t, 100, score.Total)
	assert.Equal(t, BandGood, score.Band)
	assert.Empty(t, score.Missing())
}

func TestScore_CoreOnly(t *testing.T) {
	s, l := newScorer(t)
	touch(t, l.StatePath(), "workflow:\n  current_phase: 2\n")
	touch(t, l.LogPath(), "x | CP_2_001 | first\n")

	score := s.Score()
	assert.Equal(t, 70, score.Total)
	assert.Equal(t, BandPartial, score.Band)
	assert.ElementsMatch(t, []string{"handoff", "project config", "agent registry", "capability catalog"}, score.Missing())
}

func TestScore_UnparseableStateDoesNotCount(t *testing.T) {
	s, l := newScorer(t)
	touch(t, l.StatePath(), "workflow: [unclosed\n")
	touch(t, l.LogPath(), "")

	score := s.Score()
	assert.Equal(t, 35, score.Total)
	assert.False(t, score.Checks[0].Present)
	assert.NotEmpty(t, score.Checks[0].Detail)
}

func TestScore_NilStore(t *testing.T) {
	l := layout.New(t.TempDir())
	touch(t, l.StatePath(), "a: 1\n")
	score := NewScorer(l, nil).Score()
	assert.Equal(t, 0, score.Total)
}
