package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/waypoint/internal/checkpoint"
	"github.com/fyrsmithlabs/waypoint/internal/docstore"
	"github.com/fyrsmithlabs/waypoint/internal/phase"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func execute(t *testing.T, dir string, args ...string) result {
	t.Helper()
	var out, errb bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errb)
	cmd.SetArgs(append([]string{"--project", dir}, args...))
	err := cmd.ExecuteContext(context.Background())
	return result{stdout: out.String(), stderr: errb.String(), err: err}
}

func mustExecute(t *testing.T, dir string, args ...string) string {
	t.Helper()
	r := execute(t, dir, args...)
	require.NoError(t, r.err, "waypoint %v\nstderr: %s", args, r.stderr)
	return r.stdout
}

func stateValue(t *testing.T, dir, key string) string {
	t.Helper()
	store, err := docstore.New(filepath.Join(dir, ".waypoint", "state.yaml"))
	require.NoError(t, err)
	v, _, err := store.Get(key)
	require.NoError(t, err)
	return v
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	out := mustExecute(t, dir, "init", "--name", "demo", "--methodology", "SDLC")
	assert.Contains(t, out, "created  state.yaml")
	assert.Contains(t, out, "created  project.toml")
	assert.Contains(t, out, "created  checkpoints.log")
	assert.DirExists(t, filepath.Join(dir, ".waypoint", "checkpoints", "snapshots"))

	assert.Equal(t, "demo", stateValue(t, dir, "project.name"))
	assert.Equal(t, "sdlc", stateValue(t, dir, phase.KeyMethodology))
	assert.Equal(t, "1", stateValue(t, dir, phase.KeyCurrentPhase))
	assert.Equal(t, phase.None, stateValue(t, dir, "workflow.sdlc_phase"))

	out = mustExecute(t, dir, "init")
	assert.Contains(t, out, "exists   state.yaml")
	assert.NotContains(t, out, "created")

	r := execute(t, t.TempDir(), "init", "--methodology", "waterfall")
	assert.ErrorIs(t, r.err, phase.ErrUnknownMethodology)
}

func TestCreateAndList(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "init")

	out := mustExecute(t, dir, "create", "first")
	assert.Contains(t, out, "Checkpoint created: CP_1_001")
	assert.Contains(t, out, "progress 10%")

	var res checkpoint.CreateResult
	require.NoError(t, json.Unmarshal([]byte(mustExecute(t, dir, "create", "second", "--json")), &res))
	assert.Equal(t, "CP_1_002", res.ID)
	assert.Equal(t, 20, res.Progress)

	out = mustExecute(t, dir, "list")
	assert.Contains(t, out, "Phase 1: planning")
	assert.Contains(t, out, "  CP_1_001")
	assert.Contains(t, out, "* CP_1_002")
}

func TestCreate_NotInitialized(t *testing.T) {
	r := execute(t, t.TempDir(), "create", "x")
	assert.ErrorIs(t, r.err, checkpoint.ErrNotInitialized)
	assert.Contains(t, r.stderr, "project not initialized")
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "init")
	mustExecute(t, dir, "create", "v")

	out := mustExecute(t, dir, "verify", "CP_1_001")
	assert.Contains(t, out, "CP_1_001: VALID (manifest format")

	snapState := filepath.Join(dir, ".waypoint", "checkpoints", "snapshots", "CP_1_001", "state.yaml")
	f, err := os.OpenFile(snapState, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("# tampered\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r := execute(t, dir, "verify", "CP_1_001")
	assert.ErrorIs(t, r.err, checkpoint.ErrCorruptCheckpoint)
	assert.Contains(t, r.stdout, "CORRUPT")
	assert.Contains(t, r.stdout, "state.yaml")

	r = execute(t, dir, "restore", "CP_1_001", "--yes")
	assert.ErrorIs(t, r.err, checkpoint.ErrCorruptCheckpoint)

	r = execute(t, dir, "verify", "CP_9_001")
	assert.Error(t, r.err)
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "init", "--methodology", "sdlc")
	mustExecute(t, dir, "create", "baseline")

	mustExecute(t, dir, "phase", "start", "sdlc")
	mustExecute(t, dir, "phase", "next", "--reason", "requirements signed off")
	require.Equal(t, "design", stateValue(t, dir, "workflow.sdlc_phase"))

	out := mustExecute(t, dir, "restore", "CP_1_001", "--yes")
	assert.Contains(t, out, "Restored CP_1_001")
	assert.Contains(t, out, "Message:  baseline")
	assert.Contains(t, out, "backup_")

	assert.Equal(t, phase.None, stateValue(t, dir, "workflow.sdlc_phase"))
	assert.Equal(t, "true", stateValue(t, dir, checkpoint.KeyRestored))
	assert.Equal(t, "CP_1_001", stateValue(t, dir, checkpoint.KeyRestoredFrom))

	out = mustExecute(t, dir, "list")
	assert.Contains(t, out, "Events")
	assert.Contains(t, out, "RESTORED:CP_1_001")
}

func TestRestore_NotFoundListsAvailable(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "init")
	mustExecute(t, dir, "create", "a")
	mustExecute(t, dir, "create", "b")

	r := execute(t, dir, "restore", "CP_1_009", "--yes")
	assert.ErrorIs(t, r.err, checkpoint.ErrCheckpointNotFound)
	assert.Contains(t, r.stderr, "Available checkpoints: CP_1_001, CP_1_002")
}

func TestPhaseCommands(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "init")

	r := execute(t, dir, "phase", "next")
	assert.ErrorIs(t, r.err, phase.ErrUnknownMethodology)

	assert.Equal(t, "research: none -> hypothesis\n", mustExecute(t, dir, "phase", "start", "research"))
	assert.Equal(t, "research: hypothesis -> literature_review\n", mustExecute(t, dir, "phase", "next"))
	assert.Equal(t, "research: literature_review -> hypothesis\n",
		mustExecute(t, dir, "phase", "reject", "--reason", "sources too thin"))

	r = execute(t, dir, "phase", "fail")
	assert.ErrorIs(t, r.err, phase.ErrIllegalTransition)

	out := mustExecute(t, dir, "phase", "show")
	assert.Contains(t, out, "Macro phase: 1 planning")
	assert.Contains(t, out, "research (active)")
	assert.Contains(t, out, "[hypothesis] > literature_review")

	decisions, err := os.ReadFile(filepath.Join(dir, ".waypoint", "logs", "decisions.log"))
	require.NoError(t, err)
	assert.Contains(t, string(decisions), "sources too thin")

	assert.Equal(t, "research: hypothesis -> none\n", mustExecute(t, dir, "phase", "reset"))

	out = mustExecute(t, dir, "phase", "complete")
	assert.Contains(t, out, "now in 2 implementation")
	assert.Equal(t, "100", stateValue(t, dir, "progress.phase_1"))

	out = mustExecute(t, dir, "create", "impl")
	assert.Contains(t, out, "CP_2_001")
}

func TestAgentCommands(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "init")

	out := mustExecute(t, dir, "agent", "show")
	assert.Contains(t, out, "Agent:        none")

	out = mustExecute(t, dir, "agent", "activate", "reviewer", "--reason", "peer review")
	assert.Contains(t, out, "Agent:        reviewer")
	assert.Contains(t, out, "Reason:       peer review")

	out = mustExecute(t, dir, "agent", "enable", "search", "citations")
	assert.Equal(t, "Enabled capabilities: search, citations\n", out)

	out = mustExecute(t, dir, "agent", "disable", "search")
	assert.Equal(t, "Enabled capabilities: citations\n", out)

	r := execute(t, dir, "agent", "activate", "../etc")
	assert.Error(t, r.err)

	// The records are captured and restored with the checkpoint.
	mustExecute(t, dir, "create", "with agent")
	mustExecute(t, dir, "agent", "activate", "writer")
	mustExecute(t, dir, "restore", "CP_1_001", "--yes")
	out = mustExecute(t, dir, "agent", "show")
	assert.Contains(t, out, "Agent:        reviewer")
	assert.Contains(t, out, "Capabilities: citations")
}

func TestStatusAndCompleteness(t *testing.T) {
	dir := t.TempDir()

	out := mustExecute(t, dir, "status")
	assert.Contains(t, out, "not initialized")
	assert.Contains(t, out, "0/100 INCOMPLETE")

	out = mustExecute(t, dir, "completeness")
	assert.Contains(t, out, "Completeness: 0/100 INCOMPLETE")

	mustExecute(t, dir, "init", "--name", "demo")
	mustExecute(t, dir, "create", "s")

	out = mustExecute(t, dir, "status")
	assert.Contains(t, out, "demo")
	assert.Contains(t, out, "1 planning (10%)")
	assert.Contains(t, out, "CP_1_001")
	assert.Contains(t, out, "80/100 GOOD")

	var score struct {
		Total int    `json:"total"`
		Band  string `json:"band"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustExecute(t, dir, "completeness", "--json")), &score))
	assert.Equal(t, 80, score.Total)
	assert.Equal(t, "GOOD", score.Band)

	// A bad macro phase is reported, never fatal.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".waypoint", "state.yaml"),
		[]byte("version: 1\nworkflow:\n  current_phase: 9\n"), 0o644))
	r := execute(t, dir, "status")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "warning:")
	assert.Contains(t, r.stdout, "80/100 GOOD")
}

func TestStatusAndCompleteness_BrokenConfig(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "init", "--name", "demo")
	mustExecute(t, dir, "create", "s")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".waypoint", "config.yaml"),
		[]byte("checkpoint: [unclosed\n"), 0o644))

	r := execute(t, dir, "status")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "warning: failed to load config file")
	assert.Contains(t, r.stdout, "CP_1_001")
	assert.Contains(t, r.stdout, "80/100 GOOD")

	var report statusReport
	r = execute(t, dir, "status", "--json")
	require.NoError(t, r.err)
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &report))
	require.NotEmpty(t, report.Problems)
	assert.Contains(t, report.Problems[0], "failed to load config file")

	r = execute(t, dir, "completeness")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Completeness: 80/100 GOOD")
	assert.Contains(t, r.stderr, "warning: failed to load config file")

	// Commands that change state still refuse a broken configuration.
	r = execute(t, dir, "create", "t")
	assert.Error(t, r.err)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "string shorter than max", input: "hello", maxLen: 10, want: "hello"},
		{name: "string equal to max", input: "hello", maxLen: 5, want: "hello"},
		{name: "string longer than max", input: "hello world", maxLen: 8, want: "hello..."},
		{name: "very short max", input: "hello", maxLen: 3, want: "..."},
		{name: "empty string", input: "", maxLen: 10, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
		})
	}
}
