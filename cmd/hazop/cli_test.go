package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hazop/internal/config"
	"hazop/internal/logging"
	"hazop/internal/pipeline"
	"hazop/internal/runlog"
	"hazop/internal/stage"
	"hazop/internal/units"
)

// setupCLI points the global flags at a temp workspace holding cfg.
func setupCLI(t *testing.T, cfg *config.Config) string {
	t.Helper()
	logger = zap.NewNop()

	ws := t.TempDir()
	out := filepath.Join(ws, "output")
	require.NoError(t, os.MkdirAll(out, 0755))

	path := filepath.Join(ws, "hazop.yaml")
	require.NoError(t, cfg.Save(path))

	configPath = path
	envFile = filepath.Join(ws, ".env")
	outputDir = out
	t.Setenv("BASE_DIRECTORY", "")
	t.Setenv("NO_COLOR", "1")
	t.Cleanup(func() {
		configPath = config.DefaultConfigFile
		envFile = ".env"
		outputDir = ""
		runStages = nil
		unitsFrom = ""
		validateStages = nil
		logEvents = false
		showPlain = false
	})
	return out
}

func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

// shConfig is a three-stage pipeline of shell one-liners.
func shConfig(fanOutScript string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DefaultTimeout = "10s"
	cfg.Stages = []config.StageConfig{
		{
			ID: "agent1", Ordinal: 1, Mandatory: true, Output: "elements.txt",
			Command: []string{"sh", "-c", `echo "reactor, pump" > "$BASE_DIRECTORY/elements.txt"`},
		},
		{
			ID: "agent2", Ordinal: 2, Mandatory: true, Output: "Agent2.txt",
			Command: []string{"sh", "-c", `printf '%s' '{"nodes":[{"node_id":1,"node_name":"Feed"},{"node_id":2,"node_name":"Reactor"}]}' > "$BASE_DIRECTORY/Agent2.txt"`},
		},
		{
			ID: "agent3", Ordinal: 3, FanOut: true, Output: "Agent3.txt",
			Command: []string{"sh", "-c", fanOutScript},
		},
	}
	return cfg
}

const fanOutOK = `printf 'deviations for %s %s' "$TARGET_NODE" "$TARGET_NODE_NAME" > "$BASE_DIRECTORY/Agent3.txt"`

func TestRunCmd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	out := setupCLI(t, shConfig(fanOutOK))
	cmd, buf := newTestCmd()

	err := runPipeline(cmd, nil)
	require.NoError(t, err, buf.String())
	assert.Equal(t, exitOK, exitCode(err))

	data, err := os.ReadFile(filepath.Join(out, "agent3_all_nodes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deviations for 1 Feed\n\ndeviations for 2 Reactor", string(data))

	console := buf.String()
	assert.Contains(t, console, "[OK] agent3 unit 2 (Reactor)")
	assert.Contains(t, console, "Found 2 units (structured via whole_text)")
	assert.Contains(t, console, "HAZOP run summary")

	path, err := runlog.Latest(filepath.Join(out, "logs"))
	require.NoError(t, err)
	rec, err := runlog.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Outcome)
	assert.Len(t, rec.Events, 4)
}

func TestRunCmd_PartialFailureExitsOne(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	script := `if [ "$TARGET_NODE" = "2" ]; then echo "model refused" >&2; exit 1; fi; ` + fanOutOK
	out := setupCLI(t, shConfig(script))
	cmd, buf := newTestCmd()

	err := runPipeline(cmd, nil)
	require.Error(t, err)
	assert.Equal(t, exitFailed, exitCode(err))
	assert.Contains(t, buf.String(), "[FAIL] agent3 unit 2 (Reactor)")
	assert.Contains(t, buf.String(), "model refused")

	data, err := os.ReadFile(filepath.Join(out, "agent3_all_nodes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deviations for 1 Feed", string(data))
}

func TestRunCmd_Selection(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	setupCLI(t, shConfig(fanOutOK))
	cmd, buf := newTestCmd()

	runStages = []string{"agent1"}
	require.NoError(t, runPipeline(cmd, []string{"2"}))
	assert.Contains(t, buf.String(), "[SKIP] agent3 not selected")

	runStages = nil
	err := runPipeline(cmd, []string{"3"})
	var ve *config.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, exitUnexpected, exitCode(err))
}

func TestInitCmd(t *testing.T) {
	setupCLI(t, config.DefaultConfig())
	cmd, buf := newTestCmd()

	configPath = filepath.Join(t.TempDir(), "fresh", "hazop.yaml")
	outputDir = "runs/today"
	require.NoError(t, initConfig(cmd, nil))
	assert.Contains(t, buf.String(), "6 stages")

	err := initConfig(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	outputDir = ""
	cfg, err := loadConfig()
	require.NoError(t, err)
	want := config.DefaultConfig()
	want.OutputDir = "runs/today"
	assert.Equal(t, want, cfg)
	assert.Equal(t, "\n\n", cfg.GetAggregateDelimiter())

	initForce = true
	require.NoError(t, initConfig(cmd, nil))
	cfg, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().OutputDir, cfg.OutputDir)
}

func TestLoadConfig_MissingFileWarns(t *testing.T) {
	out := setupCLI(t, config.DefaultConfig())
	configPath = filepath.Join(t.TempDir(), "absent.yaml")
	debugLogs = true
	t.Cleanup(logging.CloseAll)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Stages, 6)
	logging.CloseAll()

	logs, err := filepath.Glob(filepath.Join(out, "logs", "*_hazop.log"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	data, err := os.ReadFile(logs[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "absent.yaml not found, using the default stages")
}

func TestRunExit(t *testing.T) {
	logger = zap.NewNop()
	abort := &pipeline.AbortError{Stage: "agent2", Reason: "boom"}

	tests := []struct {
		name string
		res  *pipeline.Result
		err  error
		want int
	}{
		{"no result", nil, errors.New("bad config"), exitUnexpected},
		{"interrupted", &pipeline.Result{State: pipeline.StateAborted, Abort: abort, Interrupted: true}, abort, exitInterrupted},
		{"aborted", &pipeline.Result{State: pipeline.StateAborted, Abort: abort}, abort, exitFailed},
		{"persist failure", &pipeline.Result{State: pipeline.StateCompleted}, errors.New("disk full"), exitUnexpected},
		{"partial", &pipeline.Result{State: pipeline.StateCompleted}, nil, exitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(runExit(tt.res, tt.err)))
		})
	}
}

// lineWith returns the first line of out containing substr.
func lineWith(t *testing.T, out, substr string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, substr) {
			return line
		}
	}
	t.Fatalf("no line containing %q in:\n%s", substr, out)
	return ""
}

func TestStagesCmd(t *testing.T) {
	setupCLI(t, config.DefaultConfig())
	cmd, buf := newTestCmd()

	require.NoError(t, listStages(cmd, nil))
	out := buf.String()
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 7, "header and one row per stage")
	assert.Contains(t, lineWith(t, out, "COMMAND"), "TIMEOUT")
	assert.Contains(t, lineWith(t, out, "agent2"), "mandatory")
	assert.Contains(t, lineWith(t, out, "agent3"), "per-unit")
	assert.Contains(t, lineWith(t, out, "agent3"), "Agent3_all_nodes.txt")
	assert.Contains(t, lineWith(t, out, "agent6"), "optional")
	assert.NotContains(t, out, "\x1b[", "plain output carries no styling")

	buf.Reset()
	t.Setenv("NO_COLOR", "")
	t.Setenv("TERM", "xterm")
	require.NoError(t, listStages(cmd, nil))
	assert.Contains(t, buf.String(), "╭")
	assert.Contains(t, lineWith(t, buf.String(), "agent4"), "│")
}

func TestUnitsCmd(t *testing.T) {
	out := setupCLI(t, config.DefaultConfig())
	cmd, buf := newTestCmd()

	require.NoError(t, os.WriteFile(filepath.Join(out, "Agent2.txt"),
		[]byte("## Nodes\n### Node 4: Cooling water\n### Node 5: Storage\n"), 0644))
	require.NoError(t, listUnits(cmd, nil))
	assert.Contains(t, buf.String(), "2 units in")
	assert.Contains(t, buf.String(), "(heading)")
	assert.Contains(t, lineWith(t, buf.String(), "Cooling water"), "4")
	assert.Contains(t, lineWith(t, buf.String(), "Storage"), "5")

	other := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(other, []byte("nothing here"), 0644))
	unitsFrom = other
	err := listUnits(cmd, nil)
	assert.Equal(t, exitFailed, exitCode(err))
}

func TestValidateCmd(t *testing.T) {
	setupCLI(t, config.DefaultConfig())
	cmd, buf := newTestCmd()

	validateStages = []string{"6", "1"}
	require.NoError(t, validateConfig(cmd, nil))
	assert.Contains(t, buf.String(), "selection: agent1, agent6")

	validateStages = []string{"agent4"}
	assert.Error(t, validateConfig(cmd, nil))

	bad := config.DefaultConfig()
	bad.Stages[3].Mandatory = true
	setupCLI(t, bad)
	validateStages = nil
	err := validateConfig(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLogCmd(t *testing.T) {
	out := setupCLI(t, config.DefaultConfig())
	cmd, buf := newTestCmd()

	assert.Error(t, showLog(cmd, nil), "no logs yet")

	l := runlog.New([]string{"agent1", "agent2"})
	path, _, err := l.Persist(filepath.Join(out, "logs"), "aborted", "run aborted at agent2")
	require.NoError(t, err)

	logEvents = true
	require.NoError(t, showLog(cmd, nil))
	assert.Contains(t, buf.String(), l.RunID())
	assert.Contains(t, buf.String(), "run aborted at agent2")
	assert.Contains(t, buf.String(), "no attempts")

	buf.Reset()
	require.NoError(t, showLog(cmd, []string{path}))
	assert.Contains(t, buf.String(), path)

	l = runlog.New([]string{"agent3"})
	_, err = l.Append(stage.Attempt{Stage: "agent3", Unit: &units.Unit{ID: 2, Name: "Reactor"},
		Status: stage.StatusFailed, Message: "model refused", Elapsed: 1500 * time.Millisecond})
	require.NoError(t, err)
	path, _, err = l.Persist(filepath.Join(t.TempDir(), "logs"), "completed", "")
	require.NoError(t, err)

	buf.Reset()
	require.NoError(t, showLog(cmd, []string{path}))
	row := lineWith(t, buf.String(), "model refused")
	for _, cell := range []string{"agent3", "2 (Reactor)", "FAILED", "1.5s"} {
		assert.Contains(t, row, cell)
	}
}

func TestShowCmd(t *testing.T) {
	out := setupCLI(t, config.DefaultConfig())
	cmd, buf := newTestCmd()

	assert.Error(t, showArtifact(cmd, []string{"agent3"}), "nothing aggregated yet")
	assert.Error(t, showArtifact(cmd, []string{"agent9"}))

	require.NoError(t, os.WriteFile(filepath.Join(out, "Agent3_all_nodes.txt"),
		[]byte("| Deviation | Cause |\n|---|---|\n| No flow | Pump trip |"), 0644))

	showPlain = true
	require.NoError(t, showArtifact(cmd, []string{"3"}))
	assert.Contains(t, buf.String(), "| No flow | Pump trip |")

	buf.Reset()
	showPlain = false
	t.Setenv("NO_COLOR", "")
	require.NoError(t, showArtifact(cmd, []string{"agent3"}))
	assert.NotEmpty(t, buf.String())
}

func TestExecuteRun_RejectsInvalidConfig(t *testing.T) {
	logger = zap.NewNop()
	cfg := config.DefaultConfig()
	cfg.Stages = nil

	res, err := executeRun(context.Background(), cfg, nil, pipeline.NopReporter{})
	assert.Nil(t, res)
	assert.Error(t, err)
}
