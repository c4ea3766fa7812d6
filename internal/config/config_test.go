package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"BASE_DIRECTORY", "HAZOP_LOG_DIR", "HAZOP_STAGE_DIR", "HAZOP_STAGE_TIMEOUT", "HAZOP_UNIT_ENV"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Stages, 6)
	assert.Equal(t, "TARGET_NODE", cfg.UnitEnvVar)
	assert.Equal(t, "agent2", cfg.Units.SourceStage)
	assert.Equal(t, 5*time.Minute, cfg.GetDefaultTimeout())

	var mandatory, fanOut []string
	for _, s := range cfg.Stages {
		if s.Mandatory {
			mandatory = append(mandatory, s.ID)
		}
		if s.FanOut {
			fanOut = append(fanOut, s.ID)
		}
	}
	assert.Equal(t, []string{"agent1", "agent2"}, mandatory)
	assert.Equal(t, []string{"agent3", "agent4", "agent5"}, fanOut)
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "hazop.yaml")

	cfg := DefaultConfig()
	cfg.OutputDir = "/tmp/run"
	cfg.Stages[2].Timeout = "90s"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/run", loaded.OutputDir)
	assert.Equal(t, cfg.Stages, loaded.Stages)
	assert.Equal(t, 90*time.Second, loaded.Stages[2].GetTimeout(time.Minute))
}

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	clearEnv(t)

	for _, delim := range []string{"\n\n", "\n---\n", "  ", "\t|\t", "\r\n\r\n"} {
		t.Run(fmt.Sprintf("%q", delim), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "hazop.yaml")
			cfg := DefaultConfig()
			cfg.AggregateDelimiter = Delimiter(delim)
			require.NoError(t, cfg.Save(path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
			assert.Equal(t, delim, loaded.GetAggregateDelimiter())
		})
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "hazop.yaml")
	content := `
output_dir: out
units:
  collection: segments
stages:
  - id: split
    ordinal: 1
    command: ["sh", "split.sh"]
    output: split.json
    mandatory: true
  - id: analyze
    ordinal: 2
    command: ["sh", "analyze.sh"]
    fan_out: true
units_ignored: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Stages, 2, "stages in file replace the default sequence")
	assert.Equal(t, "segments", cfg.Units.Collection)
	assert.Equal(t, "node_id", cfg.Units.IDField)
	assert.Equal(t, "analyze_all_nodes.txt", cfg.Stages[1].AggregateName())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hazop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stages: [unterminated"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BASE_DIRECTORY", "/data/out")
	t.Setenv("HAZOP_LOG_DIR", "/data/logs")
	t.Setenv("HAZOP_STAGE_DIR", "/opt/agents")
	t.Setenv("HAZOP_STAGE_TIMEOUT", "30s")
	t.Setenv("HAZOP_UNIT_ENV", "UNIT_ID")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/data/out", cfg.OutputDir)
	assert.Equal(t, "/data/logs", cfg.GetLogDir())
	assert.Equal(t, "/opt/agents", cfg.StageDir)
	assert.Equal(t, 30*time.Second, cfg.GetDefaultTimeout())
	assert.Equal(t, "UNIT_ID", cfg.UnitEnvVar)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides a variable that exists, even when empty.
	os.Unsetenv("BASE_DIRECTORY")

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("BASE_DIRECTORY=/from/dotenv\n"), 0644))

	require.NoError(t, LoadEnvFile(envPath))

	cfg, err := Load(filepath.Join(dir, "hazop.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/from/dotenv", cfg.OutputDir)

	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "absent.env")))
}

func TestHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = "out"

	assert.Equal(t, filepath.Join("out", "logs"), cfg.GetLogDir())
	assert.Equal(t, filepath.Join("out", "Agent2.txt"), cfg.OutputPath("Agent2.txt"))
	assert.Equal(t, "\n\n", cfg.GetAggregateDelimiter())

	cfg.DefaultTimeout = "garbage"
	assert.Equal(t, 5*time.Minute, cfg.GetDefaultTimeout())

	s := StageConfig{Timeout: "bad"}
	assert.Equal(t, time.Second, s.GetTimeout(time.Second))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"duplicate id", func(c *Config) { c.Stages[1].ID = "agent1" }, "stages[1]"},
		{"duplicate ordinal", func(c *Config) { c.Stages[3].Ordinal = 3 }, "stages[3]"},
		{"empty command", func(c *Config) { c.Stages[0].Command = nil }, "stages[0]"},
		{"bad timeout", func(c *Config) { c.Stages[4].Timeout = "soon" }, "stages[4]"},
		{"mandatory fan-out", func(c *Config) { c.Stages[2].Mandatory = true }, "stages[2]"},
		{"missing source", func(c *Config) { c.Units.SourceStage = "agent9" }, "units.source_stage"},
		{"fan-out source", func(c *Config) { c.Units.SourceStage = "agent3" }, "units.source_stage"},
		{"optional source", func(c *Config) { c.Stages[1].Mandatory = false }, "units.source_stage"},
		{"empty output dir", func(c *Config) { c.OutputDir = "" }, "output_dir"},
		{"bad default timeout", func(c *Config) { c.DefaultTimeout = "-1s" }, "default_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestSelect(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("empty selects all in order", func(t *testing.T) {
		got, err := cfg.Select(nil)
		require.NoError(t, err)
		require.Len(t, got, 6)
		assert.Equal(t, "agent1", got[0].ID)
		assert.Equal(t, "agent6", got[5].ID)
	})

	t.Run("ordinals and ids sorted ascending", func(t *testing.T) {
		got, err := cfg.Select([]string{"6", "Agent2", "1"})
		require.NoError(t, err)
		ids := []string{got[0].ID, got[1].ID, got[2].ID}
		assert.Equal(t, []string{"agent1", "agent2", "agent6"}, ids)
	})

	t.Run("fan-out without source fails fast", func(t *testing.T) {
		_, err := cfg.Select([]string{"3", "4", "5"})
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Reason, "agent2")
	})

	t.Run("fan-out with source", func(t *testing.T) {
		got, err := cfg.Select([]string{"2", "3"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("unknown stage", func(t *testing.T) {
		_, err := cfg.Select([]string{"agent42"})
		assert.Error(t, err)
	})
}

func TestLoggingConfig_Options(t *testing.T) {
	lc := LoggingConfig{DebugMode: true, Categories: map[string]bool{"tactile": false}}

	opts := lc.Options("/var/log/hazop")
	assert.Equal(t, "/var/log/hazop", opts.Dir)
	assert.True(t, opts.DebugMode)
	assert.Equal(t, lc.Categories, opts.Categories)
}
