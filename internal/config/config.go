package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config path used when --config is not given.
const DefaultConfigFile = "hazop.yaml"

// Config holds the run configuration of one pipeline.
// It is built once at startup and passed by value into the orchestrator and runner.
type Config struct {
	// Shared output location: the only channel between stages
	OutputDir string `yaml:"output_dir"`

	// Log directory for category logs and execution logs (default: <output_dir>/logs)
	LogDir string `yaml:"log_dir"`

	// Working directory of stage processes
	StageDir string `yaml:"stage_dir"`

	// Timeout applied to stages that do not set their own
	DefaultTimeout string `yaml:"default_timeout"`

	// Cap on captured stdout/stderr per attempt
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// Process-scoped parameters handed to every stage
	UnitEnvVar      string `yaml:"unit_env_var"`
	UnitNameEnvVar  string `yaml:"unit_name_env_var"`
	OutputDirEnvVar string `yaml:"output_dir_env_var"`

	// Separator between unit entries in aggregate artifacts
	AggregateDelimiter Delimiter `yaml:"aggregate_delimiter"`

	Units   UnitsConfig   `yaml:"units"`
	Stages  []StageConfig `yaml:"stages"`
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration: the six-stage HAZOP sequence.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:          "output",
		StageDir:           ".",
		DefaultTimeout:     "5m",
		MaxOutputBytes:     1024 * 1024,
		UnitEnvVar:         "TARGET_NODE",
		UnitNameEnvVar:     "TARGET_NODE_NAME",
		OutputDirEnvVar:    "BASE_DIRECTORY",
		AggregateDelimiter: "\n\n",

		Units: UnitsConfig{
			SourceStage:   "agent2",
			Collection:    "nodes",
			IDField:       "node_id",
			NameField:     "node_name",
			HeadingMarker: "Node",
		},

		Stages: []StageConfig{
			{
				ID:          "agent1",
				Ordinal:     1,
				Description: "P&ID analysis",
				Command:     []string{"python3", "gpt4o_P&ID_input(Agent1).py"},
				Output:      "공정요소.txt",
				Mandatory:   true,
			},
			{
				ID:          "agent2",
				Ordinal:     2,
				Description: "Node partitioning",
				Command:     []string{"python3", "GPT4o Node (Agent2).py"},
				Output:      "Agent2.txt",
				Mandatory:   true,
			},
			{
				ID:          "agent3",
				Ordinal:     3,
				Description: "Process parameters and guidewords",
				Command:     []string{"python3", "GPT4o Parameter_Guideword (Agent3).py"},
				Output:      "Agent3.txt",
				Aggregate:   "Agent3_all_nodes.txt",
				FanOut:      true,
			},
			{
				ID:          "agent4",
				Ordinal:     4,
				Description: "Deviations",
				Command:     []string{"python3", "GPT4o CreateDeviation (Agent4).py"},
				Output:      "Agent4.txt",
				Aggregate:   "Agent4_all_nodes.txt",
				FanOut:      true,
			},
			{
				ID:          "agent5",
				Ordinal:     5,
				Description: "Safeguards",
				Command:     []string{"python3", "GPT4o Safeguard (Agent5).py"},
				Output:      "Agent5.txt",
				Aggregate:   "Agent5_all_nodes.txt",
				FanOut:      true,
			},
			{
				ID:          "agent6",
				Ordinal:     6,
				Description: "HAZOP table",
				Command:     []string{"python3", "GPT4o HAZOP Table (Agent6).py"},
				Output:      "HAZOP_table.xlsx",
			},
		},

		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields DefaultConfig; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process environment.
// Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("BASE_DIRECTORY"); dir != "" {
		c.OutputDir = dir
	}
	if dir := os.Getenv("HAZOP_LOG_DIR"); dir != "" {
		c.LogDir = dir
	}
	if dir := os.Getenv("HAZOP_STAGE_DIR"); dir != "" {
		c.StageDir = dir
	}
	if timeout := os.Getenv("HAZOP_STAGE_TIMEOUT"); timeout != "" {
		c.DefaultTimeout = timeout
	}
	if name := os.Getenv("HAZOP_UNIT_ENV"); name != "" {
		c.UnitEnvVar = name
	}
}

// GetDefaultTimeout returns the default stage timeout as a duration.
func (c *Config) GetDefaultTimeout() time.Duration {
	d, err := time.ParseDuration(c.DefaultTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// GetLogDir returns the log directory, defaulting to <output_dir>/logs.
func (c *Config) GetLogDir() string {
	if c.LogDir != "" {
		return c.LogDir
	}
	return filepath.Join(c.OutputDir, "logs")
}

// GetAggregateDelimiter returns the aggregate separator ("\n\n" when unset).
func (c *Config) GetAggregateDelimiter() string {
	if c.AggregateDelimiter == "" {
		return "\n\n"
	}
	return string(c.AggregateDelimiter)
}

// Delimiter is a separator that is written double-quoted so that
// whitespace-only values survive a Save/Load round trip.
type Delimiter string

// MarshalYAML implements yaml.Marshaler.
func (d Delimiter) MarshalYAML() (interface{}, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Style: yaml.DoubleQuotedStyle, Value: string(d)}, nil
}

// OutputPath resolves an artifact name inside the shared output location.
func (c *Config) OutputPath(name string) string {
	return filepath.Join(c.OutputDir, name)
}
