package config

import "hazop/internal/logging"

// LoggingConfig configures category logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`                // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode"`           // Master toggle - false = no logging (production)
	JSONFormat bool            `yaml:"json_format"`          // JSON lines instead of console text
	Categories map[string]bool `yaml:"categories,omitempty"` // Per-category toggles
}

// Options converts the config into logging options rooted at dir.
func (c *LoggingConfig) Options(dir string) logging.Options {
	return logging.Options{
		Dir:        dir,
		Level:      c.Level,
		DebugMode:  c.DebugMode,
		JSONFormat: c.JSONFormat,
		Categories: c.Categories,
	}
}
