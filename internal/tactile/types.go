// Package tactile is the process layer of hazop: it launches stage entry points
// as isolated child processes, enforces wall-clock timeouts, and reports what happened.
//
// It knows nothing about stages or units. Classification into attempt statuses
// happens one layer up, in package stage.
package tactile

import (
	"strings"
	"time"
)

// Command represents a command to be executed.
type Command struct {
	// Binary is the executable to run (e.g., "python3", "sh").
	Binary string `json:"binary"`

	// Arguments are the command-line arguments.
	Arguments []string `json:"arguments"`

	// WorkingDirectory is the directory to execute in.
	// If empty, uses the executor's default working directory.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment variables to set (in KEY=VALUE format).
	// They are appended after the inherited environment, so they win.
	Environment []string `json:"environment,omitempty"`

	// Timeout is the wall-clock limit. Zero means the executor default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxOutputBytes limits captured stdout and stderr each.
	// Zero means the executor default.
	MaxOutputBytes int64 `json:"max_output_bytes,omitempty"`
}

// CommandString returns the full command as a string (for display/logging).
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// ExecutionResult is the comprehensive output of command execution.
type ExecutionResult struct {
	// Success indicates whether the process could be launched and waited on.
	// A command that runs but returns non-zero exit code has Success=true.
	Success bool `json:"success"`

	// ExitCode is the command's exit code (-1 if not available).
	ExitCode int `json:"exit_code"`

	// Stdout and Stderr are the captured streams, decoded permissively.
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`

	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	// TimedOut is set when the process was killed by the command's own timeout.
	TimedOut bool `json:"timed_out"`

	// Canceled is set when the process was killed because the caller's context ended.
	Canceled bool `json:"canceled"`

	// Truncated indicates output was truncated due to size limits.
	Truncated      bool  `json:"truncated"`
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`

	// Error contains any infrastructure-level error message.
	Error string `json:"error,omitempty"`
}

// ExecutorConfig is the configuration for creating executors.
type ExecutorConfig struct {
	// DefaultWorkingDir is used when Command.WorkingDirectory is empty.
	DefaultWorkingDir string `json:"default_working_dir"`

	// DefaultTimeout is used when no timeout is specified.
	DefaultTimeout time.Duration `json:"default_timeout"`

	// InheritEnvironment passes the parent environment to children.
	// When false only AllowedEnvironment is passed through.
	InheritEnvironment bool `json:"inherit_environment"`

	// AllowedEnvironment lists environment variables to pass through.
	AllowedEnvironment []string `json:"allowed_environment"`

	// MaxOutputBytes caps output capture per stream (default 10MB).
	MaxOutputBytes int64 `json:"max_output_bytes"`

	// KillGrace is how long Wait may block on open pipes after the kill.
	KillGrace time.Duration `json:"kill_grace"`
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultWorkingDir:  ".",
		DefaultTimeout:     5 * time.Minute,
		InheritEnvironment: true,
		AllowedEnvironment: []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "SYSTEMROOT", "TEMP", "TMP"},
		MaxOutputBytes:     10 * 1024 * 1024, // 10MB
		KillGrace:          2 * time.Second,
	}
}

// Merge combines this config with command-specific settings.
// Command settings override config defaults.
func (c ExecutorConfig) Merge(cmd Command) Command {
	result := cmd

	if result.WorkingDirectory == "" {
		result.WorkingDirectory = c.DefaultWorkingDir
	}
	if result.Timeout <= 0 {
		result.Timeout = c.DefaultTimeout
	}
	if result.MaxOutputBytes <= 0 {
		result.MaxOutputBytes = c.MaxOutputBytes
	}

	// Zero-valued configs still get usable limits
	defaults := DefaultExecutorConfig()
	if result.Timeout <= 0 {
		result.Timeout = defaults.DefaultTimeout
	}
	if result.MaxOutputBytes <= 0 {
		result.MaxOutputBytes = defaults.MaxOutputBytes
	}

	return result
}
