package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"hazop/internal/logging"
	"hazop/internal/textenc"
)

// DirectExecutor executes commands directly on the host using os/exec.
// Each command runs in its own process group so a kill takes its children with it.
type DirectExecutor struct {
	config ExecutorConfig
}

// NewDirectExecutor creates a new direct executor with default config.
func NewDirectExecutor() *DirectExecutor {
	return NewDirectExecutorWithConfig(DefaultExecutorConfig())
}

// NewDirectExecutorWithConfig creates a new direct executor with custom config.
func NewDirectExecutorWithConfig(config ExecutorConfig) *DirectExecutor {
	logging.TactileDebug("Creating DirectExecutor with config: timeout=%s, maxOutput=%d bytes, inheritEnv=%v",
		config.DefaultTimeout, config.MaxOutputBytes, config.InheritEnvironment)
	return &DirectExecutor{
		config: config,
	}
}

// Validate checks if a command can be executed.
func (e *DirectExecutor) Validate(cmd Command) error {
	if cmd.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	if cmd.Timeout < 0 {
		return fmt.Errorf("negative timeout %s", cmd.Timeout)
	}
	return nil
}

// Execute runs a command directly on the host.
func (e *DirectExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategoryTactile, "Direct command execution")
	defer timer.Stop()

	logging.Tactile("Executing command: %s", cmd.CommandString())

	if err := e.Validate(cmd); err != nil {
		logging.TactileWarn("Command validation failed: %s %v - %v", cmd.Binary, cmd.Arguments, err)
		return nil, err
	}

	cmd = e.config.Merge(cmd)

	logging.TactileDebug("Executing: %s %v (dir=%s, timeout=%s)",
		cmd.Binary, cmd.Arguments, cmd.WorkingDirectory, cmd.Timeout)

	result := &ExecutionResult{
		ExitCode: -1,
	}

	execCtx, cancel := context.WithTimeout(ctx, cmd.Timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = e.buildEnvironment(cmd.Environment)

	setupProcessGroup(execCmd)
	execCmd.Cancel = func() error { return killProcessGroup(execCmd) }
	execCmd.WaitDelay = e.config.KillGrace

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: cmd.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: cmd.MaxOutputBytes}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	result.StartedAt = time.Now()
	err := execCmd.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	result.Stdout = textenc.Decode(stdoutBuf.Bytes())
	result.Stderr = textenc.Decode(stderrBuf.Bytes())

	if stdoutLimited.truncated || stderrLimited.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
		logging.TactileWarn("Command output truncated: %d bytes discarded", result.TruncatedBytes)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Success = true
		result.ExitCode = 0
		logging.TactileDebug("Command succeeded with exit code 0")

	case ctx.Err() != nil:
		// The caller gave up (interrupt or outer deadline); not this command's timeout.
		result.Success = true
		result.Canceled = true
		logging.TactileWarn("Command canceled: %s (%v)", cmd.Binary, ctx.Err())

	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.Success = true // Infrastructure worked, command was killed
		result.TimedOut = true
		logging.TactileWarn("Command killed (timeout): %s after %s", cmd.Binary, cmd.Timeout)

	case errors.As(err, &exitErr):
		result.Success = true // Command ran, just returned non-zero
		result.ExitCode = exitErr.ExitCode()
		logging.TactileDebug("Command exited non-zero: %s -> %d", cmd.Binary, result.ExitCode)

	case errors.Is(err, exec.ErrWaitDelay) && execCmd.ProcessState != nil:
		// Exited, but a grandchild kept the pipes open past KillGrace.
		result.Success = true
		result.ExitCode = execCmd.ProcessState.ExitCode()
		logging.TactileWarn("Command %s left output pipes open after exit", cmd.Binary)

	default:
		result.Success = false
		result.Error = err.Error()
		logging.TactileError("Command failed: %s - %v", cmd.Binary, err)
		return result, nil
	}

	logging.Tactile("Command completed: %s -> exit=%d, duration=%s, stdout=%d bytes",
		cmd.Binary, result.ExitCode, result.Duration, len(result.Stdout))

	return result, nil
}

// buildEnvironment creates the environment variable list.
// Command entries come last so they override inherited values.
func (e *DirectExecutor) buildEnvironment(cmdEnv []string) []string {
	var env []string

	if e.config.InheritEnvironment {
		env = append(env, os.Environ()...)
	} else {
		for _, key := range e.config.AllowedEnvironment {
			if val, ok := os.LookupEnv(key); ok {
				env = append(env, key+"="+val)
			}
		}
	}

	return append(env, cmdEnv...)
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil // Pretend we wrote it
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
